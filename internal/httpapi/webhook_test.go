package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/agentworkforce/kbsync/internal/kbsync"
)

const testSecret = "webhook-secret"

func newTestPipeline(t *testing.T, notionHandler, difyHandler http.HandlerFunc) (kbsync.Pipeline, func()) {
	t.Helper()
	notionServer := httptest.NewServer(notionHandler)
	difyServer := httptest.NewServer(difyHandler)

	notion := kbsync.NewHTTPNotionClient(kbsync.NotionClientOptions{
		BaseURL:       notionServer.URL,
		TokenProvider: kbsync.StaticTokenProvider("token_123"),
		HTTPClient:    notionServer.Client(),
	})
	dify := kbsync.NewHTTPDifyClient(kbsync.DifyClientOptions{
		BaseURL:         difyServer.URL,
		APIKey:          "dify_key",
		KnowledgeBaseID: "kb_1",
		HTTPClient:      difyServer.Client(),
	})
	detector, err := kbsync.NewApprovalDetector("fresh-read", notion, kbsync.ApprovalFields{
		ApprovalName: "承認",
		TitleName:    "質問",
		BodyName:     "回答",
	})
	if err != nil {
		t.Fatalf("build detector: %v", err)
	}
	pipeline := kbsync.Pipeline{
		Detector:   detector,
		Dispatcher: kbsync.Dispatcher{Target: dify},
		Allow: map[string]bool{
			"page.created":            true,
			"page.updated":            true,
			"page.properties_updated": true,
		},
	}
	cleanup := func() {
		notionServer.Close()
		difyServer.Close()
	}
	return pipeline, cleanup
}

func postWebhook(t *testing.T, server *Server, body string, sign bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, WebhookPath, strings.NewReader(body))
	if sign {
		req.Header.Set(kbsync.SignatureHeader, kbsync.Sign([]byte(testSecret), []byte(body)))
	}
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	return rec
}

func TestWebhookRejectsNonPost(t *testing.T) {
	server := NewServerWithConfig(kbsync.Pipeline{}, ServerConfig{SigningSecret: testSecret})
	req := httptest.NewRequest(http.MethodGet, WebhookPath, nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestWebhookHandshakeBypassesVerification(t *testing.T) {
	server := NewServerWithConfig(kbsync.Pipeline{}, ServerConfig{SigningSecret: testSecret})

	rec := postWebhook(t, server, `{"verification_token":"tok_abc"}`, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for verification token, got %d", rec.Code)
	}
	var tokenResp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &tokenResp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if tokenResp["verification_token"] != "tok_abc" {
		t.Fatalf("expected token echoed, got %+v", tokenResp)
	}

	rec = postWebhook(t, server, `{"challenge":"ch_xyz"}`, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for challenge, got %d", rec.Code)
	}
	var challengeResp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &challengeResp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if challengeResp["challenge"] != "ch_xyz" {
		t.Fatalf("expected challenge echoed, got %+v", challengeResp)
	}
}

func TestWebhookRejectsInvalidSignature(t *testing.T) {
	server := NewServerWithConfig(kbsync.Pipeline{}, ServerConfig{SigningSecret: testSecret})

	body := `{"events":[]}`
	req := httptest.NewRequest(http.MethodPost, WebhookPath, strings.NewReader(body))
	req.Header.Set(kbsync.SignatureHeader, "sha256=deadbeef")
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["error"] == "" {
		t.Fatalf("expected error body, got %+v", resp)
	}

	rec = postWebhook(t, server, body, false)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for missing signature, got %d", rec.Code)
	}
}

func TestWebhookRejectsMalformedBody(t *testing.T) {
	pipeline, cleanup := newTestPipeline(t,
		func(w http.ResponseWriter, r *http.Request) { t.Fatalf("unexpected source store call") },
		func(w http.ResponseWriter, r *http.Request) { t.Fatalf("unexpected sync call") },
	)
	defer cleanup()
	server := NewServerWithConfig(pipeline, ServerConfig{SigningSecret: testSecret})

	rec := postWebhook(t, server, `{"events": broken`, true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestWebhookEndToEndApprovalSync(t *testing.T) {
	var difyBody map[string]any
	pipeline, cleanup := newTestPipeline(t,
		func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/v1/pages/p1" {
				t.Fatalf("unexpected source store path %s", r.URL.Path)
			}
			_, _ = w.Write([]byte(`{
				"object": "page",
				"id": "p1",
				"properties": {
					"承認": {"type": "checkbox", "checkbox": true},
					"質問": {"type": "title", "title": [{"plain_text": "Q1"}]},
					"回答": {"type": "rich_text", "rich_text": [{"plain_text": "A1"}]}
				}
			}`))
		},
		func(w http.ResponseWriter, r *http.Request) {
			if difyBody != nil {
				t.Fatalf("expected exactly one sync write")
			}
			_ = json.NewDecoder(r.Body).Decode(&difyBody)
			w.WriteHeader(http.StatusOK)
		},
	)
	defer cleanup()
	server := NewServerWithConfig(pipeline, ServerConfig{SigningSecret: testSecret})

	body := `{"events":[{"object":"page","type":"page.properties_updated","id":"p1","changed_properties":[{"property_name":"承認","after":true}]}]}`
	rec := postWebhook(t, server, body, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]bool
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp["received"] {
		t.Fatalf("expected {received:true}, got %+v", resp)
	}
	if difyBody == nil {
		t.Fatalf("expected a sync-target write")
	}
	if difyBody["name"] != "Q1" {
		t.Fatalf("expected document name Q1, got %v", difyBody["name"])
	}
	if difyBody["text"] != "Q1\nA1" {
		t.Fatalf("expected document text Q1\\nA1, got %v", difyBody["text"])
	}
}

func TestWebhookDispatchFailureStillAcknowledges(t *testing.T) {
	pipeline, cleanup := newTestPipeline(t,
		func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"properties":{"承認":{"type":"checkbox","checkbox":true},"質問":{"type":"title","title":[{"plain_text":"Q"}]}}}`))
		},
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		},
	)
	defer cleanup()
	server := NewServerWithConfig(pipeline, ServerConfig{SigningSecret: testSecret})

	body := `{"events":[{"object":"page","type":"page.updated","id":"p1"}]}`
	rec := postWebhook(t, server, body, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("per-event dispatch failure must still return 200, got %d", rec.Code)
	}
}

func TestWebhookSourceStoreFailureReturns500(t *testing.T) {
	pipeline, cleanup := newTestPipeline(t,
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"code":"internal_error","message":"down"}`))
		},
		func(w http.ResponseWriter, r *http.Request) { t.Fatalf("unexpected sync call") },
	)
	defer cleanup()
	server := NewServerWithConfig(pipeline, ServerConfig{SigningSecret: testSecret})

	body := `{"events":[{"object":"page","type":"page.updated","id":"p1"}]}`
	rec := postWebhook(t, server, body, true)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 so delivery is retried, got %d", rec.Code)
	}
}

func TestWebhookVerificationDisabledWhenSecretUnset(t *testing.T) {
	pipeline, cleanup := newTestPipeline(t,
		func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"properties":{}}`))
		},
		func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) },
	)
	defer cleanup()
	server := NewServerWithConfig(pipeline, ServerConfig{})

	body := `{"events":[{"object":"page","type":"page.updated","id":"p1"}]}`
	rec := postWebhook(t, server, body, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with verification disabled, got %d", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := NewServer(kbsync.Pipeline{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ok") {
		t.Fatalf("unexpected health body: %s", rec.Body.String())
	}
}

func TestUnknownRouteReturns404(t *testing.T) {
	server := NewServer(kbsync.Pipeline{})
	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	server := NewServer(kbsync.Pipeline{})
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "kbsync_envelopes_received_total") {
		t.Fatalf("expected kbsync counters in metrics output")
	}
}
