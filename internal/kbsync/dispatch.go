package kbsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const DefaultMaxNameLength = 50

type SyncTarget interface {
	CreateDocument(ctx context.Context, name, text string) error
}

type DispatchResult struct {
	Name    string
	Skipped bool
	Err     error
}

// Dispatcher pushes an approved question/answer pair to the sync target. The
// target names documents by the truncated question; the full question stays in
// the body. Repeated delivery of the same approval creates duplicate target
// documents: the target exposes no external key to dedupe on (known
// limitation).
type Dispatcher struct {
	Target        SyncTarget
	MaxNameLength int
}

func (d Dispatcher) Dispatch(ctx context.Context, question, answer string) DispatchResult {
	if d.Target == nil {
		return DispatchResult{Skipped: true}
	}
	max := d.MaxNameLength
	if max <= 0 {
		max = DefaultMaxNameLength
	}
	name := truncateRunes(question, max)
	text := question + "\n" + answer
	if err := d.Target.CreateDocument(ctx, name, text); err != nil {
		if errors.Is(err, ErrNotConfigured) {
			return DispatchResult{Name: name, Skipped: true}
		}
		return DispatchResult{Name: name, Err: err}
	}
	return DispatchResult{Name: name}
}

// Rune-wise: the fields carry Japanese text and a byte cut would split UTF-8.
func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

type DifyClientOptions struct {
	BaseURL           string
	APIKey            string
	KnowledgeBaseID   string
	IndexingTechnique string
	HTTPClient        *http.Client
}

type HTTPDifyClient struct {
	baseURL           string
	apiKey            string
	knowledgeBaseID   string
	indexingTechnique string
	httpClient        *http.Client
}

func NewHTTPDifyClient(opts DifyClientOptions) *HTTPDifyClient {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.dify.ai/v1"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	indexing := strings.TrimSpace(opts.IndexingTechnique)
	if indexing == "" {
		indexing = "high_quality"
	}
	return &HTTPDifyClient{
		baseURL:           baseURL,
		apiKey:            strings.TrimSpace(opts.APIKey),
		knowledgeBaseID:   strings.TrimSpace(opts.KnowledgeBaseID),
		indexingTechnique: indexing,
		httpClient:        httpClient,
	}
}

// CreateDocument issues one write to the knowledge base. Missing credentials
// report ErrNotConfigured so partial deployments can skip instead of fail.
func (c *HTTPDifyClient) CreateDocument(ctx context.Context, name, text string) error {
	if c == nil {
		return fmt.Errorf("dify client is nil")
	}
	if c.apiKey == "" || c.knowledgeBaseID == "" {
		return ErrNotConfigured
	}
	payload := map[string]any{
		"knowledge_base_id":  c.knowledgeBaseID,
		"name":               name,
		"text":               text,
		"indexing_technique": c.indexingTechnique,
	}
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/knowledge_base_documents", bytes.NewReader(bodyBytes))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	respBody, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return readErr
	}
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return nil
	}
	return decodeAPIError("dify", resp.StatusCode, respBody)
}
