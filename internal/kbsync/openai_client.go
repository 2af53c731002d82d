package kbsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type Generator interface {
	Rewrite(ctx context.Context, question, answer, dialog string) (string, error)
}

const rewritePromptTemplate = "あなたは公式サポートBotです。\n" +
	"以下の「質問」と「回答+やりとり」を参考に、" +
	"同じトーン（丁寧語＋適度な絵文字）で、分かりやすい回答文を1つ作成してください。\n\n" +
	"### 質問\n%s\n\n" +
	"### 回答＋やりとり\n%s\n\n" +
	"### 出力\n{answer}"

type OpenAIClientOptions struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
}

type HTTPOpenAIClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

func NewHTTPOpenAIClient(opts OpenAIClientOptions) *HTTPOpenAIClient {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "gpt-3.5-turbo"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &HTTPOpenAIClient{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(opts.APIKey),
		model:      model,
		httpClient: httpClient,
	}
}

// Rewrite asks the generation service for a cleaned-up answer in the support
// bot's tone, given the original answer plus the surrounding dialog.
func (c *HTTPOpenAIClient) Rewrite(ctx context.Context, question, answer, dialog string) (string, error) {
	if c == nil {
		return "", fmt.Errorf("openai client is nil")
	}
	if c.apiKey == "" {
		return "", ErrNotConfigured
	}
	contextText := answer
	if dialog != "" {
		contextText = answer + "\n" + dialog
	}
	prompt := fmt.Sprintf(rewritePromptTemplate, question, contextText)
	payload := map[string]any{
		"model": c.model,
		"messages": []map[string]any{
			{"role": "user", "content": prompt},
		},
	}
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	respBody, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return "", readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", decodeAPIError("openai", resp.StatusCode, respBody)
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", err
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("openai response carried no choices")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}
