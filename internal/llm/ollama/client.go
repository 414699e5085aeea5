// Package ollama implements triage.Classifier against a local Ollama
// server.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/sift/internal/llm"
	"github.com/linnemanlabs/sift/internal/triage"
)

// Client classifies emails through the Ollama generate API.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// New creates an Ollama-backed classifier. baseURL is the server root,
// e.g. "http://localhost:11434".
func New(baseURL, model string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	System string `json:"system,omitempty"`
	Prompt string `json:"prompt"`
	Format string `json:"format,omitempty"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Classify sends one email to the local model and parses its JSON
// verdict.
func (c *Client) Classify(ctx context.Context, req *triage.ClassifyRequest) (*triage.Verdict, error) {
	body, err := json.Marshal(generateRequest{
		Model:  c.model,
		System: llm.SystemPrompt(),
		Prompt: llm.UserPrompt(req),
		Format: "json",
		Stream: false,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama api error %d: %s", resp.StatusCode, string(respBody))
	}

	var out generateResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if out.Response == "" {
		return nil, fmt.Errorf("ollama response has no content")
	}

	return llm.ParseVerdict(out.Response)
}
