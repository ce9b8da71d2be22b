package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/document-verifier/internal/core/domain"
	"github.com/kirillkom/document-verifier/internal/infrastructure/resilience"
)

const maxRecommendations = 8

type Client struct {
	baseURL    string
	genModel   string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(baseURL, genModel string, executor *resilience.Executor) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		genModel:   genModel,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		executor:   executor,
	}
}

// Recommender asks the generation model for next verification steps.
type Recommender struct {
	client *Client
}

func NewRecommender(client *Client) *Recommender {
	return &Recommender{client: client}
}

func (r *Recommender) Recommend(ctx context.Context, findings []domain.Finding) ([]string, error) {
	respText, err := r.client.generateJSON(ctx, buildRecommendationsPrompt(findings))
	if err != nil {
		return nil, err
	}

	var result struct {
		Recommendations []string `json:"recommendations"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(respText)), &result); err != nil {
		return nil, fmt.Errorf("parse recommendations json: %w", err)
	}

	out := make([]string, 0, len(result.Recommendations))
	for _, rec := range result.Recommendations {
		rec = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(rec), "0123456789.)- "))
		if rec != "" {
			out = append(out, rec)
		}
		if len(out) == maxRecommendations {
			break
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("model returned no recommendations")
	}
	return out, nil
}

func (c *Client) generateJSON(ctx context.Context, prompt string) (string, error) {
	reqBody := map[string]any{
		"model":  c.genModel,
		"prompt": prompt,
		"stream": false,
		"format": "json",
	}

	var response struct {
		Response string `json:"response"`
	}
	call := func(ctx context.Context) error {
		return c.postJSON(ctx, "/api/generate", reqBody, &response, "generate")
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "ollama.generate", call, classifyOllamaError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return "", wrapTemporaryIfNeeded("ollama generate", err)
	}
	return strings.TrimSpace(response.Response), nil
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
