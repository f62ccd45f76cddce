// Copyright 2026 Altus4
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ai wraps a chat-completions LLM endpoint behind a timeout-bounded
// adapter. Every operation degrades to a neutral default on timeout,
// transport error, or a response that fails strict JSON parsing: search must
// keep working when the model does not.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"altus4/core/config"
	"altus4/core/shared/logger"
)

// DefaultEndpoint is the chat-completions URL used when none is configured.
const DefaultEndpoint = "https://api.openai.com/v1/chat/completions"

// HTTPClient abstracts the HTTP transport for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Adapter calls the LLM. Safe for concurrent use; each call is stateless.
type Adapter struct {
	apiKey   string
	model    string
	endpoint string
	timeout  time.Duration
	client   HTTPClient
	log      *logger.Logger
}

// New creates an Adapter from config. With no API key the adapter is
// permanently unavailable and every operation short-circuits to its neutral
// default.
func New(cfg *config.LLMConfig) *Adapter {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Adapter{
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		endpoint: endpoint,
		timeout:  timeout,
		client:   &http.Client{Timeout: timeout},
		log:      logger.New("ai"),
	}
}

// NewWithClient injects a transport. Used by tests.
func NewWithClient(cfg *config.LLMConfig, client HTTPClient) *Adapter {
	a := New(cfg)
	a.client = client
	return a
}

// Available reports whether the adapter holds credentials.
func (a *Adapter) Available() bool {
	return a.apiKey != ""
}

// ----------------------------------------------------------------
// Operation result types
// ----------------------------------------------------------------

// Rewrite is the semantic-mode query rewrite result.
type Rewrite struct {
	OptimizedQuery string   `json:"optimized_query"`
	Concepts       []string `json:"concepts"`
	Synonyms       []string `json:"synonyms"`
	Intent         string   `json:"intent"`
}

// Category labels a cluster of search results.
type Category struct {
	Name       string  `json:"name"`
	Count      int     `json:"count"`
	Confidence float64 `json:"confidence"`
}

// SuggestionType classifies a query suggestion.
type SuggestionType string

const (
	SuggestionSpelling SuggestionType = "spelling"
	SuggestionSemantic SuggestionType = "semantic"
	SuggestionPopular  SuggestionType = "popular"
	SuggestionRelated  SuggestionType = "related"
)

// Suggestion is one alternative query.
type Suggestion struct {
	Text  string         `json:"text"`
	Score float64        `json:"score"`
	Type  SuggestionType `json:"type"`
}

// Optimization is one tuning recommendation for a query.
type Optimization struct {
	Type          string `json:"type"`
	Description   string `json:"description"`
	Impact        string `json:"impact"`
	SQLSuggestion string `json:"sql_suggestion,omitempty"`
}

// Analysis is the result of analysing a raw SQL statement.
type Analysis struct {
	Recommendations []string       `json:"recommendations"`
	Optimizations   []Optimization `json:"optimizations"`
}

// Insight is one trend observation over a user's query history.
type Insight struct {
	Type        string                 `json:"type"`
	Confidence  float64                `json:"confidence"`
	Description string                 `json:"description"`
	Actionable  bool                   `json:"actionable"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// ----------------------------------------------------------------
// Operations
// ----------------------------------------------------------------

// RewriteQuery rewrites a natural-language query into a form that searches
// better. Neutral default: the original query, unchanged.
func (a *Adapter) RewriteQuery(ctx context.Context, query string) Rewrite {
	neutral := Rewrite{OptimizedQuery: query, Concepts: []string{}, Synonyms: []string{}}

	var out Rewrite
	if !a.complete(ctx, "RewriteQuery",
		"You optimise full-text search queries. Respond with JSON only: "+
			`{"optimized_query": string, "concepts": [string], "synonyms": [string], "intent": string}`,
		query, &out) {
		return neutral
	}
	if strings.TrimSpace(out.OptimizedQuery) == "" {
		return neutral
	}
	if out.Concepts == nil {
		out.Concepts = []string{}
	}
	if out.Synonyms == nil {
		out.Synonyms = []string{}
	}
	return out
}

// CategoriseResults labels a page of results. Neutral default: empty slice.
func (a *Adapter) CategoriseResults(ctx context.Context, results []map[string]interface{}) []Category {
	sample, err := json.Marshal(results)
	if err != nil {
		return []Category{}
	}

	var out []Category
	if !a.complete(ctx, "CategoriseResults",
		"You categorise database search results. Respond with JSON only: "+
			`[{"name": string, "count": number, "confidence": number}]`,
		string(sample), &out) {
		return []Category{}
	}
	if out == nil {
		out = []Category{}
	}
	return out
}

// Suggest proposes alternative queries. Neutral default: empty slice.
func (a *Adapter) Suggest(ctx context.Context, query string) []Suggestion {
	var out []Suggestion
	if !a.complete(ctx, "Suggest",
		"You suggest alternative search queries. Respond with JSON only: "+
			`[{"text": string, "score": number, "type": "spelling"|"semantic"|"popular"|"related"}]`,
		query, &out) {
		return []Suggestion{}
	}
	if out == nil {
		out = []Suggestion{}
	}
	return out
}

// Optimise recommends improvements given a query's observed performance.
// Neutral default: empty slice.
func (a *Adapter) Optimise(ctx context.Context, sql string, executionTimeMS int64, resultCount int) []Optimization {
	prompt := fmt.Sprintf("SQL: %s\nexecution_time_ms: %d\nresult_count: %d", sql, executionTimeMS, resultCount)

	var out []Optimization
	if !a.complete(ctx, "Optimise",
		"You tune MySQL full-text queries. Respond with JSON only: "+
			`[{"type": string, "description": string, "impact": "low"|"medium"|"high", "sql_suggestion": string}]`,
		prompt, &out) {
		return []Optimization{}
	}
	if out == nil {
		out = []Optimization{}
	}
	return out
}

// Analyse reviews a raw SQL statement. Neutral default: empty analysis.
func (a *Adapter) Analyse(ctx context.Context, sql string) Analysis {
	neutral := Analysis{Recommendations: []string{}, Optimizations: []Optimization{}}

	var out Analysis
	if !a.complete(ctx, "Analyse",
		"You review MySQL statements for correctness and performance. Respond with JSON only: "+
			`{"recommendations": [string], "optimizations": [{"type": string, "description": string, "impact": string}]}`,
		sql, &out) {
		return neutral
	}
	if out.Recommendations == nil {
		out.Recommendations = []string{}
	}
	if out.Optimizations == nil {
		out.Optimizations = []Optimization{}
	}
	return out
}

// Insights derives trend observations from a user's recent queries. Neutral
// default: empty slice.
func (a *Adapter) Insights(ctx context.Context, queries []string, period string) []Insight {
	prompt := fmt.Sprintf("period: %s\nqueries: %s", period, strings.Join(queries, "; "))

	var out []Insight
	if !a.complete(ctx, "Insights",
		"You analyse search behaviour over time. Respond with JSON only: "+
			`[{"type": string, "confidence": number, "description": string, "actionable": boolean, "data": object}]`,
		prompt, &out) {
		return []Insight{}
	}
	if out == nil {
		out = []Insight{}
	}
	return out
}

// ----------------------------------------------------------------
// Transport
// ----------------------------------------------------------------

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// complete runs one chat call and strictly decodes the model's reply into
// dest. Returns false on any failure; callers fall back to neutral defaults.
func (a *Adapter) complete(ctx context.Context, operation, system, user string, dest interface{}) bool {
	if !a.Available() {
		return false
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	content, err := a.chat(callCtx, system, user)
	if err != nil {
		a.log.Warn("", "", "llm call failed, using neutral default", map[string]interface{}{
			"operation": operation,
			"error":     err.Error(),
		})
		return false
	}

	dec := json.NewDecoder(strings.NewReader(content))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		a.log.Warn("", "", "llm response failed strict parse, using neutral default", map[string]interface{}{
			"operation": operation,
			"error":     err.Error(),
		})
		return false
	}
	return true
}

func (a *Adapter) chat(ctx context.Context, system, user string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: a.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("response is not JSON: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil {
			return "", fmt.Errorf("llm returned %d: %s", resp.StatusCode, parsed.Error.Type)
		}
		return "", fmt.Errorf("llm returned status %d", resp.StatusCode)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("llm returned no choices")
	}

	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}
