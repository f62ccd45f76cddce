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

package ai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"altus4/core/config"
)

// fakeClient replays a canned chat-completions response and records calls.
type fakeClient struct {
	status  int
	content string
	err     error
	calls   int
	lastReq *http.Request
}

func (f *fakeClient) Do(req *http.Request) (*http.Response, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}

	body, _ := json.Marshal(map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"content": f.content}},
		},
	})
	status := f.status
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(string(body))),
		Header:     make(http.Header),
	}, nil
}

func testAdapter(client HTTPClient) *Adapter {
	return NewWithClient(&config.LLMConfig{
		APIKey:  "sk-test",
		Model:   "gpt-3.5-turbo",
		Timeout: 5 * time.Second,
	}, client)
}

func TestUnavailableAdapterNeverCallsTransport(t *testing.T) {
	client := &fakeClient{content: "{}"}
	a := NewWithClient(&config.LLMConfig{Model: "gpt-3.5-turbo"}, client)
	ctx := context.Background()

	assert.False(t, a.Available())
	assert.Equal(t, Rewrite{OptimizedQuery: "alpha", Concepts: []string{}, Synonyms: []string{}}, a.RewriteQuery(ctx, "alpha"))
	assert.Empty(t, a.CategoriseResults(ctx, nil))
	assert.Empty(t, a.Suggest(ctx, "alpha"))
	assert.Empty(t, a.Optimise(ctx, "SELECT 1", 10, 1))
	assert.Equal(t, Analysis{Recommendations: []string{}, Optimizations: []Optimization{}}, a.Analyse(ctx, "SELECT 1"))
	assert.Empty(t, a.Insights(ctx, []string{"alpha"}, "7d"))

	assert.Zero(t, client.calls)
}

func TestRewriteQuery(t *testing.T) {
	client := &fakeClient{content: `{"optimized_query": "alpha beta", "concepts": ["greek"], "synonyms": ["first"], "intent": "lookup"}`}
	a := testAdapter(client)

	out := a.RewriteQuery(context.Background(), "alpha")
	assert.Equal(t, "alpha beta", out.OptimizedQuery)
	assert.Equal(t, []string{"greek"}, out.Concepts)
	assert.Equal(t, "lookup", out.Intent)

	require.NotNil(t, client.lastReq)
	assert.Equal(t, "Bearer sk-test", client.lastReq.Header.Get("Authorization"))
	assert.Equal(t, DefaultEndpoint, client.lastReq.URL.String())
}

func TestRewriteQueryEmptyResultFallsBack(t *testing.T) {
	client := &fakeClient{content: `{"optimized_query": "  "}`}
	a := testAdapter(client)

	out := a.RewriteQuery(context.Background(), "alpha")
	assert.Equal(t, "alpha", out.OptimizedQuery)
}

func TestTransportErrorFallsBack(t *testing.T) {
	a := testAdapter(&fakeClient{err: errors.New("dial tcp: connection refused")})

	out := a.RewriteQuery(context.Background(), "alpha")
	assert.Equal(t, "alpha", out.OptimizedQuery)
	assert.Empty(t, a.Suggest(context.Background(), "alpha"))
}

func TestNonOKStatusFallsBack(t *testing.T) {
	a := testAdapter(&fakeClient{status: http.StatusTooManyRequests, content: "{}"})
	assert.Empty(t, a.Suggest(context.Background(), "alpha"))
}

func TestStrictParseRejectsUnknownFields(t *testing.T) {
	// A reply with fields outside the contract is discarded wholesale.
	client := &fakeClient{content: `{"optimized_query": "alpha", "hallucinated": true}`}
	a := testAdapter(client)

	out := a.RewriteQuery(context.Background(), "alpha")
	assert.Equal(t, Rewrite{OptimizedQuery: "alpha", Concepts: []string{}, Synonyms: []string{}}, out)
}

func TestStrictParseRejectsProse(t *testing.T) {
	client := &fakeClient{content: "Sure! Here are some suggestions: ..."}
	a := testAdapter(client)
	assert.Empty(t, a.Suggest(context.Background(), "alpha"))
}

func TestSuggest(t *testing.T) {
	client := &fakeClient{content: `[{"text": "alpha centauri", "score": 0.9, "type": "semantic"}]`}
	a := testAdapter(client)

	out := a.Suggest(context.Background(), "alpha")
	require.Len(t, out, 1)
	assert.Equal(t, "alpha centauri", out[0].Text)
	assert.Equal(t, SuggestionSemantic, out[0].Type)
}

func TestAnalyse(t *testing.T) {
	client := &fakeClient{content: `{"recommendations": ["add a FULLTEXT index"], "optimizations": [{"type": "index", "description": "cover title and body", "impact": "high"}]}`}
	a := testAdapter(client)

	out := a.Analyse(context.Background(), "SELECT * FROM notes WHERE title LIKE '%x%'")
	require.Len(t, out.Recommendations, 1)
	require.Len(t, out.Optimizations, 1)
	assert.Equal(t, "high", out.Optimizations[0].Impact)
}

func TestCustomEndpoint(t *testing.T) {
	client := &fakeClient{content: `[]`}
	a := NewWithClient(&config.LLMConfig{
		APIKey:   "sk-test",
		Model:    "gpt-3.5-turbo",
		Endpoint: "https://llm.internal/v1/chat/completions",
	}, client)

	a.Suggest(context.Background(), "alpha")
	require.NotNil(t, client.lastReq)
	assert.Equal(t, "https://llm.internal/v1/chat/completions", client.lastReq.URL.String())
}
