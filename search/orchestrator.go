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

// Package search is the orchestrator: it validates a request, fans out one
// concurrent task per target database, merges and ranks the partial results,
// and enriches the page with AI categories, suggestions, and optimisation
// hints. Per-database failures degrade the response; only a total failure is
// an error.
package search

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"altus4/core/ai"
	"altus4/core/cache"
	"altus4/core/schema"
	"altus4/core/shared/apperror"
	"altus4/core/shared/logger"
	"altus4/core/store"
)

// maxQueryLen is the longest accepted query, in bytes.
const maxQueryLen = 1000

// maxLimit caps the page size a single request may ask for.
const maxLimit = 100

// defaultSearchTTL caches responses for five minutes.
const defaultSearchTTL = 300 * time.Second

// specialChars is the character set that, alone, makes a query unsearchable.
const specialChars = "!@#$%^&*()-_+=[]{}|\\:\";'<>?,./~`"

// ConnectionRegistry is the pool-acquisition seam. Implemented by the
// connection registry in production and by doubles in tests.
type ConnectionRegistry interface {
	GetConnection(ctx context.Context, id string) (*sql.DB, *apperror.Error)
}

// TrendSource supplies per-user activity trends for analytics-enabled
// requests. Implemented by the analytics service.
type TrendSource interface {
	UserTrends(ctx context.Context, userID string) ([]TrendPoint, error)
}

// Orchestrator coordinates one search across tenant databases.
type Orchestrator struct {
	registry  ConnectionRegistry
	inspector *schema.Inspector
	cache     *cache.Store
	ai        *ai.Adapter
	store     *store.Store
	trends    TrendSource
	searchTTL time.Duration
	log       *logger.Logger
}

// NewOrchestrator wires the orchestrator's collaborators.
func NewOrchestrator(reg ConnectionRegistry, insp *schema.Inspector, c *cache.Store, adapter *ai.Adapter, st *store.Store) *Orchestrator {
	return &Orchestrator{
		registry:  reg,
		inspector: insp,
		cache:     c,
		ai:        adapter,
		store:     st,
		searchTTL: defaultSearchTTL,
		log:       logger.New("search"),
	}
}

// WithTrendSource attaches the analytics trend reader.
func (o *Orchestrator) WithTrendSource(t TrendSource) *Orchestrator {
	o.trends = t
	return o
}

// WithSearchTTL overrides the response cache TTL.
func (o *Orchestrator) WithSearchTTL(ttl time.Duration) *Orchestrator {
	if ttl > 0 {
		o.searchTTL = ttl
	}
	return o
}

// Search runs one request end to end.
func (o *Orchestrator) Search(ctx context.Context, req *Request) (*Response, *apperror.Error) {
	start := time.Now()

	req.Query = strings.TrimSpace(req.Query)
	if req.SearchMode == "" {
		req.SearchMode = ModeNatural
	}

	if aerr := o.validate(req); aerr != nil {
		return nil, aerr
	}

	if len(req.Databases) == 0 {
		resp := emptyResponse()
		resp.Limit = req.Limit
		resp.QueryOptimization = []Hint{{
			Type:        "query",
			Description: "No databases specified; register a connection and pass its id in databases[]",
			Impact:      "low",
		}}
		return resp, nil
	}
	if req.Query == "" {
		resp := emptyResponse()
		resp.Limit = req.Limit
		return resp, nil
	}

	cacheable := !req.IncludeAnalytics
	key := CacheKey(req)
	if cacheable {
		var cached Response
		if o.cache.GetJSON(ctx, key, &cached) {
			o.log.Debug(req.UserID, "", "search cache hit", map[string]interface{}{"key": key})
			return &cached, nil
		}
	}

	effectiveQuery := req.Query
	if req.SearchMode == ModeSemantic && o.ai.Available() {
		if rw := o.ai.RewriteQuery(ctx, effectiveQuery); rw.OptimizedQuery != "" {
			effectiveQuery = rw.OptimizedQuery
		}
	}

	merged, failures := o.fanOut(ctx, req, effectiveQuery)
	if len(failures) == len(req.Databases) {
		return nil, apperror.New(apperror.CodeSearchFailed,
			"search failed in every requested database",
			"Test the connections via POST /databases/:id/test",
			"Retry the request")
	}

	sort.SliceStable(merged, func(a, b int) bool {
		return merged[a].RelevanceScore > merged[b].RelevanceScore
	})

	total := len(merged)
	page := paginate(merged, req.Limit, req.Offset)
	execMS := time.Since(start).Milliseconds()

	resp := &Response{
		Results:           page,
		Categories:        o.categorize(ctx, page),
		Suggestions:       o.Suggestions(ctx, req.UserID, effectiveQuery),
		QueryOptimization: o.hints(ctx, effectiveQuery, execMS, total),
		TotalCount:        total,
		Page:              req.Offset/req.Limit + 1,
		Limit:             req.Limit,
		ExecutionTimeMS:   execMS,
	}

	if req.IncludeAnalytics && o.trends != nil {
		trends, err := o.trends.UserTrends(ctx, req.UserID)
		if err != nil {
			o.log.Warn(req.UserID, "", "trend lookup failed", map[string]interface{}{"error": err.Error()})
		} else {
			resp.Trends = trends
		}
	}

	if cacheable && ctx.Err() == nil {
		o.cache.SetJSON(ctx, key, resp, o.searchTTL)
	}
	o.recordAnalytics(ctx, req, effectiveQuery, total, execMS)

	return resp, nil
}

func (o *Orchestrator) validate(req *Request) *apperror.Error {
	if len(req.Query) > maxQueryLen {
		return apperror.New(apperror.CodeQueryTooLong,
			fmt.Sprintf("query exceeds %d characters", maxQueryLen),
			"Shorten the query",
			"Split the search into multiple requests")
	}
	if req.Query != "" && onlySpecialChars(req.Query) {
		return apperror.New(apperror.CodeQueryInvalidChars,
			"query contains no searchable characters",
			"Include at least one letter or digit")
	}
	if req.Limit <= 0 {
		return apperror.New(apperror.CodeValidationError,
			"limit must be at least 1",
			"Use a limit between 1 and 100")
	}
	if req.Limit > maxLimit {
		return apperror.New(apperror.CodeValidationError,
			fmt.Sprintf("limit must not exceed %d", maxLimit),
			"Use a limit between 1 and 100",
			"Page through larger result sets with offset")
	}
	if req.Offset < 0 {
		return apperror.New(apperror.CodeValidationError,
			"offset must not be negative",
			"Use an offset of 0 or more")
	}
	return nil
}

func onlySpecialChars(q string) bool {
	for _, r := range q {
		if !strings.ContainsRune(specialChars, r) {
			return false
		}
	}
	return true
}

// ----------------------------------------------------------------
// Fan-out
// ----------------------------------------------------------------

type taskOutcome struct {
	database string
	results  []Result
	err      error
}

// fanOut runs one concurrent task per database and waits for all of them.
// Task errors are returned alongside successes; the caller decides whether
// partial failure is fatal.
func (o *Orchestrator) fanOut(ctx context.Context, req *Request, query string) ([]Result, []taskOutcome) {
	outcomes := make([]taskOutcome, len(req.Databases))

	var wg sync.WaitGroup
	for n, database := range req.Databases {
		wg.Add(1)
		go func(n int, database string) {
			defer wg.Done()
			results, err := o.searchDatabase(ctx, database, req, query)
			outcomes[n] = taskOutcome{database: database, results: results, err: err}
		}(n, database)
	}
	wg.Wait()

	merged := make([]Result, 0)
	failures := make([]taskOutcome, 0)
	for _, out := range outcomes {
		if out.err != nil {
			failures = append(failures, out)
			aerr := apperror.Classify(out.err)
			o.log.WarnSanitized(req.UserID, "", "database task failed: "+out.database, aerr)
			continue
		}
		merged = append(merged, out.results...)
	}
	return merged, failures
}

// searchDatabase runs the per-database task: acquire a pool, inspect each
// requested table, build and execute its statement, and shape the rows.
func (o *Orchestrator) searchDatabase(ctx context.Context, database string, req *Request, query string) ([]Result, error) {
	pool, aerr := o.registry.GetConnection(ctx, database)
	if aerr != nil {
		return nil, aerr
	}

	tables := req.Tables
	if len(tables) == 0 {
		var err error
		tables, err = o.inspector.Tables(ctx, pool)
		if err != nil {
			return nil, err
		}
	}

	results := make([]Result, 0)
	for _, table := range tables {
		indexes, err := o.inspector.FulltextIndexes(ctx, pool, table)
		if err != nil {
			return nil, err
		}

		tq := BuildTableQuery(table, indexes, req.Columns, nil, query, req.SearchMode, req.Limit, req.Offset)
		if tq == nil && len(req.Columns) == 0 {
			textCols, err := o.inspector.TextColumns(ctx, pool, table)
			if err != nil {
				return nil, err
			}
			tq = BuildTableQuery(table, indexes, req.Columns, textCols, query, req.SearchMode, req.Limit, req.Offset)
		}
		if tq == nil {
			continue
		}

		rows, err := o.executeTableQuery(ctx, pool, tq)
		if err != nil {
			return nil, err
		}

		for n, row := range rows {
			results = append(results, toResult(database, table, n, row, query))
		}
	}
	return results, nil
}

// orderedRow preserves result-set column order so snippet extraction is
// deterministic.
type orderedRow struct {
	columns []string
	values  map[string]interface{}
}

func (o *Orchestrator) executeTableQuery(ctx context.Context, pool *sql.DB, tq *TableQuery) ([]orderedRow, error) {
	rows, err := pool.QueryContext(ctx, tq.SQL, tq.Args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := make([]orderedRow, 0)
	for rows.Next() {
		raw := make([]interface{}, len(columns))
		dest := make([]interface{}, len(columns))
		for n := range raw {
			dest[n] = &raw[n]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}

		values := make(map[string]interface{}, len(columns))
		for n, name := range columns {
			values[name] = normalizeValue(raw[n])
		}
		out = append(out, orderedRow{columns: columns, values: values})
	}
	return out, rows.Err()
}

// normalizeValue converts driver byte slices to strings so row data is
// JSON-friendly and comparable.
func normalizeValue(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// toResult shapes one row. Internal marker columns are stripped from data,
// matched_columns keeps only truthy fields, and the snippet scans text
// fields in result-set order.
func toResult(database, table string, index int, row orderedRow, query string) Result {
	data := make(map[string]interface{}, len(row.values))
	matched := make([]string, 0)
	textFields := make([]string, 0)

	score := 0.0
	for _, name := range row.columns {
		value := row.values[name]
		switch name {
		case "table_name":
			continue
		case "relevance_score":
			score = toFloat(value)
			continue
		}

		data[name] = value
		if truthy(value) {
			matched = append(matched, name)
		}
		if s, ok := value.(string); ok && s != "" {
			textFields = append(textFields, s)
		}
	}

	return Result{
		ID:             fmt.Sprintf("%s_%s_%d", database, table, index),
		Database:       database,
		Table:          table,
		MatchedColumns: matched,
		RelevanceScore: score,
		Data:           data,
		Snippet:        extractSnippet(textFields, query),
		Categories:     []string{},
	}
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int64:
		return float64(n)
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

func truthy(v interface{}) bool {
	switch n := v.(type) {
	case nil:
		return false
	case string:
		return n != ""
	case bool:
		return n
	case int64:
		return n != 0
	case float64:
		return n != 0
	default:
		return true
	}
}

func paginate(results []Result, limit, offset int) []Result {
	if offset >= len(results) {
		return []Result{}
	}
	end := offset + limit
	if end > len(results) {
		end = len(results)
	}
	page := make([]Result, end-offset)
	copy(page, results[offset:end])
	return page
}

// ----------------------------------------------------------------
// Enrichment
// ----------------------------------------------------------------

func (o *Orchestrator) categorize(ctx context.Context, page []Result) []ai.Category {
	if !o.ai.Available() || len(page) == 0 {
		return []ai.Category{}
	}
	sample := make([]map[string]interface{}, 0, len(page))
	for _, r := range page {
		sample = append(sample, r.Data)
	}
	return o.ai.CategoriseResults(ctx, sample)
}

// Suggestions combines AI suggestions with the user's popular recent
// queries, deduplicated by text and capped at the top five by score.
func (o *Orchestrator) Suggestions(ctx context.Context, userID, query string) []ai.Suggestion {
	combined := make([]ai.Suggestion, 0)
	if o.ai.Available() {
		combined = append(combined, o.ai.Suggest(ctx, query)...)
	}

	for _, recent := range o.cache.RecentQueries(ctx, userID, 5) {
		if strings.EqualFold(recent, query) {
			continue
		}
		combined = append(combined, ai.Suggestion{
			Text:  recent,
			Score: float64(o.cache.QueryPopularity(ctx, recent)),
			Type:  ai.SuggestionPopular,
		})
	}

	seen := make(map[string]int)
	deduped := make([]ai.Suggestion, 0, len(combined))
	for _, s := range combined {
		text := strings.ToLower(s.Text)
		if at, ok := seen[text]; ok {
			if s.Score > deduped[at].Score {
				deduped[at].Score = s.Score
			}
			continue
		}
		seen[text] = len(deduped)
		deduped = append(deduped, s)
	}

	sort.SliceStable(deduped, func(a, b int) bool { return deduped[a].Score > deduped[b].Score })
	if len(deduped) > 5 {
		deduped = deduped[:5]
	}
	return deduped
}

func (o *Orchestrator) hints(ctx context.Context, query string, execMS int64, total int) []Hint {
	hints := make([]Hint, 0)
	if execMS > 5000 {
		hints = append(hints, Hint{
			Type:        "index",
			Description: "Search took over 5 seconds; add FULLTEXT indexes to the queried columns",
			Impact:      "high",
		})
	}
	if total == 0 {
		hints = append(hints, Hint{
			Type:        "query",
			Description: "No results; broaden terms",
			Impact:      "medium",
		})
	}

	if o.ai.Available() {
		for _, opt := range o.ai.Optimise(ctx, query, execMS, total) {
			hints = append(hints, Hint{
				Type:          opt.Type,
				Description:   opt.Description,
				Impact:        opt.Impact,
				SQLSuggestion: opt.SQLSuggestion,
			})
		}
	}
	return hints
}

// Analyze reviews a raw SQL statement through the AI adapter.
func (o *Orchestrator) Analyze(ctx context.Context, statement string) ai.Analysis {
	return o.ai.Analyse(ctx, statement)
}

// ----------------------------------------------------------------
// Post-processing
// ----------------------------------------------------------------

func (o *Orchestrator) recordAnalytics(ctx context.Context, req *Request, query string, total int, execMS int64) {
	databaseID := ""
	if len(req.Databases) == 1 {
		databaseID = req.Databases[0]
	}

	ev := &store.AnalyticsEvent{
		UserID:          req.UserID,
		QueryText:       query,
		SearchMode:      string(req.SearchMode),
		DatabaseID:      databaseID,
		ResultCount:     total,
		ExecutionTimeMS: execMS,
	}
	if err := o.store.AppendAnalyticsEvent(ctx, ev); err != nil {
		o.log.Warn(req.UserID, "", "analytics append failed", map[string]interface{}{"error": err.Error()})
	}

	o.cache.RecordQuery(ctx, req.UserID, query)
}
