package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"promptkeeper/internal/history"
)

// Default request parameters
const (
	DefaultLimit    = 10
	DefaultMinScore = 60
	MaxMinScore     = 100
)

// Request is a fully parsed search request.
type Request struct {
	Query    string
	Limit    int
	MinScore int
	Mode     Mode
	Range    TimeRange
}

// Result is one ranked exchange with its match score.
type Result struct {
	history.Exchange
	MatchScore int `json:"match_score"`
}

// Response is the ranked, truncated result set.
type Response struct {
	Results []Result `json:"results"`

	// TotalResults counts every candidate that passed the score threshold,
	// before truncation to Limit.
	TotalResults int `json:"total_results"`

	// QueryTimeMs is the wall-clock duration of the whole search.
	QueryTimeMs int64 `json:"query_time_ms"`
}

// Engine scores and ranks stored exchanges. Retrieval is a coarse
// time-window pre-filter; all scoring happens in-process.
type Engine struct {
	reader history.Reader
}

// NewEngine creates a search engine over the given reader.
func NewEngine(reader history.Reader) *Engine {
	return &Engine{reader: reader}
}

// Search retrieves candidates within the request's time window, scores each
// under the selected mode, keeps those at or above the minimum score, and
// returns the top candidates by descending score. Ties preserve retrieval
// order. A store failure is fatal; a per-candidate scoring failure only
// zeroes that candidate.
func (e *Engine) Search(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	minScore := req.MinScore
	if minScore < 0 {
		minScore = 0
	}
	if minScore > MaxMinScore {
		minScore = MaxMinScore
	}

	var since time.Time
	if window := req.Range.Window(); window > 0 {
		since = time.Now().UTC().Add(-window)
	}

	candidates, err := e.reader.ListSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve exchanges: %w", err)
	}

	score := req.Mode.newScorer(req.Query)

	matched := make([]Result, 0)
	for i := range candidates {
		messagesText, responseText := extractTexts(&candidates[i])
		if s := score(messagesText, responseText); s >= minScore {
			matched = append(matched, Result{
				Exchange:   candidates[i],
				MatchScore: s,
			})
		}
	}

	// Stable sort keeps retrieval order for equal scores
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].MatchScore > matched[j].MatchScore
	})

	total := len(matched)
	if len(matched) > limit {
		matched = matched[:limit]
	}

	return &Response{
		Results:      matched,
		TotalResults: total,
		QueryTimeMs:  time.Since(start).Milliseconds(),
	}, nil
}

// extractTexts builds the two scoring texts for a candidate: all message
// contents joined by single spaces, and the first choice's message content
// from the stored response. A response whose shape doesn't match falls back
// to its raw rendering; malformed data never aborts the search.
func extractTexts(ex *history.Exchange) (messagesText, responseText string) {
	parts := make([]string, 0, len(ex.Messages))
	for _, m := range ex.Messages {
		parts = append(parts, m.Content)
	}
	messagesText = strings.Join(parts, " ")

	if content := gjson.GetBytes(ex.Response, "choices.0.message.content"); content.Exists() {
		responseText = content.String()
	} else {
		responseText = string(ex.Response)
	}
	return messagesText, responseText
}
