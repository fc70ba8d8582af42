// Package search ranks recorded exchanges against a free-text query under
// a selectable matching mode with a time window and a minimum-score cutoff.
package search

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	fuzzy "github.com/paul-mannino/go-fuzzywuzzy"
)

// Mode is the closed set of matching strategies. The scorer for a request
// is selected (and, for regex, compiled) once at parse time.
type Mode int

const (
	// ModeFuzzy scores by partial best-alignment similarity ratio
	ModeFuzzy Mode = iota
	// ModeKeyword scores by the fraction of query words present
	ModeKeyword
	// ModeRegex scores 100 on a case-insensitive pattern match, else 0
	ModeRegex
)

// String returns the wire name of the mode
func (m Mode) String() string {
	switch m {
	case ModeFuzzy:
		return "fuzzy"
	case ModeKeyword:
		return "keyword"
	case ModeRegex:
		return "regex"
	default:
		return "unknown"
	}
}

// ParseMode parses a wire mode name. An empty string selects the default
// fuzzy mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "fuzzy":
		return ModeFuzzy, nil
	case "keyword":
		return ModeKeyword, nil
	case "regex":
		return ModeRegex, nil
	default:
		return 0, fmt.Errorf("invalid search_mode: %q (valid: fuzzy, keyword, regex)", s)
	}
}

// scorer computes a 0-100 match score for one candidate's extracted texts.
type scorer func(messagesText, responseText string) int

// newScorer builds the scoring function for this mode and query.
// It never fails: an invalid regex degrades to a scorer that always
// returns 0 rather than aborting the search.
func (m Mode) newScorer(query string) scorer {
	switch m {
	case ModeKeyword:
		return keywordScorer(query)
	case ModeRegex:
		return regexScorer(query)
	default:
		return fuzzyScorer(query)
	}
}

// fuzzyScorer scores by partial Levenshtein ratio of the lowercased query
// against each text, taking the better of the two.
func fuzzyScorer(query string) scorer {
	q := strings.ToLower(query)
	return func(messagesText, responseText string) int {
		messageScore := fuzzy.PartialRatio(q, strings.ToLower(messagesText))
		responseScore := fuzzy.PartialRatio(q, strings.ToLower(responseText))
		if responseScore > messageScore {
			return responseScore
		}
		return messageScore
	}
}

// keywordScorer scores by the fraction of query words present as substrings
// of the combined text. An empty query scores 0 for every candidate.
func keywordScorer(query string) scorer {
	words := strings.Fields(strings.ToLower(query))
	return func(messagesText, responseText string) int {
		if len(words) == 0 {
			return 0
		}
		text := strings.ToLower(messagesText + " " + responseText)
		matched := 0
		for _, word := range words {
			if strings.Contains(text, word) {
				matched++
			}
		}
		return matched * 100 / len(words)
	}
}

// regexScorer compiles the query as a case-insensitive pattern once.
// An invalid pattern yields score 0 for all candidates.
func regexScorer(query string) scorer {
	pattern, err := regexp.Compile("(?i)" + query)
	if err != nil {
		return func(_, _ string) int { return 0 }
	}
	return func(messagesText, responseText string) int {
		if pattern.MatchString(messagesText) || pattern.MatchString(responseText) {
			return 100
		}
		return 0
	}
}

// TimeRange is the closed set of retrieval windows.
type TimeRange int

const (
	// RangeAll retrieves every exchange
	RangeAll TimeRange = iota
	// RangeHour retrieves the last hour
	RangeHour
	// RangeDay retrieves the last 24 hours
	RangeDay
	// RangeWeek retrieves the last 7 days
	RangeWeek
	// RangeMonth retrieves the last 30 days (approximate)
	RangeMonth
	// RangeYear retrieves the last 365 days (approximate)
	RangeYear
)

// String returns the wire name of the time range
func (t TimeRange) String() string {
	switch t {
	case RangeHour:
		return "hour"
	case RangeDay:
		return "day"
	case RangeWeek:
		return "week"
	case RangeMonth:
		return "month"
	case RangeYear:
		return "year"
	default:
		return "all"
	}
}

// ParseTimeRange parses a wire time range name. An empty string selects
// the default "all".
func ParseTimeRange(s string) (TimeRange, error) {
	switch s {
	case "", "all":
		return RangeAll, nil
	case "hour":
		return RangeHour, nil
	case "day":
		return RangeDay, nil
	case "week":
		return RangeWeek, nil
	case "month":
		return RangeMonth, nil
	case "year":
		return RangeYear, nil
	default:
		return 0, fmt.Errorf("invalid time_range: %q (valid: all, hour, day, week, month, year)", s)
	}
}

// Window returns the retrieval window duration; zero means no restriction.
func (t TimeRange) Window() time.Duration {
	switch t {
	case RangeHour:
		return time.Hour
	case RangeDay:
		return 24 * time.Hour
	case RangeWeek:
		return 7 * 24 * time.Hour
	case RangeMonth:
		return 30 * 24 * time.Hour
	case RangeYear:
		return 365 * 24 * time.Hour
	default:
		return 0
	}
}
