// Package search scans stored configuration backups for a case-insensitive
// substring using a small worker pool.
package search

import (
	"context"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"cfgvault/core-go/internal/archive"
	"cfgvault/core-go/internal/failure"
	"cfgvault/core-go/internal/metrics"
	"cfgvault/core-go/internal/pipeline"
	"cfgvault/core-go/internal/sqlcgen"
)

const (
	DefaultWorkers   = 4
	DefaultQueueSize = 10

	ScopeAll    = "all"
	ScopeLatest = "latest"

	FilterRunning = "running"
	FilterStartup = "startup"
)

type Queries interface {
	ListSearchCandidates(ctx context.Context, controllerID int64, configTypes []string) ([]sqlcgen.SearchCandidate, error)
	ListLatestSearchCandidates(ctx context.Context, controllerID int64, configTypes []string) ([]sqlcgen.SearchCandidate, error)
}

type Query struct {
	Scope        string
	Filter       string
	Text         string
	ControllerID int64
}

// Span is a half-open byte range [Start, End) of one match.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type Result struct {
	Backup  sqlcgen.SearchCandidate
	Matches []Span
}

type Searcher struct {
	log       zerolog.Logger
	q         Queries
	workers   int
	queueSize int
	metrics   *metrics.Metrics
}

func New(log zerolog.Logger, q Queries, m *metrics.Metrics) *Searcher {
	return &Searcher{log: log, q: q, workers: DefaultWorkers, queueSize: DefaultQueueSize, metrics: m}
}

// ConfigTypes maps a filter name to the config types it selects. Unknown
// filters select every CLI type.
func ConfigTypes(filter string) []string {
	switch strings.ToLower(strings.TrimSpace(filter)) {
	case FilterRunning:
		return []string{archive.CLIRunning}
	case FilterStartup:
		return []string{archive.CLIStartup}
	default:
		return []string{archive.CLIStartup, archive.CLIRunning}
	}
}

type indexed struct {
	pos int
	c   sqlcgen.SearchCandidate
}

type hit struct {
	pos int
	r   Result
}

// Search loads the candidate backups once and returns those containing the
// query text, ordered by device hostname.
func (s *Searcher) Search(ctx context.Context, q Query) ([]Result, error) {
	if q.Text == "" {
		return nil, nil
	}

	types := ConfigTypes(q.Filter)
	var (
		candidates []sqlcgen.SearchCandidate
		err        error
	)
	if strings.EqualFold(q.Scope, ScopeLatest) {
		candidates, err = s.q.ListLatestSearchCandidates(ctx, q.ControllerID, types)
	} else {
		candidates, err = s.q.ListSearchCandidates(ctx, q.ControllerID, types)
	}
	if err != nil {
		return nil, failure.New(failure.Persistence, "load search candidates", err)
	}

	items := make([]indexed, len(candidates))
	for i, c := range candidates {
		items[i] = indexed{pos: i, c: c}
	}

	needle := q.Text
	hits := pipeline.Run(ctx, pipeline.Config{Workers: s.workers, QueueSize: s.queueSize}, items,
		func(_ context.Context, it indexed) (hit, bool) {
			spans := FindAll(needle, it.c.Content)
			if len(spans) == 0 {
				return hit{}, false
			}
			return hit{pos: it.pos, r: Result{Backup: it.c, Matches: spans}}, true
		})

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].r.Backup.Hostname != hits[j].r.Backup.Hostname {
			return hits[i].r.Backup.Hostname < hits[j].r.Backup.Hostname
		}
		return hits[i].pos < hits[j].pos
	})

	out := make([]Result, len(hits))
	for i, h := range hits {
		out[i] = h.r
	}

	s.metrics.ObserveSearch(len(out))
	s.log.Debug().Int64("controller_id", q.ControllerID).Str("scope", q.Scope).Int("candidates", len(candidates)).Int("results", len(out)).Msg("search finished")
	return out, nil
}

// FindAll returns every position of query in text, ignoring ASCII case.
// Occurrences may overlap: FindAll("aa", "aaa") matches at 0 and 1.
func FindAll(query, text string) []Span {
	if query == "" || len(query) > len(text) {
		return nil
	}
	p := foldASCII(query)
	s := foldASCII(text)

	var out []Span
	for off := 0; off <= len(s)-len(p); {
		i := strings.Index(s[off:], p)
		if i < 0 {
			break
		}
		start := off + i
		out = append(out, Span{Start: start, End: start + len(p)})
		off = start + 1
	}
	return out
}

// foldASCII lower-cases ASCII letters only, so byte offsets are preserved.
func foldASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
