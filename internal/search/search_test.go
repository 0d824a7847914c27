package search

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/goleak"

	"cfgvault/core-go/internal/archive"
	"cfgvault/core-go/internal/failure"
	"cfgvault/core-go/internal/sqlcgen"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeQueries emulates the two candidate queries over an in-memory table.
type fakeQueries struct {
	rows []sqlcgen.SearchCandidate
	err  error
}

func (f *fakeQueries) filter(types []string) []sqlcgen.SearchCandidate {
	var out []sqlcgen.SearchCandidate
	for _, r := range f.rows {
		for _, t := range types {
			if r.ConfigType == t {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

func (f *fakeQueries) ListSearchCandidates(_ context.Context, _ int64, types []string) ([]sqlcgen.SearchCandidate, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.filter(types), nil
}

func (f *fakeQueries) ListLatestSearchCandidates(_ context.Context, _ int64, types []string) ([]sqlcgen.SearchCandidate, error) {
	if f.err != nil {
		return nil, f.err
	}
	latest := map[int64]sqlcgen.SearchCandidate{}
	var order []int64
	for _, r := range f.filter(types) {
		cur, ok := latest[r.DeviceID]
		if !ok {
			order = append(order, r.DeviceID)
		}
		if !ok || r.CreatedAt.After(cur.CreatedAt) {
			latest[r.DeviceID] = r
		}
	}
	out := make([]sqlcgen.SearchCandidate, 0, len(order))
	for _, id := range order {
		out = append(out, latest[id])
	}
	return out, nil
}

func TestFindAll(t *testing.T) {
	cases := []struct {
		query, text string
		want        []Span
	}{
		{"aa", "aaa", []Span{{0, 2}, {1, 3}}},
		{"BGP", "router bgp 1\nrouter BgP 2", []Span{{7, 10}, {20, 23}}},
		{"ab", "abab", []Span{{0, 2}, {2, 4}}},
		{"x", "abc", nil},
		{"", "abc", nil},
		{"abcd", "abc", nil},
	}
	for _, tc := range cases {
		got := FindAll(tc.query, tc.text)
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("FindAll(%q, %q): expected %v, got %v", tc.query, tc.text, tc.want, got)
		}
	}
}

func TestFindAll_OffsetsStableWithNonASCII(t *testing.T) {
	text := "description café\nrouter bgp"
	got := FindAll("BGP", text)
	if len(got) != 1 || text[got[0].Start:got[0].End] != "bgp" {
		t.Fatalf("expected byte span of bgp, got %v", got)
	}
}

func TestConfigTypes(t *testing.T) {
	if got := ConfigTypes("running"); !reflect.DeepEqual(got, []string{archive.CLIRunning}) {
		t.Fatalf("unexpected running types %v", got)
	}
	if got := ConfigTypes("Startup"); !reflect.DeepEqual(got, []string{archive.CLIStartup}) {
		t.Fatalf("unexpected startup types %v", got)
	}
	for _, typ := range ConfigTypes("") {
		if typ == archive.Restconf {
			t.Fatalf("default filter must exclude restconf")
		}
	}
}

func TestSearch_LatestRunningBGPAcrossFiveDevices(t *testing.T) {
	old := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := old.Add(time.Hour)
	row := func(id, device int64, host, typ, content string, at time.Time) sqlcgen.SearchCandidate {
		return sqlcgen.SearchCandidate{BackupID: id, DeviceID: device, Hostname: host, ConfigType: typ, Content: content, CreatedAt: at}
	}
	q := &fakeQueries{rows: []sqlcgen.SearchCandidate{
		row(1, 1, "zeta", archive.CLIRunning, "router bgp 1", old),
		row(2, 1, "zeta", archive.CLIRunning, "router BGP 65000", recent),
		row(3, 2, "alpha", archive.CLIRunning, "ROUTER Bgp 2", recent),
		row(4, 3, "mike", archive.CLIRunning, "router bgp 3", old),
		row(5, 3, "mike", archive.CLIRunning, "router ospf 1", recent),
		row(6, 4, "bravo", archive.CLIRunning, "hostname bravo", recent),
		row(7, 5, "echo", archive.CLIStartup, "router bgp 9", recent),
		row(8, 5, "echo", archive.CLIRunning, "interface Gi0/1", old),
		row(9, 4, "bravo", archive.Restconf, `{"bgp":{}}`, recent),
	}}

	s := New(zerolog.Nop(), q, nil)
	got, err := s.Search(context.Background(), Query{Scope: ScopeLatest, Filter: FilterRunning, Text: "BGP", ControllerID: 1})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d: %+v", len(got), got)
	}
	if got[0].Backup.Hostname != "alpha" || got[1].Backup.Hostname != "zeta" {
		t.Fatalf("expected alpha then zeta, got %s then %s", got[0].Backup.Hostname, got[1].Backup.Hostname)
	}
	if got[1].Backup.BackupID != 2 {
		t.Fatalf("expected latest zeta backup, got %d", got[1].Backup.BackupID)
	}
	for _, r := range got {
		if len(r.Matches) == 0 {
			t.Fatalf("expected match spans for %s", r.Backup.Hostname)
		}
	}
}

func TestSearch_SortedByHostnameStableOnTies(t *testing.T) {
	var rows []sqlcgen.SearchCandidate
	hosts := []string{"delta", "alpha", "charlie", "alpha", "bravo", "alpha"}
	for i, h := range hosts {
		rows = append(rows, sqlcgen.SearchCandidate{
			BackupID:   int64(i + 1),
			DeviceID:   int64(i + 1),
			Hostname:   h,
			ConfigType: archive.CLIRunning,
			Content:    fmt.Sprintf("hostname %s\nntp server 10.0.0.%d", h, i),
		})
	}
	// Pad with non-matching rows so the queue is exercised beyond capacity.
	for i := 0; i < 40; i++ {
		rows = append(rows, sqlcgen.SearchCandidate{BackupID: int64(100 + i), Hostname: "noise", ConfigType: archive.CLIRunning, Content: "nothing here"})
	}

	s := New(zerolog.Nop(), &fakeQueries{rows: rows}, nil)
	got, err := s.Search(context.Background(), Query{Scope: ScopeAll, Text: "NTP SERVER"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	var ids []int64
	for _, r := range got {
		ids = append(ids, r.Backup.BackupID)
	}
	want := []int64{2, 4, 6, 5, 3, 1}
	if !reflect.DeepEqual(ids, want) {
		t.Fatalf("expected order %v, got %v", want, ids)
	}
}

func TestSearch_EmptyQueryAndStoreError(t *testing.T) {
	s := New(zerolog.Nop(), &fakeQueries{err: errors.New("boom")}, nil)
	got, err := s.Search(context.Background(), Query{Text: ""})
	if err != nil || got != nil {
		t.Fatalf("expected empty query to short-circuit, got %v %v", got, err)
	}
	if _, err := s.Search(context.Background(), Query{Text: "x"}); !failure.Is(err, failure.Persistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}
}
