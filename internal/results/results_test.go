package results

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mohammed-shakir/sparql-map-explorer/internal/core/model"
)

func TestSet_NotRunDistinctFromEmpty(t *testing.T) {
	s := New(false)
	snap := s.Snapshot()
	if snap.State != NotRun || snap.Empty() {
		t.Fatalf("fresh set must be not_run and not empty: %+v", snap)
	}

	tk := s.Begin()
	if !s.Complete(tk, "q", nil) {
		t.Fatalf("complete not applied")
	}
	snap = s.Snapshot()
	if snap.State != Ran || !snap.Empty() {
		t.Fatalf("zero-match run must be ran+empty: %+v", snap)
	}
	if snap.Results == nil {
		t.Fatalf("ran set must expose a non-nil result slice")
	}
}

func TestSet_StaleResultsVisibleWhileInFlight(t *testing.T) {
	s := New(false)
	first := []model.MapResult{{MapURI: "m1"}}
	s.Complete(s.Begin(), "q1", first)

	tk := s.Begin()
	snap := s.Snapshot()
	if snap.InFlight != 1 || len(snap.Results) != 1 || snap.Results[0].MapURI != "m1" {
		t.Fatalf("previous results must remain while in flight: %+v", snap)
	}

	s.Abandon(tk)
	snap = s.Snapshot()
	if snap.InFlight != 0 || snap.Query != "q1" || snap.Results[0].MapURI != "m1" {
		t.Fatalf("failed run must leave previous results: %+v", snap)
	}
}

func TestSet_LastResolvedWins(t *testing.T) {
	s := New(false)
	older := s.Begin()
	newer := s.Begin()

	s.Complete(newer, "new", []model.MapResult{{MapURI: "new"}})
	if !s.Complete(older, "old", []model.MapResult{{MapURI: "old"}}) {
		t.Fatalf("default policy applies every resolution")
	}
	if got := s.Snapshot().Results[0].MapURI; got != "old" {
		t.Fatalf("last resolved should win; got %q", got)
	}
}

func TestSet_StrictDiscardsOutOfOrder(t *testing.T) {
	s := New(true)
	older := s.Begin()
	newer := s.Begin()

	s.Complete(newer, "new", []model.MapResult{{MapURI: "new"}})
	if s.Complete(older, "old", []model.MapResult{{MapURI: "old"}}) {
		t.Fatalf("strict set must discard an older ticket")
	}
	snap := s.Snapshot()
	if snap.Results[0].MapURI != "new" || snap.InFlight != 0 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestSet_SnapshotIsCopy(t *testing.T) {
	s := New(false)
	s.now = func() time.Time { return time.Unix(100, 0) }
	s.Complete(s.Begin(), "q", []model.MapResult{{Title: "a"}})

	snap := s.Snapshot()
	snap.Results[0].Title = "mutated"
	if s.Snapshot().Results[0].Title != "a" {
		t.Fatalf("snapshot must not alias internal results")
	}
	if !snap.RanAt.Equal(time.Unix(100, 0)) {
		t.Fatalf("RanAt=%v", snap.RanAt)
	}
}

func TestDecode_KeepsOrderAndFields(t *testing.T) {
	rows := []model.Binding{
		{
			"map":        {Type: "uri", Value: "http://m/2"},
			"img":        {Type: "uri", Value: "http://i/2.jpg"},
			"title":      {Type: "literal", Value: "Kaart B"},
			"provenance": {Type: "literal", Value: "Stadsarchief"},
			"creator":    {Type: "literal", Value: "Blaeu"},
			"begin":      {Type: "literal", Value: "1649-01-01T00:00:00Z", Datatype: "http://www.w3.org/2001/XMLSchema#dateTime"},
			"km2":        {Type: "literal", Value: "0.75"},
		},
		{
			"map":   {Type: "uri", Value: "http://m/1"},
			"title": {Type: "literal", Value: "Kaart A"},
		},
	}
	got := Decode(rows)
	if len(got) != 2 {
		t.Fatalf("len=%d want 2", len(got))
	}
	want0 := model.MapResult{
		MapURI: "http://m/2", ImageURI: "http://i/2.jpg", Title: "Kaart B",
		ProvenanceLabel: "Stadsarchief", CreatorLabel: "Blaeu", BeginYear: 1649, AreaKm2: 0.75,
	}
	if got[0] != want0 {
		t.Fatalf("row0 got %+v want %+v", got[0], want0)
	}
	if got[1].MapURI != "http://m/1" || got[1].BeginYear != 0 || got[1].ImageURI != "" {
		t.Fatalf("row1 unexpected: %+v", got[1])
	}
}

func TestParseYear(t *testing.T) {
	cases := map[string]int{
		"1649-01-01T00:00:00Z": 1649,
		"1700-05-02":           1700,
		"1550":                 1550,
		" 1812 ":               1812,
		"-0044-03-15":          -44,
		"":                     0,
		"circa":                0,
	}
	for in, want := range cases {
		if got := ParseYear(in); got != want {
			t.Fatalf("ParseYear(%q)=%d want %d", in, got, want)
		}
	}
}

func TestSnapshot_ZeroMatchRunEncodesEmptyList(t *testing.T) {
	s := New(false)
	s.Complete(s.Begin(), "q", nil)

	b, err := json.Marshal(s.Snapshot())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(b), `"results":[]`) {
		t.Fatalf("zero-match run must encode an empty list: %s", b)
	}

	b, _ = json.Marshal(New(false).Snapshot())
	if !strings.Contains(string(b), `"results":null`) {
		t.Fatalf("not-run set must encode null results: %s", b)
	}
}
