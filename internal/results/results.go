// Package results holds the outcome of the most recent map query.
package results

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mohammed-shakir/sparql-map-explorer/internal/core/model"
)

type State string

const (
	NotRun State = "not_run"
	Ran    State = "ran"
)

type Snapshot struct {
	State    State             `json:"state"`
	Results  []model.MapResult `json:"results"`
	Query    string            `json:"query,omitempty"`
	RanAt    time.Time         `json:"ranAt,omitzero"`
	InFlight int               `json:"inFlight"`
}

// Empty reports a run that matched nothing; a set that never ran is not empty.
func (s Snapshot) Empty() bool {
	return s.State == Ran && len(s.Results) == 0
}

// Set is replaced wholesale on each completed run. Results stay visible
// while newer runs are in flight.
type Set struct {
	strict bool
	now    func() time.Time

	mu       sync.Mutex
	state    State
	results  []model.MapResult
	query    string
	ranAt    time.Time
	issued   uint64
	applied  uint64
	inFlight int
}

// New returns an unrun set. With strict, a run that completes after a
// newer one has been applied is discarded.
func New(strict bool) *Set {
	return &Set{strict: strict, now: time.Now, state: NotRun}
}

// Begin registers a run and returns its ticket
func (s *Set) Begin() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued++
	s.inFlight++
	return s.issued
}

// Complete stores rs for ticket and reports whether it was applied
func (s *Set) Complete(ticket uint64, query string, rs []model.MapResult) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done()
	if s.strict && ticket < s.applied {
		return false
	}
	if rs == nil {
		rs = []model.MapResult{}
	}
	s.state = Ran
	s.results = rs
	s.query = query
	s.ranAt = s.now()
	if ticket > s.applied {
		s.applied = ticket
	}
	return true
}

// Abandon releases a ticket whose run failed; prior results are kept
func (s *Set) Abandon(_ uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done()
}

func (s *Set) done() {
	if s.inFlight > 0 {
		s.inFlight--
	}
}

func (s *Set) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Snapshot{
		State:    s.state,
		Query:    s.query,
		RanAt:    s.ranAt,
		InFlight: s.inFlight,
	}
	if s.results != nil {
		out.Results = make([]model.MapResult, len(s.results))
		copy(out.Results, s.results)
	}
	return out
}

// Decode extracts map rows from bindings, keeping endpoint order
func Decode(bindings []model.Binding) []model.MapResult {
	out := make([]model.MapResult, 0, len(bindings))
	for _, b := range bindings {
		r := model.MapResult{
			MapURI:          b.Value("map"),
			ImageURI:        b.Value("img"),
			Title:           b.Value("title"),
			ProvenanceLabel: b.Value("provenance"),
			CreatorLabel:    b.Value("creator"),
			BeginYear:       ParseYear(b.Value("begin")),
		}
		if v := b.Value("km2"); v != "" {
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				r.AreaKm2 = f
			}
		}
		out = append(out, r)
	}
	return out
}

// ParseYear reads the leading (optionally signed) year of an xsd:dateTime,
// xsd:date or xsd:gYear lexical value. Unparsable input yields 0.
func ParseYear(v string) int {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	neg := false
	if v[0] == '-' || v[0] == '+' {
		neg = v[0] == '-'
		v = v[1:]
	}
	end := 0
	for end < len(v) && v[end] >= '0' && v[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0
	}
	y, err := strconv.Atoi(v[:end])
	if err != nil {
		return 0
	}
	if neg {
		return -y
	}
	return y
}
