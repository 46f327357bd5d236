// Package model defines core domain types shared across the service.
package model

import "fmt"

type Period struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// String representation in lat,lng order
func (c Coordinates) String() string {
	return fmt.Sprintf("%.5f,%.5f", c.Lat, c.Lng)
}

// FilterState is the user's current search narrowing.
// Empty Collections and empty Creator mean "no restriction".
type FilterState struct {
	Period      Period      `json:"period"`
	Coordinates Coordinates `json:"coordinates"`
	Collections []string    `json:"collections"`
	Creator     string      `json:"creator"`
}

// Clone returns a copy that shares no slices with f
func (f FilterState) Clone() FilterState {
	out := f
	if f.Collections != nil {
		out.Collections = append([]string(nil), f.Collections...)
	}
	return out
}

type CollectionSummary struct {
	Provenance string `json:"provenance"`
	Count      int    `json:"count"`
}

type MapResult struct {
	MapURI          string  `json:"map"`
	ImageURI        string  `json:"img"`
	Title           string  `json:"title"`
	ProvenanceLabel string  `json:"provenance,omitempty"`
	CreatorLabel    string  `json:"creator,omitempty"`
	BeginYear       int     `json:"beginYear,omitempty"`
	AreaKm2         float64 `json:"km2,omitempty"`
}

// Term is one value of a SPARQL JSON result binding.
type Term struct {
	Type     string `json:"type"`
	Value    string `json:"value"`
	Datatype string `json:"datatype,omitempty"`
	Lang     string `json:"xml:lang,omitempty"`
}

// Binding is one result row keyed by SELECT variable name.
type Binding map[string]Term

// Value returns the plain value of a variable, or "" when unbound
func (b Binding) Value(name string) string {
	if t, ok := b[name]; ok {
		return t.Value
	}
	return ""
}
