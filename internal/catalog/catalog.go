// Package catalog loads the collections (provenances) offered by the
// multi-select filter.
package catalog

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/sparql-map-explorer/internal/core/executor"
	"github.com/mohammed-shakir/sparql-map-explorer/internal/core/model"
	"github.com/mohammed-shakir/sparql-map-explorer/internal/core/sparql"
)

type Catalog struct {
	exec executor.Interface
}

func New(exec executor.Interface) *Catalog {
	return &Catalog{exec: exec}
}

// Load fetches the collection list. Every call hits the endpoint; executor
// failures are returned as-is so callers can tell them apart.
func (c *Catalog) Load(ctx context.Context) ([]model.CollectionSummary, error) {
	rows, err := c.exec.Execute(ctx, sparql.BuildCollectionsQuery())
	if err != nil {
		return nil, err
	}
	return Decode(rows)
}

// Decode maps provenance/count bindings, keeping endpoint order
func Decode(rows []model.Binding) ([]model.CollectionSummary, error) {
	out := make([]model.CollectionSummary, 0, len(rows))
	for i, b := range rows {
		prov := b.Value("provenance")
		if prov == "" {
			continue
		}
		raw := strings.TrimSpace(b.Value("count"))
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, &executor.MalformedResponseError{
				Err: fmt.Errorf("row %d: count %q is not a non-negative integer", i, raw),
			}
		}
		out = append(out, model.CollectionSummary{Provenance: prov, Count: n})
	}
	return out, nil
}
