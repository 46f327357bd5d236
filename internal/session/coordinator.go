// Package session wires one explorer session: the filter form, its query
// preview, the collections catalog and the results of the last run.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mohammed-shakir/sparql-map-explorer/internal/catalog"
	"github.com/mohammed-shakir/sparql-map-explorer/internal/core/executor"
	"github.com/mohammed-shakir/sparql-map-explorer/internal/core/model"
	"github.com/mohammed-shakir/sparql-map-explorer/internal/core/observability"
	"github.com/mohammed-shakir/sparql-map-explorer/internal/core/sparql"
	"github.com/mohammed-shakir/sparql-map-explorer/internal/formstate"
	"github.com/mohammed-shakir/sparql-map-explorer/internal/logger"
	"github.com/mohammed-shakir/sparql-map-explorer/internal/queryevents"
	"github.com/mohammed-shakir/sparql-map-explorer/internal/results"
)

type MapWidget interface {
	Mount(center model.Coordinates, onCenterChanged func(model.Coordinates))
}

type QueryPreview interface {
	Mount(p Preview)
	Update(p Preview)
}

type ResultsView interface {
	Render(s results.Snapshot)
}

// Preview is the query text for the current filter plus its deep link
type Preview struct {
	Query       string `json:"query"`
	Fingerprint string `json:"fingerprint"`
	DebugLink   string `json:"debugLink"`
}

type Deps struct {
	ID     string
	Logger *slog.Logger

	Bounds formstate.Bounds
	Center model.Coordinates

	Executor executor.Interface
	// Catalog defaults to catalog.New(Executor)
	Catalog   catalog.Loader
	Endpoint  string
	DebugBase string

	StrictOrder    bool
	ExecuteTimeout time.Duration

	Events  queryevents.Sink
	CellRes int

	Map     MapWidget
	Preview QueryPreview
	Results ResultsView
}

type Coordinator struct {
	id     string
	logger *slog.Logger

	form    *formstate.FormState
	results *results.Set
	exec    executor.Interface
	catalog catalog.Loader

	endpoint  string
	debugBase string
	timeout   time.Duration
	events    queryevents.Sink
	cellRes   int

	mapView     MapWidget
	previewView QueryPreview
	resultsView ResultsView

	colMu       sync.Mutex
	collections []model.CollectionSummary

	startOnce sync.Once
	closeOnce sync.Once
	unsub     func()
}

func New(d Deps) *Coordinator {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Catalog == nil {
		d.Catalog = catalog.New(d.Executor)
	}
	if d.Events == nil {
		d.Events = queryevents.Discard{}
	}
	if d.Map == nil {
		d.Map = noopMap{}
	}
	if d.Preview == nil {
		d.Preview = noopPreview{}
	}
	if d.Results == nil {
		d.Results = noopResults{}
	}
	return &Coordinator{
		id:          d.ID,
		logger:      d.Logger.With("component", "session"),
		form:        formstate.New(d.Bounds, d.Center),
		results:     results.New(d.StrictOrder),
		exec:        d.Executor,
		catalog:     d.Catalog,
		endpoint:    d.Endpoint,
		debugBase:   d.DebugBase,
		timeout:     d.ExecuteTimeout,
		events:      d.Events,
		cellRes:     d.CellRes,
		mapView:     d.Map,
		previewView: d.Preview,
		resultsView: d.Results,
	}
}

func (c *Coordinator) ID() string { return c.id }

// Start mounts the collaborators once and keeps the preview in step with
// every filter change.
func (c *Coordinator) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		f := c.form.Snapshot()
		c.mapView.Mount(f.Coordinates, func(p model.Coordinates) {
			if _, err := c.CenterChanged(p); err != nil {
				c.logger.WarnContext(ctx, "map centre rejected", "err", err)
			}
		})
		c.previewView.Mount(c.previewFor(f))
		c.unsub = c.form.Subscribe(func(f model.FilterState) {
			c.previewView.Update(c.previewFor(f))
		})
		c.resultsView.Render(c.results.Snapshot())
	})
}

func (c *Coordinator) State() model.FilterState { return c.form.Snapshot() }

func (c *Coordinator) Bounds() formstate.Bounds { return c.form.Bounds() }

func (c *Coordinator) SetPeriodStart(year int) model.FilterState {
	return c.form.SetPeriodStart(year)
}

func (c *Coordinator) SetPeriodEnd(year int) model.FilterState {
	return c.form.SetPeriodEnd(year)
}

func (c *Coordinator) SetCoordinates(lat, lng float64) (model.FilterState, error) {
	return c.form.SetCoordinates(lat, lng)
}

// CenterChanged is the map widget callback
func (c *Coordinator) CenterChanged(p model.Coordinates) (model.FilterState, error) {
	return c.form.SetCoordinates(p.Lat, p.Lng)
}

func (c *Coordinator) SetCollections(ids []string) model.FilterState {
	return c.form.SetCollections(ids)
}

func (c *Coordinator) SetCreator(text string) model.FilterState {
	return c.form.SetCreator(text)
}

func (c *Coordinator) Preview() Preview {
	return c.previewFor(c.form.Snapshot())
}

func (c *Coordinator) previewFor(f model.FilterState) Preview {
	q := sparql.BuildMapsQuery(f)
	p := Preview{Query: q, Fingerprint: sparql.Fingerprint(q)}
	if c.debugBase != "" {
		p.DebugLink = sparql.DebugLink(c.debugBase, c.endpoint, q)
	}
	return p
}

// Collections returns the session's cached catalog, loading it on first use
func (c *Coordinator) Collections(ctx context.Context) ([]model.CollectionSummary, error) {
	c.colMu.Lock()
	cached := c.collections
	c.colMu.Unlock()
	if cached != nil {
		return append([]model.CollectionSummary(nil), cached...), nil
	}
	return c.loadCollections(ctx, c.catalog.Load)
}

// ReloadCollections refetches the catalog, skipping any shared snapshot. On
// failure the previous cache is kept and the error returned.
func (c *Coordinator) ReloadCollections(ctx context.Context) ([]model.CollectionSummary, error) {
	load := c.catalog.Load
	if r, ok := c.catalog.(catalog.Refresher); ok {
		load = r.Refresh
	}
	return c.loadCollections(ctx, load)
}

func (c *Coordinator) loadCollections(ctx context.Context, load func(context.Context) ([]model.CollectionSummary, error)) ([]model.CollectionSummary, error) {
	cols, err := load(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "collections load failed", "err", err)
		return nil, err
	}
	if cols == nil {
		cols = []model.CollectionSummary{}
	}
	c.colMu.Lock()
	c.collections = cols
	c.colMu.Unlock()
	return append([]model.CollectionSummary(nil), cols...), nil
}

// Execute runs the query for the filter as it is now. Later filter changes
// do not affect a run in flight. On failure the previous results stay.
func (c *Coordinator) Execute(ctx context.Context) (results.Snapshot, error) {
	f := c.form.Snapshot()
	q := sparql.BuildMapsQuery(f)
	fp := sparql.Fingerprint(q)

	ticket := c.results.Begin()
	c.resultsView.Render(c.results.Snapshot())

	runCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	rows, err := c.exec.Execute(runCtx, q)
	took := time.Since(start)
	if err != nil {
		c.results.Abandon(ticket)
		observability.IncQueryExecution(outcomeOf(err))
		c.logger.WarnContext(ctx, "map query failed", "query_fp", fp, "took", took, "err", err)
		snap := c.results.Snapshot()
		c.resultsView.Render(snap)
		return snap, err
	}

	maps := results.Decode(rows)
	applied := c.results.Complete(ticket, q, maps)
	if applied {
		observability.IncQueryExecution("ok")
	} else {
		observability.IncQueryExecution("discarded")
	}
	c.logger.DebugContext(ctx, "map query done",
		"query_fp", fp, "results", len(maps), "applied", applied, "took", took)

	ev := queryevents.NewEvent(f, c.cellRes)
	ev.SessionID = c.id
	ev.QueryFP = fp
	ev.Results = len(maps)
	ev.DurationMs = took.Milliseconds()
	c.events.Publish(ev)

	snap := c.results.Snapshot()
	c.resultsView.Render(snap)
	return snap, nil
}

func (c *Coordinator) Results() results.Snapshot { return c.results.Snapshot() }

// Close detaches the preview subscription. It does not close the shared
// event sink.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		if c.unsub != nil {
			c.unsub()
		}
		c.logger.Debug("session closed", "session_id", c.id)
	})
}

// WithContext tags ctx with the session id for log lines
func (c *Coordinator) WithContext(ctx context.Context) context.Context {
	return logger.WithSessionID(ctx, c.id)
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case executor.IsTransport(err):
		return "transport"
	case executor.IsMalformed(err):
		return "malformed"
	default:
		return "error"
	}
}

type noopMap struct{}

func (noopMap) Mount(model.Coordinates, func(model.Coordinates)) {}

type noopPreview struct{}

func (noopPreview) Mount(Preview)  {}
func (noopPreview) Update(Preview) {}

type noopResults struct{}

func (noopResults) Render(results.Snapshot) {}
