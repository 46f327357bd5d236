// Package executor submits SPARQL queries to the upstream endpoint and decodes results.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mohammed-shakir/sparql-map-explorer/internal/core/model"
	"github.com/mohammed-shakir/sparql-map-explorer/internal/core/observability"
	"github.com/mohammed-shakir/sparql-map-explorer/internal/core/sparql"
)

const (
	contentTypeForm = "application/x-www-form-urlencoded; charset=UTF-8"
	acceptResults   = "application/sparql-results+json"
)

type Interface interface {
	Execute(ctx context.Context, query string) ([]model.Binding, error)
}

type Executor struct {
	logger   *slog.Logger
	client   *http.Client
	endpoint *url.URL
	startNow func() time.Time // for tests
}

var _ Interface = (*Executor)(nil)

func New(logger *slog.Logger, client *http.Client, endpoint string) (*Executor, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse sparql endpoint: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("sparql endpoint %q must be absolute", endpoint)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Executor{
		logger:   logger,
		client:   client,
		endpoint: u,
		startNow: time.Now,
	}, nil
}

func (e *Executor) Endpoint() string { return e.endpoint.String() }

type resultsDoc struct {
	Results *struct {
		Bindings *[]model.Binding `json:"bindings"`
	} `json:"results"`
}

// Execute posts query and returns the result bindings in endpoint order.
// It never retries and never caches.
func (e *Executor) Execute(ctx context.Context, query string) ([]model.Binding, error) {
	body := url.Values{"query": {query}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint.String(), strings.NewReader(body))
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", contentTypeForm)
	req.Header.Set("Accept", acceptResults)

	fp := sparql.Fingerprint(query)
	start := e.startNow()
	resp, err := e.client.Do(req)
	if err != nil {
		observability.IncUpstreamOutcome("sparql", "transport")
		return nil, &TransportError{Err: fmt.Errorf("do request: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	dur := time.Since(start)
	observability.ObserveUpstreamLatency("sparql", dur.Seconds())
	e.logger.DebugContext(ctx, "sparql query done",
		"query_fp", fp,
		"status", resp.StatusCode,
		"duration", dur.String())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		observability.IncUpstreamOutcome("sparql", "status")
		return nil, &TransportError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("upstream status %d: %s", resp.StatusCode, strings.TrimSpace(string(b))),
		}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		observability.IncUpstreamOutcome("sparql", "transport")
		return nil, &TransportError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	var doc resultsDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		observability.IncUpstreamOutcome("sparql", "malformed")
		return nil, &MalformedResponseError{Err: fmt.Errorf("decode results: %w", err)}
	}
	if doc.Results == nil {
		observability.IncUpstreamOutcome("sparql", "malformed")
		return nil, &MalformedResponseError{Err: fmt.Errorf("response has no results field")}
	}
	if doc.Results.Bindings == nil {
		observability.IncUpstreamOutcome("sparql", "malformed")
		return nil, &MalformedResponseError{Err: fmt.Errorf("response has no results.bindings field")}
	}

	observability.IncUpstreamOutcome("sparql", "ok")
	return *doc.Results.Bindings, nil
}
