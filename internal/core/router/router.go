// Package router exposes explorer sessions over a JSON HTTP API.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/sparql-map-explorer/internal/core/executor"
	"github.com/mohammed-shakir/sparql-map-explorer/internal/core/middleware"
	"github.com/mohammed-shakir/sparql-map-explorer/internal/core/model"
	"github.com/mohammed-shakir/sparql-map-explorer/internal/core/observability"
	"github.com/mohammed-shakir/sparql-map-explorer/internal/core/sparql"
	"github.com/mohammed-shakir/sparql-map-explorer/internal/formstate"
	"github.com/mohammed-shakir/sparql-map-explorer/internal/session"
)

const maxBody = 64 << 10

// Sessions resolves the session a request belongs to
type Sessions interface {
	Create(ctx context.Context) *session.Coordinator
	GetOrCreate(ctx context.Context, id string) (*session.Coordinator, bool)
}

type API struct {
	logger   *slog.Logger
	sessions Sessions
}

func New(logger *slog.Logger, sessions Sessions) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{logger: logger, sessions: sessions}
}

// Mount registers the /api routes on r
func (a *API) Mount(r chi.Router) {
	r.Post("/api/sessions", a.createSession)

	r.Get("/api/state", a.inSession("/api/state", a.getState))
	r.Get("/api/query", a.inSession("/api/query", a.getQuery))
	r.Get("/api/debug-link", a.inSession("/api/debug-link", a.getDebugLink))

	r.Put("/api/filters/period/start", a.inSession("/api/filters/period/start", a.putPeriod(true)))
	r.Put("/api/filters/period/end", a.inSession("/api/filters/period/end", a.putPeriod(false)))
	r.Put("/api/filters/coordinates", a.inSession("/api/filters/coordinates", a.putCoordinates))
	r.Put("/api/filters/collections", a.inSession("/api/filters/collections", a.putCollections))
	r.Put("/api/filters/creator", a.inSession("/api/filters/creator", a.putCreator))

	r.Get("/api/collections", a.inSession("/api/collections", a.getCollections))
	r.Post("/api/execute", a.inSession("/api/execute", a.execute))
	r.Get("/api/results", a.inSession("/api/results", a.getResults))
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, c *session.Coordinator)

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// inSession resolves X-Session-ID, creating a session when it is missing or
// unknown, and echoes the id back.
func (a *API) inSession(route string, h sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}

		c, created := a.sessions.GetOrCreate(r.Context(), r.Header.Get(middleware.HeaderSessionID))
		if created {
			a.logger.DebugContext(r.Context(), "session created", "session_id", c.ID())
		}
		sw.Header().Set(middleware.HeaderSessionID, c.ID())

		h(sw, r.WithContext(c.WithContext(r.Context())), c)
		observability.ObserveHTTP(r.Method, route, sw.code, time.Since(start).Seconds())
	}
}

type stateResponse struct {
	SessionID   string            `json:"sessionId"`
	Filter      model.FilterState `json:"filter"`
	Bounds      formstate.Bounds  `json:"bounds"`
	Fingerprint string            `json:"fingerprint"`
}

func stateOf(c *session.Coordinator, f model.FilterState) stateResponse {
	return stateResponse{
		SessionID:   c.ID(),
		Filter:      f,
		Bounds:      c.Bounds(),
		Fingerprint: sparql.Fingerprint(sparql.BuildMapsQuery(f)),
	}
}

func (a *API) createSession(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	c := a.sessions.Create(r.Context())
	w.Header().Set(middleware.HeaderSessionID, c.ID())
	writeJSON(w, http.StatusCreated, stateOf(c, c.State()))
	observability.ObserveHTTP(r.Method, "/api/sessions", http.StatusCreated, time.Since(start).Seconds())
}

func (a *API) getState(w http.ResponseWriter, _ *http.Request, c *session.Coordinator) {
	writeJSON(w, http.StatusOK, stateOf(c, c.State()))
}

func (a *API) getQuery(w http.ResponseWriter, r *http.Request, c *session.Coordinator) {
	p := c.Preview()
	etag := `"` + p.Fingerprint + `"`
	w.Header().Set("ETag", etag)
	if match := r.Header.Get("If-None-Match"); match != "" && strings.Contains(match, etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, p.Query)
}

func (a *API) getDebugLink(w http.ResponseWriter, _ *http.Request, c *session.Coordinator) {
	writeJSON(w, http.StatusOK, map[string]string{"url": c.Preview().DebugLink})
}

func (a *API) putPeriod(isStart bool) sessionHandler {
	return func(w http.ResponseWriter, r *http.Request, c *session.Coordinator) {
		var body struct {
			Year *int `json:"year"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if body.Year == nil {
			writeError(w, http.StatusBadRequest, errors.New("missing field: year"))
			return
		}
		var f model.FilterState
		if isStart {
			f = c.SetPeriodStart(*body.Year)
		} else {
			f = c.SetPeriodEnd(*body.Year)
		}
		writeJSON(w, http.StatusOK, stateOf(c, f))
	}
}

func (a *API) putCoordinates(w http.ResponseWriter, r *http.Request, c *session.Coordinator) {
	var body struct {
		Lat *float64 `json:"lat"`
		Lng *float64 `json:"lng"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if body.Lat == nil || body.Lng == nil {
		writeError(w, http.StatusBadRequest, errors.New("missing field: lat and lng are required"))
		return
	}
	f, err := c.SetCoordinates(*body.Lat, *body.Lng)
	if err != nil {
		status := http.StatusInternalServerError
		if formstate.IsValidation(err) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, stateOf(c, f))
}

func (a *API) putCollections(w http.ResponseWriter, r *http.Request, c *session.Coordinator) {
	var body struct {
		Collections []string `json:"collections"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, stateOf(c, c.SetCollections(body.Collections)))
}

func (a *API) putCreator(w http.ResponseWriter, r *http.Request, c *session.Coordinator) {
	var body struct {
		Creator string `json:"creator"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, stateOf(c, c.SetCreator(body.Creator)))
}

type collectionsResponse struct {
	Collections []model.CollectionSummary `json:"collections"`
	Error       string                    `json:"error,omitempty"`
}

// getCollections always answers 200; a failed load is reported in the body
// so the filter can still render.
func (a *API) getCollections(w http.ResponseWriter, r *http.Request, c *session.Coordinator) {
	reload, _ := strconv.ParseBool(r.URL.Query().Get("reload"))
	var (
		cols []model.CollectionSummary
		err  error
	)
	if reload {
		cols, err = c.ReloadCollections(r.Context())
	} else {
		cols, err = c.Collections(r.Context())
	}
	if err != nil {
		a.logger.WarnContext(r.Context(), "collections unavailable", "err", err)
		writeJSON(w, http.StatusOK, collectionsResponse{
			Collections: []model.CollectionSummary{},
			Error:       "collections could not be loaded: " + err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, collectionsResponse{Collections: cols})
}

type executeError struct {
	Error   string `json:"error"`
	Kind    string `json:"kind"`
	Results any    `json:"results"`
}

func (a *API) execute(w http.ResponseWriter, r *http.Request, c *session.Coordinator) {
	snap, err := c.Execute(r.Context())
	if err == nil {
		writeJSON(w, http.StatusOK, snap)
		return
	}

	status, kind := classify(err)
	a.logger.WarnContext(r.Context(), "execute failed", "kind", kind, "err", err)
	writeJSON(w, status, executeError{Error: err.Error(), Kind: kind, Results: snap})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case executor.IsTransport(err):
		return http.StatusBadGateway, "transport"
	case executor.IsMalformed(err):
		return http.StatusBadGateway, "malformed"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (a *API) getResults(w http.ResponseWriter, _ *http.Request, c *session.Coordinator) {
	writeJSON(w, http.StatusOK, c.Results())
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
