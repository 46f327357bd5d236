package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"
)

type upstreamRecorder struct {
	mu         sync.Mutex
	calls      int
	lastMethod string
	lastPath   string
	lastHeader http.Header
	lastForm   url.Values

	status int
	body   string
}

func (u *upstreamRecorder) handler(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	_ = r.Body.Close()
	form, _ := url.ParseQuery(string(raw))

	u.mu.Lock()
	u.calls++
	u.lastMethod = r.Method
	u.lastPath = r.URL.Path
	u.lastHeader = r.Header.Clone()
	u.lastForm = form
	status, body := u.status, u.body
	u.mu.Unlock()

	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/sparql-results+json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func newExec(t *testing.T, up *upstreamRecorder) *Executor {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(up.handler))
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	exec, err := New(logger, srv.Client(), srv.URL+"/sparql")
	if err != nil {
		t.Fatalf("executor.New: %v", err)
	}
	return exec
}

func TestExecutor_PostsFormEncodedQuery(t *testing.T) {
	up := &upstreamRecorder{body: `{"head":{"vars":["map"]},"results":{"bindings":[
		{"map":{"type":"uri","value":"http://a"}},
		{"map":{"type":"uri","value":"http://b"}}]}}`}
	exec := newExec(t, up)

	q := `SELECT ?map WHERE { ?map ?p "a & b = c" }`
	rows, err := exec.Execute(context.Background(), q)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(rows) != 2 || rows[0].Value("map") != "http://a" || rows[1].Value("map") != "http://b" {
		t.Fatalf("unexpected rows/order: %+v", rows)
	}

	up.mu.Lock()
	defer up.mu.Unlock()
	if up.lastMethod != http.MethodPost {
		t.Fatalf("method=%s want POST", up.lastMethod)
	}
	if up.lastPath != "/sparql" {
		t.Fatalf("path=%q want /sparql", up.lastPath)
	}
	if got := up.lastHeader.Get("Accept"); got != "application/sparql-results+json" {
		t.Fatalf("Accept=%q", got)
	}
	if got := up.lastHeader.Get("Content-Type"); got != "application/x-www-form-urlencoded; charset=UTF-8" {
		t.Fatalf("Content-Type=%q", got)
	}
	if got := up.lastForm.Get("query"); got != q {
		t.Fatalf("query body round trip got %q", got)
	}
}

func TestExecutor_EmptyBindingsIsSuccess(t *testing.T) {
	up := &upstreamRecorder{body: `{"results":{"bindings":[]}}`}
	exec := newExec(t, up)

	rows, err := exec.Execute(context.Background(), "SELECT * {}")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if rows == nil || len(rows) != 0 {
		t.Fatalf("want empty non-nil rows, got %#v", rows)
	}
}

func TestExecutor_NonSuccessStatusIsTransport(t *testing.T) {
	up := &upstreamRecorder{status: http.StatusServiceUnavailable, body: "busy"}
	exec := newExec(t, up)

	_, err := exec.Execute(context.Background(), "SELECT * {}")
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("want TransportError, got %v", err)
	}
	if te.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status=%d want 503", te.StatusCode)
	}
	if IsMalformed(err) {
		t.Fatalf("transport failure must not be malformed")
	}
}

func TestExecutor_NetworkErrorIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	exec, err := New(nil, &http.Client{Timeout: time.Second}, addr+"/sparql")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = exec.Execute(context.Background(), "SELECT * {}")
	if !IsTransport(err) {
		t.Fatalf("want TransportError, got %v", err)
	}
	var te *TransportError
	_ = errors.As(err, &te)
	if te.StatusCode != 0 || errors.Unwrap(te) == nil {
		t.Fatalf("transport error should carry the cause and no status: %+v", te)
	}
}

func TestExecutor_CanceledContextIsTransport(t *testing.T) {
	up := &upstreamRecorder{body: `{"results":{"bindings":[]}}`}
	exec := newExec(t, up)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := exec.Execute(ctx, "SELECT * {}")
	if !IsTransport(err) || !errors.Is(err, context.Canceled) {
		t.Fatalf("want TransportError wrapping context.Canceled, got %v", err)
	}
}

func TestExecutor_MalformedResponses(t *testing.T) {
	for name, body := range map[string]string{
		"not json":         `<html>oops</html>`,
		"missing results":  `{"head":{}}`,
		"missing bindings": `{"results":{}}`,
		"wrong shape":      `{"results":{"bindings":{"a":1}}}`,
	} {
		up := &upstreamRecorder{body: body}
		exec := newExec(t, up)
		_, err := exec.Execute(context.Background(), "SELECT * {}")
		if !IsMalformed(err) {
			t.Fatalf("%s: want MalformedResponseError, got %v", name, err)
		}
		if IsTransport(err) {
			t.Fatalf("%s: malformed must not be transport", name)
		}
	}
}

func TestExecutor_NoCaching(t *testing.T) {
	up := &upstreamRecorder{body: `{"results":{"bindings":[]}}`}
	exec := newExec(t, up)
	for range 3 {
		if _, err := exec.Execute(context.Background(), "SELECT * {}"); err != nil {
			t.Fatalf("Execute: %v", err)
		}
	}
	up.mu.Lock()
	defer up.mu.Unlock()
	if up.calls != 3 {
		t.Fatalf("upstream calls=%d want 3", up.calls)
	}
}

func TestNew_RejectsRelativeEndpoint(t *testing.T) {
	if _, err := New(nil, nil, "/sparql"); err == nil {
		t.Fatalf("expected error for relative endpoint")
	}
}
