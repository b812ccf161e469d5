package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"testing"

	"purple/internal/config"
	"purple/internal/db"
	"purple/internal/dispatch"
	"purple/internal/domain"
	"purple/internal/engine"
	"purple/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	e := engine.New(conn, cfg, dispatch.New(nil), nil)
	if err := e.SeedLabels(context.Background()); err != nil {
		t.Fatalf("seed labels: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.close)
	return ts
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

var asTester = map[string]string{"X-Actor-Id": "tester"}

func TestHealthNeedsNoAuth(t *testing.T) {
	ts := newTestServer(t)
	res, _ := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", res.StatusCode)
	}
}

func TestUnauthenticatedRejected(t *testing.T) {
	ts := newTestServer(t)
	res, _ := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/documents", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", res.StatusCode)
	}
}

func TestDocumentLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	res, body := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/documents", map[string]any{
		"draft_name":  "draft-http-test",
		"disposition": "in_progress",
	}, asTester)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d: %s", res.StatusCode, body)
	}
	var doc struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &doc); err != nil || doc.ID == "" {
		t.Fatalf("decode document: %v (%s)", err, body)
	}

	res, body = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/documents/"+doc.ID+"/assignments", map[string]any{
		"person_id": "alice",
		"role":      "enqueuer",
	}, asTester)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("assign status = %d: %s", res.StatusCode, body)
	}
	var assignment struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &assignment); err != nil || assignment.ID == "" {
		t.Fatalf("decode assignment: %v (%s)", err, body)
	}
	for _, state := range []string{"in_progress", "done"} {
		res, body = doJSON(t, ts.client, http.MethodPatch, ts.URL+"/v0/assignments/"+assignment.ID, map[string]any{
			"state": state,
		}, asTester)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("update to %s = %d: %s", state, res.StatusCode, body)
		}
	}

	// Blocking fact and the resulting marker.
	res, body = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/documents/"+doc.ID+"/action-holders", map[string]any{
		"person_id": "author",
		"body":      "awaiting source files",
	}, asTester)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("action holder status = %d: %s", res.StatusCode, body)
	}
	res, body = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/documents/"+doc.ID+"/blocked", nil, asTester)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("blocked status = %d: %s", res.StatusCode, body)
	}
	var blocked BlockedResponse
	if err := json.Unmarshal(body, &blocked); err != nil {
		t.Fatalf("decode blocked: %v (%s)", err, body)
	}
	if !blocked.Blocked || !blocked.Marked {
		t.Fatalf("blocked = %+v, want both true", blocked)
	}

	res, body = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/queue", nil, asTester)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("queue status = %d: %s", res.StatusCode, body)
	}
	var entries []engine.QueueEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		t.Fatalf("decode queue: %v (%s)", err, body)
	}
	if len(entries) != 1 || !entries[0].Blocked {
		t.Fatalf("queue = %+v, want one blocked entry", entries)
	}
}

func TestInvalidTransitionIsUnprocessable(t *testing.T) {
	ts := newTestServer(t)
	_, body := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/documents", map[string]any{
		"draft_name": "draft-bad-transition", "disposition": "in_progress",
	}, asTester)
	var doc struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &doc); err != nil || doc.ID == "" {
		t.Fatalf("decode document: %v (%s)", err, body)
	}
	_, body = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/documents/"+doc.ID+"/assignments", map[string]any{
		"person_id": "alice", "role": "enqueuer",
	}, asTester)
	var assignment struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &assignment); err != nil || assignment.ID == "" {
		t.Fatalf("decode assignment: %v (%s)", err, body)
	}
	res, body := doJSON(t, ts.client, http.MethodPatch, ts.URL+"/v0/assignments/"+assignment.ID, map[string]any{
		"state": "done",
	}, asTester)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422: %s", res.StatusCode, body)
	}
}

func TestDocumentScopedPathsBindID(t *testing.T) {
	ts := newTestServer(t)
	_, body := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/documents", map[string]any{
		"draft_name": "draft-path-binding", "disposition": "in_progress",
	}, asTester)
	var doc struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &doc); err != nil || doc.ID == "" {
		t.Fatalf("decode document: %v (%s)", err, body)
	}

	// Every document-scoped route must resolve the same id that GET does.
	calls := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{"set-disposition", http.MethodPatch, "", map[string]any{"disposition": "in_progress"}},
		{"create-assignment", http.MethodPost, "/assignments", map[string]any{"person_id": "alice", "role": "enqueuer"}},
		{"create-action-holder", http.MethodPost, "/action-holders", map[string]any{"person_id": "author", "body": "waiting"}},
		{"add-label", http.MethodPut, "/labels/" + url.PathEscape(domain.LabelIANAHold), nil},
		{"remove-label", http.MethodDelete, "/labels/" + url.PathEscape(domain.LabelIANAHold), nil},
		{"add-reference", http.MethodPost, "/references", map[string]any{"relationship": "refqueue", "target_draft_name": "draft-elsewhere"}},
		{"request-approval", http.MethodPost, "/approvals", map[string]any{"body": "please approve", "approver_id": "chair"}},
		{"reconcile", http.MethodPost, "/reconcile", nil},
	}
	for _, c := range calls {
		res, body := doJSON(t, ts.client, c.method, ts.URL+"/v0/documents/"+doc.ID+c.path, c.body, asTester)
		if res.StatusCode == http.StatusNotFound {
			t.Fatalf("%s returned 404 for an existing document: %s", c.name, body)
		}
		if res.StatusCode >= http.StatusBadRequest {
			t.Fatalf("%s status = %d: %s", c.name, res.StatusCode, body)
		}
	}
}

func TestUnknownDocumentIs404(t *testing.T) {
	ts := newTestServer(t)
	res, _ := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/documents/nope", nil, asTester)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", res.StatusCode)
	}
}
