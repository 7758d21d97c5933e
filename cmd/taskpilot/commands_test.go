package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/taskpilot/internal/auth"
	"github.com/kalambet/taskpilot/internal/searchclient"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"task not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

// captureOutput redirects stdout and stderr writers for the test.
func captureOutput(t *testing.T) (out, errOut *bytes.Buffer) {
	t.Helper()
	out, errOut = &bytes.Buffer{}, &bytes.Buffer{}
	origOut, origErr, origColor := stdout, stderr, noColor
	stdout, stderr, noColor = out, errOut, true
	t.Cleanup(func() { stdout, stderr, noColor = origOut, origErr, origColor })
	return out, errOut
}

var ctx = context.Background()

func TestRunSearch_PrintsResults(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /search": `{"results":[{"id":"t1","text":"Buy groceries","priority":"high","status":"pending","similarity":0.87}]}`,
	})
	out, _ := captureOutput(t)

	if err := runSearch(ctx, ts.client(), "food"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(out.String(), "Buy groceries") || !strings.Contains(out.String(), "87%") {
		t.Errorf("unexpected output: %q", out.String())
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}
	var body map[string]string
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["query"] != "food" {
		t.Errorf("query = %q, want food", body["query"])
	}
}

func TestRunSearch_Empty(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /search": `{"results":[]}`,
	})
	out, errOut := captureOutput(t)

	if err := runSearch(ctx, ts.client(), "nothing"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("expected no results on stdout, got %q", out.String())
	}
	if !strings.Contains(errOut.String(), "No matching tasks") {
		t.Errorf("expected empty-state message, got %q", errOut.String())
	}
}

func TestRunSearch_FailureIsUserFacing(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	captureOutput(t)

	err := runSearch(ctx, ts.client(), "anything")
	if err == nil {
		t.Fatal("expected error")
	}
	if err.Error() != searchclient.Message {
		t.Errorf("error = %q, want %q", err.Error(), searchclient.Message)
	}
	if cause := errorsCause(err); cause == err || !strings.Contains(cause.Error(), "404") {
		t.Errorf("cause = %v, want the underlying status error", cause)
	}
}

func TestTasksAPI_Requests(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /tasks":       `{"id":"abc","text":"Pay rent","priority":"high","status":"pending"}`,
		"PATCH /tasks/abc":  `{"id":"abc","text":"Pay rent","priority":"high","status":"completed"}`,
		"DELETE /tasks/abc": `{"status":"deleted"}`,
		"GET /tasks":        `[{"id":"abc","text":"Pay rent","priority":"high","status":"completed","subtasks":[{"id":"def","text":"Transfer money","priority":"high","status":"pending"}]}]`,
	})
	client := ts.client()

	resp, err := client.post(ctx, "/tasks", map[string]any{"text": "Pay rent", "priority": "high"})
	if err != nil {
		t.Fatal(err)
	}
	var created taskRow
	if err := decodeJSON(resp, &created); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if created.ID != "abc" {
		t.Errorf("id = %q, want abc", created.ID)
	}

	resp, err = client.patch(ctx, "/tasks/abc", map[string]any{"status": "completed"})
	if err != nil {
		t.Fatal(err)
	}
	var updated taskRow
	if err := decodeJSON(resp, &updated); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if updated.Status != "completed" {
		t.Errorf("status = %q, want completed", updated.Status)
	}

	resp, err = client.get(ctx, "/tasks")
	if err != nil {
		t.Fatal(err)
	}
	var tasks []taskRow
	if err := decodeJSON(resp, &tasks); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(tasks) != 1 || len(tasks[0].Subtasks) != 1 {
		t.Fatalf("unexpected tasks: %+v", tasks)
	}

	resp, err = client.delete(ctx, "/tasks/abc")
	if err != nil {
		t.Fatal(err)
	}
	var deleted map[string]string
	if err := decodeJSON(resp, &deleted); err != nil {
		t.Fatalf("decode error: %v", err)
	}

	methods := []string{}
	for _, r := range ts.requests {
		methods = append(methods, r.Method+" "+r.Path)
	}
	want := []string{"POST /tasks", "PATCH /tasks/abc", "GET /tasks", "DELETE /tasks/abc"}
	if strings.Join(methods, ",") != strings.Join(want, ",") {
		t.Errorf("requests = %v, want %v", methods, want)
	}
}

func TestDecodeJSON_ErrorMessage(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	resp, err := ts.client().get(ctx, "/tasks/missing")
	if err != nil {
		t.Fatal(err)
	}
	var v any
	err = decodeJSON(resp, &v)
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "task not found") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestAPIClient_Unreachable(t *testing.T) {
	c := &apiClient{baseURL: "http://127.0.0.1:1", token: "x", httpClient: http.DefaultClient}
	_, err := c.get(ctx, "/tasks")
	if err == nil || !strings.Contains(err.Error(), "is taskpilot running") {
		t.Errorf("error = %v", err)
	}
}

func TestPrintTask(t *testing.T) {
	out, _ := captureOutput(t)

	printTask(taskRow{ID: "0123456789abcdef", Text: "Write tests", Priority: "low", Status: "completed"}, "  ")

	got := out.String()
	if !strings.HasPrefix(got, "  [x] Write tests") {
		t.Errorf("output = %q", got)
	}
	if !strings.Contains(got, "01234567") || strings.Contains(got, "89abcdef") {
		t.Errorf("expected short id in %q", got)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLogLevel(in); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewAPIClient_SignsTokenForUser(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("TASKPILOT_AUTH_JWT_SECRET", "cli-secret")
	t.Setenv("TASKPILOT_TOKEN", "")
	t.Setenv("TASKPILOT_SERVER_PORT", "4555")

	orig := userFlag
	userFlag = "alice"
	t.Cleanup(func() { userFlag = orig })

	c, err := newAPIClient()
	if err != nil {
		t.Fatalf("newAPIClient: %v", err)
	}
	if c.baseURL != "http://127.0.0.1:4555" {
		t.Errorf("baseURL = %q", c.baseURL)
	}
	user, err := auth.ParseToken([]byte("cli-secret"), c.token)
	if err != nil {
		t.Fatalf("token does not verify: %v", err)
	}
	if user != "alice" {
		t.Errorf("token subject = %q, want alice", user)
	}
}

func TestNewAPIClient_RequiresIdentity(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("TASKPILOT_AUTH_JWT_SECRET", "cli-secret")
	t.Setenv("TASKPILOT_TOKEN", "")
	t.Setenv("TASKPILOT_MCP_USER_ID", "")

	orig := userFlag
	userFlag = ""
	t.Cleanup(func() { userFlag = orig })

	if _, err := newAPIClient(); err == nil {
		t.Fatal("expected error without an identity")
	}
}

func TestErrorsCause_PlainError(t *testing.T) {
	plain := errors.New("boom")
	if errorsCause(plain) != plain {
		t.Error("plain errors should be returned unchanged")
	}
}
