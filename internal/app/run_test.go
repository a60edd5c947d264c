package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/reposcorer/internal/model"
)

const upstreamBody = `{
  "total_count": 2,
  "incomplete_results": false,
  "items": [
    {
      "id": 2,
      "name": "beta",
      "description": null,
      "created_at": "2024-03-01T00:00:00Z",
      "pushed_at": null,
      "stargazers_count": 3,
      "forks_count": 0,
      "language": "Go"
    },
    {
      "id": 1,
      "name": "alpha",
      "description": "<b>first</b>",
      "created_at": "2024-02-01T00:00:00Z",
      "pushed_at": "2024-05-01T12:00:00Z",
      "stargazers_count": 50000,
      "forks_count": 100,
      "language": "Go"
    }
  ]
}`

// newUpstream はGitHub検索APIの代わりになるテストサーバーを起動し、GITHUB_API_URLを向ける。
func newUpstream(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		if r.URL.Path != "/search/repositories" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, upstreamBody)
	}))
	t.Cleanup(srv.Close)
	t.Setenv("GITHUB_API_URL", srv.URL+"/")
	t.Setenv("GITHUB_REQUESTS_PER_MINUTE", "0")
	return srv
}

func executeRoot(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var logs, out bytes.Buffer
	cmd := newRootCmd(&logs)
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), logs.String(), err
}

// --- search コマンド ---

func TestRun_SearchCommand_PrintsScoredPage(t *testing.T) {
	setTestEnv(t)
	var hits atomic.Int32
	newUpstream(t, &hits)

	out, _, err := executeRoot(t, "search", "--language", "go", "--created-after", "2024-01-01", "--page-size", "2")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("upstream hits = %d, want 1", hits.Load())
	}

	var page model.ScoredPage
	if err := json.Unmarshal([]byte(out), &page); err != nil {
		t.Fatalf("expected JSON output, got error: %v\nraw: %s", err, out)
	}
	if page.TotalCount != 2 || page.Page != 1 || page.PageSize != 2 {
		t.Errorf("page = %+v, want total 2, page 1, size 2", page)
	}
	if len(page.Repositories) != 2 {
		t.Fatalf("len(Repositories) = %d, want 2", len(page.Repositories))
	}
	if page.Repositories[0].ID != 1 {
		t.Errorf("first repository = %d, want the highest scored (1)", page.Repositories[0].ID)
	}
	if d := page.Repositories[0].Description; d == nil || *d != "<b>first</b>" {
		t.Errorf("description = %v, want unchanged %q", d, "<b>first</b>")
	}
	if page.Repositories[1].Description != nil {
		t.Errorf("null description should stay null, got %q", *page.Repositories[1].Description)
	}
}

func TestRun_SearchCommand_RequiresFlags(t *testing.T) {
	setTestEnv(t)

	_, _, err := executeRoot(t, "search", "--language", "go")
	if err == nil {
		t.Fatal("expected error when --created-after is missing")
	}
	if !strings.Contains(err.Error(), "created-after") {
		t.Errorf("error = %v, want mention of created-after", err)
	}
}

func TestRun_SearchCommand_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantCode string
	}{
		{"bad date", []string{"--created-after", "01/02/2024"}, model.ErrCodeInvalidParameterType},
		{"page size too large", []string{"--created-after", "2024-01-01", "--page-size", "500"}, model.ErrCodeValidationFailed},
		{"page zero", []string{"--created-after", "2024-01-01", "--page", "0"}, model.ErrCodeValidationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setTestEnv(t)
			var hits atomic.Int32
			newUpstream(t, &hits)

			args := append([]string{"search", "--language", "go"}, tt.args...)
			_, _, err := executeRoot(t, args...)

			var apiErr *model.APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *model.APIError, got %v", err)
			}
			if apiErr.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", apiErr.Code, tt.wantCode)
			}
			if hits.Load() != 0 {
				t.Error("upstream must not be called for invalid input")
			}
		})
	}
}

// --- serve ---

func TestServe_HandlesRequestsAndShutsDown(t *testing.T) {
	setTestEnv(t)
	newUpstream(t, nil)

	var logs bytes.Buffer
	cfg, log, err := Init(&logs, "")
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	base := "http://" + ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, ln, cfg, log) }()

	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(base + "/health")
	if err != nil {
		cancel()
		t.Fatalf("GET /health failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/health status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	q := url.Values{"language": {"go"}, "created_after": {"2024-01-01"}}
	resp, err = client.Get(base + "/api/v1/repositories?" + q.Encode())
	if err != nil {
		cancel()
		t.Fatalf("GET /api/v1/repositories failed: %v", err)
	}
	var page model.ScoredPage
	decodeErr := json.NewDecoder(resp.Body).Decode(&page)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/api/v1/repositories status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if decodeErr != nil {
		t.Errorf("failed to decode page: %v", decodeErr)
	}
	if len(page.Repositories) != 2 {
		t.Errorf("len(Repositories) = %d, want 2", len(page.Repositories))
	}

	resp, err = client.Get(base + "/metrics")
	if err != nil {
		cancel()
		t.Fatalf("GET /metrics failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `reposcorer_search_requests_total{outcome="success"} 1`) {
		t.Errorf("metrics should record the successful search, got:\n%s", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve returned %v, want nil", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
	if !strings.Contains(logs.String(), "API server stopped gracefully") {
		t.Error("expected graceful shutdown log")
	}
}

// --- healthcheck ---

func portOf(t *testing.T, rawURL string) string {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("failed to parse URL: %v", err)
	}
	return u.Port()
}

func TestRunHealthcheck_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, `{"status":"ok"}`)
	}))
	defer srv.Close()

	if err := runHealthcheck(context.Background(), portOf(t, srv.URL)); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestRunHealthcheck_Unhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := runHealthcheck(context.Background(), portOf(t, srv.URL))
	if err == nil {
		t.Fatal("expected error for unhealthy server")
	}
	if !strings.Contains(err.Error(), "503") {
		t.Errorf("error = %v, want status 503", err)
	}
}

func TestRun_HealthcheckCommand_UsesPortFlag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":"ok"}`)
	}))
	defer srv.Close()

	if _, _, err := executeRoot(t, "healthcheck", "--port", portOf(t, srv.URL)); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}
