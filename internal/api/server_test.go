package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"

	"clubdash/internal/domain"
	"clubdash/internal/ingest"
	"clubdash/internal/metrics"
	"clubdash/internal/upstream"
)

type fakeIngest struct {
	token    string
	public   []domain.Message
	private  []domain.Message
	channels []domain.Channel
	status   domain.LoadingStatus

	mu     sync.Mutex
	loaded chan string
}

func (f *fakeIngest) PublicData() []domain.Message {
	out := make([]domain.Message, len(f.public))
	copy(out, f.public)
	return out
}

func (f *fakeIngest) AdminData(credential string) ([]domain.Message, error) {
	if err := f.Authorize(credential); err != nil {
		return nil, err
	}
	return append(f.PublicData(), f.private...), nil
}

func (f *fakeIngest) Authorize(credential string) error {
	if f.token == "" {
		return ingest.ErrServiceUnavailable
	}
	if credential != f.token {
		return ingest.ErrUnauthorized
	}
	return nil
}

func (f *fakeIngest) Channels(_ context.Context, admin bool) []domain.Channel {
	out := []domain.Channel{}
	for _, ch := range f.channels {
		if ch.IsPrivate && !admin {
			continue
		}
		out = append(out, ch)
	}
	return out
}

func (f *fakeIngest) Status() domain.LoadingStatus { return f.status }
func (f *fakeIngest) Monitors(key string) bool     { return key == "ship" || key == "happenings" }
func (f *fakeIngest) Enabled() bool                { return true }

func (f *fakeIngest) LoadChannelHistory(_ context.Context, key string) error {
	if f.loaded != nil {
		f.loaded <- key
	}
	return nil
}

type fakeUpstream struct {
	name string
	body []byte
	err  error
}

func (u *fakeUpstream) Name() string { return u.name }
func (u *fakeUpstream) Fetch(context.Context) ([]byte, error) {
	return u.body, u.err
}

func newTestServer(t *testing.T, f *fakeIngest, ups ...Upstream) *Server {
	t.Helper()
	return NewServer(f, ups, zaptest.NewLogger(t), Options{})
}

func do(t *testing.T, s *Server, method, target string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return body["error"]
}

var ts = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleIngest() *fakeIngest {
	return &fakeIngest{
		token:   "s3cret",
		public:  []domain.Message{{ID: "ship-1", SourceTag: "ship", Timestamp: ts, User: "U1", Channel: "C0M8PUPU6", Text: "shipped"}},
		private: []domain.Message{{ID: "staff-1", SourceTag: "staff", Timestamp: ts, Channel: "G0STAFF", Text: "secret"}},
		channels: []domain.Channel{
			{ID: "C0M8PUPU6", Name: "ship"},
			{ID: "G0STAFF", Name: "staff", IsPrivate: true},
		},
	}
}

func TestSlackData(t *testing.T) {
	s := newTestServer(t, sampleIngest())
	rec := do(t, s, http.MethodGet, "/api/slack-data", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0]["id"] != "ship-1" || got[0]["timestamp"] != "2026-03-01T12:00:00Z" {
		t.Errorf("body = %s", rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "staff") {
		t.Error("private data in public response")
	}
}

func TestSlackDataEmptyIsArray(t *testing.T) {
	s := newTestServer(t, &fakeIngest{})
	rec := do(t, s, http.MethodGet, "/api/slack-data", nil)
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("body = %q, want []", rec.Body.String())
	}
}

func TestSlackDataAdmin(t *testing.T) {
	tests := []struct {
		name      string
		token     string
		target    string
		header    map[string]string
		wantCode  int
		wantError string
		wantLen   int
	}{
		{name: "header", token: "s3cret", target: "/api/slack-data-admin", header: map[string]string{"Authorization": "s3cret"}, wantCode: 200, wantLen: 2},
		{name: "bearer", token: "s3cret", target: "/api/slack-data-admin", header: map[string]string{"Authorization": "Bearer s3cret"}, wantCode: 200, wantLen: 2},
		{name: "query", token: "s3cret", target: "/api/slack-data-admin?admin_token=s3cret", wantCode: 200, wantLen: 2},
		{name: "wrong", token: "s3cret", target: "/api/slack-data-admin?admin_token=nope", wantCode: 401, wantError: "Invalid admin credentials"},
		{name: "missing", token: "s3cret", target: "/api/slack-data-admin", wantCode: 401, wantError: "Invalid admin credentials"},
		{name: "not configured", token: "", target: "/api/slack-data-admin?admin_token=s3cret", wantCode: 503, wantError: "Admin functionality not configured"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := sampleIngest()
			f.token = tt.token
			rec := do(t, newTestServer(t, f), http.MethodGet, tt.target, tt.header)

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
			}
			if tt.wantError != "" {
				if got := decodeError(t, rec); got != tt.wantError {
					t.Errorf("error = %q", got)
				}
				return
			}
			var got []domain.Message
			if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
				t.Fatal(err)
			}
			if len(got) != tt.wantLen {
				t.Errorf("len = %d", len(got))
			}
		})
	}
}

func TestSlackChannels(t *testing.T) {
	s := newTestServer(t, sampleIngest())

	var public []domain.Channel
	json.Unmarshal(do(t, s, http.MethodGet, "/api/slack-channels", nil).Body.Bytes(), &public)
	if len(public) != 1 {
		t.Errorf("public channels = %+v", public)
	}

	var invalid []domain.Channel
	json.Unmarshal(do(t, s, http.MethodGet, "/api/slack-channels?admin_token=bad", nil).Body.Bytes(), &invalid)
	if len(invalid) != 1 {
		t.Errorf("invalid credential should see public channels only: %+v", invalid)
	}

	var admin []domain.Channel
	json.Unmarshal(do(t, s, http.MethodGet, "/api/slack-channels", map[string]string{"Authorization": "s3cret"}).Body.Bytes(), &admin)
	if len(admin) != 2 {
		t.Errorf("admin channels = %+v", admin)
	}
}

func TestSlackStatus(t *testing.T) {
	f := sampleIngest()
	current := "ship"
	f.status = domain.LoadingStatus{IsLoading: true, CurrentChannel: &current, Completed: 1, Total: 2, Message: "loading #ship (2/2)"}

	rec := do(t, newTestServer(t, f), http.MethodGet, "/api/slack-status", nil)
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got["isLoading"] != true || got["currentChannel"] != "ship" || got["total"] != float64(2) {
		t.Errorf("status = %v", got)
	}
}

func TestSlackLoad(t *testing.T) {
	f := sampleIngest()
	f.loaded = make(chan string, 1)
	s := newTestServer(t, f)

	rec := do(t, s, http.MethodPost, "/api/slack-load/ship", map[string]string{"Authorization": "s3cret"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	select {
	case key := <-f.loaded:
		if key != "ship" {
			t.Errorf("loaded %q", key)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("load not started")
	}

	if rec := do(t, s, http.MethodPost, "/api/slack-load/random", map[string]string{"Authorization": "s3cret"}); rec.Code != http.StatusNotFound {
		t.Errorf("unknown channel status = %d", rec.Code)
	}
	if rec := do(t, s, http.MethodPost, "/api/slack-load/ship", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d", rec.Code)
	}

	if err := s.Shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestUpstreamProxy(t *testing.T) {
	s := newTestServer(t, sampleIngest(),
		&fakeUpstream{name: "events", body: []byte(`[{"title":"Assemble"}]`)},
		&fakeUpstream{name: "hackathons", err: &upstream.StatusError{Title: "Hackathons", Status: 502}},
	)

	rec := do(t, s, http.MethodGet, "/api/events-api", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != `[{"title":"Assemble"}]` {
		t.Errorf("events = %d %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("content type = %q", ct)
	}

	rec = do(t, s, http.MethodGet, "/api/hackathons-api", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("hackathons status = %d", rec.Code)
	}
	if got := decodeError(t, rec); got != "Hackathons API error: 502" {
		t.Errorf("error = %q", got)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, sampleIngest())

	if rec := do(t, s, http.MethodGet, "/health", nil); rec.Code != http.StatusOK {
		t.Errorf("health = %d", rec.Code)
	}

	do(t, s, http.MethodGet, "/api/slack-data", nil)
	rec := do(t, s, http.MethodGet, "/metrics", nil)
	if !strings.Contains(rec.Body.String(), "dashboard_http_requests_total") {
		t.Error("request metrics not exported")
	}
}

func TestPanicsAreCounted(t *testing.T) {
	s := newTestServer(t, sampleIngest())
	s.echo.GET("/boom", func(echo.Context) error { panic("kaboom") })

	counter := metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/boom", "500")
	before := testutil.ToFloat64(counter)

	if rec := do(t, s, http.MethodGet, "/boom", nil); rec.Code != http.StatusInternalServerError {
		t.Fatalf("code = %d", rec.Code)
	}
	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Errorf("recovered panic counted %v times, want 1", got)
	}
}

func TestStaticFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>dashboard</h1>"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := NewServer(sampleIngest(), nil, zaptest.NewLogger(t), Options{StaticDir: dir})

	rec := do(t, s, http.MethodGet, "/", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "dashboard") {
		t.Errorf("index = %d %q", rec.Code, rec.Body.String())
	}
	if rec := do(t, s, http.MethodGet, "/api/slack-data", nil); rec.Code != http.StatusOK {
		t.Errorf("api shadowed by static files: %d", rec.Code)
	}
}

func TestSlackStream(t *testing.T) {
	s := newTestServer(t, sampleIngest())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/slack-stream", nil)
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	if line, _ := reader.ReadString('\n'); line != ": ping\n" {
		t.Fatalf("first line = %q", line)
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.sse.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Broadcast(`{"id":"live-1","text":"hi"}`)

	var lines []string
	for len(lines) < 2 {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatal(err)
		}
		if line = strings.TrimRight(line, "\n"); line != "" {
			lines = append(lines, line)
		}
	}
	if lines[0] != "event: message" || lines[1] != `data: {"id":"live-1","text":"hi"}` {
		t.Errorf("stream = %q", lines)
	}
}

func TestShutdownClosesStreams(t *testing.T) {
	s := newTestServer(t, sampleIngest())
	go s.Start("127.0.0.1:0")

	deadline := time.Now().Add(2 * time.Second)
	for s.echo.ListenerAddr() == nil && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	addr := s.echo.ListenerAddr()
	if addr == nil {
		t.Fatal("server did not start")
	}

	resp, err := http.Get("http://" + addr.String() + "/api/slack-stream")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if line, _ := bufio.NewReader(resp.Body).ReadString('\n'); line != ": ping\n" {
		t.Fatalf("first line = %q", line)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	start := time.Now()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown with an open stream = %v after %v", err, time.Since(start))
	}
}
