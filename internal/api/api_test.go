package api

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/loadguard/internal/bus"
	"github.com/opensource-finance/loadguard/internal/cache"
	"github.com/opensource-finance/loadguard/internal/domain"
	"github.com/opensource-finance/loadguard/internal/report"
	"github.com/opensource-finance/loadguard/internal/repository"
	"github.com/opensource-finance/loadguard/internal/session"
	"github.com/opensource-finance/loadguard/internal/velocity"
)

const sampleLoads = `{"id":"15887","customer_id":"528","load_amount":"$3318.47","time":"2000-01-01T00:00:00Z"}
{"id":"30081","customer_id":"154","load_amount":"$1413.18","time":"2000-01-01T01:01:22Z"}
{"id":"26540","customer_id":"426","load_amount":"$404.56","time":"2000-01-01T02:02:44Z"}
`

type testEnv struct {
	server *Server
	repo   *repository.SQLRepository
	cache  *cache.LRUCache
	bus    *bus.ChannelBus
}

// newTestEnv wires a server over a temporary SQLite repository, an LRU
// cache and a channel bus.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "api.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	lru := cache.NewLRUCache(16)
	eventBus := bus.NewChannelBus(16)
	t.Cleanup(func() { eventBus.Close() })

	sess, err := session.New(domain.DefaultLimits(), nil)
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	handler := NewHandler(sess, velocity.NewService(repo), repo, lru, eventBus, "test-v1", 1<<20)
	cfg := domain.ServerConfig{
		Host:           "localhost",
		Port:           8080,
		ReadTimeout:    30,
		WriteTimeout:   30,
		AllowedOrigins: []string{"http://localhost:3000"},
	}

	return &testEnv{
		server: NewServer(cfg, handler),
		repo:   repo,
		cache:  lru,
		bus:    eventBus,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) upload(t *testing.T, filename, content string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	part.Write([]byte(content))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/process", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rr, req)
	return rr
}

func unzip(t *testing.T, data []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("response is not a zip: %v", err)
	}
	files := make(map[string]string)
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("failed to open %s: %v", f.Name, err)
		}
		b, _ := io.ReadAll(rc)
		rc.Close()
		files[f.Name] = string(b)
	}
	return files
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to parse response %q: %v", rr.Body.String(), err)
	}
}

func TestProcessEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rr := env.upload(t, "input.txt", sampleLoads)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/zip" {
		t.Errorf("expected application/zip, got %s", ct)
	}
	processID := rr.Header().Get(ProcessIDHeader)
	if processID == "" {
		t.Fatal("expected X-Process-ID header")
	}

	files := unzip(t, rr.Body.Bytes())
	lines := strings.Split(strings.TrimSpace(files[report.OutputFile]), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 decisions, got %d: %q", len(lines), files[report.OutputFile])
	}
	var first domain.Decision
	json.Unmarshal([]byte(lines[0]), &first)
	if first.ID != "15887" || first.CustomerID != "528" || !first.Accepted {
		t.Errorf("unexpected first decision: %+v", first)
	}
	if !strings.HasPrefix(files[report.CSVFile], "id,customer_id,load_amount,status\n") {
		t.Errorf("unexpected csv header: %q", files[report.CSVFile])
	}

	t.Run("Persisted", func(t *testing.T) {
		batch, err := env.repo.GetOutputs(context.Background(), processID)
		if err != nil {
			t.Fatalf("GetOutputs failed: %v", err)
		}
		if batch.Filename != "input.txt" || len(batch.Results) != 3 {
			t.Errorf("unexpected stored batch: %s with %d results", batch.Filename, len(batch.Results))
		}
	})

	t.Run("ArchiveFromCache", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/api/v1/process/"+processID+"/archive", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		if _, ok := unzip(t, rr.Body.Bytes())[report.AuditFile]; !ok {
			t.Error("expected audit file in archive")
		}
	})

	t.Run("ArchiveRebuiltFromRepository", func(t *testing.T) {
		env.cache.Delete(context.Background(), domain.ArchiveKey(processID))

		rr := env.do(t, http.MethodGet, "/api/v1/process/"+processID+"/archive", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		files := unzip(t, rr.Body.Bytes())
		if len(strings.Split(strings.TrimSpace(files[report.OutputFile]), "\n")) != 3 {
			t.Errorf("expected 3 decisions in rebuilt archive, got %q", files[report.OutputFile])
		}
	})

	t.Run("ArchiveNotFound", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/api/v1/process/missing/archive", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestProcessEndpointErrors(t *testing.T) {
	env := newTestEnv(t)

	t.Run("UnsupportedExtension", func(t *testing.T) {
		rr := env.upload(t, "input.xml", sampleLoads)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("EmptyFile", func(t *testing.T) {
		rr := env.upload(t, "input.txt", "  \n")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("UndecodableLine", func(t *testing.T) {
		rr := env.upload(t, "input.jsonl", `{"id":"1","customer_id":"2","load_amount":"$1","time":"2000-01-01T00:00:00Z"}`+"\n{broken\n")
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "line 2") {
			t.Errorf("expected line number in error, got %s", rr.Body.String())
		}
	})

	t.Run("MissingFile", func(t *testing.T) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		mw.WriteField("other", "x")
		mw.Close()

		req := httptest.NewRequest(http.MethodPost, "/api/v1/process", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("CSVUpload", func(t *testing.T) {
		csv := "id,customer_id,load_amount,time\n100,900,$10.00,2000-01-02T00:00:00Z\n"
		rr := env.upload(t, "input.csv", csv)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		files := unzip(t, rr.Body.Bytes())
		if !strings.Contains(files[report.OutputFile], `"id":"100"`) {
			t.Errorf("expected decision for id 100, got %q", files[report.OutputFile])
		}
	})
}

func TestSubmitLoad(t *testing.T) {
	env := newTestEnv(t)

	t.Run("Synchronous", func(t *testing.T) {
		body := `{"id":"100","customer_id":"900","load_amount":"$6000.00","time":"2000-01-04T00:00:00Z"}`
		rr := env.do(t, http.MethodPost, "/api/v1/loads", strings.NewReader(body))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var res domain.ProcessingResult
		decode(t, rr, &res)
		if res.Accepted {
			t.Error("expected load over the daily limit to be rejected")
		}
		if res.RulesEvaluated[domain.RuleDailyLimit].Reason != domain.ReasonDailyLimitExceeded {
			t.Errorf("expected daily limit failure, got %+v", res.RulesEvaluated[domain.RuleDailyLimit])
		}
		if rr.Header().Get(ProcessIDHeader) == "" {
			t.Error("expected X-Process-ID header")
		}
	})

	t.Run("InvalidFieldsBecomeErrorResult", func(t *testing.T) {
		body := `{"id":"abc","customer_id":"900","load_amount":"$1.00","time":"2000-01-04T00:00:00Z"}`
		rr := env.do(t, http.MethodPost, "/api/v1/loads", strings.NewReader(body))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var res domain.ProcessingResult
		decode(t, rr, &res)
		if res.Accepted || res.Error == "" {
			t.Errorf("expected error result, got %+v", res)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/api/v1/loads", strings.NewReader("not-json"))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("Async", func(t *testing.T) {
		received := make(chan *domain.Message, 1)
		env.bus.Subscribe(context.Background(), domain.TopicLoadSubmitted, func(ctx context.Context, msg *domain.Message) error {
			received <- msg
			return nil
		})

		body := `{"id":"200","customer_id":"901","load_amount":"$5.00","time":"2000-01-04T00:00:00Z"}`
		rr := env.do(t, http.MethodPost, "/api/v1/loads?async=true", strings.NewReader(body))
		if rr.Code != http.StatusAccepted {
			t.Fatalf("expected status 202, got %d", rr.Code)
		}

		select {
		case msg := <-received:
			var tx domain.Transaction
			json.Unmarshal(msg.Payload, &tx)
			if tx.ID != "200" {
				t.Errorf("expected queued load 200, got %+v", tx)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for queued load")
		}
	})

	t.Run("AsyncWithoutBus", func(t *testing.T) {
		sess, _ := session.New(domain.DefaultLimits(), nil)
		server := NewServer(domain.ServerConfig{}, NewHandler(sess, nil, nil, nil, nil, "test-v1", 0))

		req := httptest.NewRequest(http.MethodPost, "/api/v1/loads?async=true", strings.NewReader(`{"id":"1"}`))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status 503, got %d", rr.Code)
		}
	})
}

func TestConfigEndpoints(t *testing.T) {
	env := newTestEnv(t)

	t.Run("Get", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/api/v1/config", nil)
		var cfg domain.LimitsPayload
		decode(t, rr, &cfg)
		if cfg.DailyLimit != "5000.00" || cfg.DailyLoadCount != 3 {
			t.Errorf("expected default limits, got %+v", cfg)
		}
	})

	t.Run("Update", func(t *testing.T) {
		update := domain.PayloadFromLimits(domain.DefaultLimits())
		update.DailyLimit = "100.00"
		body, _ := json.Marshal(update)

		rr := env.do(t, http.MethodPost, "/api/v1/config", bytes.NewReader(body))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		rr = env.do(t, http.MethodPost, "/api/v1/loads",
			strings.NewReader(`{"id":"300","customer_id":"902","load_amount":"$150.00","time":"2000-01-04T00:00:00Z"}`))
		var res domain.ProcessingResult
		decode(t, rr, &res)
		if res.Accepted {
			t.Error("expected the new daily limit to reject $150")
		}
	})

	t.Run("UpdateInvalid", func(t *testing.T) {
		update := domain.PayloadFromLimits(domain.DefaultLimits())
		update.MondayMultiplier = 0
		body, _ := json.Marshal(update)

		rr := env.do(t, http.MethodPost, "/api/v1/config", bytes.NewReader(body))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}

		rr = env.do(t, http.MethodPost, "/api/v1/config", strings.NewReader(`{"daily_limit":"lots"}`))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for malformed money, got %d", rr.Code)
		}
	})

	t.Run("Reset", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/api/v1/config/reset", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		rr = env.do(t, http.MethodGet, "/api/v1/config", nil)
		var cfg domain.LimitsPayload
		decode(t, rr, &cfg)
		if cfg.DailyLimit != "5000.00" {
			t.Errorf("expected default daily limit after reset, got %s", cfg.DailyLimit)
		}
	})
}

func TestReportingEndpoints(t *testing.T) {
	env := newTestEnv(t)

	env.upload(t, "input.txt", sampleLoads)
	env.do(t, http.MethodPost, "/api/v1/loads",
		strings.NewReader(`{"id":"400","customer_id":"528","load_amount":"$9000.00","time":"2000-01-01T05:00:00Z"}`))

	t.Run("Statistics", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/api/v1/statistics", nil)
		var stats StatisticsResponse
		decode(t, rr, &stats)
		if stats.TotalProcessed != 4 || stats.Accepted != 3 || stats.Rejected != 1 {
			t.Errorf("unexpected totals: %+v", stats.OutputStatistics)
		}
		if stats.Engine.Engine.DailyLimitCustomers != 3 {
			t.Errorf("expected 3 customers in daily state, got %d", stats.Engine.Engine.DailyLimitCustomers)
		}
	})

	t.Run("Dashboard", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/api/v1/dashboard-stats", nil)
		var d report.Dashboard
		decode(t, rr, &d)
		if d.TotalProcessed != 4 || d.AcceptanceRate != 75 {
			t.Errorf("unexpected dashboard: %+v", d)
		}
		if d.RecentActivity[0].ID != "400" {
			t.Errorf("expected newest activity first, got %s", d.RecentActivity[0].ID)
		}
	})

	t.Run("SaveAndListOutputs", func(t *testing.T) {
		body := `{"filename":"client.txt","outputs":[
			{"id":"500","customer_id":"77","accepted":true,"load_amount":"$1.00","time":"2000-01-02T00:00:00Z","audit":{"effective_amount":"$1.00"}},
			{"customer_id":"skipped"}
		]}`
		rr := env.do(t, http.MethodPost, "/api/v1/outputs", strings.NewReader(body))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		rr = env.do(t, http.MethodGet, "/api/v1/outputs", nil)
		var runs []OutputRun
		decode(t, rr, &runs)
		if len(runs) != 3 {
			t.Fatalf("expected 3 runs, got %d", len(runs))
		}
		found := false
		for _, run := range runs {
			if run.Filename == "client.txt" {
				found = true
				if len(run.Outputs) != 1 || run.Outputs[0].ID != "500" {
					t.Errorf("unexpected saved outputs: %+v", run.Outputs)
				}
			}
		}
		if !found {
			t.Error("expected saved run in listing")
		}
	})

	t.Run("CustomerVelocity", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/api/v1/customers/528/velocity?date=2000-01-01", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var v velocity.Velocity
		decode(t, rr, &v)
		if v.DailyTotal != "3318.47" || v.DailyCount != 1 {
			t.Errorf("unexpected velocity: %+v", v)
		}

		rr = env.do(t, http.MethodGet, "/api/v1/customers/528/velocity?date=01/01/2000", nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for bad date, got %d", rr.Code)
		}
	})
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	t.Run("HealthCheck", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/health", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
		var resp map[string]string
		decode(t, rr, &resp)
		if resp["status"] != "healthy" {
			t.Errorf("expected status healthy, got %s", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version test-v1, got %s", resp["version"])
		}
	})

	t.Run("ReadyCheck", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/ready", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("Root", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/", nil)
		if !strings.Contains(rr.Body.String(), "/api/v1/process") {
			t.Errorf("expected endpoint listing, got %s", rr.Body.String())
		}
	})

	t.Run("Metrics", func(t *testing.T) {
		env.do(t, http.MethodPost, "/api/v1/loads",
			strings.NewReader(`{"id":"600","customer_id":"903","load_amount":"$1.00","time":"2000-01-04T00:00:00Z"}`))

		rr := env.do(t, http.MethodGet, "/metrics", nil)
		if !strings.Contains(rr.Body.String(), "loadguard_loads_processed_total") {
			t.Error("expected loadguard metrics to be exposed")
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("CORSAllowedOrigin", func(t *testing.T) {
		handler := CORSMiddleware([]string{"http://localhost:3000"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodOptions, "/api/v1/process", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusNoContent {
			t.Errorf("expected status 204 for preflight, got %d", rr.Code)
		}
		if rr.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
			t.Errorf("expected origin to be allowed, got %q", rr.Header().Get("Access-Control-Allow-Origin"))
		}
	})

	t.Run("CORSRejectedOrigin", func(t *testing.T) {
		handler := CORSMiddleware([]string{"http://localhost:3000"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "http://evil.example")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Header().Get("Access-Control-Allow-Origin") != "" {
			t.Error("expected no CORS headers for unknown origin")
		}
	})

	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var capturedRequestID string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v, ok := r.Context().Value(RequestIDKey).(string); ok {
				capturedRequestID = v
			}
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedRequestID == "" {
			t.Error("expected request ID to be set")
		}
		if rr.Header().Get(RequestIDHeader) == "" {
			t.Error("expected X-Request-ID response header")
		}
		if rr.Header().Get(TraceIDHeader) == "" {
			t.Error("expected X-Trace-ID response header")
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()

		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})
}
