package api

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/leapstack-labs/datalens/internal/journal"
	"github.com/leapstack-labs/datalens/internal/llm"
	"github.com/leapstack-labs/datalens/internal/service"
	"github.com/leapstack-labs/datalens/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const salesCSV = "region,revenue\nNorth,100\nSouth,200\nNorth,150\nEast,\n"

type fixture struct {
	handler   http.Handler
	uploadDir string
}

func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()
	logger := testutil.NewTestLogger(t)

	model := llm.ClientFunc(func(context.Context, string, string) (string, error) {
		return `{"answer": "Total revenue is 450.", "code": "result = df[\"revenue\"].sum()"}`, nil
	})
	svc, err := service.New(context.Background(), service.Config{
		Model:       model,
		JournalPath: journal.MemoryPath,
		Logger:      logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	cfg := Config{
		UploadDir:      t.TempDir(),
		MaxUploadBytes: 50 << 20,
		CORSOrigins:    []string{"http://localhost:5173"},
		Version:        "1.2.3",
		Metrics:        svc.Metrics().Gatherer(),
		Logger:         logger,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	return &fixture{handler: NewServer(svc, cfg).Handler(), uploadDir: cfg.UploadDir}
}

func (f *fixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) upload(t *testing.T, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return f.do(t, req)
}

func (f *fixture) ingest(t *testing.T) string {
	t.Helper()
	rec := f.upload(t, "sales.csv", salesCSV)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp UploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.SessionID
}

func (f *fixture) query(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return f.do(t, req)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestRootAndHealth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"name": "DataLens AI", "version": "1.2.3"}, decode(t, rec))

	f.ingest(t)
	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{
		"status":          "healthy",
		"service":         "DataLens AI",
		"active_sessions": 1.0,
	}, decode(t, rec))
}

func TestUpload(t *testing.T) {
	f := newFixture(t)

	rec := f.upload(t, "sales.csv", salesCSV)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp UploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, "Successfully loaded sales.csv", resp.Message)
	require.NotNil(t, resp.Profile)
	assert.Equal(t, resp.SessionID, resp.Profile.SessionID)
	assert.Equal(t, 4, resp.Profile.RowCount)
	assert.Equal(t, 2, resp.Profile.ColumnCount)

	left, err := os.ReadDir(f.uploadDir)
	require.NoError(t, err)
	assert.Empty(t, left, "uploads are removed after processing")
}

func TestUpload_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		maxBytes   int64
		filename   string
		content    string
		wantStatus int
		wantError  string
	}{
		{
			name:       "unsupported extension",
			filename:   "notes.txt",
			content:    "hello",
			wantStatus: http.StatusBadRequest,
			wantError:  "Unsupported file type: .txt. Allowed: .csv, .tsv, .xlsx, .json, .parquet",
		},
		{
			name:       "legacy excel",
			filename:   "old.xls",
			content:    "hello",
			wantStatus: http.StatusBadRequest,
			wantError:  "Unsupported file type: .xls",
		},
		{
			name:       "too large",
			maxBytes:   8,
			filename:   "sales.csv",
			content:    salesCSV,
			wantStatus: http.StatusBadRequest,
			wantError:  "File too large",
		},
		{
			name:       "undecodable",
			filename:   "broken.xlsx",
			content:    "not a workbook",
			wantStatus: http.StatusInternalServerError,
			wantError:  "Failed to process file: ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, func(c *Config) {
				if tt.maxBytes > 0 {
					c.MaxUploadBytes = tt.maxBytes
				}
			})

			rec := f.upload(t, tt.filename, tt.content)
			assert.Equal(t, tt.wantStatus, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, false, body["success"])
			assert.Contains(t, body["error"], tt.wantError)

			left, err := os.ReadDir(f.uploadDir)
			require.NoError(t, err)
			assert.Empty(t, left)
		})
	}
}

func TestUpload_MissingFile(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader(""))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=x")
	rec := f.do(t, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No file provided", decode(t, rec)["error"])
}

func TestUpload_InfiniteValues(t *testing.T) {
	f := newFixture(t)

	rec := f.upload(t, "ratios.csv", "ratio\n1.5\ninf\n3.0\n")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, json.Valid(rec.Body.Bytes()), rec.Body.String())

	var resp UploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Profile.RowCount)
}

func TestWriteJSON_EncodeFailure(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusOK, map[string]float64{"mean": math.Inf(1)})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Failed to encode response", body["error"])
	assert.Contains(t, body["detail"], "unsupported value")
}

func TestProfile(t *testing.T) {
	f := newFixture(t)
	id := f.ingest(t)

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/api/profile/"+id, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, id, body["session_id"])
	assert.Equal(t, "sales.csv", body["filename"])
	assert.Equal(t, "csv", body["file_type"])

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/profile/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Session not found: nope", decode(t, rec)["error"])
}

func TestQuery(t *testing.T) {
	f := newFixture(t)
	id := f.ingest(t)

	rec := f.query(t, `{"session_id": "`+id+`", "query": "What is the total revenue?", "include_code": true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Total revenue is 450.", body["answer"])
	assert.Equal(t, `result = df["revenue"].sum()`, body["code"])
	assert.Contains(t, body, "execution_time_ms")

	rec = f.query(t, `{"session_id": "`+id+`", "query": "again"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decode(t, rec)["code"])
}

func TestQuery_Rejections(t *testing.T) {
	f := newFixture(t)
	id := f.ingest(t)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantError  string
	}{
		{"unknown session", `{"session_id": "nope", "query": "hi"}`, http.StatusNotFound,
			"Session not found: nope. Please upload a file first."},
		{"blank query", `{"session_id": "` + id + `", "query": "   "}`, http.StatusBadRequest,
			"Query cannot be empty"},
		{"malformed body", `{"session_id":`, http.StatusBadRequest, "Invalid request body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.query(t, tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantError, decode(t, rec)["error"])
		})
	}
}

func TestDeleteSession(t *testing.T) {
	f := newFixture(t)
	id := f.ingest(t)

	rec := f.do(t, httptest.NewRequest(http.MethodDelete, "/api/session/"+id, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"success": true, "message": "Session " + id + " deleted"}, decode(t, rec))

	rec = f.do(t, httptest.NewRequest(http.MethodDelete, "/api/session/"+id, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/profile/"+id, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	id := f.ingest(t)

	for _, q := range []string{"first", "second"} {
		rec := f.query(t, `{"session_id": "`+id+`", "query": "`+q+`"}`)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/api/session/"+id+"/history", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp HistoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Entries, 2)
	assert.Equal(t, "second", resp.Entries[0].Question)
	assert.Equal(t, "first", resp.Entries[1].Question)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/session/"+id+"/history?limit=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Entries, 1)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/session/"+id+"/history?limit=zero", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/session/nope/history", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetrics(t *testing.T) {
	f := newFixture(t)
	f.ingest(t)

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `datalens_uploads_total{file_type="csv"} 1`)
	assert.Contains(t, rec.Body.String(), "datalens_active_sessions 1")
}

func TestMetrics_Disabled(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Metrics = nil })

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORS(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/query", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := f.do(t, req)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = f.do(t, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServeListener_GracefulShutdown(t *testing.T) {
	svc, err := service.New(context.Background(), service.Config{
		Model:  llm.ClientFunc(func(context.Context, string, string) (string, error) { return "", nil }),
		Logger: testutil.NewTestLogger(t),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(svc, Config{UploadDir: t.TempDir(), ShutdownTimeout: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ServeListener(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/api/health")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}
