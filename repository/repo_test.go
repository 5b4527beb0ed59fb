package repository

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"worker-asset-processing/config"
	"worker-asset-processing/constant"
	"worker-asset-processing/dto"
)

type wordCounter struct{}

func (wordCounter) Count(text string) int {
	return len(strings.Fields(text))
}

type fakeStore struct {
	bucket, key string
	data        string
	err         error
}

func (s *fakeStore) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	s.bucket, s.key = bucket, key
	if s.err != nil {
		return nil, s.err
	}
	return io.NopCloser(strings.NewReader(s.data)), nil
}

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Auth   string
	Body   map[string]any
}

type fakeAPI struct {
	mu       sync.Mutex
	requests []recordedRequest
	handler  func(w http.ResponseWriter, r *http.Request)
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec := recordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Auth:   r.Header.Get("Authorization"),
	}
	if r.Body != nil {
		raw, _ := io.ReadAll(r.Body)
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &rec.Body)
		}
	}
	f.mu.Lock()
	f.requests = append(f.requests, rec)
	f.mu.Unlock()
	f.handler(w, r)
}

func (f *fakeAPI) last() recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newTestRepo(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*repo, *fakeAPI, *httptest.Server) {
	t.Helper()
	api := &fakeAPI{handler: handler}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		API: config.API{
			BaseURL:           srv.URL + "/api",
			ServerAPIKey:      "secret",
			Timeout:           5 * time.Second,
			RetryMax:          0,
			RequestsPerSecond: 1000,
		},
	}
	r, err := newRepo(cfg, wordCounter{})
	if err != nil {
		t.Fatalf("newRepo: %v", err)
	}
	r.now = func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) }
	return r, api, srv
}

func TestFetchJobs(t *testing.T) {
	r, api, _ := newTestRepo(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"id":"job-1","assetId":"asset-1","status":"created","attempts":0,
			 "createdAt":"2024-05-01T09:00:00.000Z","updatedAt":"2024-05-01T09:00:00.000Z",
			 "lastHeartBeat":"2024-05-01T09:59:50.000Z","errorMessage":null},
			{"id":"job-2","assetId":"asset-2","status":"in_progress","attempts":1,
			 "createdAt":"2024-05-01T09:00:00Z","updatedAt":"2024-05-01T09:00:00Z",
			 "lastHeartBeat":"2024-05-01T09:00:00Z","errorMessage":"boom"}
		]`))
	})

	jobs := r.FetchJobs(context.Background())
	if len(jobs) != 2 {
		t.Fatalf("len = %d, want 2", len(jobs))
	}
	if jobs[0].ID != "job-1" || jobs[0].AssetID != "asset-1" || jobs[0].Status != constant.JobStatusCreated {
		t.Fatalf("unexpected first job: %+v", jobs[0])
	}
	if jobs[1].Attempts != 1 || jobs[1].ErrorMessage == nil || *jobs[1].ErrorMessage != "boom" {
		t.Fatalf("unexpected second job: %+v", jobs[1])
	}
	if got := api.last(); got.Path != "/api/asset-processing-job" || got.Auth != "Bearer secret" {
		t.Fatalf("request = %+v", got)
	}
}

func TestFetchJobsSwallowsErrors(t *testing.T) {
	r, _, _ := newTestRepo(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	})

	jobs := r.FetchJobs(context.Background())
	if jobs == nil || len(jobs) != 0 {
		t.Fatalf("jobs = %#v, want empty non-nil slice", jobs)
	}
}

func TestFetchJobsTransportFailure(t *testing.T) {
	r, _, srv := newTestRepo(t, func(w http.ResponseWriter, r *http.Request) {})
	srv.Close()

	if jobs := r.FetchJobs(context.Background()); len(jobs) != 0 {
		t.Fatalf("jobs = %v, want none", jobs)
	}
}

func TestUpdateJobMergesHeartbeat(t *testing.T) {
	r, api, _ := newTestRepo(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	update := dto.NewJobUpdate().WithStatus(constant.JobStatusFailed).WithErrorMessage("bad").WithAttempts(2)
	if err := r.UpdateJob(context.Background(), "job-1", update); err != nil {
		t.Fatalf("UpdateJob() error = %v", err)
	}

	got := api.last()
	if got.Method != http.MethodPatch || got.Query != "jobId=job-1" {
		t.Fatalf("request = %+v", got)
	}
	if got.Body["status"] != "failed" || got.Body["errorMessage"] != "bad" || got.Body["attempts"] != float64(2) {
		t.Fatalf("body = %v", got.Body)
	}
	if got.Body["lastHeartBeat"] != "2024-05-01T10:00:00Z" {
		t.Fatalf("lastHeartBeat = %v", got.Body["lastHeartBeat"])
	}
}

func TestUpdateHeartbeatSendsOnlyTimestamp(t *testing.T) {
	r, api, _ := newTestRepo(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	if err := r.UpdateHeartbeat(context.Background(), "job-9"); err != nil {
		t.Fatalf("UpdateHeartbeat() error = %v", err)
	}
	got := api.last()
	if len(got.Body) != 1 {
		t.Fatalf("body = %v, want only lastHeartBeat", got.Body)
	}
	if _, ok := got.Body["lastHeartBeat"]; !ok {
		t.Fatalf("body = %v, missing lastHeartBeat", got.Body)
	}
}

func TestUpdateJobReturnsAPIError(t *testing.T) {
	r, _, _ := newTestRepo(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "job locked", http.StatusConflict)
	})

	err := r.UpdateJob(context.Background(), "job-1", dto.NewJobUpdate())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want APIError", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Body != "job locked" {
		t.Fatalf("api error = %+v", apiErr)
	}
}

func TestUpdateJobTransportError(t *testing.T) {
	r, _, srv := newTestRepo(t, func(w http.ResponseWriter, r *http.Request) {})
	srv.Close()

	err := r.UpdateJob(context.Background(), "job-1", dto.NewJobUpdate())
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("error = %v, want ErrTransport", err)
	}
}

func TestFetchAsset(t *testing.T) {
	r, api, _ := newTestRepo(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"asset-1","fileName":"notes.md","fileUrl":"https://files/notes.md","fileType":"markdown"}`))
	})

	asset, err := r.FetchAsset(context.Background(), "asset-1")
	if err != nil {
		t.Fatalf("FetchAsset() error = %v", err)
	}
	if asset == nil || asset.FileType != constant.FileTypeMarkdown || asset.FileURL != "https://files/notes.md" {
		t.Fatalf("asset = %+v", asset)
	}
	if got := api.last(); got.Path != "/api/asset" || got.Query != "assetId=asset-1" {
		t.Fatalf("request = %+v", got)
	}
}

func TestFetchAssetAbsent(t *testing.T) {
	cases := map[string]func(w http.ResponseWriter, r *http.Request){
		"empty body": func(w http.ResponseWriter, r *http.Request) {},
		"null":       func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("null")) },
		"not found":  func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) },
		"server error": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusBadGateway)
		},
	}
	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			r, _, _ := newTestRepo(t, handler)
			asset, err := r.FetchAsset(context.Background(), "asset-1")
			if err != nil {
				t.Fatalf("FetchAsset() error = %v", err)
			}
			if asset != nil {
				t.Fatalf("asset = %+v, want nil", asset)
			}
		})
	}
}

func TestFetchAssetBytesHTTP(t *testing.T) {
	var gotAuth string
	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte("hello"))
	}))
	defer files.Close()

	r, _, _ := newTestRepo(t, func(w http.ResponseWriter, r *http.Request) {})
	data, err := r.FetchAssetBytes(context.Background(), files.URL+"/hello.txt")
	if err != nil {
		t.Fatalf("FetchAssetBytes() error = %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("data = %q", data)
	}
	if gotAuth != "" {
		t.Fatalf("credential leaked to file host: %q", gotAuth)
	}
}

func TestFetchAssetBytesSendsCredentialToControlPlane(t *testing.T) {
	r, api, srv := newTestRepo(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("raw"))
	})

	if _, err := r.FetchAssetBytes(context.Background(), srv.URL+"/api/files/1"); err != nil {
		t.Fatalf("FetchAssetBytes() error = %v", err)
	}
	if got := api.last(); got.Auth != "Bearer secret" {
		t.Fatalf("auth = %q", got.Auth)
	}
}

func TestFetchAssetBytesNon2xx(t *testing.T) {
	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer files.Close()

	r, _, _ := newTestRepo(t, func(w http.ResponseWriter, r *http.Request) {})
	_, err := r.FetchAssetBytes(context.Background(), files.URL+"/x")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusGone {
		t.Fatalf("error = %v, want 410 APIError", err)
	}
}

func TestFetchAssetBytesObjectStore(t *testing.T) {
	r, _, _ := newTestRepo(t, func(w http.ResponseWriter, r *http.Request) {})

	if _, err := r.FetchAssetBytes(context.Background(), "s3://media/a/b.mp3"); !errors.Is(err, ErrStorageNotConfigured) {
		t.Fatalf("error = %v, want ErrStorageNotConfigured", err)
	}

	store := &fakeStore{data: "audio-bytes"}
	r.storage = store
	data, err := r.FetchAssetBytes(context.Background(), "s3://media/a/b.mp3")
	if err != nil {
		t.Fatalf("FetchAssetBytes() error = %v", err)
	}
	if string(data) != "audio-bytes" || store.bucket != "media" || store.key != "a/b.mp3" {
		t.Fatalf("data = %q bucket = %q key = %q", data, store.bucket, store.key)
	}

	r.storage = &fakeStore{err: errors.New("no such key")}
	if _, err := r.FetchAssetBytes(context.Background(), "s3://media/missing"); !errors.Is(err, ErrTransport) {
		t.Fatalf("error = %v, want ErrTransport", err)
	}
}

func TestUpdateAssetContentSendsTokenCount(t *testing.T) {
	r, api, _ := newTestRepo(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	if err := r.UpdateAssetContent(context.Background(), "asset-1", "one two three"); err != nil {
		t.Fatalf("UpdateAssetContent() error = %v", err)
	}
	got := api.last()
	if got.Method != http.MethodPatch || got.Query != "assetId=asset-1" {
		t.Fatalf("request = %+v", got)
	}
	if got.Body["content"] != "one two three" || got.Body["tokenCount"] != float64(3) {
		t.Fatalf("body = %v", got.Body)
	}
}

func TestUpdateAssetContentError(t *testing.T) {
	r, _, _ := newTestRepo(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "too large", http.StatusRequestEntityTooLarge)
	})

	err := r.UpdateAssetContent(context.Background(), "asset-1", "x")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("error = %v", err)
	}
}
