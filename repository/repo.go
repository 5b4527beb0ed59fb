package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"worker-asset-processing/config"
	"worker-asset-processing/dto"
	"worker-asset-processing/entities"
	"worker-asset-processing/pkg/tokenizer"
)

const maxErrorBody = 512

// JobRepository is the typed client for the control-plane API. Calls do not
// retry at this level beyond transport-level retries of the HTTP client.
type JobRepository interface {
	FetchJobs(ctx context.Context) []entities.Job
	UpdateJob(ctx context.Context, jobID string, update dto.JobUpdate) error
	UpdateHeartbeat(ctx context.Context, jobID string) error
	FetchAsset(ctx context.Context, assetID string) (*entities.Asset, error)
	FetchAssetBytes(ctx context.Context, fileURL string) ([]byte, error)
	UpdateAssetContent(ctx context.Context, assetID string, content string) error
}

// ObjectStore reads raw objects for s3:// asset URLs.
type ObjectStore interface {
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

type minioStore struct {
	client *minio.Client
}

func (s minioStore) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	return s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
}

type repo struct {
	baseURL        *url.URL
	apiKey         string
	apiClient      *http.Client
	downloadClient *http.Client
	limiter        *rate.Limiter
	storage        ObjectStore
	tokens         tokenizer.Counter
	now            func() time.Time
}

func NewRepo(cfg *config.Config, tokens tokenizer.Counter) (JobRepository, error) {
	r, err := newRepo(cfg, tokens)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func newRepo(cfg *config.Config, tokens tokenizer.Counter) (*repo, error) {
	baseURL, err := url.Parse(cfg.API.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse api base url: %w", err)
	}

	r := &repo{
		baseURL:        baseURL,
		apiKey:         cfg.API.ServerAPIKey,
		apiClient:      newHTTPClient(cfg.API.RetryMax, cfg.API.Timeout),
		downloadClient: newHTTPClient(cfg.API.RetryMax, 0),
		limiter:        rate.NewLimiter(rate.Limit(cfg.API.RequestsPerSecond), burst(cfg.API.RequestsPerSecond)),
		tokens:         tokens,
		now:            time.Now,
	}
	if cfg.Storage != nil {
		r.storage = minioStore{client: cfg.Storage}
	}
	return r, nil
}

func newHTTPClient(retryMax int, timeout time.Duration) *http.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = retryMax
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.HTTPClient.Timeout = timeout
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	retryClient.Logger = nil
	return retryClient.StandardClient()
}

func burst(rps float64) int {
	b := int(rps * 2)
	if b < 1 {
		return 1
	}
	return b
}

// doRequest sends one request to the control plane and decodes the JSON
// response into response when it is not nil.
func (r *repo) doRequest(ctx context.Context, method, path string, query url.Values, payload any, response any) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}

	u := r.baseURL.JoinPath(path)
	u.RawQuery = query.Encode()
	op := fmt.Sprintf("%s %s", method, path)

	var body io.Reader
	if payload != nil {
		jsonBytes, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("%s: marshal payload: %w", op, err)
		}
		body = bytes.NewReader(jsonBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+r.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.apiClient.Do(req)
	if err != nil {
		return transportError(ctx, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Op: op, StatusCode: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}

	if response == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportError(ctx, op, err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, response); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func (r *repo) FetchJobs(ctx context.Context) []entities.Job {
	var jobs []entities.Job
	if err := r.doRequest(ctx, http.MethodGet, "/asset-processing-job", nil, nil, &jobs); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to fetch jobs")
		return []entities.Job{}
	}
	if jobs == nil {
		return []entities.Job{}
	}
	return jobs
}

func (r *repo) UpdateJob(ctx context.Context, jobID string, update dto.JobUpdate) error {
	update = update.WithHeartbeat(r.now())
	query := url.Values{"jobId": {jobID}}
	if err := r.doRequest(ctx, http.MethodPatch, "/asset-processing-job", query, update, nil); err != nil {
		return fmt.Errorf("update job %s: %w", jobID, err)
	}
	return nil
}

func (r *repo) UpdateHeartbeat(ctx context.Context, jobID string) error {
	return r.UpdateJob(ctx, jobID, dto.NewJobUpdate())
}

// FetchAsset returns nil when the asset does not exist or cannot be fetched.
// The only error returned is the context's, so callers can tell shutdown apart
// from a missing asset.
func (r *repo) FetchAsset(ctx context.Context, assetID string) (*entities.Asset, error) {
	var asset entities.Asset
	query := url.Values{"assetId": {assetID}}
	if err := r.doRequest(ctx, http.MethodGet, "/asset", query, nil, &asset); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !IsNotFound(err) {
			zerolog.Ctx(ctx).Error().Err(err).Str("asset_id", assetID).Msg("failed to fetch asset")
		}
		return nil, nil
	}
	if asset.ID == "" {
		return nil, nil
	}
	return &asset, nil
}

func (r *repo) FetchAssetBytes(ctx context.Context, fileURL string) ([]byte, error) {
	u, err := url.Parse(fileURL)
	if err != nil {
		return nil, fmt.Errorf("parse file url: %w", err)
	}

	if u.Scheme == "s3" {
		return r.fetchObject(ctx, u)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create file request: %w", err)
	}
	// Only the control plane gets the server credential; file hosts usually
	// serve pre-signed URLs.
	if u.Host == r.baseURL.Host {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	op := "GET " + u.Redacted()
	resp, err := r.downloadClient.Do(req)
	if err != nil {
		return nil, transportError(ctx, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Op: op, StatusCode: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(ctx, op, err)
	}
	return data, nil
}

func (r *repo) fetchObject(ctx context.Context, u *url.URL) ([]byte, error) {
	if r.storage == nil {
		return nil, fmt.Errorf("fetch %s: %w", u.String(), ErrStorageNotConfigured)
	}

	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")
	obj, err := r.storage.GetObject(ctx, bucket, key)
	if err != nil {
		return nil, transportError(ctx, "get object "+u.String(), err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, transportError(ctx, "read object "+u.String(), err)
	}
	return data, nil
}

func (r *repo) UpdateAssetContent(ctx context.Context, assetID string, content string) error {
	payload := dto.AssetContentUpdate{
		Content:    content,
		TokenCount: r.tokens.Count(content),
	}
	query := url.Values{"assetId": {assetID}}
	if err := r.doRequest(ctx, http.MethodPatch, "/asset", query, payload, nil); err != nil {
		return fmt.Errorf("update asset %s content: %w", assetID, err)
	}
	return nil
}

func transportError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	return fmt.Errorf("%s: %w", op, errors.Join(ErrTransport, err))
}

func readErrorBody(body io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(body, maxErrorBody))
	return strings.TrimSpace(string(raw))
}
