package service

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"worker-asset-processing/config"
	"worker-asset-processing/dto"
	"worker-asset-processing/entities"
	"worker-asset-processing/pkg/rabbitmq"
)

type fakeRepo struct {
	mu sync.Mutex

	asset      *entities.Asset
	assetErr   error
	bytes      []byte
	bytesErr   error
	updateErr  error
	contentErr error
	hbErr      error

	updates    []dto.JobUpdate
	heartbeats int
	contents   []string
}

func (r *fakeRepo) FetchJobs(ctx context.Context) []entities.Job {
	return []entities.Job{}
}

func (r *fakeRepo) UpdateJob(ctx context.Context, jobID string, update dto.JobUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, update)
	return r.updateErr
}

func (r *fakeRepo) UpdateHeartbeat(ctx context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.heartbeats++
	return r.hbErr
}

func (r *fakeRepo) FetchAsset(ctx context.Context, assetID string) (*entities.Asset, error) {
	return r.asset, r.assetErr
}

func (r *fakeRepo) FetchAssetBytes(ctx context.Context, fileURL string) ([]byte, error) {
	return r.bytes, r.bytesErr
}

func (r *fakeRepo) UpdateAssetContent(ctx context.Context, assetID string, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contents = append(r.contents, content)
	return r.contentErr
}

func (r *fakeRepo) heartbeatCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.heartbeats
}

func (r *fakeRepo) statusUpdates() []dto.JobUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []dto.JobUpdate
	for _, u := range r.updates {
		if u.Status != nil {
			out = append(out, u)
		}
	}
	return out
}

type fakePipeline struct {
	chunks   []entities.Chunk
	err      error
	splits   int
	extracts int
}

func (p *fakePipeline) SplitAudio(ctx context.Context, data []byte, maxChunkBytes int64, fileName string) ([]entities.Chunk, error) {
	p.splits++
	return p.chunks, p.err
}

func (p *fakePipeline) ExtractAudioAndSplit(ctx context.Context, data []byte, maxChunkBytes int64, fileName string) ([]entities.Chunk, error) {
	p.extracts++
	return p.chunks, p.err
}

type fakeTranscriber struct {
	texts []string
	err   error
}

func (t *fakeTranscriber) TranscribeChunks(ctx context.Context, chunks []entities.Chunk) ([]string, error) {
	return t.texts, t.err
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []dto.JobEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, event dto.JobEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

var _ rabbitmq.Publisher = (*recordingPublisher)(nil)

func testConfig() *config.Config {
	return &config.Config{
		Scheduler: config.Scheduler{HeartbeatInterval: time.Hour},
		Media:     config.Media{MaxChunkSizeBytes: 1024},
	}
}

func newTestService(repo *fakeRepo, pipeline *fakePipeline, transcriber *fakeTranscriber, events *recordingPublisher) *service {
	return &service{
		repo:        repo,
		pipeline:    pipeline,
		transcriber: transcriber,
		events:      events,
		cfg:         testConfig(),
		retryOpts:   []backoff.RetryOption{backoff.WithBackOff(&backoff.ZeroBackOff{})},
	}
}
