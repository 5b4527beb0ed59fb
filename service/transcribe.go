package service

import (
	"bytes"
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/sync/errgroup"
	"worker-asset-processing/config"
	"worker-asset-processing/entities"
)

// Transcriber converts audio chunks to text. The result has one entry per
// chunk, in chunk order.
type Transcriber interface {
	TranscribeChunks(ctx context.Context, chunks []entities.Chunk) ([]string, error)
}

type audioClient interface {
	CreateTranscription(ctx context.Context, request openai.AudioRequest) (openai.AudioResponse, error)
}

type transcriber struct {
	client      audioClient
	model       string
	concurrency int
}

func NewTranscriber(cfg config.OpenAI) Transcriber {
	return newTranscriber(openai.NewClient(cfg.APIKey), cfg)
}

func newTranscriber(client audioClient, cfg config.OpenAI) *transcriber {
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	model := cfg.Model
	if model == "" {
		model = openai.Whisper1
	}
	return &transcriber{client: client, model: model, concurrency: concurrency}
}

func (t *transcriber) TranscribeChunks(ctx context.Context, chunks []entities.Chunk) ([]string, error) {
	texts := make([]string, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.concurrency)
	for i, chunk := range chunks {
		g.Go(func() error {
			zerolog.Ctx(gctx).Info().Int("chunk", i).Str("file", chunk.FileName).Msg("transcribing chunk")
			resp, err := t.client.CreateTranscription(gctx, openai.AudioRequest{
				Model:    t.model,
				FilePath: chunk.FileName,
				Reader:   bytes.NewReader(chunk.Data),
				Format:   openai.AudioResponseFormatJSON,
			})
			if err != nil {
				return fmt.Errorf("transcribe chunk %d (%s): %w", i, chunk.FileName, err)
			}
			texts[i] = resp.Text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Info().Int("chunks", len(chunks)).Msg("transcription complete")
	return texts, nil
}
