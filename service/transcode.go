package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"worker-asset-processing/config"
	"worker-asset-processing/entities"
)

const maxOutputTail = 2048

// MediaPipeline turns audio and video assets into transcription-sized chunks.
type MediaPipeline interface {
	SplitAudio(ctx context.Context, data []byte, maxChunkBytes int64, fileName string) ([]entities.Chunk, error)
	ExtractAudioAndSplit(ctx context.Context, data []byte, maxChunkBytes int64, fileName string) ([]entities.Chunk, error)
}

// PipelineError reports which media stage failed along with the tail of the
// tool output.
type PipelineError struct {
	Stage   string
	Message string
	Output  string
	Err     error
}

func (e *PipelineError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Stage, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Output != "" {
		msg += " (" + e.Output + ")"
	}
	return msg
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

type commandResult struct {
	Stdout []byte
	Stderr []byte
}

type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return commandResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}, err
}

type pipeline struct {
	ffmpegPath  string
	ffprobePath string
	tempDir     string
	runner      commandRunner
}

func NewMediaPipeline(cfg config.Media) MediaPipeline {
	return newPipeline(cfg, execRunner{})
}

func newPipeline(cfg config.Media, runner commandRunner) *pipeline {
	return &pipeline{
		ffmpegPath:  cfg.FFmpegPath,
		ffprobePath: cfg.FFprobePath,
		tempDir:     cfg.TempDir,
		runner:      runner,
	}
}

// SplitAudio converts data to MP3 when needed and cuts it into segments of
// roughly equal duration, none larger than maxChunkBytes.
func (p *pipeline) SplitAudio(ctx context.Context, data []byte, maxChunkBytes int64, fileName string) ([]entities.Chunk, error) {
	workspace, err := p.workspace()
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(workspace)

	return p.splitAudio(ctx, workspace, data, maxChunkBytes, fileName)
}

// ExtractAudioAndSplit pulls the audio stream out of a video and splits it.
func (p *pipeline) ExtractAudioAndSplit(ctx context.Context, data []byte, maxChunkBytes int64, fileName string) ([]entities.Chunk, error) {
	workspace, err := p.workspace()
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(workspace)

	base, stem := splitName(fileName)
	inputPath := filepath.Join(workspace, base)
	if err := os.WriteFile(inputPath, data, 0o644); err != nil {
		return nil, &PipelineError{Stage: "extract", Message: "write input", Err: err}
	}

	audioName := stem + ".mp3"
	if audioName == base {
		audioName = stem + "_audio.mp3"
	}
	audioPath := filepath.Join(workspace, audioName)

	zerolog.Ctx(ctx).Info().Str("file", base).Msg("extracting audio from video")
	if err := p.ffmpeg(ctx, "extract",
		"-y", "-i", inputPath,
		"-map", "a",
		"-c:a", "libmp3lame", "-q:a", "0",
		audioPath,
	); err != nil {
		return nil, err
	}

	audio, err := os.ReadFile(audioPath)
	if err != nil {
		return nil, &PipelineError{Stage: "extract", Message: "read extracted audio", Err: err}
	}

	splitDir := filepath.Join(workspace, "split")
	if err := os.MkdirAll(splitDir, os.ModePerm); err != nil {
		return nil, &PipelineError{Stage: "extract", Message: "create split directory", Err: err}
	}
	return p.splitAudio(ctx, splitDir, audio, maxChunkBytes, audioName)
}

func (p *pipeline) splitAudio(ctx context.Context, dir string, data []byte, maxChunkBytes int64, fileName string) ([]entities.Chunk, error) {
	logger := zerolog.Ctx(ctx)
	base, stem := splitName(fileName)

	inputPath := filepath.Join(dir, base)
	if err := os.WriteFile(inputPath, data, 0o644); err != nil {
		return nil, &PipelineError{Stage: "split", Message: "write input", Err: err}
	}

	mp3Path := inputPath
	if !strings.EqualFold(filepath.Ext(base), ".mp3") {
		mp3Path = filepath.Join(dir, stem+"_converted.mp3")
		logger.Info().Str("file", base).Msg("converting audio to mp3")
		if err := p.ffmpeg(ctx, "convert",
			"-y", "-i", inputPath,
			"-vn", "-f", "mp3",
			"-c:a", "libmp3lame", "-q:a", "0",
			mp3Path,
		); err != nil {
			return nil, err
		}
	}

	size, duration, err := p.probe(ctx, mp3Path)
	if err != nil {
		return nil, err
	}

	numChunks := int64(1)
	if maxChunkBytes > 0 && size > maxChunkBytes {
		numChunks = int64(math.Ceil(float64(size) / float64(maxChunkBytes)))
	}

	prefix := stem + "_chunk_"
	if numChunks == 1 {
		audio, err := os.ReadFile(mp3Path)
		if err != nil {
			return nil, &PipelineError{Stage: "split", Message: "read audio", Err: err}
		}
		if maxChunkBytes > 0 && int64(len(audio)) > maxChunkBytes {
			return nil, &PipelineError{Stage: "split", Message: fmt.Sprintf("audio of %d bytes exceeds the maximum chunk size", len(audio))}
		}
		return []entities.Chunk{{Index: 0, FileName: prefix + "000.mp3", Size: len(audio), Data: audio}}, nil
	}

	if duration <= 0 {
		return nil, &PipelineError{Stage: "split", Message: "audio duration is unknown, cannot split"}
	}
	segmentTime := duration / float64(numChunks)
	logger.Info().
		Int64("size", size).
		Float64("duration", duration).
		Int64("chunks", numChunks).
		Float64("segment_time", segmentTime).
		Msg("splitting audio")

	if err := p.ffmpeg(ctx, "split",
		"-y", "-i", mp3Path,
		"-f", "segment",
		"-segment_time", strconv.FormatFloat(segmentTime, 'f', 3, 64),
		"-c", "copy",
		"-reset_timestamps", "1",
		filepath.Join(dir, prefix+"%03d.mp3"),
	); err != nil {
		return nil, err
	}

	return readChunks(dir, prefix, maxChunkBytes)
}

func readChunks(dir, prefix string, maxChunkBytes int64) ([]entities.Chunk, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &PipelineError{Stage: "split", Message: "list chunks", Err: err}
	}

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ".mp3") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if len(names) == 0 {
		return nil, &PipelineError{Stage: "split", Message: "ffmpeg produced no chunks"}
	}

	chunks := make([]entities.Chunk, 0, len(names))
	for i, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, &PipelineError{Stage: "split", Message: "read chunk " + name, Err: err}
		}
		if int64(len(data)) > maxChunkBytes {
			return nil, &PipelineError{Stage: "split", Message: fmt.Sprintf("chunk %s exceeds the maximum chunk size after splitting", name)}
		}
		chunks = append(chunks, entities.Chunk{Index: i, FileName: name, Size: len(data), Data: data})
	}
	return chunks, nil
}

type probeOutput struct {
	Format struct {
		Size     string `json:"size"`
		Duration string `json:"duration"`
	} `json:"format"`
}

func (p *pipeline) probe(ctx context.Context, path string) (int64, float64, error) {
	res, err := p.runner.Run(ctx, p.ffprobePath,
		"-v", "error",
		"-show_entries", "format=size,duration",
		"-of", "json",
		path,
	)
	if err != nil {
		return 0, 0, &PipelineError{Stage: "probe", Message: "ffprobe failed", Output: tail(res.Stderr), Err: err}
	}

	var out probeOutput
	if err := json.Unmarshal(res.Stdout, &out); err != nil {
		return 0, 0, &PipelineError{Stage: "probe", Message: "decode ffprobe output", Err: err}
	}

	size, err := strconv.ParseInt(out.Format.Size, 10, 64)
	if err != nil {
		info, statErr := os.Stat(path)
		if statErr != nil {
			return 0, 0, &PipelineError{Stage: "probe", Message: "unknown audio size", Err: errors.Join(err, statErr)}
		}
		size = info.Size()
	}
	// A missing duration only matters when the audio has to be split.
	duration, _ := strconv.ParseFloat(out.Format.Duration, 64)
	return size, duration, nil
}

func (p *pipeline) ffmpeg(ctx context.Context, stage string, args ...string) error {
	zerolog.Ctx(ctx).Debug().Str("stage", stage).Strs("args", args).Msg("executing ffmpeg")
	res, err := p.runner.Run(ctx, p.ffmpegPath, args...)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &PipelineError{Stage: stage, Message: "ffmpeg execution failed", Output: tail(res.Stderr), Err: err}
	}
	return nil
}

func (p *pipeline) workspace() (string, error) {
	dir := filepath.Join(p.tempDir, uuid.NewString())
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return "", &PipelineError{Stage: "workspace", Message: "create temp directory", Err: err}
	}
	return dir, nil
}

func splitName(fileName string) (base, stem string) {
	base = filepath.Base(fileName)
	if base == "." || base == string(filepath.Separator) || base == "" {
		base = "audio"
	}
	stem = strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" {
		stem = "audio"
	}
	return base, stem
}

func tail(out []byte) string {
	s := strings.TrimSpace(string(out))
	if len(s) > maxOutputTail {
		s = s[len(s)-maxOutputTail:]
	}
	return s
}
