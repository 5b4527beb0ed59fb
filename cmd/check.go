package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"worker-asset-processing/config"
	"worker-asset-processing/pkg/monitor"
	"worker-asset-processing/pkg/tokenizer"
)

func check(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "verify ffmpeg, ffprobe, the tokenizer and the temp directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChecks(cmd.Context(), config, cmd.OutOrStdout(), monitor.ToolVersion)
		},
	}
}

type versionFunc func(ctx context.Context, path string) (string, error)

func runChecks(ctx context.Context, cfg *config.Config, out io.Writer, version versionFunc) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs []error
	report := func(name string, detail string, err error) {
		if err != nil {
			fmt.Fprintf(out, "FAIL %-10s %v\n", name, err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		fmt.Fprintf(out, "ok   %-10s %s\n", name, detail)
	}

	v, err := version(ctx, cfg.Media.FFmpegPath)
	report("ffmpeg", v, err)
	v, err = version(ctx, cfg.Media.FFprobePath)
	report("ffprobe", v, err)

	counter, err := tokenizer.New()
	if err == nil {
		report("tokenizer", fmt.Sprintf("%d tokens in probe text", counter.Count("hello world")), nil)
	} else {
		report("tokenizer", "", err)
	}

	report("temp_dir", cfg.Media.TempDir, checkWritable(cfg.Media.TempDir))

	if stats, err := monitor.Stats(ctx); err == nil {
		fmt.Fprintf(out, "host cpu %.1f%% ram %.1f%%\n", stats.CPUPercent, stats.RAMPercent)
	}

	return errors.Join(errs...)
}

func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".check-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}
