package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/loqalabs/loqa-narrator/internal/jobs"
	"github.com/loqalabs/loqa-narrator/internal/runtime"
	"github.com/spf13/cobra"
)

var convertOutput string

var convertCmd = &cobra.Command{
	Use:   "convert <file|->",
	Short: "Convert a text file into a WAV narration",
	Long: `Runs a full conversion job in-process and writes the assembled
audio to --output. Progress is reported per synthesized chunk. Ctrl-C
cancels the job at the next chunk boundary.`,
	Args: cobra.ExactArgs(1),
	RunE: runConvert,
}

func init() {
	convertCmd.Flags().StringVarP(&convertOutput, "output", "o", "", "output WAV path (default: <input>.wav)")
	addVoiceFlags(convertCmd)
	rootCmd.AddCommand(convertCmd)
}

func runConvert(cmd *cobra.Command, args []string) error {
	input, err := readInput(args[0])
	if err != nil {
		return err
	}
	out := convertOutput
	if out == "" {
		out = defaultOutput(args[0])
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	workDir, err := os.MkdirTemp("", "narrate-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(workDir)
	cfg.Storage.OutputDir = workDir

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// the pipeline outlives ctx so a cancelled job can still record its failure
	p, err := runtime.NewPipeline(context.WithoutCancel(ctx), cfg, newLogger())
	if err != nil {
		return err
	}
	defer p.Close()
	if err := p.Start(); err != nil {
		return err
	}

	v, err := voice.overrides(cmd).Apply(p.Jobs.DefaultVoice())
	if err != nil {
		return err
	}
	id, err := p.Jobs.Submit(ctx, input, v)
	if err != nil {
		return err
	}
	view, err := follow(ctx, cmd.ErrOrStderr(), p.Jobs, id)
	if err != nil {
		return err
	}
	if view.Status == jobs.StatusFailed {
		return fmt.Errorf("conversion failed (%s): %s", view.ErrorCode, view.Error)
	}

	if err := copyFile(view.OutputRef(), out); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s, %s of audio, %d chunks)\n",
		out, humanize.Bytes(uint64(view.Output.Bytes)),
		(time.Duration(view.Output.DurationSeconds * float64(time.Second))).Round(time.Second),
		view.TotalChunks)
	return nil
}

// follow polls the job until it is terminal. Once ctx is done the job is
// cancelled and polling continues until the runner records the outcome.
func follow(ctx context.Context, w io.Writer, svc *jobs.Service, id string) (jobs.StatusView, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	done := ctx.Done()
	last := -1
	for {
		view, err := svc.GetStatus(context.Background(), id)
		if err != nil {
			return view, err
		}
		if view.CompletedSegments != last {
			last = view.CompletedSegments
			fmt.Fprintf(w, "\r[%3d%%] %d/%d chunks", view.ProgressPercent, view.CompletedSegments, view.TotalChunks)
		}
		if view.Status.Terminal() {
			fmt.Fprintln(w)
			return view, nil
		}
		select {
		case <-ticker.C:
		case <-done:
			done = nil
			fmt.Fprintln(w, "\ncancelling...")
			if _, err := svc.Cancel(context.Background(), id); err != nil && !errors.Is(err, jobs.ErrTerminal) {
				return view, err
			}
		}
	}
}

func defaultOutput(input string) string {
	if input == "-" {
		return "narration.wav"
	}
	return strings.TrimSuffix(input, filepath.Ext(input)) + ".wav"
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return out.Close()
}
