package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/loqalabs/loqa-narrator/internal/runtime"
	"github.com/spf13/cobra"
)

var (
	previewOutput string
	previewFile   string
)

var previewCmd = &cobra.Command{
	Use:   "preview [text]",
	Short: "Synthesize a short sample with the chosen voice",
	Long: `Synthesizes a short text synchronously, without creating a job, so
voice settings can be compared quickly. The text is limited to
preview.max_chars characters.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPreview,
}

func init() {
	previewCmd.Flags().StringVarP(&previewOutput, "output", "o", "preview.wav", "output WAV path")
	previewCmd.Flags().StringVarP(&previewFile, "file", "f", "", "read the sample text from a file")
	addVoiceFlags(previewCmd)
	rootCmd.AddCommand(previewCmd)
}

func runPreview(cmd *cobra.Command, args []string) error {
	var input string
	switch {
	case previewFile != "":
		text, err := readInput(previewFile)
		if err != nil {
			return err
		}
		input = text
	case len(args) == 1:
		input = args[0]
	default:
		return errors.New("provide the sample text as an argument or with --file")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	workDir, err := os.MkdirTemp("", "narrate-preview-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(workDir)
	cfg.Storage.OutputDir = workDir

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	p, err := runtime.NewPipeline(ctx, cfg, newLogger())
	if err != nil {
		return err
	}
	defer p.Close()

	v, err := voice.overrides(cmd).Apply(p.Jobs.DefaultVoice())
	if err != nil {
		return err
	}
	res, err := p.Previews.Preview(ctx, input, v)
	if err != nil {
		return err
	}
	if err := copyFile(res.Ref, previewOutput); err != nil {
		return err
	}
	if err := p.Previews.Discard(context.WithoutCancel(ctx), res.ID); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%.2fs, estimated %.2fs)\n",
		previewOutput, res.DurationSeconds, res.DurationEstimate)
	return nil
}
