package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/loqalabs/loqa-narrator/internal/text"
	"github.com/spf13/cobra"
)

var (
	chunkMaxChars int
	chunkMerge    bool
	chunkRaw      bool
)

var chunkCmd = &cobra.Command{
	Use:   "chunk <file|->",
	Short: "Show how a text would be split for synthesis",
	Args:  cobra.ExactArgs(1),
	RunE:  runChunk,
}

func init() {
	chunkCmd.Flags().IntVar(&chunkMaxChars, "max-chars", 0, "maximum characters per chunk (default from config)")
	chunkCmd.Flags().BoolVar(&chunkMerge, "merge-paragraphs", false, "let chunks span paragraph boundaries")
	chunkCmd.Flags().BoolVar(&chunkRaw, "raw", false, "skip text normalization")
	rootCmd.AddCommand(chunkCmd)
}

func runChunk(cmd *cobra.Command, args []string) error {
	input, err := readInput(args[0])
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	opts := text.Options{MaxChunkChars: cfg.Chunking.MaxChunkChars, MergeParagraphs: cfg.Chunking.MergeParagraphs || chunkMerge}
	if chunkMaxChars > 0 {
		opts.MaxChunkChars = chunkMaxChars
	}
	if cfg.Chunking.Normalize && !chunkRaw {
		input = text.Normalize(input)
	}
	chunks, err := text.Split(input, opts)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tCHARS\tEST\tFLAGS\tTEXT")
	total := 0.0
	for _, c := range chunks {
		est := text.EstimateDuration(c.Text, cfg.Synthesis.LengthScale, cfg.Synthesis.SentenceSilence)
		total += est
		fmt.Fprintf(tw, "%d\t%d\t%.1fs\t%s\t%s\n", c.Index, c.CharCount, est, flags(c), preview(c.Text, 60))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d chunks, about %.0fs of speech\n", len(chunks), total)
	return nil
}

func flags(c text.Chunk) string {
	var out []string
	if c.ChapterStart {
		out = append(out, "chapter")
	}
	if c.ParagraphStart {
		out = append(out, "para")
	}
	if len(out) == 0 {
		return "-"
	}
	return strings.Join(out, ",")
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
