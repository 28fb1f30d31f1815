package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/loqalabs/loqa-narrator/internal/tts"
	"github.com/spf13/cobra"
)

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List the voice presets accepted by --preset",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tLENGTH\tNOISE\tNOISE_W\tSILENCE\tBEST FOR")
		for _, p := range tts.ListPresets() {
			fmt.Fprintf(tw, "%s\t%.2f\t%.2f\t%.2f\t%.2fs\t%s\n",
				p.Name, p.LengthScale, p.NoiseScale, p.NoiseW, p.SentenceSilence, strings.Join(p.BestFor, ", "))
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(presetsCmd)
}
