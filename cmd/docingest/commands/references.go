package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spherical/doc-ingest/cmd/docingest/ui"
)

var referencesCmd = &cobra.Command{
	Use:   "references",
	Short: "Load the reference diagrams and show their feature counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		refs, _ := loadReferences(ctx, cfg)

		ui.Section("Reference diagrams")
		ui.KeyValue("Directory", cfg.Classifier.ReferencesDir)
		ui.KeyValue("Threshold", fmt.Sprintf("%.3f", cfg.Classifier.Threshold))
		ui.Newline()

		stats := refs.Stats()
		rows := make([][]string, 0, len(stats))
		for _, s := range stats {
			rows = append(rows, []string{s.Name, fmt.Sprintf("%d", s.Keypoints), fmt.Sprintf("%dx%d", s.Width, s.Height)})
		}
		if len(rows) > 0 {
			ui.Table([]string{"NAME", "KEYPOINTS", "SIZE"}, rows)
			ui.Newline()
		}

		for _, name := range refs.Dropped() {
			ui.Warning("Dropped %s", name)
		}
		if refs.Available() {
			ui.Success("%d reference diagrams ready", len(stats))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(referencesCmd)
}
