package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spherical/doc-ingest/cmd/docingest/ui"
	"github.com/spherical/doc-ingest/internal/domain"
	"github.com/spherical/doc-ingest/internal/startup"
	"github.com/spherical/doc-ingest/internal/workpool"
)

var classifyThreshold float64

var classifyCmd = &cobra.Command{
	Use:   "classify <pdf>",
	Short: "Classify the pages of a PDF without extracting text",
	Args:  cobra.ExactArgs(1),
	RunE:  runClassify,
}

func init() {
	classifyCmd.Flags().Float64Var(&classifyThreshold, "threshold", 0, "override classifier.threshold")
	rootCmd.AddCommand(classifyCmd)
}

func runClassify(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	if cmd.Flags().Changed("threshold") {
		cfg.Classifier.Threshold = classifyThreshold
	}

	refs, detector := loadReferences(ctx, cfg)
	classifier := startup.NewClassifier(cfg, refs, detector, logger)
	rasterizer := startup.NewRasterizer(cfg, logger)
	pool := workpool.New(cfg.Pipeline.Workers)

	s := ui.NewSpinner("Rendering pages...")
	s.Start()
	doc, err := rasterizer.Rasterize(ctx, args[0], nil)
	s.Stop()
	if err != nil {
		return err
	}

	results, err := classifier.ClassifyAll(ctx, doc.Pages, pool, nil)
	if err != nil && !errors.Is(err, domain.ErrClassificationUnavailable) {
		return err
	}

	ui.Section(fmt.Sprintf("%s (threshold %.3f)", doc.Path, classifier.Threshold()))
	rows := make([][]string, 0, len(results))
	diagrams := 0
	for i, r := range results {
		if r.Label == domain.LabelDiagram {
			diagrams++
		}
		blank := ""
		if r.Blank {
			blank = "yes"
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", r.Page),
			fmt.Sprintf("%d", doc.Pages[i].SourcePage),
			string(r.Label),
			fmt.Sprintf("%.4f", r.Score),
			r.Reference,
			fmt.Sprintf("%d", r.Keypoints),
			blank,
		})
	}
	ui.Table([]string{"PAGE", "SOURCE", "LABEL", "SCORE", "REFERENCE", "KEYPOINTS", "BLANK"}, rows)
	ui.Newline()

	if err != nil {
		ui.Warning("Classification unavailable: %v", err)
	}
	if len(doc.Skipped) > 0 {
		ui.Warning("Pages that failed to render: %v", doc.Skipped)
	}
	ui.Info("%d diagram pages, %d prose pages", diagrams, len(results)-diagrams)
	return nil
}
