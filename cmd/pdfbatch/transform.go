package main

import (
	"github.com/spf13/cobra"

	"pdfbatch/ops"
)

func newMergeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "merge <input.pdf>...",
		Short: "Concatenate documents into one",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runOne(cmd, a.spec(cmd, ops.KindMerge, args, nil))
		},
	}
}

func newSplitCmd(a *app) *cobra.Command {
	var ranges string
	var every int
	cmd := &cobra.Command{
		Use:   "split <input.pdf>",
		Short: "Split a document into parts",
		Long: `Split by explicit page ranges ("1-3;4;5-8") or into fixed-size
chunks with --every. Without either flag every page becomes its own
document.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runOne(cmd, a.spec(cmd, ops.KindSplit, args,
				ops.Params{"ranges": ranges, "every": every}))
		},
	}
	cmd.Flags().StringVar(&ranges, "ranges", "", "semicolon-separated page ranges, 1-based")
	cmd.Flags().IntVar(&every, "every", 0, "pages per output document")
	return cmd
}

func newRotateCmd(a *app) *cobra.Command {
	var angle int
	var pages string
	cmd := &cobra.Command{
		Use:   "rotate <input.pdf>...",
		Short: "Rotate pages by a multiple of 90 degrees",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runOne(cmd, a.spec(cmd, ops.KindRotate, args,
				ops.Params{"angle": angle, "pages": pages}))
		},
	}
	cmd.Flags().IntVar(&angle, "angle", 90, "rotation in degrees, clockwise")
	cmd.Flags().StringVar(&pages, "pages", "all", "pages to rotate, e.g. 1,3-5")
	return cmd
}

func newReorderCmd(a *app) *cobra.Command {
	var order []int
	cmd := &cobra.Command{
		Use:   "reorder <input.pdf>",
		Short: "Permute the page order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runOne(cmd, a.spec(cmd, ops.KindReorder, args,
				ops.Params{"order": order}))
		},
	}
	cmd.Flags().IntSliceVar(&order, "order", nil, "new page order, 1-based, e.g. 3,1,2")
	_ = cmd.MarkFlagRequired("order")
	return cmd
}

func newCompressCmd(a *app) *cobra.Command {
	var quality string
	cmd := &cobra.Command{
		Use:   "compress <input.pdf>...",
		Short: "Shrink documents by recompressing images and streams",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("quality") {
				quality = a.v.GetString("quality")
			}
			return a.runOne(cmd, a.spec(cmd, ops.KindCompress, args,
				ops.Params{"quality": quality}))
		},
	}
	cmd.Flags().StringVar(&quality, "quality", "medium", "low, medium or high")
	return cmd
}

func newWatermarkCmd(a *app) *cobra.Command {
	var (
		text, layer, pages string
		opacity, size      float64
		angle              float64
	)
	cmd := &cobra.Command{
		Use:   "watermark <input.pdf>...",
		Short: "Stamp a text watermark across pages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runOne(cmd, a.spec(cmd, ops.KindWatermark, args, ops.Params{
				"text": text, "layer": layer, "opacity": opacity,
				"size": size, "angle": angle, "pages": pages,
			}))
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "watermark text")
	cmd.Flags().StringVar(&layer, "layer", "under", "draw under or over the page content")
	cmd.Flags().Float64Var(&opacity, "opacity", 0.3, "fill opacity")
	cmd.Flags().Float64Var(&size, "size", 48, "font size in points")
	cmd.Flags().Float64Var(&angle, "angle", 45, "rotation in degrees")
	cmd.Flags().StringVar(&pages, "pages", "all", "pages to stamp")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func newPaginateCmd(a *app) *cobra.Command {
	var format string
	var size, margin float64
	cmd := &cobra.Command{
		Use:   "paginate <input.pdf>...",
		Short: "Stamp page numbers",
		Long:  `The format string may use {page} and {pages} placeholders.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runOne(cmd, a.spec(cmd, ops.KindPaginate, args, ops.Params{
				"format": format, "size": size, "margin": margin,
			}))
		},
	}
	cmd.Flags().StringVar(&format, "format", "{page}", "number format")
	cmd.Flags().Float64Var(&size, "size", 10, "font size in points")
	cmd.Flags().Float64Var(&margin, "margin", 30, "distance from the bottom edge")
	return cmd
}
