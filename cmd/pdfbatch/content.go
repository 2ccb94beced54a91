package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pdfbatch/ops"
)

func newAddTextCmd(a *app) *cobra.Command {
	var (
		text, pages string
		x, y        float64
		size, gray  float64
	)
	cmd := &cobra.Command{
		Use:   "add-text <input.pdf>",
		Short: "Draw a text string onto pages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runOne(cmd, a.spec(cmd, ops.KindAddText, args, ops.Params{
				"text": text, "x": x, "y": y, "size": size,
				"gray": gray, "pages": pages,
			}))
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "text to draw")
	cmd.Flags().Float64Var(&x, "x", 72, "left offset in points")
	cmd.Flags().Float64Var(&y, "y", 720, "bottom offset in points")
	cmd.Flags().Float64Var(&size, "size", 12, "font size in points")
	cmd.Flags().Float64Var(&gray, "gray", 0, "fill gray level, 0 black to 1 white")
	cmd.Flags().StringVar(&pages, "pages", "all", "pages to draw on")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func newAddImageCmd(a *app) *cobra.Command {
	var (
		imagePath     string
		page          int
		x, y          float64
		width, height float64
	)
	cmd := &cobra.Command{
		Use:   "add-image <input.pdf>",
		Short: "Draw a PNG or JPEG onto a page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(imagePath)
			if err != nil {
				return fmt.Errorf("read image: %w", err)
			}
			return a.runOne(cmd, a.spec(cmd, ops.KindAddImage, args, ops.Params{
				"image": data, "page": page, "x": x, "y": y,
				"width": width, "height": height,
			}))
		},
	}
	cmd.Flags().StringVar(&imagePath, "image", "", "image file to embed")
	cmd.Flags().IntVar(&page, "page", 1, "target page, 1-based")
	cmd.Flags().Float64Var(&x, "x", 72, "left offset in points")
	cmd.Flags().Float64Var(&y, "y", 72, "bottom offset in points")
	cmd.Flags().Float64Var(&width, "width", 0, "drawn width in points (0 = natural size)")
	cmd.Flags().Float64Var(&height, "height", 0, "drawn height in points (0 = keep aspect)")
	_ = cmd.MarkFlagRequired("image")
	return cmd
}

func newExtractTextCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "extract-text <input.pdf>...",
		Short: "Extract page text into .txt artifacts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runOne(cmd, a.spec(cmd, ops.KindExtractText, args, nil))
		},
	}
}

func newExtractImagesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "extract-images <input.pdf>...",
		Short: "Extract embedded raster images",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runOne(cmd, a.spec(cmd, ops.KindExtractImages, args, nil))
		},
	}
}

func newMetadataCmd(a *app) *cobra.Command {
	fields := []string{"title", "author", "subject", "keywords", "creator", "producer"}
	values := make(map[string]*string, len(fields))
	cmd := &cobra.Command{
		Use:   "metadata <input.pdf>...",
		Short: "Edit document information fields",
		Long: `Only the flags given change; passing an empty string clears the
field. The modification date is stamped on every edit.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := ops.Params{}
			for _, f := range fields {
				if cmd.Flags().Changed(f) {
					params[f] = *values[f]
				}
			}
			return a.runOne(cmd, a.spec(cmd, ops.KindMetadataEdit, args, params))
		},
	}
	for _, f := range fields {
		values[f] = cmd.Flags().String(f, "", "document "+f)
	}
	return cmd
}
