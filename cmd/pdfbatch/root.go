package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pdfbatch/batch"
	"pdfbatch/observability"
	"pdfbatch/ocr"
	"pdfbatch/ocr/tesseract"
	"pdfbatch/ops"
)

// app carries the resolved configuration and logger into every
// subcommand.
type app struct {
	v   *viper.Viper
	log observability.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}
	cmd := &cobra.Command{
		Use:   "pdfbatch",
		Short: "Batch PDF document operations",
		Long: `pdfbatch parses PDF files, applies structural operations (merge,
split, rotate, compress, encrypt, sign, watermark, ...) and writes the
results back out. Jobs run concurrently with isolated failures; an
optional OCR pass makes scanned pages searchable.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}

	pf := cmd.PersistentFlags()
	pf.String("config", "", "config file (default searches . and $HOME for .pdfbatch.yaml)")
	pf.StringP("output-dir", "o", "", "directory the outputs are written to")
	pf.Int("workers", 0, "worker pool size (default GOMAXPROCS)")
	pf.Int("ocr-workers", 0, "concurrent OCR slot count (default half the workers)")
	pf.String("password", "", "password for encrypted inputs")
	pf.Bool("ocr", false, "run an OCR pass over the output documents")
	pf.Bool("overwrite", false, "replace existing output files instead of suffixing")
	pf.BoolP("verbose", "v", false, "debug logging")
	for _, key := range []string{"output-dir", "workers", "ocr-workers"} {
		_ = a.v.BindPFlag(key, pf.Lookup(key))
	}

	cmd.AddCommand(
		newMergeCmd(a), newSplitCmd(a), newRotateCmd(a), newReorderCmd(a),
		newCompressCmd(a), newWatermarkCmd(a), newPaginateCmd(a),
		newAddTextCmd(a), newAddImageCmd(a),
		newExtractTextCmd(a), newExtractImagesCmd(a), newMetadataCmd(a),
		newEncryptCmd(a), newDecryptCmd(a),
		newSignCmd(a), newVerifyCmd(a), newRepairCmd(a),
		newRunCmd(a), newOpsCmd(a),
	)
	return cmd
}

// init resolves configuration in precedence order: flags, environment
// (PDFBATCH_*), config file, built-in defaults. Only the CLI reads
// settings; the library layers receive plain values.
func (a *app) init(cmd *cobra.Command) error {
	a.v.SetDefault("output-dir", ".")
	a.v.SetDefault("quality", "medium")
	a.v.SetDefault("ocr.dpi", 300)
	a.v.SetDefault("ocr.languages", []string{"eng"})
	a.v.SetEnvPrefix("PDFBATCH")
	a.v.AutomaticEnv()

	if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
		a.v.SetConfigFile(cfgFile)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	} else {
		a.v.SetConfigName(".pdfbatch")
		a.v.AddConfigPath(".")
		a.v.AddConfigPath("$HOME")
		// A missing default config file is fine.
		_ = a.v.ReadInConfig()
	}

	level := slog.LevelInfo
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})
	a.log = observability.NewSlog(slog.New(handler))
	return nil
}

// spec assembles a job from a subcommand invocation, folding in the
// persistent password and OCR flags.
func (a *app) spec(cmd *cobra.Command, kind ops.Kind, inputs []string, params ops.Params) batch.Spec {
	password, _ := cmd.Flags().GetString("password")
	wantOCR, _ := cmd.Flags().GetBool("ocr")
	overwrite, _ := cmd.Flags().GetBool("overwrite")
	return batch.Spec{
		Kind:      kind,
		Inputs:    inputs,
		Params:    params,
		Password:  password,
		OCR:       wantOCR,
		Overwrite: overwrite,
	}
}

func (a *app) runOne(cmd *cobra.Command, spec batch.Spec) error {
	return a.runAll(cmd, []batch.Spec{spec})
}

// runAll drives a processor through the given jobs and reports each
// outcome. It fails when any job fails, after every job has finished.
func (a *app) runAll(cmd *cobra.Command, specs []batch.Spec) error {
	cfg := batch.Config{
		Workers:    a.v.GetInt("workers"),
		OCRWorkers: a.v.GetInt("ocr-workers"),
		OutputDir:  a.v.GetString("output-dir"),
		Logger:     a.log,
		OCR: ocr.Config{
			DPI:       a.v.GetInt("ocr.dpi"),
			Languages: a.v.GetStringSlice("ocr.languages"),
		},
	}
	for _, s := range specs {
		if s.OCR {
			cfg.Engine = tesseract.New()
			break
		}
	}
	p := batch.New(cfg)
	defer p.Close()

	ids := make([]string, 0, len(specs))
	for _, s := range specs {
		id, err := p.Submit(s)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}
	p.Wait()

	failed := 0
	for i, id := range ids {
		st, err := p.Poll(id)
		if err != nil {
			return err
		}
		for _, w := range st.Warnings {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s: %s\n", specs[i].Kind, w)
		}
		switch st.State {
		case batch.StateSucceeded:
			for _, out := range st.Outputs {
				cmd.Println(out)
			}
		default:
			failed++
			fmt.Fprintf(cmd.ErrOrStderr(), "error: %s: %s\n", specs[i].Kind, st.Err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d jobs failed", failed, len(ids))
	}
	return nil
}

func newOpsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ops",
		Short: "List the available operations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, kind := range ops.Default(a.log).Kinds() {
				cmd.Println(kind)
			}
			return nil
		},
	}
}
