package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"image-labeler-be/internal/config"
	"image-labeler-be/pkg/export"
	"image-labeler-be/pkg/imageio"
	"image-labeler-be/pkg/labels"
	"image-labeler-be/pkg/oracle"
	"image-labeler-be/pkg/oracle/factory"
	"image-labeler-be/pkg/results"

	"github.com/fatih/color"
)

type cliOptions struct {
	imagePath string
	preset    string
	labels    string
	csvPath   string
	backend   string
	threshold float64
}

func main() {
	opts, err := parseFlags()
	if err != nil {
		log.Fatalf("labeler-cli: %v", err)
	}
	if err := run(opts); err != nil {
		color.Red("labeler-cli: %v", err)
		os.Exit(1)
	}
}

func parseFlags() (cliOptions, error) {
	var opts cliOptions
	flag.StringVar(&opts.imagePath, "image", "", "Image file to label (jpg, png, gif, webp)")
	flag.StringVar(&opts.preset, "preset", "General", "Preset name: "+strings.Join(labels.Modes(), ", "))
	flag.StringVar(&opts.labels, "labels", "", "Comma-separated custom labels (implies --preset Custom)")
	flag.StringVar(&opts.csvPath, "csv", "", "Write the confident labels to this CSV file")
	flag.StringVar(&opts.backend, "backend", "", "Override ORACLE_BACKEND (huggingface or clip)")
	flag.Float64Var(&opts.threshold, "threshold", -1, "Override CONFIDENCE_THRESHOLD")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s --image FILE [--preset NAME | --labels \"a, b\"] [options]\n\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	opts.imagePath = strings.TrimSpace(opts.imagePath)
	opts.csvPath = strings.TrimSpace(opts.csvPath)
	if strings.TrimSpace(opts.labels) != "" {
		opts.preset = labels.CustomMode
	}

	if opts.imagePath == "" {
		flag.Usage()
		return opts, errors.New("missing required --image file")
	}
	return opts, nil
}

func run(opts cliOptions) error {
	cfg := config.Load()
	if opts.backend != "" {
		cfg.Oracle.Backend = opts.backend
	}
	threshold := cfg.Labeler.ConfidenceThreshold
	if opts.threshold >= 0 {
		threshold = opts.threshold
	}
	if !results.ValidThreshold(threshold) {
		return fmt.Errorf("invalid threshold %v", threshold)
	}

	set, err := labels.Build(opts.preset, opts.labels)
	if err != nil {
		return err
	}
	if err := labels.Require(set); err != nil {
		return err
	}

	data, err := os.ReadFile(opts.imagePath)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}
	img, err := imageio.Decode(data, opts.imagePath, imageio.Options{MaxPixels: cfg.Labeler.MaxImagePixels})
	if err != nil {
		return err
	}

	o, err := factory.NewOracle(factory.Options{
		Backend:            cfg.Oracle.Backend,
		ModelID:            cfg.Oracle.ModelID,
		Timeout:            cfg.Oracle.Timeout,
		HuggingFaceBaseURL: cfg.Oracle.HFBaseURL,
		HuggingFaceAPIKey:  cfg.Oracle.HFAPIKey,
		OrtLibraryPath:     cfg.Oracle.OrtLibraryPath,
		OnnxModelPath:      cfg.Oracle.OnnxModelPath,
		TokenizerPath:      cfg.Oracle.TokenizerPath,
		PromptTemplate:     cfg.Oracle.PromptTemplate,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", oracle.ErrOracleUnavailable, err)
	}
	if c, ok := o.(oracle.Closer); ok {
		defer c.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Oracle.Timeout)
	defer cancel()

	color.Cyan("Labeling %s (%dx%d, %s) with %d labels via %s",
		filepath.Base(opts.imagePath), img.Width, img.Height, img.MIMEType, len(set), o.ModelID())

	raw, err := o.Classify(ctx, img, set)
	if err != nil {
		return err
	}
	filtered := results.Filter(raw, threshold)

	for _, r := range raw {
		if r.Score > threshold {
			color.Green("  ✔ %s", results.Tag(r))
		} else {
			color.White("    %s", results.Tag(r))
		}
	}
	if results.OutcomeOf(filtered) == results.OutcomeNoConfidentMatch {
		color.Yellow("No confident match above %.0f%%", threshold*100)
	}

	if opts.csvPath != "" {
		f, err := os.Create(opts.csvPath)
		if err != nil {
			return fmt.Errorf("create csv: %w", err)
		}
		defer f.Close()
		if err := export.WriteCSV(f, filtered); err != nil {
			return fmt.Errorf("write csv: %w", err)
		}
		color.Cyan("Wrote %d row(s) to %s", len(filtered), opts.csvPath)
	}
	return nil
}
