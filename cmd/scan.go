package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/foodlens/foodlens/internal/utils"
	"github.com/foodlens/foodlens/pkg/detect"
	"github.com/foodlens/foodlens/pkg/imgutil"
	"github.com/foodlens/foodlens/pkg/scan"
)

var (
	scanLang  string
	scanFocus string
)

var scanCmd = &cobra.Command{
	Use:   "scan [image file]",
	Short: "Scan a product photo and print the event stream",
	Long:  "Run the full detection, text extraction and catalog resolution pipeline on a local image, printing newline-delimited JSON events to stdout",
	Args:  cobra.ExactArgs(1),
	RunE:  runScan,
}

func init() {
	RootCmd.AddCommand(scanCmd)
	scanCmd.Flags().StringVar(&scanLang, "lang", "", "Language hints for text recognition, e.g. es+en")
	scanCmd.Flags().StringVar(&scanFocus, "focus", "", `Focus points as a JSON array, e.g. [{"x":0.5,"y":0.4}]`)
}

func runScan(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}
	img, _, err := imgutil.Decode(data)
	if err != nil {
		return fmt.Errorf("decoding %s: %w", args[0], err)
	}

	opts := scan.Options{Lang: scanLang}
	if scanFocus != "" {
		var points []detect.FocusPoint
		if err := json.Unmarshal([]byte(scanFocus), &points); err != nil {
			return fmt.Errorf("parsing focus points: %w", err)
		}
		if len(points) > scan.MaxFocusPoints {
			points = points[:scan.MaxFocusPoints]
		}
		opts.Focus = points
	}

	pipeline, _, cleanup, err := buildPipeline(cmd.Context())
	if err != nil {
		utils.ExitOnError("unable to initialize external services", err)
	}
	defer cleanup()

	return pipeline.Run(cmd.Context(), img, opts, os.Stdout)
}
