package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/bioauth/internal/extractor"
)

var compareCmd = &cobra.Command{
	Use:   "compare <sample-a> <sample-b>",
	Short: "Score two samples against each other",
	Long: `Extract embeddings from two sample files and print their similarity
score under the configured metric, without touching the enrollment store.

Examples:
  bioauth compare --modality face a.jpg b.jpg
  bioauth compare --modality voice a.wav b.wav --json`,
	Args: cobra.ExactArgs(2),
	RunE: runCompare,
}

func init() {
	rootCmd.AddCommand(compareCmd)

	addModalityFlag(compareCmd.Flags())
	compareCmd.Flags().Bool("json", false, "Output as JSON")
}

func readSample(path string, validate func([]byte) error) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := validate(data); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return data, nil
}

func runCompare(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	svc, err := a.service(cmd)
	if err != nil {
		return err
	}
	validate := func(data []byte) error { return extractor.ValidateSample(svc.Modality(), data) }

	sampleA, err := readSample(args[0], validate)
	if err != nil {
		return err
	}
	sampleB, err := readSample(args[1], validate)
	if err != nil {
		return err
	}

	result, err := svc.Compare(ctx, sampleA, sampleB)
	if err != nil {
		return err
	}

	if mustGetBool(cmd, "json") {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(result)
	}

	verdict := "different subjects"
	if result.Match {
		verdict = "same subject"
	}
	fmt.Printf("Score:      %.4f (%s)\n", result.Score, result.Metric)
	fmt.Printf("Confidence: %.2f%%\n", result.Confidence)
	fmt.Printf("Threshold:  %.4f\n", result.Threshold)
	fmt.Printf("Verdict:    %s\n", verdict)
	return nil
}
