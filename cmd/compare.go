package cmd

import (
	"fmt"
	"os"

	"htdiag/internal/analyzer"
	"htdiag/internal/output"

	"github.com/spf13/cobra"
)

var compareCmd = &cobra.Command{
	Use:   "compare <baseline.json> <candidate.json>",
	Short: "Attribute the latency difference between two runs",
	Long: `Diagnose two runs of the same statement and attribute the latency
difference between them to a primary cause: data-volume change,
backend-storage latency change or execution-environment change.

Runs with different statement fingerprints are rejected unless --force is
given; a changed statement invalidates the attribution.`,
	Example: `  # Compare two record files
  htdiag compare monday.json friday.json

  # Attach plan exports
  htdiag compare monday.json friday.json --plan-a monday-plan.json --plan-b friday-plan.json

  # Compare despite differing fingerprints
  htdiag compare before.json after-rewrite.json --force`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		planA, _ := cmd.Flags().GetString("plan-a")
		planB, _ := cmd.Flags().GetString("plan-b")
		force, _ := cmd.Flags().GetBool("force")
		format, _ := cmd.Flags().GetString("format")

		if format != "text" && format != "json" {
			return fmt.Errorf("invalid output format %q: must be \"text\" or \"json\"", format)
		}

		baseline, err := pairInput(args[0], planA)
		if err != nil {
			return err
		}
		candidate, err := pairInput(args[1], planB)
		if err != nil {
			return err
		}

		pair := analyzer.New().AnalyzePair(cmd.Context(), baseline, candidate, force)

		if format == "json" {
			err = output.RenderJSON(os.Stdout, pair)
		} else {
			err = output.RenderPairText(os.Stdout, pair)
		}
		if err != nil {
			return err
		}
		if pair.Status == analyzer.StatusError {
			return fmt.Errorf("comparison failed: %s", pair.Code)
		}
		return nil
	},
}

func pairInput(recordFile, planFile string) (analyzer.PairInput, error) {
	rec, err := readRecord(recordFile)
	if err != nil {
		return analyzer.PairInput{}, err
	}
	in := analyzer.PairInput{Record: rec}
	if planFile != "" {
		in.PlanExport, err = os.ReadFile(planFile)
		if err != nil {
			return analyzer.PairInput{}, fmt.Errorf("reading plan export: %w", err)
		}
	}
	return in, nil
}

func init() {
	rootCmd.AddCommand(compareCmd)
	compareCmd.Flags().String("plan-a", "", "Plan export for the baseline run")
	compareCmd.Flags().String("plan-b", "", "Plan export for the candidate run")
	compareCmd.Flags().Bool("force", false, "Compare even when statement fingerprints differ")
	compareCmd.Flags().StringP("format", "f", "text", "Output format: text, json")
}
