package cmd

import (
	"fmt"
	"io"
	"os"

	"htdiag/internal/analyzer"
	"htdiag/internal/output"
	"htdiag/internal/profile"
	"htdiag/internal/telemetry"

	"github.com/spf13/cobra"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [record.json]",
	Short: "Diagnose a single query run",
	Long: `Diagnose one query run from its telemetry record and optional plan export.

The record is a JSON file, "-" for stdin, or fetched from a telemetry store
with --query-id. Without a plan export the analysis runs on telemetry and SQL
text alone; plan-level checks are skipped, not failed.`,
	Example: `  # Analyze a record file with its plan export
  htdiag analyze run.json --plan run-plan.json

  # Read the record from stdin
  cat run.json | htdiag analyze -

  # Fetch record and plan from a telemetry store
  htdiag analyze --query-id 01b7c2de-0001 --profile prod

  # Machine-readable output
  htdiag analyze run.json --format json`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		planFile, _ := cmd.Flags().GetString("plan")
		queryID, _ := cmd.Flags().GetString("query-id")
		db, _ := cmd.Flags().GetString("db")
		profileName, _ := cmd.Flags().GetString("profile")
		format, _ := cmd.Flags().GetString("format")

		if format != "text" && format != "json" {
			return fmt.Errorf("invalid output format %q: must be \"text\" or \"json\"", format)
		}

		var (
			rec        telemetry.QueryRecord
			planExport []byte
			err        error
		)
		switch {
		case queryID != "":
			if len(args) > 0 {
				return fmt.Errorf("pass either a record file or --query-id, not both")
			}
			connStr, err := profile.ResolveConnStr(db, profileName)
			if err != nil {
				return err
			}
			if connStr == "" {
				return fmt.Errorf("--query-id requires a telemetry store connection (--db or --profile)")
			}
			rec, planExport, err = telemetry.Fetch(cmd.Context(), connStr, queryID)
			if err != nil {
				return err
			}
		case len(args) > 0:
			rec, err = readRecord(args[0])
			if err != nil {
				return err
			}
		default:
			return fmt.Errorf("pass a record file, \"-\" for stdin, or --query-id")
		}

		if planFile != "" {
			planExport, err = os.ReadFile(planFile)
			if err != nil {
				return fmt.Errorf("reading plan export: %w", err)
			}
		}

		rep := analyzer.New().Analyze(cmd.Context(), rec, planExport)

		if err := render(format, rep); err != nil {
			return err
		}
		if rep.Status == analyzer.StatusError {
			return fmt.Errorf("analysis failed: %s", rep.Code)
		}
		return nil
	},
}

func readRecord(path string) (telemetry.QueryRecord, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return telemetry.QueryRecord{}, fmt.Errorf("reading record: %w", err)
	}
	return telemetry.ParseRecord(data)
}

func render(format string, rep *analyzer.Report) error {
	if format == "json" {
		return output.RenderJSON(os.Stdout, rep)
	}
	return output.RenderReportText(os.Stdout, rep)
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().String("plan", "", "Plan export JSON file")
	analyzeCmd.Flags().StringP("query-id", "q", "", "Fetch the record from a telemetry store by query id")
	analyzeCmd.Flags().StringP("db", "d", "", "Telemetry store connection string")
	analyzeCmd.Flags().StringP("profile", "p", "", "Use named profile from config")
	analyzeCmd.Flags().StringP("format", "f", "text", "Output format: text, json")
	analyzeCmd.MarkFlagsMutuallyExclusive("db", "profile")
}
