package cmd

import (
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"
)

var Version = "dev"

func init() {
	if Version == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "(devel)" {
			Version = info.Main.Version
		}
	}
	rootCmd.Version = Version
}

var rootCmd = &cobra.Command{
	Use:          "htdiag",
	SilenceUsage: true,
	Short:        "Diagnose query fit for hybrid-table workloads",
	Long: `htdiag analyzes query telemetry records and execution-plan exports and
reports why a query ran the way it did: rule findings, a workload-fit score
and grade, a root-cause classification, and concrete remediation actions.

Given two runs of the same statement it attributes the latency difference
between them to data volume, backend-storage latency or environment changes.`,
	Example: `  # Diagnose a single run
  htdiag analyze run.json --plan run-plan.json

  # Fetch the record from a telemetry store
  htdiag analyze --query-id 01b7c2de-0001 --profile prod

  # Attribute the difference between two runs
  htdiag compare monday.json friday.json`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
