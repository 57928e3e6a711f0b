package cmd

import (
	"fmt"

	"htdiag/internal/profile"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with example template",
	Long: `Create the htdiag config file with an example telemetry-store profile.

The config file stores named connection profiles so you don't need to pass
connection strings on every invocation. An existing config file is not
overwritten unless --force is given.`,
	Example: `  # Create default config
  htdiag init

  # Overwrite existing config
  htdiag init --force`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		path, err := profile.Init(force)
		if err != nil {
			return err
		}
		fmt.Printf("Config created at %s\n", path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolP("force", "f", false, "Overwrite existing config file")
}
