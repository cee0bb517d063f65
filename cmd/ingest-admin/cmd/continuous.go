package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openctemio/ingest/pkg/domain/shared"
)

var continuousCmd = &cobra.Command{
	Use:   "continuous-scan <project-id>",
	Short: "Run a continuous vulnerability scan for a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, err := shared.IDFromString(args[0])
		if err != nil {
			return fmt.Errorf("invalid project id: %w", err)
		}

		env, err := newEnv()
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.continuous.IngestProject(context.Background(), projectID)
		if err != nil {
			return err
		}

		if result.QuotaExceeded {
			cmd.Println("skipped: project vulnerability quota exhausted")
			return nil
		}
		cmd.Printf("ingested: %d vulnerabilities (%d new)\n", len(result.VulnerabilityIDs), result.NewRecords)
		return nil
	},
}
