package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openctemio/ingest/pkg/domain/shared"
)

var quotaCmd = &cobra.Command{
	Use:   "quota <project-id>",
	Short: "Show a project's vulnerability quota",
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

		quota, err := env.quotaSource.QuotaFor(context.Background(), projectID)
		if err != nil {
			return err
		}

		if !quota.Enforced {
			cmd.Printf("project %s: quota not enforced (used: %d)\n", projectID, quota.Used)
			return nil
		}
		cmd.Printf("project %s: %d/%d used, %d remaining\n", projectID, quota.Used, quota.Limit, quota.Remaining())
		return nil
	},
}
