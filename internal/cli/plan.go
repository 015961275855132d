package cli

import (
	"github.com/spf13/cobra"
)

func newPlanCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Show the changes a sync would make",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.runner.Run(cmd.Context(), cfg, true)
			printReport(cmd.OutOrStdout(), report)
			return err
		},
	}
}
