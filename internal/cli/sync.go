package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/evanofslack/cf-edge-sync/internal/reconcile"
	"github.com/evanofslack/cf-edge-sync/internal/runner"
)

func newSyncCommand() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one reconciliation pass",
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

			report, err := a.runner.Run(cmd.Context(), cfg, dryRun || cfg.DryRun)
			printReport(cmd.OutOrStdout(), report)
			return err
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report changes without applying them")
	return cmd
}

var (
	createColor = color.New(color.FgGreen)
	updateColor = color.New(color.FgYellow)
	deleteColor = color.New(color.FgRed)
)

func printReport(w io.Writer, report runner.Report) {
	for _, u := range report.Units {
		status := "ok"
		if u.Err != nil {
			status = deleteColor.Sprint("failed: " + u.Err.Error())
		}
		if u.Plan != nil {
			fmt.Fprintf(w, "%-32s %s\n", u.Unit, status)
			for _, c := range u.Plan.Changes {
				var actionColor *color.Color
				switch c.Action {
				case reconcile.ActionCreate:
					actionColor = createColor
				case reconcile.ActionUpdate:
					actionColor = updateColor
				case reconcile.ActionDelete:
					actionColor = deleteColor
				default:
					continue
				}
				fmt.Fprintf(w, "  %s %s %s\n", actionColor.Sprintf("%-9s", c.Action), c.Name, c.ID)
			}
			continue
		}
		fmt.Fprintf(w, "%-32s created=%d updated=%d unchanged=%d deleted=%d %s\n",
			u.Unit, u.Created, u.Updated, u.Unchanged, u.Deleted, status)
	}
}
