package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config without contacting Cloudflare",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			records := 0
			for _, z := range cfg.DNS.Zones {
				records += len(z.Records)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config ok: zones=%d records=%d policies=%d\n",
				len(cfg.DNS.Zones), records, len(cfg.Gateway.Policies))
			return nil
		},
	}
}
