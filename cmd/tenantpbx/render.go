package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flowpbx/tenantpbx/internal/dialplan"
)

var renderFlags struct {
	tenant string
	number string
	trunk  string
}

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Print the dialplan a tenant would get",
	Long: `Print the dialplan a tenant would get, without touching the database
or the dialplan directory.

Example:
  tenantpbx render --tenant acme --number 5551000 --trunk acme-trunk`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if renderFlags.tenant == "" || renderFlags.number == "" || renderFlags.trunk == "" {
			return fmt.Errorf("--tenant, --number and --trunk are required")
		}
		_, err = cmd.OutOrStdout().Write(dialplan.Render(dialplan.Input{
			TenantID:      renderFlags.tenant,
			InboundNumber: renderFlags.number,
			Trunk:         renderFlags.trunk,
			AGIURL:        cfg.AGIURL,
		}))
		return err
	},
}

func init() {
	renderCmd.Flags().StringVar(&renderFlags.tenant, "tenant", "", "tenant id")
	renderCmd.Flags().StringVar(&renderFlags.number, "number", "", "inbound number")
	renderCmd.Flags().StringVar(&renderFlags.trunk, "trunk", "", "outbound trunk")
	rootCmd.AddCommand(renderCmd)
}
