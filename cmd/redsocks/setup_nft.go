package main

import (
	"fmt"

	"github.com/google/nftables"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	redsocksconfig "github.com/impostorkeanu/redsocks-go/config"
	"github.com/impostorkeanu/redsocks-go/nftsetup"
)

func newSetupNftCmd() *cobra.Command {
	var configPath string
	var interceptPort uint16

	cmd := &cobra.Command{
		Use:   "setup-nft",
		Short: "Install the nftables DNAT rule redirecting traffic into a configured instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := redsocksconfig.LoadFile(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if len(cfg.Instances) == 0 {
				return fmt.Errorf("config has no [[redsocks]] instances")
			}
			inst := cfg.Instances[0]
			bindAddr, err := inst.BindAddr()
			if err != nil {
				return err
			}

			log, _ := zap.NewProduction()
			defer log.Sync()

			conn := &nftables.Conn{}
			if err := nftsetup.WarnStaleTables(conn, log); err != nil {
				return err
			}

			tblName := nftsetup.TableName(fmt.Sprintf("%d", bindAddr.Port))
			tbl, err := nftsetup.CreateTable(conn, tblName)
			if err != nil {
				return fmt.Errorf("failed to create nft table: %w", err)
			}

			if interceptPort == 0 {
				interceptPort = inst.LocalPort
			}
			if _, err := nftsetup.CreateRedirectRule(conn, tbl, interceptPort, bindAddr); err != nil {
				return fmt.Errorf("failed to create redirect rule: %w", err)
			}

			log.Info("installed nft redirect rule",
				zap.String("table", tblName),
				zap.Uint16("intercept_port", interceptPort),
				zap.Stringer("bind_addr", bindAddr))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "/etc/redsocks.toml", "path to the TOML configuration file")
	cmd.Flags().Uint16Var(&interceptPort, "intercept-port", 0, "destination port to intercept (defaults to the instance's local_port)")
	return cmd
}
