package cli

import (
	"github.com/spf13/cobra"

	"playtimetracker/internal/config"
)

func newCheckConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Load and validate the config file without opening the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			gc, err := config.LoadGlobalConfig(cfg.ConfigPath)
			if err != nil {
				return err
			}
			if err := gc.Validate(); err != nil {
				return err
			}
			NewOutput(cfg.Output).Print(ConfigSummary{
				Path:          cfg.ConfigPath,
				Driver:        gc.Database.Driver,
				Cache:         gc.Cache.Backend,
				Excluded:      gc.Exclusions().Labels(),
				SweepInterval: gc.SweepInterval().String(),
				Cooldown:      gc.PlaytimeCooldown().String(),
				ListenAddr:    gc.API.ListenAddr,
				APIKeySet:     gc.API.APIKey != "",
			})
			return nil
		},
	}
}

// ConfigSummary is printed by the check-config command.
type ConfigSummary struct {
	Path          string   `json:"path"`
	Driver        string   `json:"driver"`
	Cache         string   `json:"cache"`
	Excluded      []string `json:"excluded"`
	SweepInterval string   `json:"sweep_interval"`
	Cooldown      string   `json:"cooldown"`
	ListenAddr    string   `json:"listen_addr"`
	APIKeySet     bool     `json:"api_key_set"`
}
