package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harun/insight/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show and validate the effective configuration",
	Long: `Print the configuration after defaults, the config file, .env files and
INSIGHT_* environment overrides are applied. Secrets are masked.`,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	masked := maskSecrets(*cfg)
	data, err := json.MarshalIndent(masked, "", "  ")
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, string(data))

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	fmt.Fprintln(out, "Configuration is valid")
	return nil
}

// maskSecrets returns a copy of cfg with keys and secrets shortened.
func maskSecrets(cfg config.Config) config.Config {
	profiles := make([]config.AIProfile, len(cfg.AI.Profiles))
	for i, p := range cfg.AI.Profiles {
		p.APIKey = mask(p.APIKey)
		profiles[i] = p
	}
	cfg.AI.Profiles = profiles
	cfg.Retrieval.APIKey = mask(cfg.Retrieval.APIKey)
	cfg.Gateway.SharedSecret = mask(cfg.Gateway.SharedSecret)
	return cfg
}

func mask(secret string) string {
	switch {
	case secret == "":
		return ""
	case len(secret) <= 8:
		return "****"
	default:
		return secret[:4] + "****" + secret[len(secret)-2:]
	}
}
