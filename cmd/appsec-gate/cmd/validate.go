package cmd

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/appsec-gate/internal/config"
	"github.com/Sentinel-Gate/appsec-gate/internal/domain/blocking"
	"github.com/Sentinel-Gate/appsec-gate/internal/service"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the config file and compile its rules",
	Long: `Load the configuration, compile every rule condition and load the block
templates, without starting the server. Exits non-zero on the first problem.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return validateConfig(cmd.OutOrStdout(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func validateConfig(w io.Writer, cfg *config.Config) error {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	if _, err := blocking.NewService(blocking.Options{
		HTMLTemplatePath: cfg.AppSec.Templates.HTML,
		JSONTemplatePath: cfg.AppSec.Templates.JSON,
		Logger:           logger,
	}); err != nil {
		return err
	}

	ruleList, err := cfg.BuildRules()
	if err != nil {
		return err
	}
	ruleService, err := service.NewRuleService(ruleList, logger, service.WithCacheSize(0))
	if err != nil {
		return err
	}
	if _, err := buildTargets(cfg.Upstream.Targets); err != nil {
		return err
	}

	req, resp := ruleService.RuleCount()
	fmt.Fprintf(w, "config OK: %d upstream target(s), %d request rule(s), %d response rule(s)\n",
		len(cfg.Upstream.Targets), req, resp)
	return nil
}
