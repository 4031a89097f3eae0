// Command polybot runs the image-processing Telegram bot as a long-lived
// HTTP server and manages its webhook registration.
//
// Examples:
//
//	polybot serve --addr :8443 --register
//	polybot webhook set
//	polybot webhook info
//	polybot webhook delete --drop-pending
package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/fpang/polybot/internal/config"
	"github.com/fpang/polybot/internal/logging"
)

// commitHash is set at build time with -ldflags "-X main.commitHash=...".
var commitHash = "dev"

// v holds settings from defaults, environment, config file and flags.
var v = config.NewViper()

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "polybot",
		Short:        "Image-processing Telegram bot",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			if err := config.ReadFile(v, path); err != nil {
				return err
			}
			logging.InitWithLevel(v.GetString(config.KeyLogLevel))
			return nil
		},
	}

	cmd.PersistentFlags().String("config", "", "Config file path (optional)")
	cmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn, error")
	_ = bindFlag(cmd.PersistentFlags(), "log-level", config.KeyLogLevel)

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newWebhookCmd())
	return cmd
}

// bindFlag makes a set flag take precedence over the config key.
func bindFlag(flags *pflag.FlagSet, name, key string) error {
	return v.BindPFlag(key, flags.Lookup(name))
}

// bindFlags returns a PreRunE that binds the running command's flags
// (flag name -> config key). Several commands share keys such as app_url,
// and viper keeps one flag per key, so binding happens only once the
// command to run is known.
func bindFlags(bindings map[string]string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		for name, key := range bindings {
			if err := bindFlag(cmd.Flags(), name, key); err != nil {
				return err
			}
		}
		return nil
	}
}
