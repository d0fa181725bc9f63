// Command docsyncd serves collaborative documents over WebSocket.
package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vango-dev/docsync/internal/config"
	"github.com/vango-dev/docsync/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		errors.PrintError(os.Stderr, err)
		os.Exit(1)
	}
}

// app carries the settings shared by every subcommand.
type app struct {
	v          *viper.Viper
	configPath string
}

func (a *app) loadConfig() (*config.Config, error) {
	return config.Load(a.v, a.configPath)
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.NewViper()}

	rootCmd := &cobra.Command{
		Use:   "docsyncd",
		Short: "Real-time collaborative document sync server",
		Long: `docsyncd keeps plain-text documents in sync between connected clients.

Clients connect over WebSocket to /ws/{documentID}, exchange replicated
updates and presence, and the server persists each document to the
configured store after edits settle.

Settings are read from --config, DOCSYNC_* environment variables and flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "Config file (YAML, JSON or TOML)")
	flags.String("log-level", "", "Log level: debug, info, warn, error")
	flags.String("log-format", "", "Log format: text or json")
	flags.String("store", "", "Store driver: memory, bolt, postgres, redis, s3")
	a.v.BindPFlag("log.level", flags.Lookup("log-level"))
	a.v.BindPFlag("log.format", flags.Lookup("log-format"))
	a.v.BindPFlag("store.driver", flags.Lookup("store"))

	rootCmd.AddCommand(
		serveCmd(a),
		inspectCmd(a),
		tokenCmd(a),
		versionCmd(),
	)
	return rootCmd
}
