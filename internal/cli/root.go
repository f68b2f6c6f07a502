// Package cli implements the sendguard command line.
package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/sendguard/config"
)

// Options configures the root command.
type Options struct {
	// ConfigPath is the YAML config file. Empty means defaults and
	// environment only.
	ConfigPath string
}

// DefaultOptions reads the config path from SENDGUARD_CONFIG.
func DefaultOptions() Options {
	return Options{ConfigPath: os.Getenv("SENDGUARD_CONFIG")}
}

type runtimeState struct {
	configPath string
	loader     config.Loader
}

func (rt *runtimeState) loadConfig(ctx context.Context) (*config.Config, error) {
	return rt.loader.Load(ctx, rt.configPath)
}

// NewRootCommand builds the sendguard command tree.
func NewRootCommand(opts Options) *cobra.Command {
	rt := &runtimeState{configPath: opts.ConfigPath}

	root := &cobra.Command{
		Use:          "sendguard",
		Short:        "Guarded outbound email sending",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&rt.configPath, "config", rt.configPath, "Path to YAML config file")

	root.AddCommand(
		newServeCommand(rt),
		newKeyCommand(rt),
		newStatusCommand(),
		newVersionCommand(),
	)
	return root
}
