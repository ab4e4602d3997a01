package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/nova/internal/config"
	"github.com/kailas-cloud/nova/internal/version"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Env        string
	ConfigPath string // overrides config/<env>.yaml
}

func (o *RootOptions) load() (config.Config, error) {
	if o.ConfigPath != "" {
		return config.LoadFile(o.ConfigPath)
	}
	return config.Load(o.Env)
}

func newRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:          "nova",
		Short:        "Named query server",
		Long:         "Serves declarative named queries over document collections.",
		Version:      version.String(),
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Env, "env", config.GetEnv(), "environment name (local|dev|prod)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file path")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newCompileCommand(opts))

	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
