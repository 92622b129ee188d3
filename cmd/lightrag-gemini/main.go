// lightrag-gemini is the Gemini adapter of the retrieval pipeline: a gRPC
// server and one-shot completion and embedding commands.
//
// Configuration comes from --config (YAML) overlaid by environment variables;
// see package config for the full list.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/joshyim/lightrag-gemini/pkg/config"
	"github.com/joshyim/lightrag-gemini/pkg/gemini"
)

// app is the state shared by every subcommand once the config is loaded.
type app struct {
	cfgFile string
	cfg     config.Config
	logger  *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "lightrag-gemini",
		Short:         "Rate-limit resilient Gemini completion and embedding adapter",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.cfgFile)
			if err != nil {
				return err
			}
			logger, err := config.NewLogger(cfg.Log)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = logger
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "YAML config file (optional)")

	root.AddCommand(newServeCmd(a))
	root.AddCommand(newCompleteCmd(a))
	root.AddCommand(newEmbedCmd(a))
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if errors.Is(err, gemini.ErrConfiguration) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
