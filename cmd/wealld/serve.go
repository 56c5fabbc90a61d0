package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/cobra"

	"github.com/weallnet/weall/api"
	"github.com/weallnet/weall/rules"
	"github.com/weallnet/weall/storage/mem"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the governance API web service",
	RunE: func(cmd *cobra.Command, args []string) error {
		var cfg api.APIConfig
		if err := envconfig.Process("wealld", &cfg); err != nil {
			return err
		}

		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

		// A broken rule file must stop us here, before any action is
		// ever accepted.
		def, err := rules.LoadFile(cfg.RulesPath)
		if err != nil {
			return err
		}
		interp, err := rules.New(def, mem.NewMemStore(), logger, nil)
		if err != nil {
			return err
		}
		return api.Serve(context.Background(), cfg, interp)
	},
}
