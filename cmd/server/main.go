package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"holding-parade/server/internal/app"
	"holding-parade/server/internal/assets"
	"holding-parade/server/internal/config"
	"holding-parade/server/internal/logger"
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "parade",
		Short:         "Animated scene of ranked holdings",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCommand(), newManifestCommand())
	return root
}

func newServeCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scene server",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := buildLogger()
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.Run(ctx, cfg, log)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a config file (yaml, json or toml)")
	return cmd
}

func newManifestCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Inspect asset manifests",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate <path>",
		Short: "Parse a manifest and report skipped entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manifest, err := assets.LoadManifest(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "skins: %d\n", len(manifest.Skins()))
			for _, skin := range manifest.Skins() {
				tracks, _ := manifest.Tracks(skin)
				fmt.Fprintf(out, "  %s (%d tracks)\n", skin, len(tracks))
			}
			fmt.Fprintf(out, "environment: %d\n", len(manifest.Environment()))
			problems := manifest.Problems()
			for _, problem := range problems {
				fmt.Fprintf(out, "problem: %s\n", problem)
			}
			if len(problems) > 0 {
				return errors.Newf("%d manifest problems", len(problems))
			}
			return nil
		},
	})
	return cmd
}

func buildLogger() *logrus.Logger {
	cfg, err := logger.FromEnv()
	log := logger.New(cfg, os.Stdout)
	if err != nil {
		log.Warnf("invalid logger environment, using defaults: %v", err)
	}
	return log
}
