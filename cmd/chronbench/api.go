package main

import (
	"fmt"

	"github.com/ethpandaops/chronbench/pkg/api"
	"github.com/ethpandaops/chronbench/pkg/resultstore"
	"github.com/spf13/cobra"
)

var apiServeFiles bool

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the results API server",
	Long:  `Serve the results database and, optionally, characterization artifacts over HTTP.`,
	Args:  cobra.NoArgs,
	RunE:  runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
	apiCmd.Flags().BoolVar(&apiServeFiles, "serve-files", false,
		"Serve files from the characterization projects directory")
}

func runAPI(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	st := resultstore.NewStore(log, &cfg.Results.Database)
	if err := st.Start(ctx); err != nil {
		return fmt.Errorf("starting results store: %w", err)
	}

	defer func() {
		if err := st.Stop(); err != nil {
			log.WithError(err).Warn("Results store stop error")
		}
	}()

	var projectsDir string
	if apiServeFiles {
		projectsDir = cfg.Characterize.ProjectsDir
	}

	srv := api.NewServer(log, &cfg.API, st, projectsDir)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting api server: %w", err)
	}

	// Wait for shutdown signal.
	<-ctx.Done()
	log.Info("Shutting down API server")

	if err := srv.Stop(); err != nil {
		return fmt.Errorf("stopping api server: %w", err)
	}

	return nil
}
