package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/arkilian/deltaschema/internal/app"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var (
		addr        string
		grpcAddr    string
		noGRPC      bool
		dataDir     string
		storagePath string
		noRegistry  bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the log schema HTTP API",
		Long: `Serve the log schema HTTP API until SIGINT or SIGTERM. A gRPC server
carrying the standard health and reflection services runs alongside it.

Environment Variables:
  DELTASCHEMA_HTTP_ADDR        HTTP listen address
  DELTASCHEMA_GRPC_ADDR        gRPC listen address
  DELTASCHEMA_GRPC_ENABLED     Serve gRPC health (true, false)
  DELTASCHEMA_DATA_DIR         Base directory for local state
  DELTASCHEMA_STORAGE_TYPE     Storage type (local, s3)
  DELTASCHEMA_STORAGE_PATH     Table root directory or S3 prefix
  DELTASCHEMA_S3_BUCKET        S3 bucket of the table root
  DELTASCHEMA_CATALOG_PATH     Derivation registry database`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			if addr != "" {
				cfg.HTTP.Addr = addr
			}
			if grpcAddr != "" {
				cfg.GRPC.Addr = grpcAddr
			}
			if noGRPC {
				cfg.GRPC.Enabled = false
			}
			if dataDir != "" {
				cfg.DataDir = dataDir
			}
			if storagePath != "" {
				cfg.Storage.Path = storagePath
			}
			if noRegistry {
				cfg.Catalog.Disabled = true
			}

			a, err := app.New(cfg, logger)
			if err != nil {
				return err
			}
			if err := a.Start(cmd.Context()); err != nil {
				return err
			}
			if err := a.Wait(cmd.Context()); err != nil {
				logger.Error("shutdown error", zap.Error(err))
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address")
	cmd.Flags().StringVar(&grpcAddr, "grpc-addr", "", "gRPC listen address")
	cmd.Flags().BoolVar(&noGRPC, "no-grpc", false, "Do not serve gRPC health")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "Base directory for local state")
	cmd.Flags().StringVar(&storagePath, "storage-path", "", "Table root directory or S3 prefix")
	cmd.Flags().BoolVar(&noRegistry, "no-registry", false, "Do not record derivations")
	return cmd
}
