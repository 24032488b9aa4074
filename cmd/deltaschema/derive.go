package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/arkilian/deltaschema/internal/arrowconv"
	"github.com/arkilian/deltaschema/internal/config"
	"github.com/arkilian/deltaschema/internal/service"
	"github.com/arkilian/deltaschema/internal/storage"
	"github.com/arkilian/deltaschema/pkg/types"
)

type deriveOptions struct {
	schemaOptions
	tablePath string
	arrow     bool
	pretty    bool
}

func newDeriveCmd(root *rootOptions) *cobra.Command {
	opts := &deriveOptions{}
	cmd := &cobra.Command{
		Use:   "derive",
		Short: "Print the log schema of a table",
		Long: `Print the log schema of a table, read either from a schema file (--schema) or
from the latest metaData action in the table's _delta_log (--table-path). When
log retention has removed the early commits, the newest checkpoint supplies the
metadata and only later commits are replayed.`,
		Example: `  deltaschema derive --schema events.json --partitions date
  cat events.json | deltaschema derive --schema - --arrow
  deltaschema derive --table-path s3://lake/warehouse/events`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			defer logger.Sync()
			opts.apply(cfg)
			return runDerive(cmd, cfg, logger, opts)
		},
	}
	opts.register(cmd)
	cmd.Flags().StringVar(&opts.tablePath, "table-path", "", "Table location: directory or s3://bucket/prefix")
	cmd.Flags().BoolVar(&opts.arrow, "arrow", false, "Print the arrow schema instead of Delta JSON")
	cmd.Flags().BoolVar(&opts.pretty, "pretty", false, "Indent the JSON output")
	return cmd
}

func runDerive(cmd *cobra.Command, cfg *config.Config, logger *zap.Logger, opts *deriveOptions) error {
	var envelope types.Schema
	switch {
	case opts.tablePath != "" && opts.schemaFile != "":
		return fmt.Errorf("--schema and --table-path are mutually exclusive")
	case opts.tablePath != "":
		d, tablePath, err := locationDeriver(cmd.Context(), cfg, logger, &opts.schemaOptions, opts.tablePath, opts.arrow)
		if err != nil {
			return err
		}
		res, err := d.DeriveFromTable(cmd.Context(), tablePath)
		if err != nil {
			return err
		}
		logger.Info("derived log schema from table",
			zap.String("location", opts.tablePath),
			zap.Int64("log_version", res.Snapshot.Version),
			zap.Strings("partitions", res.Snapshot.Metadata.PartitionColumns))
		envelope = res.Envelope
	default:
		var err error
		if envelope, err = opts.envelope(cmd.InOrStdin()); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if opts.arrow {
		as, err := arrowconv.ToArrowSchema(envelope, opts.arrowOptions())
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, as.String())
		return err
	}
	return writeSchemaJSON(out, envelope, opts.pretty)
}

// openLocation opens the storage holding the table at location and returns
// it with the table's path inside it.
func openLocation(ctx context.Context, cfg *config.Config, location string) (storage.ObjectStorage, string, error) {
	loc, err := storage.ParseLocation(location)
	if err != nil {
		return nil, "", err
	}
	s3Cfg := storage.DefaultS3Config()
	if cfg.Storage.S3.Region != "" {
		s3Cfg.Region = cfg.Storage.S3.Region
	}
	s3Cfg.Endpoint = cfg.Storage.S3.Endpoint
	s3Cfg.UsePathStyle = cfg.Storage.S3.UsePathStyle
	return storage.Open(ctx, loc, s3Cfg)
}

// locationDeriver returns a deriver reading the table at location, and the
// table's path inside the deriver's storage. withArrow converts every
// derived schema.
func locationDeriver(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts *schemaOptions, location string, withArrow bool) (*service.Deriver, string, error) {
	store, tablePath, err := openLocation(ctx, cfg, location)
	if err != nil {
		return nil, "", err
	}
	dopts := []service.Option{
		service.WithFactory(opts.factory()),
		service.WithStorage(store, cfg.Reader.Concurrency, cfg.Reader.CacheDir),
		service.WithLogger(logger),
	}
	if withArrow {
		dopts = append(dopts, service.WithArrow(opts.arrowOptions()))
	}
	return service.NewDeriver(dopts...), tablePath, nil
}
