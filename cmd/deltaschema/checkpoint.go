package main

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/arkilian/deltaschema/internal/arrowconv"
	"github.com/arkilian/deltaschema/internal/checkpoint"
	"github.com/arkilian/deltaschema/internal/deltalog"
	"github.com/arkilian/deltaschema/internal/storage"
)

type verifyOptions struct {
	schemaOptions
	file      string
	tablePath string
}

func newVerifyCheckpointCmd(root *rootOptions) *cobra.Command {
	opts := &verifyOptions{}
	cmd := &cobra.Command{
		Use:   "verify-checkpoint",
		Short: "Check that a checkpoint carries every log schema column",
		Long: `Check a checkpoint parquet file against the log schema of its table.

With --file and --schema the given checkpoint is checked against the log schema
derived from the schema file. With --table-path the newest checkpoint in the
table's _delta_log is checked against the table's current metadata.`,
		Example: `  deltaschema verify-checkpoint --file 00000000000000000010.checkpoint.parquet --schema events.json --partitions date
  deltaschema verify-checkpoint --table-path s3://lake/warehouse/events`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			defer logger.Sync()
			opts.apply(cfg)

			out := cmd.OutOrStdout()
			if opts.tablePath != "" {
				d, tablePath, err := locationDeriver(cmd.Context(), cfg, logger, &opts.schemaOptions, opts.tablePath, true)
				if err != nil {
					return err
				}
				v, err := d.VerifyLatestCheckpoint(cmd.Context(), tablePath)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "checkpoint %d matches the log schema\n", v)
				return nil
			}

			if opts.file == "" {
				return fmt.Errorf("one of --file or --table-path is required")
			}
			envelope, err := opts.envelope(cmd.InOrStdin())
			if err != nil {
				return err
			}
			want, err := arrowconv.ToArrowSchema(envelope, opts.arrowOptions())
			if err != nil {
				return err
			}
			info, err := checkpoint.ReadFile(cmd.Context(), opts.file)
			if err != nil {
				return err
			}
			if err := checkpoint.Verify(want, info.Schema); err != nil {
				return err
			}
			logger.Debug("checkpoint verified", zap.String("file", opts.file), zap.Int64("rows", info.NumRows))
			fmt.Fprintf(out, "%s matches the log schema (%d rows, %d row groups)\n",
				filepath.Base(opts.file), info.NumRows, info.NumRowGroups)
			return nil
		},
	}
	opts.register(cmd)
	cmd.Flags().StringVar(&opts.file, "file", "", "Checkpoint parquet file")
	cmd.Flags().StringVar(&opts.tablePath, "table-path", "", "Table location: directory or s3://bucket/prefix")
	return cmd
}

type initOptions struct {
	schemaOptions
	dir       string
	tablePath string
	version   int64
	force     bool
}

func newInitCheckpointCmd(root *rootOptions) *cobra.Command {
	opts := &initOptions{}
	cmd := &cobra.Command{
		Use:   "init-checkpoint",
		Short: "Write an empty checkpoint with the log schema of a table",
		Long: `Write a checkpoint parquet file with no rows whose columns are the log schema
derived from the table schema. The file is named for --version and written to
the _delta_log of --table-path (a directory or s3://bucket/prefix), or to --dir,
by default the _delta_log directory under the working directory. An existing
checkpoint is only replaced with --force.`,
		Example: `  deltaschema init-checkpoint --schema events.json --partitions date --version 10
  deltaschema init-checkpoint --schema events.json --table-path s3://lake/warehouse/events`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			defer logger.Sync()
			opts.apply(cfg)

			if opts.version < 0 {
				return fmt.Errorf("--version must not be negative")
			}
			if opts.tablePath != "" && cmd.Flags().Changed("dir") {
				return fmt.Errorf("--dir and --table-path are mutually exclusive")
			}
			envelope, err := opts.envelope(cmd.InOrStdin())
			if err != nil {
				return err
			}
			as, err := arrowconv.ToArrowSchema(envelope, opts.arrowOptions())
			if err != nil {
				return err
			}

			var (
				store   storage.ObjectStorage
				logPath string
				display func(objectPath string) string
			)
			if opts.tablePath != "" {
				var tablePath string
				if store, tablePath, err = openLocation(cmd.Context(), cfg, opts.tablePath); err != nil {
					return err
				}
				logPath = storage.JoinPath(tablePath, deltalog.LogDir)
				display = func(objectPath string) string {
					return strings.TrimRight(opts.tablePath, "/") + "/" + deltalog.LogDir + "/" + path.Base(objectPath)
				}
			} else {
				if store, err = storage.NewLocalStorage(opts.dir); err != nil {
					return err
				}
				display = func(objectPath string) string {
					return filepath.Join(opts.dir, filepath.FromSlash(objectPath))
				}
			}

			objectPath, err := checkpoint.Publish(cmd.Context(), store, logPath, opts.version, as, opts.force)
			if errors.Is(err, checkpoint.ErrCheckpointExists) {
				return fmt.Errorf("%s already exists, pass --force to overwrite", display(checkpoint.FileName(opts.version)))
			}
			if err != nil {
				return err
			}
			target := display(objectPath)
			logger.Info("wrote empty checkpoint", zap.String("path", target), zap.Int("columns", len(checkpoint.ColumnPaths(as))))
			fmt.Fprintln(cmd.OutOrStdout(), target)
			return nil
		},
	}
	opts.register(cmd)
	cmd.Flags().StringVar(&opts.dir, "dir", filepath.Join(".", deltalog.LogDir), "Output directory")
	cmd.Flags().StringVar(&opts.tablePath, "table-path", "", "Table location: directory or s3://bucket/prefix")
	cmd.Flags().Int64Var(&opts.version, "version", 0, "Table version the checkpoint is named for")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Overwrite an existing checkpoint")
	return cmd
}
