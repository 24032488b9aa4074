package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/arkilian/deltaschema/internal/arrowconv"
	"github.com/arkilian/deltaschema/internal/config"
	"github.com/arkilian/deltaschema/pkg/logschema"
	"github.com/arkilian/deltaschema/pkg/types"
)

// rootOptions are the flags shared by every command.
type rootOptions struct {
	configFile string
	logLevel   string
	dev        bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "deltaschema",
		Short: "Delta log schema derivation",
		Long: `deltaschema builds the schema of a Delta table's transaction log, the schema
its checkpoint parquet files follow, from the table's own schema and partition columns.

Table schemas are read as Delta schema JSON, either an object or the string stored
in a metaData action's schemaString. Tables are addressed as local directories or
s3://bucket/prefix locations.`,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "Path to configuration file (YAML or JSON)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	cmd.PersistentFlags().BoolVar(&opts.dev, "log-dev", false, "Use the development console logger")

	cmd.AddCommand(
		newDeriveCmd(opts),
		newServeCmd(opts),
		newVerifyCheckpointCmd(opts),
		newInitCheckpointCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// load builds the configuration and logger for a command. Flags override
// the file and the environment.
func (o *rootOptions) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.dev {
		cfg.Log.Development = true
	}
	logger, err := cfg.Log.NewLogger()
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// schemaOptions are the flags of commands that derive a log schema from a
// table schema file.
type schemaOptions struct {
	schemaFile  string
	partitions  []string
	mapFields   bool
	supportMaps bool
}

func (s *schemaOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.schemaFile, "schema", "", "Table schema JSON file, - for stdin")
	cmd.Flags().StringSliceVar(&s.partitions, "partitions", nil, "Partition column names, comma separated")
	cmd.Flags().BoolVar(&s.mapFields, "map-fields", false, "Keep the map typed action fields")
	cmd.Flags().BoolVar(&s.supportMaps, "support-maps", false, "Allow map columns in arrow conversion")
}

// apply fills unset options from the configuration.
func (s *schemaOptions) apply(cfg *config.Config) {
	s.mapFields = s.mapFields || cfg.Factory.MapFields
	s.supportMaps = s.supportMaps || cfg.Arrow.SupportMaps
}

func (s *schemaOptions) factory() *logschema.Factory {
	if s.mapFields {
		return logschema.NewFactory(logschema.WithMapFields())
	}
	return logschema.NewFactory()
}

func (s *schemaOptions) arrowOptions() arrowconv.Options {
	return arrowconv.Options{SupportMaps: s.supportMaps}
}

// envelope reads the table schema and builds its log schema.
func (s *schemaOptions) envelope(stdin io.Reader) (types.Schema, error) {
	tableSchema, err := readTableSchema(s.schemaFile, stdin)
	if err != nil {
		return types.Schema{}, err
	}
	return s.factory().Build(tableSchema, s.partitions), nil
}

// readTableSchema reads a schema object or a JSON string holding one from
// path, or from stdin when path is "-".
func readTableSchema(path string, stdin io.Reader) (types.Schema, error) {
	var data []byte
	var err error
	switch path {
	case "":
		return types.Schema{}, fmt.Errorf("--schema is required")
	case "-":
		data, err = io.ReadAll(stdin)
	default:
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return types.Schema{}, fmt.Errorf("read table schema: %w", err)
	}

	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return types.Schema{}, &types.ParseError{Msg: "schema string is not valid JSON", Err: err}
		}
		return types.ParseSchemaString(s)
	}
	return types.ParseSchema(data)
}

func writeSchemaJSON(w io.Writer, s types.Schema, pretty bool) error {
	data, err := types.MarshalSchema(s)
	if err != nil {
		return err
	}
	if pretty {
		var buf bytes.Buffer
		if err := json.Indent(&buf, data, "", "  "); err != nil {
			return err
		}
		data = buf.Bytes()
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "deltaschema version %s (commit: %s)\n", version, commit)
		},
	}
}
