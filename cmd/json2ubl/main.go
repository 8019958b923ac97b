package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	json2ubl "github.com/agentflare-ai/go-json2ubl"
)

type globalOptions struct {
	configFile string
	schemaRoot string
	cacheDir   string
	logLevel   string
	validation string
}

// load reads the config file and applies flag overrides
func (o *globalOptions) load() (json2ubl.Config, *slog.Logger, io.Closer, error) {
	cfg, err := json2ubl.LoadConfig(o.configFile)
	if err != nil {
		return cfg, nil, nil, err
	}
	if o.schemaRoot != "" {
		cfg.SchemaRoot = o.schemaRoot
	}
	if o.cacheDir != "" {
		cfg.CacheDir = o.cacheDir
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.validation != "" {
		cfg.Validation = json2ubl.ValidationPolicy(o.validation)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, nil, nil, err
	}

	logger, closer, err := cfg.Logger()
	if err != nil {
		return cfg, nil, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, closer, nil
}

func newRootCommand() *cobra.Command {
	var opts globalOptions

	cmd := &cobra.Command{
		Use:           "json2ubl",
		Short:         "Convert JSON documents to UBL 2.1 XML",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "json2ubl.yaml", "Path to the YAML config file")
	flags.StringVar(&opts.schemaRoot, "schema-root", "", "UBL 2.1 schema directory (overrides config)")
	flags.StringVar(&opts.cacheDir, "cache-dir", "", "Schema cache directory (overrides config)")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.StringVar(&opts.validation, "validation", "", "Validation policy: off, warn, strict")

	cmd.AddCommand(
		newConvertCommand(&opts),
		newBuildCacheCommand(&opts),
		newValidateCommand(&opts),
		newInspectCommand(&opts),
	)
	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
