package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"

	json2ubl "github.com/agentflare-ai/go-json2ubl"
)

type convertOptions struct {
	outputDir string
	workers   int
}

func newConvertCommand(global *globalOptions) *cobra.Command {
	var opts convertOptions

	cmd := &cobra.Command{
		Use:   "convert [OPTIONS] FILE",
		Short: "Convert a JSON file to UBL XML",
		Long: "Convert a JSON file holding one document or an array of documents. " +
			"Pages sharing an id are merged. Without --output the result, XML included, is printed as JSON.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd, global, opts, args[0])
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.outputDir, "output", "o", "", "Write one XML file per document into this directory")
	flags.IntVarP(&opts.workers, "workers", "w", 0, "Parallel conversions (default max(8, CPUs))")

	return cmd
}

func runConvert(cmd *cobra.Command, global *globalOptions, opts convertOptions, input string) error {
	cfg, logger, closer, err := global.load()
	if err != nil {
		return err
	}
	defer closer.Close()

	if opts.workers > 0 {
		cfg.Workers = opts.workers
	}

	conv, err := json2ubl.NewConverter(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var result *json2ubl.Result
	if opts.outputDir != "" {
		result, err = conv.ConvertBatchToFiles(ctx, input, opts.outputDir)
	} else {
		result, err = conv.ConvertBatchFromFile(ctx, input)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(result); encErr != nil {
		return encErr
	}
	if err != nil {
		return err
	}
	if result.Summary.Failed > 0 {
		return fmt.Errorf("%d of %d documents failed", result.Summary.Failed, result.Summary.TotalInputs)
	}
	return nil
}

func newBuildCacheCommand(global *globalOptions) *cobra.Command {
	var docTypes []string

	cmd := &cobra.Command{
		Use:   "build-cache [OPTIONS]",
		Short: "Compile schema caches from the UBL XSD files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, closer, err := global.load()
			if err != nil {
				return err
			}
			defer closer.Close()
			cfg.PersistCache = true

			conv, err := json2ubl.NewConverter(cfg, logger)
			if err != nil {
				return err
			}

			if len(docTypes) == 0 {
				built, err := conv.Registry().BuildAll()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "built %d schema caches in %s\n", len(built), cfg.CacheDir)
				return nil
			}

			for _, docType := range docTypes {
				if _, err := conv.Registry().Get(docType); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", docType, json2ubl.CacheFilePath(cfg.CacheDir, docType))
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&docTypes, "type", "t", nil, "Document types to build (default all)")
	return cmd
}

func newValidateCommand(global *globalOptions) *cobra.Command {
	var docType string

	cmd := &cobra.Command{
		Use:   "validate [OPTIONS] XML-FILE",
		Short: "Validate a UBL XML file against its schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, closer, err := global.load()
			if err != nil {
				return err
			}
			defer closer.Close()

			data, err := os.ReadFile(args[0])
			if err != nil {
				return json2ubl.NewError(json2ubl.CodeFile, "cannot read XML file", err).WithDetail("path", args[0])
			}
			if docType == "" {
				docType, err = json2ubl.RootElementName(data)
				if err != nil {
					return err
				}
			}

			validator := json2ubl.NewValidator(cfg.SchemaRoot, json2ubl.ValidationStrict, logger)
			result, err := validator.Validate(docType, string(data))
			if err != nil {
				return err
			}
			if result.Valid {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is valid %s\n", args[0], docType)
				return nil
			}

			formatter := &json2ubl.ErrorFormatter{Color: isTerminal(os.Stdout)}
			fmt.Fprintf(cmd.OutOrStdout(), "Found %d validation issues in %s:\n\n", len(result.Diagnostics), args[0])
			for _, diag := range result.Diagnostics {
				fmt.Fprint(cmd.OutOrStdout(), formatter.Format(diag, args[0], string(data)))
				fmt.Fprintln(cmd.OutOrStdout())
			}
			return fmt.Errorf("%s does not conform to the %s schema", args[0], docType)
		},
	}

	cmd.Flags().StringVarP(&docType, "type", "t", "", "Document type (default: taken from the root element)")
	return cmd
}

func newInspectCommand(global *globalOptions) *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "inspect [OPTIONS] DOCUMENT-TYPE|CODE",
		Short: "Show the compiled schema cache of a document type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, closer, err := global.load()
			if err != nil {
				return err
			}
			defer closer.Close()

			docType, err := json2ubl.ResolveDocumentType(args[0])
			if err != nil {
				return err
			}

			conv, err := json2ubl.NewConverter(cfg, logger)
			if err != nil {
				return err
			}
			cache, err := conv.Registry().Get(docType)
			if err != nil {
				return err
			}

			if raw {
				spew.Fdump(cmd.OutOrStdout(), cache)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s {%s}\n", cache.RootElementName, cache.RootNamespace)
			printElements(cmd, cache.Elements, 1)
			return nil
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "Dump the Go structure")
	return cmd
}

func printElements(cmd *cobra.Command, elements *json2ubl.ElementMap, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, spec := range elements.All() {
		line := fmt.Sprintf("%s%s [%s..%s] %s", indent, spec.Name, spec.MinOccurs, spec.MaxOccurs, spec.Type)
		if spec.HasAttributes() {
			var attrs []string
			for _, a := range spec.Attrs {
				attrs = append(attrs, "@"+a.Name)
			}
			slices.Sort(attrs)
			line += " " + strings.Join(attrs, " ")
		}
		fmt.Fprintln(cmd.OutOrStdout(), line)
		printElements(cmd, spec.Nested, depth+1)
	}
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}
