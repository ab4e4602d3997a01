package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/nova/internal/collection"
	"github.com/kailas-cloud/nova/internal/compiler"
	"github.com/kailas-cloud/nova/internal/config"
	"github.com/kailas-cloud/nova/internal/domain/body"
	"github.com/kailas-cloud/nova/internal/engine/memory"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Collection string
	ParamsPath string
}

func newCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <body.json>",
		Short: "Print the compiled form of a query body",
		Long: `Compile a query body against params and print the result as JSON.

The collection's soft-delete and link settings are read from the config.
Nothing is executed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return runCompile(cmd.OutOrStdout(), cfg, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Collection, "collection", "", "collection the body runs on")
	cmd.Flags().StringVarP(&opts.ParamsPath, "params", "p", "", "params JSON file")

	return cmd
}

func runCompile(w io.Writer, cfg config.Config, opts *CompileOptions, bodyPath string) error {
	raw, err := readJSONObject(bodyPath)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	b, err := body.Parse(raw)
	if err != nil {
		return err
	}

	var params body.Params
	if opts.ParamsPath != "" {
		if params, err = readJSONObject(opts.ParamsPath); err != nil {
			return fmt.Errorf("read params: %w", err)
		}
	}

	var meta compiler.Meta
	if opts.Collection != "" {
		reg := collection.NewRegistry(memory.New())
		if err := addCollections(reg, cfg.Collections); err != nil {
			return err
		}
		coll, err := reg.Get(opts.Collection)
		if err != nil {
			return err
		}
		meta = coll
	}

	out, err := compiler.New(compiler.WithSearchEnv(cfg.Search.Env)).Prepare(meta, b, params)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out.Map())
}

func readJSONObject(path string) (map[string]any, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}
