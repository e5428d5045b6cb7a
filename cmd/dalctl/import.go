package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kasuganosora/dal/pkg/api"
	"github.com/kasuganosora/dal/pkg/bootstrap"
	"github.com/kasuganosora/dal/pkg/kvsession"
	"github.com/kasuganosora/dal/pkg/mapper"
)

type importOptions struct {
	table string
	key   string
	file  string
}

// NewImportCmd batch-inserts rows from a file into one table
func NewImportCmd(a *app) *cobra.Command {
	opts := &importOptions{}

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Insert rows from a JSON or YAML file in one batch session",
		Example: `  # rows.yaml holds a list of column maps
  dalctl import --table users --file rows.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runImport(cmd, a, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.table, "table", "t", "", "target table (required)")
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "rows file, .json or .yaml (required)")
	cmd.Flags().StringVar(&opts.key, "key", "id", "key column")
	_ = cmd.MarkFlagRequired("table")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runImport(cmd *cobra.Command, a *app, opts *importOptions) error {
	ctx := cmd.Context()

	rows, err := readRows(opts.file)
	if err != nil {
		return err
	}

	registry := api.NewMapperRegistry()
	var affected int

	p, err := bootstrap.Open(ctx, &a.cfg.DataSource, registry, a.logger)
	if err != nil {
		return err
	}
	defer p.Close()
	exec := api.NewExecutor(p, api.WithLogger(a.logger))

	if a.cfg.DataSource.IsBadger() {
		mt := kvsession.JSONMapperType[mapper.Row](opts.table)
		keyOf := func(r mapper.Row) string {
			if v, ok := r[opts.key]; ok && v != nil {
				return fmt.Sprint(v)
			}
			return ""
		}
		if err := kvsession.RegisterJSON(registry, mt, opts.table+":", keyOf); err != nil {
			return err
		}
		affected, err = api.BatchExecute(ctx, exec, rows, mt, (*kvsession.JSONMapper[mapper.Row]).Save)
	} else {
		if err := mapper.RegisterTable(registry, opts.table, opts.key); err != nil {
			return err
		}
		affected, err = api.BatchExecute(ctx, exec, rows, mapper.TableMapperType(opts.table), (*mapper.TableMapper).Insert)
	}
	if err != nil {
		return err
	}

	a.logger.Info("imported %d rows into %s", affected, opts.table)
	cmd.Printf("imported %d rows into %s\n", affected, opts.table)
	return nil
}

// readRows 读取行文件, 按扩展名选择 YAML 或 JSON
func readRows(path string) ([]mapper.Row, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}

	var rows []mapper.Row
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &rows)
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		err = dec.Decode(&rows)
	}
	if err != nil {
		return nil, fmt.Errorf("parse rows in %s: %w", path, err)
	}
	return rows, nil
}
