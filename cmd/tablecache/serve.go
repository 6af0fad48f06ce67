package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/tablecache/internal/paths"
	"github.com/mesh-intelligence/tablecache/pkg/sqlite"
	"github.com/mesh-intelligence/tablecache/pkg/types"
)

var (
	serveAddr    string
	serveDataDir string
	serveToken   string
	serveTables  []string
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the SQLite reference server",
	Long: `Serve runs the tabular API backed by SQLite, keeping its data as JSONL
files in the data directory.

--table creates a table on startup unless one with that name exists. Its
value is name=field:type,... and may be repeated. The IDs of all tables are
printed on startup for use in the tables section of config.yaml.

Example:
  tablecache serve --table customers=name:text,age:number,vip:boolean`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := serveAddr
		if !cmd.Flags().Changed("addr") {
			addr = cfg.GetString(cfgKeyAddr)
		}
		token := serveToken
		if !cmd.Flags().Changed("token") {
			token = cfg.GetString(cfgKeyToken)
		}
		dataDir, err := paths.ResolveDataDir(serveDataDir, cfg.GetString(cfgKeyDataDir))
		if err != nil {
			return fmt.Errorf("resolve data dir: %w", err)
		}

		defs := make([]tableDef, 0, len(serveTables))
		for _, raw := range serveTables {
			def, err := parseTableDef(raw)
			if err != nil {
				return err
			}
			defs = append(defs, def)
		}

		b, err := sqlite.Open(dataDir, sqlite.WithLogger(logger), sqlite.WithToken(token))
		if err != nil {
			return err
		}
		defer b.Close()

		if err := ensureTables(cmd.Context(), b, defs); err != nil {
			return err
		}
		tables, err := b.Tables(cmd.Context())
		if err != nil {
			return err
		}
		for _, t := range tables {
			fmt.Fprintf(cmd.OutOrStdout(), "table %s\t%s\n", t.Name, t.ID)
		}

		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "serving %s on http://%s\n", dataDir, ln.Addr())
		return serve(cmd.Context(), ln, b.Handler())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", defaultAddr, "listen address")
	serveCmd.Flags().StringVar(&serveDataDir, "data-dir", "", "data directory (default: platform data dir)")
	serveCmd.Flags().StringVar(&serveToken, "token", "", "bearer token clients must send")
	serveCmd.Flags().StringArrayVar(&serveTables, "table", nil, "table to create, name=field:type,...")
}

// serve runs h on ln until ctx is done, then shuts down gracefully.
func serve(ctx context.Context, ln net.Listener, h http.Handler) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type tableDef struct {
	name   string
	schema types.Schema
}

// parseTableDef parses name=field:type,field:type.
func parseTableDef(raw string) (tableDef, error) {
	name, rest, ok := strings.Cut(raw, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return tableDef{}, usagef("invalid --table %q: expected name=field:type,...", raw)
	}
	def := tableDef{name: name}
	for _, part := range strings.Split(rest, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		field, typ, ok := strings.Cut(part, ":")
		if !ok {
			typ = string(types.FieldText)
		}
		ft, err := types.ParseFieldType(strings.TrimSpace(typ))
		if err != nil {
			return tableDef{}, fmt.Errorf("--table %q: %w", raw, err)
		}
		def.schema.Fields = append(def.schema.Fields, types.Field{Name: strings.TrimSpace(field), Type: ft})
	}
	if err := def.schema.Validate(); err != nil {
		return tableDef{}, fmt.Errorf("--table %q: %w", raw, err)
	}
	return def, nil
}

func ensureTables(ctx context.Context, b *sqlite.Backend, defs []tableDef) error {
	for _, def := range defs {
		_, err := b.TableByName(ctx, def.name)
		if err == nil {
			logger.Debug("table exists", "name", def.name)
			continue
		}
		if !errors.Is(err, types.ErrNotFound) {
			return err
		}
		info, err := b.CreateTable(ctx, def.name, def.schema)
		if err != nil {
			return fmt.Errorf("create table %q: %w", def.name, err)
		}
		logger.Info("table created", "name", info.Name, "id", info.ID)
	}
	return nil
}
