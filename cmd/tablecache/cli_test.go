package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/tablecache/pkg/sqlite"
	"github.com/mesh-intelligence/tablecache/pkg/types"
)

type cliEnv struct {
	backend   *sqlite.Backend
	configDir string
	tableID   string
}

// setupCLI starts a reference server with a customers table holding n
// records and writes a config.yaml pointing at it.
func setupCLI(t *testing.T, n int) *cliEnv {
	t.Helper()
	b, err := sqlite.Open(t.TempDir())
	require.NoError(t, err)
	srv := httptest.NewServer(b.Handler())
	t.Cleanup(func() {
		srv.Close()
		b.Close()
	})

	ctx := context.Background()
	info, err := b.CreateTable(ctx, "customers", types.Schema{Fields: []types.Field{
		{Name: "name", Type: types.FieldText},
		{Name: "age", Type: types.FieldNumber},
	}})
	require.NoError(t, err)
	for i := 1; i <= n; i++ {
		_, err := b.CreateRecords(ctx, info.ID, []types.Fields{{"name": fmt.Sprintf("c-%d", i), "age": float64(20 + i)}})
		require.NoError(t, err)
	}

	dir := t.TempDir()
	yaml := fmt.Sprintf("base_url: %s\ntables:\n  customers: %s\nretry_attempts: 1\nretry_delay: 1ms\n", srv.URL, info.ID)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))
	return &cliEnv{backend: b, configDir: dir, tableID: info.ID}
}

// runCLI executes the root command and returns stdout, stderr, and the
// exit code.
func (e *cliEnv) run(t *testing.T, args ...string) (string, string, int) {
	t.Helper()
	resetFlags(rootCmd)
	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	})
	code := run(append([]string{"--config-dir", e.configDir}, args...))
	return stdout.String(), stderr.String(), code
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.PersistentFlags().VisitAll(reset)
	cmd.Flags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func TestCLI_Version(t *testing.T) {
	e := setupCLI(t, 0)
	out, _, code := e.run(t, "version")
	assert.Equal(t, exitSuccess, code)
	assert.Contains(t, out, "tablecache v")
}

func TestCLI_WritesDefaultConfig(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "fresh")
	e := &cliEnv{configDir: dir}
	_, _, code := e.run(t, "version")
	require.Equal(t, exitSuccess, code)

	data, err := os.ReadFile(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "base_url: http://127.0.0.1:8080")
}

func TestCLI_Ping(t *testing.T) {
	e := setupCLI(t, 0)
	out, _, code := e.run(t, "ping")
	assert.Equal(t, exitSuccess, code)
	assert.Contains(t, out, "customers\t"+e.tableID+"\tok")
}

func TestCLI_Schema(t *testing.T) {
	e := setupCLI(t, 0)
	out, _, code := e.run(t, "schema", "customers")
	require.Equal(t, exitSuccess, code)
	assert.Contains(t, out, "FIELD")
	assert.Contains(t, out, "age")

	out, _, code = e.run(t, "--json", "schema", "customers")
	require.Equal(t, exitSuccess, code)
	var schema types.Schema
	require.NoError(t, json.Unmarshal([]byte(out), &schema))
	assert.Len(t, schema.Fields, 2)
}

func TestCLI_List(t *testing.T) {
	e := setupCLI(t, 5)
	out, _, code := e.run(t, "list", "customers", "--limit", "2")
	require.Equal(t, exitSuccess, code)
	assert.Contains(t, out, `1  age=21  name="c-1"`)
	assert.Contains(t, out, "2 of 5 records, next page: --page-token 2")

	out, _, code = e.run(t, "--json", "list", "customers", "--sort", "-age", "--filter", `{"name":"c-3"}`)
	require.Equal(t, exitSuccess, code)
	var page types.Page
	require.NoError(t, json.Unmarshal([]byte(out), &page))
	require.Len(t, page.Records, 1)
	assert.Equal(t, int64(3), page.Records[0].ID)
}

func TestCLI_RepeatedCommandsShareProcess(t *testing.T) {
	e := setupCLI(t, 3)
	for i := range 3 {
		out, stderr, code := e.run(t, "list", "customers")
		require.Equal(t, exitSuccess, code, "run %d: %s", i+1, stderr)
		assert.Contains(t, out, "3 of 3 records")
	}
}

func TestCLI_AddUpdateDelete(t *testing.T) {
	e := setupCLI(t, 2)

	out, _, code := e.run(t, "add", "customers", `{"name":"Ann"}`)
	require.Equal(t, exitSuccess, code)
	assert.Contains(t, out, `3  age=0  name="Ann"`)

	_, _, code = e.run(t, "add", "customers", `{"name":"Bo"}`, `{"name":"Cy"}`)
	require.Equal(t, exitSuccess, code)

	out, _, code = e.run(t, "update", "customers", "3", `{"age":40}`)
	require.Equal(t, exitSuccess, code)
	assert.Contains(t, out, `3  age=40  name="Ann"`)

	out, _, code = e.run(t, "delete", "customers", "1", "4")
	require.Equal(t, exitSuccess, code)
	assert.Contains(t, out, "deleted 2 record(s)")

	page, err := e.backend.Records(context.Background(), e.tableID, types.QueryParams{})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
}

func TestCLI_Errors(t *testing.T) {
	e := setupCLI(t, 1)
	tests := []struct {
		name string
		args []string
		want int
	}{
		{"unknown table", []string{"list", "orders"}, exitUserError},
		{"bad fields", []string{"add", "customers", "not-json"}, exitUserError},
		{"bad record id", []string{"delete", "customers", "x"}, exitUserError},
		{"missing record", []string{"delete", "customers", "99"}, exitUserError},
		{"rejected by server", []string{"add", "customers", `{"color":"red"}`}, exitUserError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, stderr, code := e.run(t, tt.args...)
			assert.Equal(t, tt.want, code)
			assert.Contains(t, stderr, "tablecache:")
		})
	}
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitSuccess, exitCode(nil))
	assert.Equal(t, exitUserError, exitCode(usagef("bad")))
	assert.Equal(t, exitUserError, exitCode(fmt.Errorf("x: %w", types.ErrValidation)))
	assert.Equal(t, exitUserError, exitCode(&types.RemoteError{StatusCode: http.StatusBadRequest}))
	assert.Equal(t, exitSysError, exitCode(&types.RemoteError{StatusCode: http.StatusBadGateway}))
	assert.Equal(t, exitSysError, exitCode(fmt.Errorf("x: %w", types.ErrNetwork)))
}

func TestParseTableDef(t *testing.T) {
	def, err := parseTableDef("customers=name:text, age:number,note")
	require.NoError(t, err)
	assert.Equal(t, "customers", def.name)
	assert.Equal(t, []types.Field{
		{Name: "name", Type: types.FieldText},
		{Name: "age", Type: types.FieldNumber},
		{Name: "note", Type: types.FieldText},
	}, def.schema.Fields)

	for _, raw := range []string{"customers", "=name:text", "customers=name:colour", "customers=a:text,a:text"} {
		_, err := parseTableDef(raw)
		assert.Error(t, err, raw)
	}
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, ln, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))
	}()

	resp, err := http.Get("http://" + ln.Addr().String())
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(shutdownTimeout):
		t.Fatal("serve did not return after cancel")
	}
}

func TestEnsureTables(t *testing.T) {
	b, err := sqlite.Open(t.TempDir())
	require.NoError(t, err)
	defer b.Close()
	ctx := context.Background()

	def, err := parseTableDef("customers=name:text")
	require.NoError(t, err)
	require.NoError(t, ensureTables(ctx, b, []tableDef{def}))
	require.NoError(t, ensureTables(ctx, b, []tableDef{def}))

	tables, err := b.Tables(ctx)
	require.NoError(t, err)
	assert.Len(t, tables, 1)
}
