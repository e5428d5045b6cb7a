package main

import (
	"bytes"
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func runCmd(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func sqliteSetup(t *testing.T) (cfgPath, dbPath string) {
	t.Helper()
	dir := t.TempDir()
	dbPath = filepath.ToSlash(filepath.Join(dir, "cli.db"))

	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	_, err = db.Exec("CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT, age INTEGER)")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	cfgPath = writeFile(t, dir, "dal.json", `{
  "datasource": {
    "driver": "sqlite",
    "url": "`+dbPath+`",
    "initial_pool_size": 1,
    "min_pool_size": 1,
    "max_pool_size": 2,
    "acquire_increment": 1
  },
  "log": {"level": "info", "format": "json"}
}`)
	return cfgPath, dbPath
}

func TestPing(t *testing.T) {
	cfgPath, _ := sqliteSetup(t)

	out, _, err := runCmd(t, "ping", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "ok: sqlite session ")
	assert.Contains(t, out, "pool: open=1")
}

func TestImport_YAMLIntoSQLite(t *testing.T) {
	cfgPath, dbPath := sqliteSetup(t)
	rows := writeFile(t, t.TempDir(), "rows.yaml", `
- {id: 1, name: ann, age: 30}
- {id: 2, name: bob, age: 41}
- {id: 3, name: cid, age: 25}
`)

	out, errOut, err := runCmd(t, "import", "-c", cfgPath, "--table", "users", "--file", rows)
	require.NoError(t, err)
	assert.Contains(t, out, "imported 3 rows into users")
	assert.Contains(t, errOut, `"command":"import"`)

	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	defer db.Close()
	var n int
	require.NoError(t, db.QueryRow("SELECT count(*) FROM users").Scan(&n))
	assert.Equal(t, 3, n)
}

func TestImport_JSONIntoBadger(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "dal.yaml", `
datasource:
  driver: badger
  badger:
    in_memory: true
log:
  level: debug
  format: text
`)
	rows := writeFile(t, dir, "rows.json", `[{"id": 7, "name": "ann"}, {"id": 8, "name": "bob"}]`)

	out, errOut, err := runCmd(t, "import", "-c", cfgPath, "-t", "users", "-f", rows)
	require.NoError(t, err)
	assert.Contains(t, out, "imported 2 rows into users")
	assert.Contains(t, errOut, "released")
}

func TestImport_FailureNamesElement(t *testing.T) {
	cfgPath, _ := sqliteSetup(t)
	// second row collides with the first
	rows := writeFile(t, t.TempDir(), "rows.json", `[{"id": 1, "name": "ann"}, {"id": 1, "name": "dup"}]`)

	_, _, err := runCmd(t, "import", "-c", cfgPath, "-t", "users", "-f", rows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "element 1 of 2")
}

func TestImport_MissingFlags(t *testing.T) {
	cfgPath, _ := sqliteSetup(t)
	_, _, err := runCmd(t, "import", "-c", cfgPath, "--table", "users")
	assert.ErrorContains(t, err, `required flag(s) "file" not set`)
}

func TestImport_BadRowsFile(t *testing.T) {
	cfgPath, _ := sqliteSetup(t)
	rows := writeFile(t, t.TempDir(), "rows.json", `{"not": "a list"}`)

	_, _, err := runCmd(t, "import", "-c", cfgPath, "-t", "users", "-f", rows)
	assert.ErrorContains(t, err, "parse rows")
}

func TestValidate(t *testing.T) {
	cfgPath, _ := sqliteSetup(t)
	out, _, err := runCmd(t, "validate", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "configuration is valid")

	bad := writeFile(t, t.TempDir(), "bad.yaml", `
datasource:
  driver: mysql
  url: "jdbc:mysql://localhost/app"
  min_pool_size: 10
  max_pool_size: 5
`)
	_, _, err = runCmd(t, "validate", "--config", bad)
	assert.ErrorContains(t, err, "load configuration")
}
