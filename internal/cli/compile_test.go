package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileWritesFiles(t *testing.T) {
	dir := t.TempDir()
	decl := crmDeclarations(t)
	t.Setenv("DATABASE_URL", "")

	out, err := runIn(t, dir, "compile", decl)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Compiled 14 action(s) of 3 entities into db/generated")
	assert.Contains(t, out, "43 written, 0 unchanged, 0 removed")

	assert.FileExists(t, filepath.Join(dir, "db", "generated", "000_foundation.sql"))
	assert.FileExists(t, filepath.Join(dir, "db", "generated", "crm", "contact", "02_qualify_lead.wrapper.sql"))
	assert.FileExists(t, filepath.Join(dir, ".actionc", "manifest.db"))

	// The manifest makes the second run a no-op.
	out, err = runIn(t, dir, "compile", decl)
	require.NoError(t, err)
	assert.Contains(t, out, "0 written, 43 unchanged, 0 removed")
}

func TestCompileJSON(t *testing.T) {
	out, err := runCLI(t, "--format", "json", "compile", crmDeclarations(t), "--no-cache")
	require.NoError(t, err)

	var resp struct {
		Status string         `json:"status"`
		Data   CompileSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 3, resp.Data.Entities)
	assert.Equal(t, 14, resp.Data.Actions)
	assert.Equal(t, 43, resp.Data.Files)
	require.NotNil(t, resp.Data.Report)
	assert.Len(t, resp.Data.Report.Written, 43)
}

func TestCompileOutputAndScaffold(t *testing.T) {
	dir := t.TempDir()
	decl := crmDeclarations(t)
	t.Setenv("DATABASE_URL", "")

	_, err := runIn(t, dir, "compile", decl, "-o", "sql", "--scaffold")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "sql", "001_scaffold.sql"))
	assert.NoDirExists(t, filepath.Join(dir, "db"))
}

func TestCompileFlatPlacement(t *testing.T) {
	dir := t.TempDir()
	decl := crmDeclarations(t)
	t.Setenv("DATABASE_URL", "")
	t.Setenv("ACTIONC_PLACEMENT", "flat")

	_, err := runIn(t, dir, "compile", decl)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "db", "generated", "crm_contact_02_qualify_lead.wrapper.sql"))
}

func TestCompileStdout(t *testing.T) {
	dir := t.TempDir()
	decl := crmDeclarations(t)
	t.Setenv("DATABASE_URL", "")

	out, err := runIn(t, dir, "compile", decl, "--stdout")
	require.NoError(t, err)
	assert.Contains(t, out, "CREATE OR REPLACE FUNCTION app.qualify_lead(")
	assert.Contains(t, out, "CREATE OR REPLACE FUNCTION crm.qualify_lead(")
	assert.NoDirExists(t, filepath.Join(dir, "db"))
}

func TestCompileUsesConfigFile(t *testing.T) {
	dir := t.TempDir()
	decl := crmDeclarations(t)
	t.Setenv("DATABASE_URL", "")
	cfg := "declarations: " + decl + "\noutput_dir: out\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "actionc.yaml"), []byte(cfg), 0o644))

	out, err := runIn(t, dir, "compile")
	require.NoError(t, err)
	assert.Contains(t, out, "into out")
	assert.FileExists(t, filepath.Join(dir, "out", "000_foundation.sql"))
}

func TestCompileNonExistentDeclarations(t *testing.T) {
	out, err := runCLI(t, "compile", "/nonexistent/actions")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "✗ Loading declarations failed")
	assert.Contains(t, out, "E005")
}

func TestCompileInvalidDeclarations(t *testing.T) {
	decl := writeDeclarations(t, `entity:
  Deal:
    schema: sales
    fields:
      - {name: buyer, type: ref, ref: Person}
    actions:
      - name: drop_deal
        steps:
          - delete: {target: Deal}
`)
	out, err := runCLI(t, "compile", decl)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, "E301 Deal.fields[0].ref")
}

// writeDeclarations writes a YAML declaration file and returns its path.
func writeDeclarations(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
