package env

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeLaterWins(t *testing.T) {
	merged := Merge(
		Vars{"A": "1", "B": "2"},
		Vars{"B": "override", "C": "3"},
	)
	assert.Equal(t, Vars{"A": "1", "B": "override", "C": "3"}, merged)
}

func TestParseInlineVars(t *testing.T) {
	vars, err := ParseInlineVars("REGION=us-central1, PROJECT=elt-prod")
	require.NoError(t, err)
	assert.Equal(t, "us-central1", vars["REGION"])
	assert.Equal(t, "elt-prod", vars["PROJECT"])

	_, err = ParseInlineVars("novalue")
	assert.Error(t, err)

	_, err = ParseInlineVars("=oops")
	assert.Error(t, err)

	empty, err := ParseInlineVars("   ")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.env"), []byte("FOO=base\nBAR=1\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.env"), []byte("FOO=override\n"), 0o600))

	vars, err := LoadEnvFiles(dir, []string{"a.env", "b.env", ""})
	require.NoError(t, err)
	assert.Equal(t, "override", vars["FOO"])
	assert.Equal(t, "1", vars["BAR"])

	_, err = LoadEnvFiles(dir, []string{"missing.env"})
	assert.Error(t, err)
}

func TestLoadVarFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vars.yaml")
	content := "# comment\nregion: \"us-east1\"\nimage_tag=abc123\ndataset: 'el_okta'\n\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	vars, err := LoadVarFile(path)
	require.NoError(t, err)
	assert.Equal(t, "us-east1", vars["region"])
	assert.Equal(t, "abc123", vars["image_tag"])
	assert.Equal(t, "el_okta", vars["dataset"])
}
