package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverlaysFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := "database_url: postgres://localhost/aquadoggo\nhttp_port: 9090\n"
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/aquadoggo", cfg.DatabaseURL)
	assert.Equal(t, 9090, cfg.HTTPPort)
	// untouched fields still fall back to Default.
	assert.Equal(t, Default().QUICPort, cfg.QUICPort)
	assert.Equal(t, Default().WorkerPoolSize, cfg.WorkerPoolSize)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not_a_real_key: true\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestValidateRejectsAllowAndBlockTogether(t *testing.T) {
	cfg := Default()
	cfg.AllowPeerIDs = []string{"abc"}
	cfg.BlockPeerIDs = []string{"def"}
	assert.Error(t, cfg.Validate())
}

func TestValidateAcceptsAllowOnly(t *testing.T) {
	cfg := Default()
	cfg.AllowPeerIDs = []string{"abc"}
	assert.NoError(t, cfg.Validate())
}
