package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
}

func TestIsTrustedHost(t *testing.T) {
	cfg := Default()
	assert.True(t, cfg.IsTrustedHost("rendezvous.example.com"))
	assert.True(t, cfg.IsTrustedHost("RENDEZVOUS.EXAMPLE.COM/"))
	assert.False(t, cfg.IsTrustedHost("evil.example.net"))
}

func TestValidateRejectsEmptyTrustedHosts(t *testing.T) {
	cfg := Default()
	cfg.Signaling.TrustedHosts = nil
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsSchemeInTrustedHost(t *testing.T) {
	cfg := Default()
	cfg.Signaling.TrustedHosts = []string{"https://example.com"}
	assert.Error(t, cfg.Validate())
}

func TestEnsureCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg, created, err := Ensure(path)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, Default(), cfg)

	cfg2, created2, err := Ensure(path)
	require.NoError(t, err)
	assert.False(t, created2)
	assert.Equal(t, cfg, cfg2)
}
