package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alfarid/classcast/internal/quality"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "239.255.255.250", cfg.MulticastGroup)
	assert.Equal(t, 10000, cfg.MulticastPort)
	assert.Equal(t, 32, cfg.MulticastTTL)
	assert.Equal(t, 1400, cfg.MTUPayload)
	assert.Equal(t, 2*time.Second, cfg.ReassemblyTimeout)
	assert.Equal(t, ":9999", cfg.ControlAddr)
	assert.Equal(t, quality.DefaultTable(), cfg.Profiles)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CLASSCAST_MULTICAST_PORT", "12345")
	t.Setenv("CLASSCAST_MULTICAST_TTL", "1")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 12345, cfg.MulticastPort)
	assert.Equal(t, 1, cfg.MulticastTTL)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "classcast.yaml")
	content := `
multicast_group: 239.1.2.3
multicast_port: 6001
mtu_payload: 1200
reassembly_timeout: 5s
profiles:
  - name: small
    max_participants: 10
    fps: 30
    compression_quality: 85
    audio_sample_rate: 48000
    enable_webcam: true
    enable_whiteboard: true
  - name: large
    max_participants: 50
    fps: 15
    compression_quality: 60
    audio_sample_rate: 32000
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "239.1.2.3", cfg.MulticastGroup)
	assert.Equal(t, 6001, cfg.MulticastPort)
	assert.Equal(t, 1200, cfg.MTUPayload)
	assert.Equal(t, 5*time.Second, cfg.ReassemblyTimeout)
	require.Len(t, cfg.Profiles, 2)
	assert.Equal(t, quality.ProfileLarge, cfg.Profiles.SelectForCount(30).Name)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unicast group", func(c *Config) { c.MulticastGroup = "192.168.1.10" }},
		{"not an address", func(c *Config) { c.MulticastGroup = "classroom" }},
		{"port out of range", func(c *Config) { c.MulticastPort = 0 }},
		{"ttl out of range", func(c *Config) { c.MulticastTTL = 300 }},
		{"zero mtu", func(c *Config) { c.MTUPayload = 0 }},
		{"negative timeout", func(c *Config) { c.ReassemblyTimeout = -time.Second }},
		{"empty control addr", func(c *Config) { c.ControlAddr = "" }},
		{"zero max message size", func(c *Config) { c.MaxMessageSize = 0 }},
		{"empty profile table", func(c *Config) { c.Profiles = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
