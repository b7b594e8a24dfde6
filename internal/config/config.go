// Package config loads and validates the classcast configuration surface:
// the multicast group parameters, the control listener, and the quality
// profile table. Configuration errors are fatal at startup, never recovered
// at runtime.
package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/alfarid/classcast/internal/fragment"
	"github.com/alfarid/classcast/internal/multicast"
	"github.com/alfarid/classcast/internal/quality"
	"github.com/alfarid/classcast/internal/wire"
)

// Config is the full configuration consumed by the transport core.
type Config struct {
	MulticastGroup     string        `mapstructure:"multicast_group"`
	MulticastPort      int           `mapstructure:"multicast_port"`
	MulticastTTL       int           `mapstructure:"multicast_ttl"`
	MulticastInterface string        `mapstructure:"multicast_interface"`
	MTUPayload         int           `mapstructure:"mtu_payload"`
	ReassemblyTimeout  time.Duration `mapstructure:"reassembly_timeout"`
	ControlAddr        string        `mapstructure:"control_addr"`
	MaxMessageSize     uint32        `mapstructure:"max_message_size"`
	Profiles           quality.Table `mapstructure:"profiles"`
}

// setDefaults mirrors the constants the system was originally deployed
// with: an organization-local group, TTL wide enough for one routed subnet,
// and a chunk size that avoids IP fragmentation.
func setDefaults(v *viper.Viper) {
	v.SetDefault("multicast_group", "239.255.255.250")
	v.SetDefault("multicast_port", 10000)
	v.SetDefault("multicast_ttl", 32)
	v.SetDefault("mtu_payload", fragment.DefaultChunkSize)
	v.SetDefault("reassembly_timeout", fragment.DefaultTimeout)
	v.SetDefault("control_addr", ":9999")
	v.SetDefault("max_message_size", wire.DefaultMaxMessageSize)
}

// Load reads configuration from the optional YAML file at path (empty skips
// the file) and from CLASSCAST_* environment variables, then validates it.
// An empty or absent profiles section selects the built-in table.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CLASSCAST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if len(cfg.Profiles) == 0 {
		cfg.Profiles = quality.DefaultTable()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every invariant the runtime depends on.
func (c Config) Validate() error {
	ip := net.ParseIP(c.MulticastGroup)
	if ip == nil || ip.To4() == nil {
		return fmt.Errorf("config: multicast_group %q is not an IPv4 address", c.MulticastGroup)
	}
	if !ip.IsMulticast() {
		return fmt.Errorf("config: multicast_group %s is not a multicast address", ip)
	}
	if c.MulticastPort <= 0 || c.MulticastPort > 65535 {
		return fmt.Errorf("config: multicast_port %d out of range", c.MulticastPort)
	}
	if c.MulticastTTL <= 0 || c.MulticastTTL > 255 {
		return fmt.Errorf("config: multicast_ttl %d out of range", c.MulticastTTL)
	}
	if c.MTUPayload < 1 {
		return fmt.Errorf("config: mtu_payload %d leaves no room for data", c.MTUPayload)
	}
	if c.ReassemblyTimeout <= 0 {
		return fmt.Errorf("config: reassembly_timeout %s must be positive", c.ReassemblyTimeout)
	}
	if c.ControlAddr == "" {
		return fmt.Errorf("config: control_addr is empty")
	}
	if c.MaxMessageSize == 0 {
		return fmt.Errorf("config: max_message_size is zero")
	}
	return c.Profiles.Validate()
}

// Group returns the multicast group configuration shared by the broadcaster
// and receiver.
func (c Config) Group() multicast.GroupConfig {
	return multicast.GroupConfig{
		Group:     c.MulticastGroup,
		Port:      c.MulticastPort,
		TTL:       c.MulticastTTL,
		Interface: c.MulticastInterface,
		ChunkSize: c.MTUPayload,
	}
}
