package main

import (
	"encoding/base64"
	"os"

	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"

	"github.com/gonet2/agent/client_handler"
	"github.com/gonet2/agent/misc/crypto/keystore"
	"github.com/gonet2/agent/misc/crypto/xorpad"
)

// Config is the deployment file given by --config.
type Config struct {
	Region  string                  `json:"region"`
	Regions map[string]RegionConfig `json:"regions"`
	Keys    []keystore.KeyConfig    `json:"keys"`

	Bootstrap BootstrapConfig `json:"bootstrap"`

	// Messages maps a message key to locale -> text.
	Messages map[string]map[string]string `json:"messages,omitempty"`

	Etcd EtcdConfig `json:"etcd"`

	DB             string   `json:"db"`
	Manifest       string   `json:"manifest,omitempty"`
	Immediate      []string `json:"immediate,omitempty"`
	LanguageTTLSec int      `json:"language_ttl_sec,omitempty"`
}

type RegionConfig struct {
	AllowedKeyIDs []uint32 `json:"allowed_key_ids"`
}

// BootstrapConfig describes the pad used before a session key exists:
// either raw key bytes (base64) or a seed expanded in continuous mode.
// With neither set, pre-handshake traffic is not obfuscated.
type BootstrapConfig struct {
	Key  string  `json:"key,omitempty"`
	Seed *uint64 `json:"seed,omitempty"`
}

type EtcdConfig struct {
	Endpoints []string `json:"endpoints,omitempty"`
	Root      string   `json:"root,omitempty"`
	TTL       int64    `json:"ttl,omitempty"`
}

func defaultConfig() *Config {
	return &Config{
		DB:   "agent.db",
		Etcd: EtcdConfig{Root: "/agent/presence", TTL: 10},
	}
}

func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

// allowedKeys is the key id set for the configured region. A region that
// is not listed allows every loaded key.
func (c *Config) allowedKeys(store *keystore.Store) map[uint32]bool {
	allowed := make(map[uint32]bool)
	if r, ok := c.Regions[c.Region]; ok {
		for _, id := range r.AllowedKeyIDs {
			allowed[id] = true
		}
		return allowed
	}
	for _, id := range store.IDs() {
		allowed[id] = true
	}
	return allowed
}

func (c *Config) bootstrapPad() (*xorpad.Pad, error) {
	if c.Bootstrap.Key == "" {
		if c.Bootstrap.Seed == nil {
			return nil, nil
		}
		return xorpad.Derive(*c.Bootstrap.Seed, xorpad.ModeContinuous), nil
	}
	raw, err := base64.StdEncoding.DecodeString(c.Bootstrap.Key)
	if err != nil {
		return nil, errors.Wrap(err, "decode bootstrap key")
	}
	return xorpad.FromKey(raw)
}

func (c *Config) messages() (*client_handler.Messages, error) {
	m := client_handler.NewMessages()
	for key, locales := range c.Messages {
		for locale, text := range locales {
			if err := m.Register(key, locale, text); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (c *Config) immediateSet() map[string]bool {
	set := make(map[string]bool, len(c.Immediate))
	for _, name := range c.Immediate {
		set[name] = true
	}
	return set
}
