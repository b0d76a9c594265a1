// Package configstore holds the mesh node's runtime configuration and
// persists it to a TOML file following the same search-path and env-var
// precedence rules the CLI uses for logging flags.
package configstore

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/viper"
)

// Config is the node's persisted, user-editable settings.
type Config struct {
	WebsocketPort   int    `mapstructure:"websocket_port"`
	MdnsServiceName string `mapstructure:"mdns_service_name"`
	SecurityKey     string `mapstructure:"security_key"`
	AutoStart       bool   `mapstructure:"auto_start"`
	SyncEnabled     bool   `mapstructure:"sync_enabled"`
}

// Default returns the configuration used when no file or env var overrides it.
func Default() Config {
	return Config{
		WebsocketPort:   8765,
		MdnsServiceName: "unimesh-clip",
		AutoStart:       true,
		SyncEnabled:     false,
	}
}

// Store reads, updates, and persists a Config.
type Store interface {
	Get() Config
	Set(Config) error
	Save() error
}

// FileStore is a viper-backed TOML Store, with the standard env-var prefix
// UNIMESHCLIP_* taking precedence over the config file and defaults.
type FileStore struct {
	v    *viper.Viper
	path string
}

// NewFileStore loads configuration following the search order:
// defaults → config file (unimesh-clip.toml under the standard paths,
// or explicitPath if given) → UNIMESHCLIP_* env vars.
func NewFileStore(explicitPath string) (*FileStore, error) {
	v := viper.New()
	def := Default()
	v.SetDefault("websocket_port", def.WebsocketPort)
	v.SetDefault("mdns_service_name", def.MdnsServiceName)
	v.SetDefault("security_key", def.SecurityKey)
	v.SetDefault("auto_start", def.AutoStart)
	v.SetDefault("sync_enabled", def.SyncEnabled)

	var path string
	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
		path = explicitPath
	} else {
		v.SetConfigName("unimesh-clip")
		v.SetConfigType("toml")
		for _, p := range configPaths() {
			v.AddConfigPath(p)
		}
		path = defaultWritePath()
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("configstore: read: %w", err)
		}
	} else if used := v.ConfigFileUsed(); used != "" {
		path = used
	}

	v.SetEnvPrefix("UNIMESHCLIP")
	v.AutomaticEnv()

	return &FileStore{v: v, path: path}, nil
}

// Get returns the currently loaded configuration.
func (s *FileStore) Get() Config {
	return Config{
		WebsocketPort:   s.v.GetInt("websocket_port"),
		MdnsServiceName: s.v.GetString("mdns_service_name"),
		SecurityKey:     s.v.GetString("security_key"),
		AutoStart:       s.v.GetBool("auto_start"),
		SyncEnabled:     s.v.GetBool("sync_enabled"),
	}
}

// Set overwrites the in-memory configuration and persists it to disk.
func (s *FileStore) Set(c Config) error {
	s.v.Set("websocket_port", c.WebsocketPort)
	s.v.Set("mdns_service_name", c.MdnsServiceName)
	s.v.Set("security_key", c.SecurityKey)
	s.v.Set("auto_start", c.AutoStart)
	s.v.Set("sync_enabled", c.SyncEnabled)
	return s.Save()
}

// Save writes the current configuration to s.path, creating parent
// directories as needed.
func (s *FileStore) Save() error {
	if err := os.MkdirAll(dirOf(s.path), 0o755); err != nil {
		return fmt.Errorf("configstore: mkdir: %w", err)
	}
	if err := s.v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("configstore: write %s: %w", s.path, err)
	}
	return nil
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' || path[i] == '\\' {
			return path[:i]
		}
	}
	return "."
}

// configPaths returns the ordered list of directories searched for
// unimesh-clip.toml; viper searches them in this order and the first file
// found wins.
func configPaths() []string {
	var paths []string
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, fmt.Sprintf(`%s\unimesh-clip`, pd))
		}
		if appdata := os.Getenv("APPDATA"); appdata != "" {
			paths = append(paths, fmt.Sprintf(`%s\unimesh-clip`, appdata))
		}
	} else {
		paths = append(paths, "/etc/unimesh-clip")
		if home, err := os.UserHomeDir(); err == nil {
			paths = append(paths, fmt.Sprintf("%s/.config/unimesh-clip", home))
		}
	}
	return paths
}

// defaultWritePath is where Save writes when no config file was found on
// disk: the per-user path, last in the search order.
func defaultWritePath() string {
	paths := configPaths()
	if len(paths) == 0 {
		return "unimesh-clip.toml"
	}
	return paths[len(paths)-1] + "/unimesh-clip.toml"
}

// MemStore is an in-memory Store for tests and for embedding unimesh-clip in
// another process without touching disk.
type MemStore struct {
	cfg Config
}

// NewMemStore returns a MemStore seeded with c.
func NewMemStore(c Config) *MemStore {
	return &MemStore{cfg: c}
}

func (m *MemStore) Get() Config     { return m.cfg }
func (m *MemStore) Set(c Config) error { m.cfg = c; return nil }
func (m *MemStore) Save() error     { return nil }
