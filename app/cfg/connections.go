package cfg

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Connection source types known to the system.
const (
	SourceGit        = "git"
	SourceJira       = "jira"
	SourceConfluence = "confluence"
	SourceEmail      = "email"
	SourceFeed       = "feed"
)

// ConnConfig describes one external connection (account) loaded from a YAML
// file in the connections directory. The file name (without .yml) becomes the
// connection name.
type ConnConfig struct {
	Name        string          // Derived from filename (without .yml extension)
	Source      string          `yaml:"source"`
	BaseURL     string          `yaml:"base_url"`
	Enabled     bool            `yaml:"enabled"`
	Settings    ConnSettings    `yaml:"settings"`
	Credentials ConnCredentials `yaml:"credentials"`
}

type ConnSettings struct {
	Timeout  int `yaml:"timeout"`   // seconds, per-request
	MaxBatch int `yaml:"max_batch"` // maximum items discovered per poll
}

type ConnCredentials struct {
	Username string `yaml:"username"`
	TokenEnv string `yaml:"token_env"` // environment variable holding the secret
}

// Token resolves the credential secret from the environment. Secrets never
// live in the YAML files themselves.
func (c ConnCredentials) Token() string {
	if c.TokenEnv == "" {
		return ""
	}
	return os.Getenv(c.TokenEnv)
}

var validSources = map[string]bool{
	SourceGit:        true,
	SourceJira:       true,
	SourceConfluence: true,
	SourceEmail:      true,
	SourceFeed:       true,
}

type ConnCache struct {
	dir   string
	cache map[string]*ConnConfig
	mu    sync.RWMutex
}

func NewConnCache(dir string) *ConnCache {
	return &ConnCache{
		dir:   dir,
		cache: make(map[string]*ConnConfig),
	}
}

func (cc *ConnCache) Run() error {
	if _, err := os.Stat(cc.dir); os.IsNotExist(err) {
		return nil
	}

	files, err := filepath.Glob(filepath.Join(cc.dir, "*.yml"))
	if err != nil {
		return fmt.Errorf("failed to find YML files: %w", err)
	}

	for _, file := range files {
		fileName := filepath.Base(file)
		connName := fileName[:len(fileName)-4] // Remove .yml extension

		conn, err := cc.LoadConn(connName)
		if err != nil {
			return fmt.Errorf("error loading %s: %w", file, err)
		}

		slog.Debug("Connection loaded", "connection", connName, "source", conn.Source, "enabled", conn.Enabled)
	}

	return nil
}

func (cc *ConnCache) LoadConn(connName string) (*ConnConfig, error) {
	file := filepath.Join(cc.dir, connName+".yml")
	conn, err := cc.parseConn(file)
	if err != nil {
		return nil, err
	}

	conn.Name = connName

	if err := cc.validateConn(conn); err != nil {
		return nil, fmt.Errorf("invalid connection %s: %w", file, err)
	}

	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.cache[conn.Name] = conn

	return conn, nil
}

func (cc *ConnCache) GetConn(connName string) (*ConnConfig, error) {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	conn, ok := cc.cache[connName]
	if !ok {
		return nil, fmt.Errorf("connection '%s' not found", connName)
	}
	return conn, nil
}

func (cc *ConnCache) GetConns() map[string]*ConnConfig {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	copied := make(map[string]*ConnConfig, len(cc.cache))
	for k, v := range cc.cache {
		copied[k] = v
	}
	return copied
}

func (cc *ConnCache) GetEnabledConns() map[string]*ConnConfig {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	enabled := make(map[string]*ConnConfig)
	for k, v := range cc.cache {
		if v.Enabled {
			enabled[k] = v
		}
	}
	return enabled
}

func (cc *ConnCache) GetConnCount() int {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return len(cc.cache)
}

func (cc *ConnCache) parseConn(file string) (*ConnConfig, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var conn ConnConfig
	if err := yaml.Unmarshal(data, &conn); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if conn.Settings.Timeout == 0 {
		conn.Settings.Timeout = 30
	}
	if conn.Settings.MaxBatch == 0 {
		conn.Settings.MaxBatch = 200
	}

	return &conn, nil
}

func (cc *ConnCache) validateConn(conn *ConnConfig) error {
	if conn == nil {
		return fmt.Errorf("connection is nil")
	}

	if conn.Name == "" {
		return fmt.Errorf("connection name is required")
	}
	if conn.Source == "" {
		return fmt.Errorf("source is required")
	}
	if !validSources[conn.Source] {
		return fmt.Errorf("unknown source type: %s", conn.Source)
	}
	if conn.BaseURL == "" {
		return fmt.Errorf("base URL is required")
	}

	nonNegativeFields := map[string]int{
		"timeout":   conn.Settings.Timeout,
		"max batch": conn.Settings.MaxBatch,
	}
	for fieldName, fieldValue := range nonNegativeFields {
		if fieldValue < 0 {
			return fmt.Errorf("%s must be non-negative", fieldName)
		}
	}

	return nil
}
