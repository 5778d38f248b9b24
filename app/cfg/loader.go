package cfg

import (
	"cmp"
	"fmt"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Storage configuration
	DBPath         string `long:"db-path" env:"DB_PATH" default:"./jervis.db" description:"Path to the SQLite database file"`
	ConnectionsDir string `long:"connections-dir" env:"CONNECTIONS_DIR" default:"./connections" description:"Directory containing connection definition files"`
	GitMirrorsDir  string `long:"git-mirrors-dir" env:"GIT_MIRRORS_DIR" default:"./mirrors" description:"Directory holding bare git repository mirrors"`

	// HTTP server configuration
	Port         string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	APIAccessKey string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`

	// Polling configuration
	PollInterval     int `long:"poll-interval" env:"POLL_INTERVAL" default:"1800" description:"Polling interval in seconds"`
	PollInitialDelay int `long:"poll-initial-delay" env:"POLL_INITIAL_DELAY" default:"10" description:"Delay before the first poll cycle in seconds"`

	// Indexing configuration
	WorkerCount   int `long:"worker-count" env:"WORKER_COUNT" default:"4" description:"Number of indexing workers per source type"`
	BufferSize    int `long:"buffer-size" env:"BUFFER_SIZE" default:"128" description:"In-flight item buffer size per indexer"`
	LeaseTimeout  int `long:"lease-timeout" env:"LEASE_TIMEOUT" default:"900" description:"Indexing lease timeout in seconds"`
	SweepInterval int `long:"sweep-interval" env:"SWEEP_INTERVAL" default:"300" description:"Stale lease sweep interval in seconds"`

	// Rate limiting configuration
	RateBurst         int `long:"rate-burst" env:"RATE_BURST" default:"120" description:"Burst phase permits per minute per domain"`
	RateNormal        int `long:"rate-normal" env:"RATE_NORMAL" default:"60" description:"Normal phase permits per minute per domain"`
	RateSustained     int `long:"rate-sustained" env:"RATE_SUSTAINED" default:"20" description:"Sustained phase permits per minute per domain"`
	RateBurstRequests int `long:"rate-burst-requests" env:"RATE_BURST_REQUESTS" default:"100" description:"Requests served at burst rate before narrowing to normal"`

	// Application metadata
	NotifyURL string `long:"notify-url" env:"NOTIFY_URL" description:"Webhook URL for indexing progress notifications (optional)"`
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"JERVIS/1.0" description:"User agent string for HTTP requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, America/New_York)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

func Load() (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		DBPath:            raw.DBPath,
		ConnectionsDir:    raw.ConnectionsDir,
		GitMirrorsDir:     raw.GitMirrorsDir,
		Port:              raw.Port,
		APIAccessKey:      raw.APIAccessKey,
		PollInterval:      raw.PollInterval,
		PollInitialDelay:  raw.PollInitialDelay,
		WorkerCount:       raw.WorkerCount,
		BufferSize:        raw.BufferSize,
		LeaseTimeout:      raw.LeaseTimeout,
		SweepInterval:     raw.SweepInterval,
		RateBurst:         raw.RateBurst,
		RateNormal:        raw.RateNormal,
		RateSustained:     raw.RateSustained,
		RateBurstRequests: raw.RateBurstRequests,
		NotifyURL:         raw.NotifyURL,
		UserAgent:         raw.UserAgent,
		Timezone:          raw.Timezone,
		Debug:             raw.Debug,
		Version:           GetVersion(),
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
		}
	}
	return nil
}
