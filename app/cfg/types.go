package cfg

type Cfg struct {
	// Storage configuration
	DBPath         string
	ConnectionsDir string
	GitMirrorsDir  string

	// HTTP server configuration
	Port         string
	APIAccessKey string

	// Polling configuration
	PollInterval     int // seconds
	PollInitialDelay int // seconds

	// Indexing configuration
	WorkerCount   int
	BufferSize    int
	LeaseTimeout  int // seconds
	SweepInterval int // seconds

	// Rate limiting configuration (permits per minute per domain)
	RateBurst         int
	RateNormal        int
	RateSustained     int
	RateBurstRequests int

	// Application metadata
	NotifyURL string
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}
