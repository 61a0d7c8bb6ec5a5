package config

// Config is the on-disk configuration. Durations are Go duration strings
// ("2s", "30m"); empty means the component default.
type Config struct {
	Telegram      TelegramConfig      `json:"telegram"`
	Logging       LoggingConfig       `json:"logging"`
	Tracker       TrackerConfig       `json:"tracker"`
	Extractor     ExtractorConfig     `json:"extractor,omitempty"`
	Fetcher       FetcherConfig       `json:"fetcher,omitempty"`
	Storage       StorageConfig       `json:"storage"`
	Notifier      NotifierConfig      `json:"notifier,omitempty"`
	Observability ObservabilityConfig `json:"observability,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// NotifyChatID is where new-chapter announcements go. Zero leaves the
	// destination unresolved and every poll tick is skipped.
	NotifyChatID   int64 `json:"notify_chat_id"`
	NotifyThreadID int   `json:"notify_thread_id,omitempty"`
	// GroupLog is "<chat_id>" or "<chat_id>:<thread_id>" for the log sink.
	GroupLog    string `json:"group_log,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// TrackerConfig controls polling and administration.
//
// Defaults:
//   - schedule: "30m"
//   - initial_delay: "2s"
//   - fetch_timeout: "30s"
//   - drain_timeout: "45s"
//   - concurrency: 1
//   - allowed_prefixes: ["https://www.viz.com/shonenjump/chapters/"]
type TrackerConfig struct {
	Schedule        string   `json:"schedule"`
	Timezone        string   `json:"timezone,omitempty"`
	InitialDelay    string   `json:"initial_delay,omitempty"`
	FetchTimeout    string   `json:"fetch_timeout,omitempty"`
	DrainTimeout    string   `json:"drain_timeout,omitempty"`
	Concurrency     int      `json:"concurrency,omitempty"`
	AllowedPrefixes []string `json:"allowed_prefixes,omitempty"`
}

// ExtractorConfig overrides the chapter pattern. It must have two capture
// groups: the date and the chapter label.
type ExtractorConfig struct {
	Pattern string `json:"pattern,omitempty"`
}

type FetcherConfig struct {
	// Driver is "http" (colly, default) or "headless" (chromedp).
	Driver        string         `json:"driver,omitempty"`
	UserAgent     string         `json:"user_agent,omitempty"`
	RespectRobots bool           `json:"respect_robots,omitempty"`
	Headless      HeadlessConfig `json:"headless,omitempty"`
}

type HeadlessConfig struct {
	MaxParallel       int    `json:"max_parallel,omitempty"`
	NavigationTimeout string `json:"navigation_timeout,omitempty"`
}

// StorageConfig selects the state backend.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./chapterbot_state.json" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type NotifierConfig struct {
	RatePerSec  int        `json:"rate_per_sec,omitempty"`
	SendTimeout string     `json:"send_timeout,omitempty"`
	NATS        NATSConfig `json:"nats,omitempty"`
}

type NATSConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url,omitempty"`
	Subject string `json:"subject,omitempty"`
}

// ObservabilityConfig controls the HTTP server for /metrics, /healthz and
// optionally pprof.
//
// Prefer binding to localhost. A non-loopback address requires a token.
type ObservabilityConfig struct {
	Enabled      bool   `json:"enabled"`
	Addr         string `json:"addr,omitempty"`  // default "127.0.0.1:9090"
	Token        string `json:"token,omitempty"` // bearer token, never logged
	Pprof        bool   `json:"pprof,omitempty"`
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
