package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pion/webrtc/v4"
)

const (
	envVarListenAddr      = "MEET_RELAY_LISTEN_ADDR"
	envVarPort            = "PORT" // legacy: ":<PORT>" when the full addr is unset
	envVarStaticDir       = "MEET_RELAY_STATIC_DIR"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"
	envVarMode            = "MEET_RELAY_MODE"
	envVarLogFormat       = "MEET_RELAY_LOG_FORMAT"
	envVarLogLevel        = "MEET_RELAY_LOG_LEVEL"
	envVarShutdownTimeout = "MEET_RELAY_SHUTDOWN_TIMEOUT"

	envVarWSIdleTimeout            = "SIGNALING_WS_IDLE_TIMEOUT"
	envVarWSPingInterval           = "SIGNALING_WS_PING_INTERVAL"
	envVarMaxMessageBytes          = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxMessagesPerSecond     = "MAX_SIGNALING_MESSAGES_PER_SECOND"

	envVarTURNRESTSharedSecret   = "TURN_REST_SHARED_SECRET"
	envVarTURNRESTTTLSeconds     = "TURN_REST_TTL_SECONDS"
	envVarTURNRESTUsernamePrefix = "TURN_REST_USERNAME_PREFIX"
)

const (
	DefaultListenAddr            = ":3000"
	DefaultStaticDir             = "public"
	DefaultShutdown              = 15 * time.Second
	DefaultMode             Mode = ModeDev
	DefaultWSIdleTimeout         = 60 * time.Second
	DefaultWSPingInterval        = 20 * time.Second
	DefaultMaxMessageBytes       = int64(64 * 1024)
	DefaultMaxMessagesPerSecond  = 50

	DefaultTURNRESTTTLSeconds     int64 = 3600
	DefaultTURNRESTUsernamePrefix       = "meet"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type TURNRESTConfig struct {
	SharedSecret   string
	TTLSeconds     int64
	UsernamePrefix string
}

func (c TURNRESTConfig) Enabled() bool {
	return strings.TrimSpace(c.SharedSecret) != ""
}

type Config struct {
	ListenAddr      string
	StaticDir       string
	AllowedOrigins  []string
	Mode            Mode
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration

	WSIdleTimeout        time.Duration
	WSPingInterval       time.Duration
	MaxMessageBytes      int64
	MaxMessagesPerSecond int

	ICEServers []webrtc.ICEServer
	TURNREST   TURNRESTConfig
}

// Load reads a .env file when present, then builds the Config from
// environment variables and flags. Env values become flag defaults, so
// flags win when both are set.
func Load(args []string) (Config, error) {
	_ = godotenv.Load()
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	envMode, _ := lookup(envVarMode)
	modeDefault := string(DefaultMode)
	if envMode != "" {
		modeDefault = envMode
	}

	envLogFormat, envLogFormatOK := lookup(envVarLogFormat)
	envLogFormatSet := envLogFormatOK && envLogFormat != ""
	logFormatDefault := envLogFormat
	if !envLogFormatSet {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}

	envLogLevel, envLogLevelOK := lookup(envVarLogLevel)
	envLogLevelSet := envLogLevelOK && envLogLevel != ""
	logLevelDefault := envLogLevel
	if !envLogLevelSet {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	listenAddr := envOrDefault(lookup, envVarListenAddr, "")
	if listenAddr == "" {
		if port, ok := lookup(envVarPort); ok && strings.TrimSpace(port) != "" {
			listenAddr = ":" + strings.TrimSpace(port)
		} else {
			listenAddr = DefaultListenAddr
		}
	}

	staticDir := envOrDefault(lookup, envVarStaticDir, DefaultStaticDir)
	allowedOriginsStr := envOrDefault(lookup, envVarAllowedOrigins, "")

	shutdownTimeout := DefaultShutdown
	if raw, ok := lookup(envVarShutdownTimeout); ok && strings.TrimSpace(raw) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarShutdownTimeout, raw, err)
		}
		shutdownTimeout = d
	}

	wsIdleTimeout := DefaultWSIdleTimeout
	if raw, ok := lookup(envVarWSIdleTimeout); ok && strings.TrimSpace(raw) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarWSIdleTimeout, raw, err)
		}
		wsIdleTimeout = d
	}

	wsPingInterval := DefaultWSPingInterval
	if raw, ok := lookup(envVarWSPingInterval); ok && strings.TrimSpace(raw) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarWSPingInterval, raw, err)
		}
		wsPingInterval = d
	}

	maxMessageBytes := DefaultMaxMessageBytes
	if raw, ok := lookup(envVarMaxMessageBytes); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarMaxMessageBytes, raw, err)
		}
		maxMessageBytes = n
	}

	maxMessagesPerSecond, err := envIntOrDefault(lookup, envVarMaxMessagesPerSecond, DefaultMaxMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}

	iceServersJSON := envOrDefault(lookup, envICEServersJSON, "")
	stunURLs := envOrDefault(lookup, envStunURLs, "")
	turnURLs := envOrDefault(lookup, envTurnURLs, "")
	turnUsername := envOrDefault(lookup, envTurnUsername, "")
	turnCredential := envOrDefault(lookup, envTurnCredential, "")

	turnRESTSharedSecret := envOrDefault(lookup, envVarTURNRESTSharedSecret, "")
	turnRESTTTLSeconds := DefaultTURNRESTTTLSeconds
	if raw, ok := lookup(envVarTURNRESTTTLSeconds); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarTURNRESTTTLSeconds, raw, err)
		}
		turnRESTTTLSeconds = n
	}
	turnRESTUsernamePrefix := envOrDefault(lookup, envVarTURNRESTUsernamePrefix, DefaultTURNRESTUsernamePrefix)

	fs := flag.NewFlagSet("meet-relay", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		modeStr      string
		logFormatStr string
		logLevelStr  string
	)

	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address (host:port; env "+envVarListenAddr+", or "+envVarPort+")")
	fs.StringVar(&staticDir, "static-dir", staticDir, "Directory of static client assets; empty disables serving (env "+envVarStaticDir+")")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated allowed browser origins; empty means same-host only (env "+envVarAllowedOrigins+")")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod (env "+envVarMode+")")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json (env "+envVarLogFormat+")")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error (env "+envVarLogLevel+")")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (env "+envVarShutdownTimeout+")")
	fs.DurationVar(&wsIdleTimeout, "ws-idle-timeout", wsIdleTimeout, "Close idle signaling connections after this duration (env "+envVarWSIdleTimeout+")")
	fs.DurationVar(&wsPingInterval, "ws-ping-interval", wsPingInterval, "Ping interval on signaling connections; must be < --ws-idle-timeout (env "+envVarWSPingInterval+")")
	fs.Int64Var(&maxMessageBytes, "max-signaling-message-bytes", maxMessageBytes, "Max inbound signaling message size in bytes (env "+envVarMaxMessageBytes+")")
	fs.IntVar(&maxMessagesPerSecond, "max-signaling-messages-per-second", maxMessagesPerSecond, "Max inbound signaling messages per second per connection (env "+envVarMaxMessagesPerSecond+")")
	fs.StringVar(&iceServersJSON, "ice-servers-json", iceServersJSON, "ICE server JSON config (env "+envICEServersJSON+")")
	fs.StringVar(&stunURLs, "stun-urls", stunURLs, "Comma-separated STUN URLs (env "+envStunURLs+")")
	fs.StringVar(&turnURLs, "turn-urls", turnURLs, "Comma-separated TURN URLs (env "+envTurnURLs+")")
	fs.StringVar(&turnUsername, "turn-username", turnUsername, "TURN username (env "+envTurnUsername+")")
	fs.StringVar(&turnCredential, "turn-credential", turnCredential, "TURN credential (env "+envTurnCredential+")")
	fs.StringVar(&turnRESTSharedSecret, "turn-rest-shared-secret", turnRESTSharedSecret, "TURN REST shared secret; enables ephemeral TURN credentials (env "+envVarTURNRESTSharedSecret+")")
	fs.Int64Var(&turnRESTTTLSeconds, "turn-rest-ttl-seconds", turnRESTTTLSeconds, "TURN REST credential TTL in seconds (env "+envVarTURNRESTTTLSeconds+")")
	fs.StringVar(&turnRESTUsernamePrefix, "turn-rest-username-prefix", turnRESTUsernamePrefix, "TURN REST username prefix (env "+envVarTURNRESTUsernamePrefix+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	setFlags := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}

	if !envLogFormatSet && !setFlags["log-format"] {
		logFormatStr = defaultLogFormatForMode(string(mode))
	}
	if !envLogLevelSet && !setFlags["log-level"] {
		logLevelStr = defaultLogLevelForMode(string(mode))
	}

	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	if listenAddr == "" {
		return Config{}, fmt.Errorf("listen address must not be empty")
	}
	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("shutdown timeout must be > 0")
	}
	if wsIdleTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--ws-idle-timeout must be > 0", envVarWSIdleTimeout)
	}
	if wsPingInterval <= 0 {
		return Config{}, fmt.Errorf("%s/--ws-ping-interval must be > 0", envVarWSPingInterval)
	}
	if wsPingInterval >= wsIdleTimeout {
		return Config{}, fmt.Errorf("%s/--ws-ping-interval must be < %s/--ws-idle-timeout", envVarWSPingInterval, envVarWSIdleTimeout)
	}
	if maxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("%s/--max-signaling-message-bytes must be > 0", envVarMaxMessageBytes)
	}
	if maxMessagesPerSecond <= 0 {
		return Config{}, fmt.Errorf("%s/--max-signaling-messages-per-second must be > 0", envVarMaxMessagesPerSecond)
	}

	if strings.TrimSpace(turnRESTSharedSecret) != "" {
		if turnRESTTTLSeconds <= 0 {
			return Config{}, fmt.Errorf("%s must be > 0 when %s is set", envVarTURNRESTTTLSeconds, envVarTURNRESTSharedSecret)
		}
		if strings.TrimSpace(turnRESTUsernamePrefix) == "" {
			return Config{}, fmt.Errorf("%s must be non-empty when %s is set", envVarTURNRESTUsernamePrefix, envVarTURNRESTSharedSecret)
		}
		if strings.Contains(turnRESTUsernamePrefix, ":") {
			return Config{}, fmt.Errorf("%s must not contain ':'", envVarTURNRESTUsernamePrefix)
		}
	}

	iceServers, err := parseICEServersFromValues(iceServersJSON, stunURLs, turnURLs, turnUsername, turnCredential)
	if err != nil {
		return Config{}, err
	}

	return Config{
		ListenAddr:      listenAddr,
		StaticDir:       staticDir,
		AllowedOrigins:  splitCommaSeparated(allowedOriginsStr),
		Mode:            mode,
		LogFormat:       logFormat,
		LogLevel:        level,
		ShutdownTimeout: shutdownTimeout,

		WSIdleTimeout:        wsIdleTimeout,
		WSPingInterval:       wsPingInterval,
		MaxMessageBytes:      maxMessageBytes,
		MaxMessagesPerSecond: maxMessagesPerSecond,

		ICEServers: iceServers,
		TURNREST: TURNRESTConfig{
			SharedSecret:   turnRESTSharedSecret,
			TTLSeconds:     turnRESTTTLSeconds,
			UsernamePrefix: turnRESTUsernamePrefix,
		},
	}, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}
	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func splitCommaSeparated(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}
