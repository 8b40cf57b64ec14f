package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Environment
	Environment string

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// Server
	Port        string
	FrontendURL string

	// Match lifecycle
	PreMatchDelaySecs      int
	SchedulerPollSeconds   int
	PromoterPollSeconds    int
	WatchdogPollSeconds    int
	ReconcilerPollSeconds  int
	StaleMatchPollSeconds  int
	StaleMatchTimeoutMins  int
	HeartbeatTimeoutSecs   int
	HeartbeatIntervalSecs  int
	MaxMatchFrames         int
	FrameSkip              int
	StreamingFPS           int
	DataHz                 int
	DefaultMatchFormat     int
	CalibrationRounds      int
	CalibrationMaxAttempts int

	// Worker pool
	MaxConcurrentMatches int
	WorkerPollSeconds    int
	DrainTimeoutSecs     int
	EmulatorBridgeCmd    string

	// Chain / ledger
	ChainRPCURL        string
	ChainID            int64
	ContractAddress    string
	OperatorKeyHex     string
	MinBetWei          string
	LedgerMaxRetries   int
	ListenerPollSecs   int
	ListenerMaxRange   int
	ListenerMaxCatchup int

	// Content store
	ContentStoreRoot string

	// Security
	JWTSecret         string
	OperatorKeyBcrypt string

	// Rate limiting
	RateLimitWindowSecs int
	RateLimitMaxHits    int
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	return &Config{
		// Environment
		Environment: getEnv("APP_ENV", "development"),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", "postgres://localhost:5432/rawlclub?sslmode=disable"),

		// Redis
		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379/0"),

		// Server
		Port:        getEnv("APP_PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:5173"),

		// Match lifecycle
		PreMatchDelaySecs:      getEnvInt("PRE_MATCH_DELAY_SECONDS", 300),
		SchedulerPollSeconds:   getEnvInt("SCHEDULER_POLL_SECONDS", 30),
		PromoterPollSeconds:    getEnvInt("PROMOTER_POLL_SECONDS", 5),
		WatchdogPollSeconds:    getEnvInt("WATCHDOG_POLL_SECONDS", 30),
		ReconcilerPollSeconds:  getEnvInt("RECONCILER_POLL_SECONDS", 60),
		StaleMatchPollSeconds:  getEnvInt("STALE_MATCH_POLL_SECONDS", 60),
		StaleMatchTimeoutMins:  getEnvInt("STALE_MATCH_TIMEOUT_MINUTES", 30),
		HeartbeatTimeoutSecs:   getEnvInt("HEARTBEAT_TIMEOUT_SECONDS", 60),
		HeartbeatIntervalSecs:  getEnvInt("HEARTBEAT_INTERVAL_SECONDS", 15),
		MaxMatchFrames:         getEnvInt("MAX_MATCH_FRAMES", 108000),
		FrameSkip:              getEnvInt("FRAME_SKIP", 4),
		StreamingFPS:           getEnvInt("STREAMING_FPS", 60),
		DataHz:                 getEnvInt("DATA_HZ", 10),
		DefaultMatchFormat:     getEnvInt("DEFAULT_MATCH_FORMAT", 3),
		CalibrationRounds:      getEnvInt("CALIBRATION_ROUNDS", 5),
		CalibrationMaxAttempts: getEnvInt("CALIBRATION_MAX_ATTEMPTS", 3),

		// Worker pool
		MaxConcurrentMatches: getEnvInt("MAX_CONCURRENT_MATCHES", 2),
		WorkerPollSeconds:    getEnvInt("WORKER_POLL_SECONDS", 2),
		DrainTimeoutSecs:     getEnvInt("DRAIN_TIMEOUT_SECONDS", 600),
		EmulatorBridgeCmd:    getEnv("EMULATOR_BRIDGE_CMD", "rawl-emulator --headless"),

		// Chain / ledger
		ChainRPCURL:        getEnv("CHAIN_RPC_URL", "http://localhost:8545"),
		ChainID:            int64(getEnvInt("CHAIN_ID", 31337)),
		ContractAddress:    getEnv("CONTRACT_ADDRESS", ""),
		OperatorKeyHex:     getEnv("OPERATOR_PRIVATE_KEY", ""),
		MinBetWei:          getEnv("MIN_BET_WEI", "1000000000000000"),
		LedgerMaxRetries:   getEnvInt("LEDGER_MAX_RETRIES", 3),
		ListenerPollSecs:   getEnvInt("LISTENER_POLL_SECONDS", 2),
		ListenerMaxRange:   getEnvInt("LISTENER_MAX_BLOCK_RANGE", 2000),
		ListenerMaxCatchup: getEnvInt("LISTENER_MAX_CATCHUP", 10000),

		// Content store
		ContentStoreRoot: getEnv("CONTENT_STORE_ROOT", "./data/store"),

		// Security
		JWTSecret:         getEnv("JWT_SECRET", "change-me-in-production"),
		OperatorKeyBcrypt: getEnv("OPERATOR_KEY_BCRYPT", ""),

		// Rate limiting
		RateLimitWindowSecs: getEnvInt("RATE_LIMIT_WINDOW_SECONDS", 60),
		RateLimitMaxHits:    getEnvInt("RATE_LIMIT_MAX_HITS", 30),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
