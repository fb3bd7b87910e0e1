package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Backend locates the execution backend the daemon submits orders to.
type Backend struct {
	URL       string // REST base URL
	StreamURL string // order status WebSocket, empty disables streaming
}

// Wallet selects the trader's signing source. When PrivateKey is set a
// local in-process wallet is used; otherwise the daemon dials the
// JSON-RPC provider and uses its first account.
type Wallet struct {
	RPCURL     string
	PrivateKey string // hex, local wallet only; never logged
}

// Session controls the delegated session key lifecycle.
type Session struct {
	Duration           time.Duration // session key lifetime
	ResignPollInterval time.Duration // recovery loop cadence
}

type Config struct {
	ListenAddr     string // control API bind address
	AllowedOrigins []string
	Executor       string // executor contract address
	DataDir        string // pebble order journal location
	LogFile        string // optional log tee target

	Backend Backend
	Wallet  Wallet
	Session Session
}

func Default() Config {
	return Config{
		ListenAddr:     "127.0.0.1:8547",
		AllowedOrigins: []string{"http://localhost:3000"},
		DataDir:        "data/gridtap",
		Backend: Backend{
			URL: "http://localhost:8080",
		},
		Wallet: Wallet{
			RPCURL: "http://localhost:8545",
		},
		Session: Session{
			Duration:           time.Hour,
			ResignPollInterval: 15 * time.Second,
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and the
// environment. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.ListenAddr = getEnv("GRIDTAP_LISTEN_ADDR", cfg.ListenAddr)
	cfg.Executor = getEnv("GRIDTAP_EXECUTOR_ADDRESS", cfg.Executor)
	cfg.DataDir = getEnv("GRIDTAP_DATA_DIR", cfg.DataDir)
	cfg.LogFile = getEnv("GRIDTAP_LOG_FILE", cfg.LogFile)

	cfg.Backend.URL = getEnv("GRIDTAP_BACKEND_URL", cfg.Backend.URL)
	cfg.Backend.StreamURL = getEnv("GRIDTAP_BACKEND_WS_URL", cfg.Backend.StreamURL)

	cfg.Wallet.RPCURL = getEnv("GRIDTAP_WALLET_RPC_URL", cfg.Wallet.RPCURL)
	cfg.Wallet.PrivateKey = getEnv("GRIDTAP_PRIVATE_KEY", cfg.Wallet.PrivateKey)

	if origins := os.Getenv("GRIDTAP_ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = strings.Split(origins, ",")
	}
	if secs := os.Getenv("GRIDTAP_SESSION_DURATION_SECONDS"); secs != "" {
		if n, err := strconv.Atoi(secs); err == nil && n > 0 {
			cfg.Session.Duration = time.Duration(n) * time.Second
		}
	}
	if secs := os.Getenv("GRIDTAP_RESIGN_POLL_SECONDS"); secs != "" {
		if n, err := strconv.Atoi(secs); err == nil && n > 0 {
			cfg.Session.ResignPollInterval = time.Duration(n) * time.Second
		}
	}

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
