package internal

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/samber/lo"
)

const (
	StoreBadger    = "badger"
	StoreFirestore = "firestore"
)

type Config struct {
	LogLevel          string        `env:"LOG_LEVEL,default=INFO"`
	Host              string        `env:"HOST,default=0.0.0.0"`
	Port              int           `env:"PORT,default=8080"`
	AllowedOrigins    string        `env:"ALLOWED_ORIGINS,default=http://localhost:3000"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
	MetricInterval    time.Duration `env:"METRIC_INTERVAL,default=15s"`
	AuthSecret        string        `env:"AUTH_SECRET,required=true"`
	AuthTokenDuration time.Duration `env:"AUTH_TOKEN_DURATION,default=24h"`

	Store             string `env:"MESSAGE_STORE,default=badger"`
	BadgerFilepath    string `env:"BADGER_FILEPATH,default=./data/badger"`
	FirestoreProject  string `env:"FIRESTORE_PROJECT"`
	BlugeFilepath     string `env:"BLUGE_FILEPATH,default=./data/bluge"`
	SearchPageSize    int    `env:"SEARCH_PAGE_SIZE,default=20"`
	LimitMessages     *int   `env:"LIMIT_MESSAGES"`
	SocketBufferSize  int    `env:"SOCKET_BUFFER_SIZE,default=64"`
	MaxUploadBytes    int64  `env:"MAX_UPLOAD_BYTES,default=5242880"`
	BlobRoot          string `env:"BLOB_ROOT,default=./data/files"`
	BlobBaseURL       string `env:"BLOB_BASE_URL,default=http://localhost:8080/files"`
	GCSBucket         string `env:"GCS_BUCKET"`
	CensoredWordsDir  string `env:"CENSORED_WORDS_DIR"`
	CharReplacement   string `env:"CHARACTER_REPLACEMENT,default=*"`
	DebugInspector    bool   `env:"DEBUG_INSPECTOR,default=false"`
}

// Load reads an optional .env file then the environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	if config.Store != StoreBadger && config.Store != StoreFirestore {
		return Config{}, fmt.Errorf("config error: MESSAGE_STORE must be %q or %q, got %q",
			StoreBadger, StoreFirestore, config.Store)
	}
	if config.Store == StoreFirestore && config.FirestoreProject == "" {
		return Config{}, fmt.Errorf("config error: FIRESTORE_PROJECT is required with the firestore store")
	}
	return config, nil
}

func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Origins splits ALLOWED_ORIGINS on commas.
func (c Config) Origins() []string {
	return lo.FilterMap(strings.Split(c.AllowedOrigins, ","), func(origin string, _ int) (string, bool) {
		origin = strings.TrimSpace(origin)
		return origin, origin != ""
	})
}

func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}
