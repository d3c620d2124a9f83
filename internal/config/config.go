package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr      string
	APIURL    string
	WSURL     string
	JWTSecret string
	JWTTTLMin int

	SQLITEDsn   string
	PostgresDsn string

	UploadDir string
	UploadURL string

	// Client-side knobs for the chat core.
	Token          string
	PollInterval   time.Duration
	ReconnectDelay time.Duration
	SendTimeout    time.Duration
	ReadDebounce   time.Duration
}

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val != "" {
		return val
	}
	return def
}

func getdur(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func MustLoad() Config {
	jwtttl, _ := strconv.Atoi(getenv("JWT_TTL_MIN", "1440"))

	cfg := Config{
		Addr:           getenv("HTTP_ADDR", ":8000"),
		APIURL:         getenv("API_URL", "http://localhost:8000/api"),
		WSURL:          getenv("WS_URL", "ws://localhost:8000/ws"),
		JWTSecret:      getenv("JWT_SECRET", ""),
		JWTTTLMin:      jwtttl,
		SQLITEDsn:      getenv("SQLITE_DSN", "file:marketchat.db?_pragma=foreign_keys(ON)"),
		PostgresDsn:    getenv("POSTGRES_DSN", ""),
		UploadDir:      getenv("UPLOAD_DIR", "media"),
		UploadURL:      getenv("UPLOAD_URL", "/media"),
		Token:          getenv("TOKEN", ""),
		PollInterval:   getdur("POLL_INTERVAL", 10*time.Second),
		ReconnectDelay: getdur("RECONNECT_DELAY", 3*time.Second),
		SendTimeout:    getdur("SEND_TIMEOUT", 5*time.Second),
		ReadDebounce:   getdur("READ_DEBOUNCE", 300*time.Millisecond),
	}
	return cfg
}
