package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds runtime settings read from the environment.
type Config struct {
	Env         string
	Port        string
	DatabaseURL string
	JWTSecret   string
	TokenTTL    time.Duration
	FrontendURL string
	BackendURL  string
	UploadDir   string

	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubject    string

	DiscordWebhookURL string
	AdminUsernames    []string

	WSEventsPerSecond float64
	WSEventBurst      int
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getint(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func getfloat(key string, def float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// Load reads the configuration, falling back to development defaults.
func Load() Config {
	port := getenv("PORT", "3001")
	return Config{
		Env:               getenv("APP_ENV", "dev"),
		Port:              port,
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		JWTSecret:         getenv("JWT_SECRET", "dev-secret-change-me"),
		TokenTTL:          time.Duration(getint("TOKEN_TTL_HOURS", 168)) * time.Hour,
		FrontendURL:       getenv("FRONTEND_URL", "http://localhost:5173"),
		BackendURL:        strings.TrimRight(getenv("BACKEND_URL", "http://localhost:"+port), "/"),
		UploadDir:         getenv("UPLOAD_DIR", "./data/uploads"),
		VAPIDPublicKey:    os.Getenv("VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey:   os.Getenv("VAPID_PRIVATE_KEY"),
		VAPIDSubject:      getenv("VAPID_SUBJECT", "mailto:admin@localhost"),
		DiscordWebhookURL: os.Getenv("DISCORD_WEBHOOK_URL"),
		AdminUsernames:    splitList(os.Getenv("ADMIN_USERNAMES")),
		WSEventsPerSecond: getfloat("WS_EVENTS_PER_SECOND", 20),
		WSEventBurst:      getint("WS_EVENT_BURST", 40),
	}
}

// PushEnabled reports whether VAPID keys are configured.
func (c Config) PushEnabled() bool {
	return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
