package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds runtime configuration loaded from environment variables.
type Config struct {
	Port           string
	GinMode        string
	LogLevel       string
	AllowedOrigins string

	DataDir        string
	DataBaseURL    string
	PreloadCantons []string

	FirebaseProjectID   string
	FirebaseCredsBase64 string
	FirebaseCredsFile   string
	FirestoreEmulator   string

	MetaPixelID       string
	MetaAccessToken   string
	MetaTestEventCode string
	MetaMock          bool

	RequestTimeout time.Duration
}

// Load reads environment variables into a Config with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:                getEnv("PORT", "8080"),
		GinMode:             getEnv("GIN_MODE", "release"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		AllowedOrigins:      strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS")),
		DataDir:             getEnv("TARIFF_DATA_DIR", "./data"),
		DataBaseURL:         strings.TrimSpace(os.Getenv("TARIFF_DATA_URL")),
		PreloadCantons:      splitList(os.Getenv("PRELOAD_CANTONS")),
		FirebaseProjectID:   strings.TrimSpace(os.Getenv("FIREBASE_PROJECT_ID")),
		FirebaseCredsBase64: strings.TrimSpace(os.Getenv("FIREBASE_CREDS_BASE64")),
		FirebaseCredsFile:   strings.TrimSpace(os.Getenv("FIREBASE_CREDS_FILE")),
		FirestoreEmulator:   strings.TrimSpace(os.Getenv("FIRESTORE_EMULATOR_HOST")),
		MetaPixelID:         strings.TrimSpace(os.Getenv("META_PIXEL_ID")),
		MetaAccessToken:     strings.TrimSpace(os.Getenv("META_ACCESS_TOKEN")),
		MetaTestEventCode:   strings.TrimSpace(os.Getenv("META_TEST_EVENT_CODE")),
	}

	mock, err := parseBoolEnv("META_MOCK", false)
	if err != nil {
		return Config{}, fmt.Errorf("parse META_MOCK: %w", err)
	}
	cfg.MetaMock = mock

	timeout, err := parseDurationEnv("REQUEST_TIMEOUT", 10*time.Second)
	if err != nil {
		return Config{}, fmt.Errorf("parse REQUEST_TIMEOUT: %w", err)
	}
	cfg.RequestTimeout = timeout

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate ensures fields needed by every binary are present.
func (c Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.DataDir == "" && c.DataBaseURL == "" {
		return errors.New("provide TARIFF_DATA_DIR or TARIFF_DATA_URL")
	}
	if c.MetaPixelID != "" && c.MetaAccessToken == "" && !c.MetaMock {
		return errors.New("META_ACCESS_TOKEN is required when META_PIXEL_ID is set")
	}
	return nil
}

// ValidateFirestore ensures lead storage can be reached.
func (c Config) ValidateFirestore() error {
	if c.FirebaseProjectID == "" {
		return errors.New("FIREBASE_PROJECT_ID is required")
	}
	if c.FirestoreEmulator != "" {
		return nil
	}
	if c.FirebaseCredsBase64 == "" && c.FirebaseCredsFile == "" {
		return errors.New("provide FIREBASE_CREDS_BASE64 or FIREBASE_CREDS_FILE for Firestore auth")
	}
	return nil
}

// ConversionsEnabled reports whether lead events go to the ad platform.
func (c Config) ConversionsEnabled() bool {
	return c.MetaPixelID != "" || c.MetaMock
}

// FirebaseCredentialsJSON returns the service account JSON bytes and the source used.
func (c Config) FirebaseCredentialsJSON() ([]byte, string, error) {
	if c.FirebaseCredsBase64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(c.FirebaseCredsBase64)
		if err != nil {
			return nil, "base64", fmt.Errorf("decode FIREBASE_CREDS_BASE64: %w", err)
		}
		return decoded, "base64", nil
	}
	if c.FirebaseCredsFile != "" {
		data, err := os.ReadFile(c.FirebaseCredsFile)
		if err != nil {
			return nil, "file", fmt.Errorf("read FIREBASE_CREDS_FILE: %w", err)
		}
		return data, "file", nil
	}
	return nil, "", errors.New("no firebase credentials found")
}

func getEnv(key, defaultVal string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return defaultVal
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.ToUpper(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseBoolEnv(key string, defaultVal bool) (bool, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal, nil
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return false, err
	}
	return parsed, nil
}

func parseDurationEnv(key string, defaultVal time.Duration) (time.Duration, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal, nil
	}
	return time.ParseDuration(val)
}
