package config

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "GIN_MODE", "LOG_LEVEL", "ALLOWED_ORIGINS", "TARIFF_DATA_DIR", "TARIFF_DATA_URL",
		"PRELOAD_CANTONS", "FIREBASE_PROJECT_ID", "FIREBASE_CREDS_BASE64", "FIREBASE_CREDS_FILE",
		"FIRESTORE_EMULATOR_HOST", "META_PIXEL_ID", "META_ACCESS_TOKEN", "META_TEST_EVENT_CODE",
		"META_MOCK", "REQUEST_TIMEOUT",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "release", cfg.GinMode)
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, 10*time.Second, cfg.RequestTimeout)
	assert.Empty(t, cfg.PreloadCantons)
	assert.False(t, cfg.ConversionsEnabled())
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("PRELOAD_CANTONS", "zh, be ,,ge")
	t.Setenv("REQUEST_TIMEOUT", "3s")
	t.Setenv("META_PIXEL_ID", "123")
	t.Setenv("META_ACCESS_TOKEN", "token")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, []string{"ZH", "BE", "GE"}, cfg.PreloadCantons)
	assert.Equal(t, 3*time.Second, cfg.RequestTimeout)
	assert.True(t, cfg.ConversionsEnabled())
}

func TestLoadRejectsBadValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("META_MOCK", "sometimes")
	_, err := Load()
	assert.ErrorContains(t, err, "META_MOCK")

	clearEnv(t)
	t.Setenv("META_PIXEL_ID", "123")
	_, err = Load()
	assert.ErrorContains(t, err, "META_ACCESS_TOKEN")
}

func TestValidateFirestore(t *testing.T) {
	cfg := Config{}
	assert.ErrorContains(t, cfg.ValidateFirestore(), "FIREBASE_PROJECT_ID")

	cfg.FirebaseProjectID = "praemien"
	assert.ErrorContains(t, cfg.ValidateFirestore(), "FIREBASE_CREDS")

	cfg.FirestoreEmulator = "localhost:8081"
	assert.NoError(t, cfg.ValidateFirestore())
}

func TestFirebaseCredentialsJSON(t *testing.T) {
	cfg := Config{FirebaseCredsBase64: base64.StdEncoding.EncodeToString([]byte(`{"type":"service_account"}`))}
	data, source, err := cfg.FirebaseCredentialsJSON()
	require.NoError(t, err)
	assert.Equal(t, "base64", source)
	assert.JSONEq(t, `{"type":"service_account"}`, string(data))

	_, _, err = Config{FirebaseCredsBase64: "%%%"}.FirebaseCredentialsJSON()
	assert.Error(t, err)

	_, _, err = Config{}.FirebaseCredentialsJSON()
	assert.Error(t, err)
}
