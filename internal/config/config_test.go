package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	req := require.New(t)
	cfg := Default()

	req.Equal(":8080", cfg.Port)
	req.Equal([]string{"http://localhost:8080"}, cfg.AllowedOrigins)
	req.Equal(10*time.Second, cfg.HandshakeTimeout)
	req.Equal(30, cfg.MaxTextLength)
	req.Equal(int64(64*1024), cfg.MaxMessageSize)
	req.Equal(54*time.Second, cfg.PingPeriod)
	req.Less(cfg.PingPeriod, cfg.PongWait)
}

func TestSanitize_Replaces_Unusable_Values(t *testing.T) {
	req := require.New(t)

	cfg := Sanitize(Config{
		MaxTextLength: -1,
		PongWait:      20 * time.Second,
		PingPeriod:    30 * time.Second,
	})

	req.Equal(DefaultPort, cfg.Port)
	req.Equal(int64(DefaultMaxMessageSize), cfg.MaxMessageSize)
	req.Equal(DefaultMaxTextLength, cfg.MaxTextLength)
	req.Equal(DefaultHandshakeTimeout, cfg.HandshakeTimeout)
	req.Equal(18*time.Second, cfg.PingPeriod)
	req.Equal(DefaultRateLimitBurst, cfg.RateLimit.Burst)
	req.Equal(DefaultLogLevel, cfg.LogLevel)
}

func TestApplyEnv(t *testing.T) {
	req := require.New(t)

	cfg, err := ApplyEnv(Default(), []string{
		"SERVER_PORT=:9090",
		"ALLOWED_ORIGINS=http://a.example, *",
		"MAX_TEXT_LENGTH=140",
		"HANDSHAKE_TIMEOUT=250ms",
		"RATE_LIMIT_REFILL_INTERVAL=3",
		"LOG_LEVEL=debug",
		"UNRELATED=1",
	})

	req.NoError(err)
	req.Equal(":9090", cfg.Port)
	req.Equal([]string{"http://a.example", "*"}, cfg.AllowedOrigins)
	req.Equal(140, cfg.MaxTextLength)
	req.Equal(250*time.Millisecond, cfg.HandshakeTimeout)
	req.Equal(3*time.Second, cfg.RateLimit.RefillInterval)
	req.Equal("debug", cfg.LogLevel)
	// untouched
	req.Equal(DefaultSendBufferSize, cfg.SendBufferSize)
}

func TestApplyEnv_Bad_Duration(t *testing.T) {
	_, err := ApplyEnv(Default(), []string{"PONG_WAIT=forever"})

	require.Error(t, err)
	require.Contains(t, err.Error(), "PONG_WAIT")
}

func TestLoad_File_Then_Env(t *testing.T) {
	req := require.New(t)
	path := writeFile(t, "relay.toml", `
port = ":7000"
allowed_origins = ["http://chat.example"]
max_text_length = 50
handshake_timeout = "5s"
log_format = "json"
`)
	t.Setenv("MAX_TEXT_LENGTH", "60")

	cfg, err := Load(path)

	req.NoError(err)
	req.Equal(":7000", cfg.Port)
	req.Equal([]string{"http://chat.example"}, cfg.AllowedOrigins)
	req.Equal(60, cfg.MaxTextLength)
	req.Equal(5*time.Second, cfg.HandshakeTimeout)
	req.Equal("json", cfg.LogFormat)
}

func TestLoad_Unknown_Key(t *testing.T) {
	path := writeFile(t, "relay.toml", `colour = "blue"`)

	_, err := Load(path)

	require.ErrorContains(t, err, "unknown key")
}

func TestLoad_Missing_File(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))

	require.Error(t, err)
}

func TestLoadDotEnv_Missing_Is_Ignored(t *testing.T) {
	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), ".env")))
}

func TestLoadDotEnv_Sets_Variables(t *testing.T) {
	req := require.New(t)
	path := writeFile(t, ".env", "CHATRELAY_TEST_VALUE=from-dotenv\n")
	t.Cleanup(func() { _ = os.Unsetenv("CHATRELAY_TEST_VALUE") })

	req.NoError(LoadDotEnv(path))

	req.Equal("from-dotenv", os.Getenv("CHATRELAY_TEST_VALUE"))
}
