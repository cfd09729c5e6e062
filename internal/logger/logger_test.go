package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observed(redact bool, salt string) (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return &Logger{SugaredLogger: zap.New(core).Sugar(), redact: redact, hashSalt: salt}, logs
}

func TestRedactsSecretsAndHashesUsers(t *testing.T) {
	log, logs := observed(true, "")
	log.Info("evaluated",
		"user_id", "alice",
		"api_key", "sk-123",
		"Authorization", "Bearer abc",
		"note", "eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiJhbGljZSJ9.c2ln",
		"track", "first_contact",
	)
	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "[REDACTED]", fields["api_key"])
	assert.Equal(t, "[REDACTED]", fields["Authorization"])
	assert.Equal(t, "[REDACTED]", fields["note"])
	assert.Equal(t, "first_contact", fields["track"])
	hashed, ok := fields["user_id"].(string)
	require.True(t, ok)
	assert.Regexp(t, `^hash:[0-9a-f]{12}$`, hashed)
	assert.NotContains(t, hashed, "alice")
}

func TestHashIsStableAndSalted(t *testing.T) {
	a, _ := observed(true, "")
	b, _ := observed(true, "pepper")
	assert.Equal(t, a.hashValue("alice"), a.hashValue("alice"))
	assert.NotEqual(t, a.hashValue("alice"), b.hashValue("alice"))
	assert.Equal(t, "", a.hashValue(""))
}

func TestWithKeepsRedaction(t *testing.T) {
	log, logs := observed(true, "")
	log.With("secret", "s3cr3t").Warn("scoring failed", "error", "timeout")
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "[REDACTED]", fields["secret"])
	assert.Equal(t, "timeout", fields["error"])
}

func TestDisabledRedactionPassesThrough(t *testing.T) {
	log, logs := observed(false, "")
	log.Debug("raw", "user_id", "alice")
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "alice", fields["user_id"])
}

func TestNewModes(t *testing.T) {
	for _, mode := range []string{"dev", "prod", ""} {
		l, err := New(Options{Mode: mode})
		require.NoError(t, err, mode)
		l.Sync()
	}
	Nop().Info("discarded", "k", "v")
}
