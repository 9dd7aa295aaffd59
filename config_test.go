package securemesh

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromEnvDefaults(t *testing.T) {
	o := defaultOptions()
	FromEnv()(&o)
	assert.Equal(t, 60, o.Limits.PerMinute)
	assert.Equal(t, 30*time.Second, o.RequestTimeout)
	assert.Equal(t, 3, o.MaxRetries)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv(EnvRequestsPerMinute, "5")
	t.Setenv(EnvRequestsPerHour, "50")
	t.Setenv(EnvRequestsPerDay, "500")
	t.Setenv(EnvRequestTimeout, "10")
	t.Setenv(EnvMaxRetries, "7")
	t.Setenv(EnvFailureThreshold, "2")
	t.Setenv(EnvRecoveryTimeout, "120")
	t.Setenv(EnvQueueMaxSize, "42")

	o := defaultOptions()
	FromEnv()(&o)

	assert.Equal(t, 5, o.Limits.PerMinute)
	assert.Equal(t, 50, o.Limits.PerHour)
	assert.Equal(t, 500, o.Limits.PerDay)
	assert.Equal(t, 10*time.Second, o.RequestTimeout)
	assert.Equal(t, 7, o.MaxRetries)
	assert.Equal(t, 2, o.FailureThreshold)
	assert.Equal(t, 120*time.Second, o.RecoveryTimeout)
	assert.Equal(t, 42, o.QueueMaxSize)
}

func TestFromEnvIgnoresMalformed(t *testing.T) {
	t.Setenv(EnvMaxRetries, "lots")
	t.Setenv(EnvRequestsPerMinute, "-1")

	o := defaultOptions()
	FromEnv()(&o)

	assert.Equal(t, 3, o.MaxRetries)
	assert.Equal(t, 60, o.Limits.PerMinute)
}
