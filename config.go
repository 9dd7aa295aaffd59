package securemesh

import (
	"os"
	"strconv"
	"time"
)

// Environment variables recognized by FromEnv. Durations are whole seconds.
const (
	EnvRequestsPerMinute = "SECUREMESH_REQUESTS_PER_MINUTE"
	EnvRequestsPerHour   = "SECUREMESH_REQUESTS_PER_HOUR"
	EnvRequestsPerDay    = "SECUREMESH_REQUESTS_PER_DAY"
	EnvRequestTimeout    = "SECUREMESH_REQUEST_TIMEOUT"
	EnvMaxRetries        = "SECUREMESH_MAX_RETRIES"
	EnvFailureThreshold  = "SECUREMESH_FAILURE_THRESHOLD"
	EnvRecoveryTimeout   = "SECUREMESH_RECOVERY_TIMEOUT"
	EnvQueueMaxSize      = "SECUREMESH_QUEUE_MAX_SIZE"
)

// FromEnv returns an option applying any recognized environment overrides on
// top of the defaults. Unset or malformed variables are ignored.
//
//	mesh, err := securemesh.New(ctx, store, securemesh.FromEnv())
func FromEnv() func(o *Options) {
	return func(o *Options) {
		if v, ok := envInt(EnvRequestsPerMinute); ok {
			o.Limits.PerMinute = v
		}
		if v, ok := envInt(EnvRequestsPerHour); ok {
			o.Limits.PerHour = v
		}
		if v, ok := envInt(EnvRequestsPerDay); ok {
			o.Limits.PerDay = v
		}
		if v, ok := envInt(EnvRequestTimeout); ok {
			o.RequestTimeout = time.Duration(v) * time.Second
		}
		if v, ok := envInt(EnvMaxRetries); ok {
			o.MaxRetries = v
		}
		if v, ok := envInt(EnvFailureThreshold); ok {
			o.FailureThreshold = v
		}
		if v, ok := envInt(EnvRecoveryTimeout); ok {
			o.RecoveryTimeout = time.Duration(v) * time.Second
		}
		if v, ok := envInt(EnvQueueMaxSize); ok {
			o.QueueMaxSize = v
		}
	}
}

func envInt(name string) (int, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}
