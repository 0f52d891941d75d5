package errors

import (
	"sync"
	"sync/atomic"

	"github.com/getsentry/sentry-go"
)

var (
	telemetryEnabled atomic.Bool
	telemetryOnce    sync.Once
)

// EnableTelemetry initializes Sentry reporting for high/critical priority
// errors. Disabled by default; the engine works identically with or
// without a DSN configured. A single on/off switch — there is no
// per-category sampling policy.
func EnableTelemetry(dsn, release string) error {
	var initErr error
	telemetryOnce.Do(func() {
		if dsn == "" {
			return
		}
		initErr = sentry.Init(sentry.ClientOptions{
			Dsn:         dsn,
			Release:     release,
			Environment: "production",
		})
		if initErr == nil {
			telemetryEnabled.Store(true)
		}
	})
	return initErr
}

// reportAsync sends a best-effort Sentry event for the given error. Never
// blocks the caller and never panics on a misconfigured/uninitialized SDK.
func reportAsync(e *EngineError) {
	if !telemetryEnabled.Load() || e.IsReported() {
		return
	}
	e.MarkReported()
	go func() {
		defer func() { _ = recover() }()
		sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("component", e.component)
			scope.SetTag("category", string(e.category))
			for k, v := range e.Context() {
				scope.SetExtra(k, v)
			}
			sentry.CaptureException(e)
		})
	}()
}
