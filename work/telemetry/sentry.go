package telemetry

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"ott-proxy/work/logger"
)

// InitSentry initializes error reporting. An empty dsn leaves Sentry disabled,
// which turns CaptureError into a no-op.
func InitSentry(dsn, environment, release string) error {
	if dsn == "" {
		logger.Debug("{telemetry/sentry - InitSentry} No DSN configured, error reporting disabled")
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		Release:          release,
		AttachStacktrace: true,
		Tags: map[string]string{
			"service": "ott-proxy",
		},
		BeforeSend: func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
			// upstream URLs carry signed query strings
			if event.Request != nil {
				event.Request.QueryString = ""
				event.Request.Cookies = ""
			}
			return event
		},
	})
	if err != nil {
		return fmt.Errorf("sentry.Init: %w", err)
	}

	logger.Info("{telemetry/sentry - InitSentry} Error reporting enabled (%s)", environment)
	return nil
}

// CaptureError reports err with tags. Safe to call when Sentry is disabled.
func CaptureError(err error, tags map[string]string) {
	if err == nil {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureException(err)
	})
}

// Flush waits for buffered events to be sent.
func Flush() {
	sentry.Flush(2 * time.Second)
}
