package telemetry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDisabledSentryIsNoop(t *testing.T) {
	assert.NoError(t, InitSentry("", "test", "v0"))
	assert.NotPanics(t, func() {
		CaptureError(errors.New("upstream refused"), map[string]string{"route": "secure"})
		CaptureError(nil, nil)
		Flush()
	})
}

func TestInvalidDSNIsReported(t *testing.T) {
	err := InitSentry("not a dsn", "test", "v0")
	assert.Error(t, err)
}
