package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObfuscateURL(t *testing.T) {
	assert.Equal(t, "https://cdn.example.net/***?***",
		ObfuscateURL("https://cdn.example.net/media/film.mp4?sign=abc&t=1"))
	assert.Equal(t, "https://cdn.example.net", ObfuscateURL("https://cdn.example.net/"))
	assert.Equal(t, "", ObfuscateURL(""))
}

func TestLogURLWithFlag(t *testing.T) {
	raw := "https://cdn.example.net/a.mp4?sig=1"

	assert.Equal(t, raw, LogURLWithFlag(false, raw))
	assert.Equal(t, "https://cdn.example.net/***?***", LogURLWithFlag(true, raw))
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "512.0 KiB", FormatBytes(512*1024))
	assert.Equal(t, "1.5 MiB", FormatBytes(1536*1024))
}
