package securelink

import (
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func TestSanitizeLabel(t *testing.T) {
	cases := map[string]string{
		"The Movie: Part 2!":      "The.Movie.Part.2",
		"  spaced   out  ":        "spaced.out",
		"Spider-Man 2.5 (Cut)":    "Spider-Man.2.5.Cut",
		"under_score\ttab":        "under_score.tab",
		"Amélie":                  "Amélie",
		"?!:":                     "Video",
		"":                        "Video",
		"Crouching/Tiger\\Hidden": "CrouchingTigerHidden",
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizeLabel(in), "label %q", in)
	}
}

func TestNormalizeQuality(t *testing.T) {
	assert.Equal(t, "HD", NormalizeQuality(""))
	assert.Equal(t, "HD", NormalizeQuality(" . "))
	assert.Equal(t, "1080p", NormalizeQuality("1080 p"))
	assert.Equal(t, "Auto", NormalizeQuality("Auto"))
}

func TestBuildShape(t *testing.T) {
	b := NewBuilder(6*time.Hour, "").WithClock(clock)

	link := b.Build("0123456789abcdef0123456789abcdef", "The Movie: Part 2!", "720p")

	assert.Regexp(t,
		`^/v/0123456789abcdef0123456789abcdef/The\.Movie\.Part\.2\.720p\.mp4\?token=exp=\d+&sig=[0-9a-f]{8}$`,
		link)

	u, err := url.Parse(link)
	require.NoError(t, err)
	exp, err := strconv.ParseInt(strings.TrimPrefix(u.Query().Get("token"), "exp="), 10, 64)
	require.NoError(t, err)
	assert.Equal(t, fixedNow.Add(6*time.Hour).Unix(), exp)
}

func TestBuildDefaultsQuality(t *testing.T) {
	b := NewBuilder(time.Hour, "")
	link := b.Build("tok", "Film", "")
	assert.True(t, strings.HasPrefix(link, "/v/tok/Film.HD.mp4?"), link)
}

func TestDecorativeSignatureIsRandomAndUnchecked(t *testing.T) {
	b := NewBuilder(time.Hour, "").WithClock(clock)

	first := b.Build("tok", "Film", "720p")
	second := b.Build("tok", "Film", "720p")
	assert.NotEqual(t, first, second, "sig is random per link")

	assert.False(t, b.Signed())
	assert.True(t, b.Verify("tok", url.Values{}), "unsigned builders never reject")
}

func TestSignedLinksVerify(t *testing.T) {
	now := fixedNow
	b := NewBuilder(time.Hour, "s3cret").WithClock(func() time.Time { return now })

	link := b.Build("tok", "Film", "1080p")
	assert.Regexp(t, `&sig=[0-9a-f]{16}$`, link)

	u, err := url.Parse(link)
	require.NoError(t, err)
	assert.True(t, b.Verify("tok", u.Query()))

	assert.False(t, b.Verify("other", u.Query()), "sig is bound to the token")

	tampered := u.Query()
	tampered.Set("token", "exp="+strconv.FormatInt(now.Add(48*time.Hour).Unix(), 10))
	assert.False(t, b.Verify("tok", tampered), "sig is bound to exp")

	now = now.Add(time.Hour)
	assert.False(t, b.Verify("tok", u.Query()), "expired links are rejected")
}

func TestLongSigningKeyIsAccepted(t *testing.T) {
	b := NewBuilder(time.Hour, strings.Repeat("k", 200))
	link := b.Build("tok", "Film", "720p")
	u, err := url.Parse(link)
	require.NoError(t, err)
	assert.True(t, b.Verify("tok", u.Query()))
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "The.Movie.Part.2.Auto.mp4", Filename("The Movie: Part 2!", "Auto"))
}
