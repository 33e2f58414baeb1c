package mcp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// unreachable is an endpoint nothing listens on, so a handshake attempt
// fails fast with a connection error.
const unreachable = "http://127.0.0.1:1/mcp"

func shortCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestGetDisabledKindReturnsNil(t *testing.T) {
	r := New(Options{Bicep: EndpointConfig{Enabled: false, URL: unreachable}})
	require.Nil(t, r.Get(shortCtx(t), KindBicep))
}

func TestGetUnknownKindReturnsNil(t *testing.T) {
	r := New(Options{})
	require.Nil(t, r.Get(shortCtx(t), Kind("helm")))
}

func TestGetSkipsHumanDocsURLUnlessForced(t *testing.T) {
	r := New(Options{Docs: EndpointConfig{
		Enabled: true,
		URL:     "https://learn.example.com/docs/azure/overview.html",
	}})
	require.Nil(t, r.Get(shortCtx(t), KindDocs))

	// The heuristic short-circuits before any handshake: no cooldown state
	// is recorded for the kind.
	r.mu.Lock()
	_, attempted := r.entries[KindDocs]
	r.mu.Unlock()
	require.False(t, attempted)

	// ForceDocs bypasses the heuristic: a handshake is attempted (and fails
	// against the dead endpoint), leaving cooldown state behind.
	forced := New(Options{Docs: EndpointConfig{
		Enabled:   true,
		URL:       "http://127.0.0.1:1/docs/azure/overview.html",
		ForceDocs: true,
	}})
	require.Nil(t, forced.Get(shortCtx(t), KindDocs))
	e := forced.entryFor(KindDocs)
	e.mu.Lock()
	require.True(t, e.resolved)
	e.mu.Unlock()
}

func TestGetEntersCooldownAfterHandshakeFailure(t *testing.T) {
	r := New(Options{Bicep: EndpointConfig{Enabled: true, URL: unreachable}})
	now := time.Now()
	r.now = func() time.Time { return now }

	require.Nil(t, r.Get(shortCtx(t), KindBicep))

	e := r.entryFor(KindBicep)
	e.mu.Lock()
	require.True(t, e.resolved)
	require.Equal(t, now.Add(defaultCooldown), e.cooldown)
	e.mu.Unlock()

	// Within the cooldown window the registry answers nil without another
	// handshake attempt.
	require.Nil(t, r.Get(shortCtx(t), KindBicep))

	// Past the deadline a fresh attempt is made (and fails again here).
	now = now.Add(defaultCooldown + time.Second)
	require.Nil(t, r.Get(shortCtx(t), KindBicep))
	e.mu.Lock()
	require.True(t, e.cooldown.After(now))
	e.mu.Unlock()
}

func TestTerraformGenericErrorGetsShortCooldown(t *testing.T) {
	require.Equal(t, terraformShortCooldown, cooldownFor(KindTerraform, errors.New("connection refused")))
	require.Equal(t, defaultCooldown, cooldownFor(KindBicep, errors.New("connection refused")))
	require.Equal(t, defaultCooldown, cooldownFor(KindTerraform, errors.New("HTTP 429 Too Many Requests")))
}

func TestIsRateLimited(t *testing.T) {
	require.True(t, isRateLimited(errors.New("server returned 429")))
	require.True(t, isRateLimited(errors.New("Rate Limit exceeded")))
	require.False(t, isRateLimited(errors.New("connection reset")))
	require.False(t, isRateLimited(nil))
}

func TestLooksLikeHumanDocsURL(t *testing.T) {
	cases := []struct {
		url  string
		want bool
	}{
		{"https://learn.example.com/docs/azure/overview.html", true},
		{"https://learn.example.com/azure/index.htm", true},
		{"https://learn.example.com/docs/azure/", true},
		{"https://tools.example.com/docs/azure/mcp", false},
		{"https://tools.example.com/mcp", false},
		{"http://localhost:8080/", false},
	}
	for _, tc := range cases {
		t.Run(tc.url, func(t *testing.T) {
			require.Equal(t, tc.want, looksLikeHumanDocsURL(tc.url))
		})
	}
}

func TestCloseWithoutSessionsIsNil(t *testing.T) {
	r := New(Options{Bicep: EndpointConfig{Enabled: true, URL: unreachable}})
	require.Nil(t, r.Get(shortCtx(t), KindBicep))
	require.NoError(t, r.Close())
	// Close is safe to call again.
	require.NoError(t, r.Close())
}
