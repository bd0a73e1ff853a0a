//go:build e2e

package e2e

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thesyncim/presence-probe/cmd/fakeroom/server"
	"github.com/thesyncim/presence-probe/pkg/browser"
)

// startRoomServer starts fakeroom on a random port and returns its base
// URL on localhost.
func startRoomServer(t *testing.T, cfg server.Config) (*server.Server, string) {
	t.Helper()

	srv, err := server.NewServer(cfg)
	require.NoError(t, err)

	addr, err := srv.Start()
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			t.Errorf("server shutdown error: %v", err)
		}
	})

	_, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	t.Logf("Server started on %s", addr)
	return srv, "http://localhost:" + port
}

// TestChrome_CanConnect is a smoke test of the browser layer against the
// room page: launch, navigate, find the login form, log in.
func TestChrome_CanConnect(t *testing.T) {
	srv, base := startRoomServer(t, server.DefaultConfig())

	b, err := browser.Launch(browser.DefaultConfig())
	require.NoError(t, err)
	defer func() {
		if err := b.Close(); err != nil {
			t.Errorf("browser close error: %v", err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	s, err := b.NewSession(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Navigate(ctx, base+"/group/test"))

	var title string
	require.NoError(t, s.Eval(ctx, `() => document.title`, &title))
	assert.Equal(t, "Room test", title)

	var hasRTC bool
	require.NoError(t, s.Eval(ctx, `() => typeof RTCPeerConnection !== 'undefined'`, &hasRTC))
	assert.True(t, hasRTC, "RTCPeerConnection should be available")

	require.NoError(t, s.FillByLabel(ctx, "Username", "UserA"))
	require.NoError(t, s.ClickButton(ctx, "Connect"))
	require.NoError(t, s.WaitVisible(ctx, "#userspan"))

	var shown string
	require.NoError(t, s.Eval(ctx, `() => document.getElementById('userspan').textContent`, &shown))
	assert.Equal(t, "UserA", shown)

	members := srv.Members("test")
	require.Len(t, members, 1)
	assert.Equal(t, "UserA", members[0].Username)
}

// TestChrome_SessionsAreIsolated checks that two sessions of one browser
// keep separate page state.
func TestChrome_SessionsAreIsolated(t *testing.T) {
	_, base := startRoomServer(t, server.DefaultConfig())

	b, err := browser.Launch(browser.DefaultConfig())
	require.NoError(t, err)
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	first, err := b.NewSession(ctx)
	require.NoError(t, err)
	second, err := b.NewSession(ctx)
	require.NoError(t, err)

	for _, s := range []*browser.Session{first, second} {
		require.NoError(t, s.Navigate(ctx, base+"/group/test"))
	}

	require.NoError(t, first.Eval(ctx, `() => { localStorage.setItem('who', 'first'); }`, nil))

	var got *string
	require.NoError(t, second.Eval(ctx, `() => localStorage.getItem('who')`, &got))
	assert.Nil(t, got)

	require.NoError(t, first.Close())
	require.NoError(t, first.Close(), "second close is a no-op")
}
