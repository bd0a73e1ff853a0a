package browser

import (
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.True(t, cfg.Headless)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Empty(t, cfg.Bin)
}

func TestExactText(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		input string
		want  bool
	}{
		{"exact", "Username", "Username", true},
		{"surrounding whitespace", "Username", "\n  Username \t", true},
		{"prefix only", "Username", "Username or email", false},
		{"suffix only", "Connect", "Reconnect", false},
		{"case sensitive", "Connect", "connect", false},
		{"metacharacters quoted", "Join (beta)", "Join (beta)", true},
		{"metacharacters not regex", "a.b", "axb", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// The pattern is evaluated by the page's JS engine; Go's RE2 agrees
			// on this subset.
			re := regexp.MustCompile(exactText(tt.text))
			assert.Equal(t, tt.want, re.MatchString(tt.input))
		})
	}
}

// fakeProcess mimics the launcher: Cleanup waits for the process to exit,
// and only Kill (or a successful CDP close) makes it exit.
type fakeProcess struct {
	exit     chan struct{}
	exitOnce sync.Once
	killed   bool
	cleaned  bool
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{exit: make(chan struct{})}
}

func (p *fakeProcess) exited() {
	p.exitOnce.Do(func() { close(p.exit) })
}

func (p *fakeProcess) Kill() {
	p.killed = true
	p.exited()
}

func (p *fakeProcess) Cleanup() {
	<-p.exit
	p.cleaned = true
}

func releaseWithin(t *testing.T, p *fakeProcess, closeErr error) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		release(p, closeErr)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("release did not return")
	}
}

func TestRelease_KillsWhenCloseFailed(t *testing.T) {
	p := newFakeProcess()

	// Chrome is still running because the close command never reached it.
	releaseWithin(t, p, errors.New("websocket closed"))

	assert.True(t, p.killed)
	assert.True(t, p.cleaned)
}

func TestRelease_WaitsForClosedBrowser(t *testing.T) {
	p := newFakeProcess()
	p.exited()

	releaseWithin(t, p, nil)

	assert.False(t, p.killed)
	assert.True(t, p.cleaned)
}
