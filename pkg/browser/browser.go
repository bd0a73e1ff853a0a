// Package browser wraps Rod to provide WebRTC-ready Chrome instances with
// isolated per-user sessions.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
)

// Config configures Chrome launch options.
type Config struct {
	Headless bool          // Run in headless mode (default: true)
	Timeout  time.Duration // Per-operation timeout (default: 30s)
	Bin      string        // Chrome binary; empty lets Rod find or download one
}

// DefaultConfig returns the launch options used by the probe.
func DefaultConfig() Config {
	return Config{
		Headless: true,
		Timeout:  30 * time.Second,
	}
}

// ErrClosed is returned when a session is requested from a closed browser.
var ErrClosed = errors.New("browser closed")

// Browser is a running Chrome process plus the sessions opened on it.
type Browser struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	timeout  time.Duration

	mu       sync.Mutex
	sessions []*Session
	closed   bool
}

// Launch starts Chrome configured for WebRTC without real devices:
//   - Fake media streams (no real camera/mic required)
//   - Auto-accepted media prompts
//   - No sandbox (for container compatibility)
//   - Autoplay without user gesture
func Launch(cfg Config) (*Browser, error) {
	l := launcher.New().
		Headless(cfg.Headless).
		Set(flags.NoSandbox).
		Set("disable-gpu").
		Set("use-fake-device-for-media-stream").
		Set("use-fake-ui-for-media-stream").
		Set("autoplay-policy", "no-user-gesture-required")
	if cfg.Bin != "" {
		l = l.Bin(cfg.Bin)
	}

	url, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch Chrome: %w", err)
	}

	b := rod.New().ControlURL(url)
	if err := b.Connect(); err != nil {
		release(l, err)
		return nil, fmt.Errorf("failed to connect to Chrome: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}

	return &Browser{
		launcher: l,
		browser:  b,
		timeout:  timeout,
	}, nil
}

// NewSession opens an isolated browsing context with microphone and camera
// permissions granted, and one blank page in it.
func (b *Browser) NewSession(ctx context.Context) (*Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	inc, err := b.browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	err = proto.BrowserGrantPermissions{
		Permissions: []proto.BrowserPermissionType{
			proto.BrowserPermissionTypeAudioCapture,
			proto.BrowserPermissionTypeVideoCapture,
		},
		BrowserContextID: inc.BrowserContextID,
	}.Call(inc)
	if err != nil {
		_ = inc.Close()
		return nil, fmt.Errorf("failed to grant media permissions: %w", err)
	}

	page, err := inc.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = inc.Close()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	s := &Session{
		context: inc,
		page:    page,
		timeout: b.timeout,
	}
	b.sessions = append(b.sessions, s)
	return s, nil
}

// Close releases every session and the Chrome process.
// It is safe to call more than once; only the first call does any work.
func (b *Browser) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	sessions := b.sessions
	b.sessions = nil
	b.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	err := b.browser.Close()
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to close Chrome: %w", err))
	}
	release(b.launcher, err)
	return errors.Join(errs...)
}

// process is the part of the launcher that owns the Chrome process.
type process interface {
	Kill()
	Cleanup()
}

// release waits for Chrome to exit and removes its user data dir.
// Cleanup blocks until the process is gone, so when Chrome could not be
// told to close it is killed first.
func release(p process, closeErr error) {
	if closeErr != nil {
		p.Kill()
	}
	p.Cleanup()
}
