// Package probe drives two browser users through a conferencing room and
// records how the receiver's UI reflects the receiver's own presence
// changes.
//
// The scenario is strictly sequential: the sender joins, the receiver joins
// and waits for the sender's media, then the receiver goes Away and back
// Online while the remote media state is snapshotted after each step.
package probe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/thesyncim/presence-probe/pkg/browser"
)

// Error classes of a failed run. The underlying automation error is
// wrapped alongside, so both errors.Is checks hold.
var (
	ErrLaunch   = errors.New("browser launch failed")
	ErrNavigate = errors.New("navigation failed")
	ErrWait     = errors.New("element wait failed")
	ErrScript   = errors.New("page script failed")
)

// Page is the per-user browser surface the probe needs.
// *browser.Session satisfies it.
type Page interface {
	Navigate(ctx context.Context, url string) error
	FillByLabel(ctx context.Context, label, value string) error
	ClickButton(ctx context.Context, name string) error
	WaitAttached(ctx context.Context, selector string) error
	WaitVisible(ctx context.Context, selector string) error
	Eval(ctx context.Context, js string, out any, args ...any) error
	Screenshot(ctx context.Context, path string) error
}

// Browser opens isolated pages and releases all of them on Close.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// LaunchFunc starts a browser.
type LaunchFunc func(cfg browser.Config) (Browser, error)

// LaunchRod starts Chrome through Rod.
func LaunchRod(cfg browser.Config) (Browser, error) {
	b, err := browser.Launch(cfg)
	if err != nil {
		return nil, err
	}
	return rodBrowser{b}, nil
}

type rodBrowser struct {
	*browser.Browser
}

func (b rodBrowser) NewPage(ctx context.Context) (Page, error) {
	s, err := b.NewSession(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Runner executes the scenario.
type Runner struct {
	cfg    Config
	launch LaunchFunc
}

// NewRunner validates cfg and returns a runner using Chrome.
func NewRunner(cfg Config) (*Runner, error) {
	return NewRunnerWithLauncher(cfg, LaunchRod)
}

// NewRunnerWithLauncher is NewRunner with a custom browser launcher.
func NewRunnerWithLauncher(cfg Config, launch LaunchFunc) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if launch == nil {
		return nil, errors.New("launcher is required")
	}
	return &Runner{cfg: cfg, launch: launch}, nil
}

// Run performs the scenario once. The browser is closed on every return
// path; a close failure is joined into the returned error.
func (r *Runner) Run(ctx context.Context) (report *Report, err error) {
	logger := r.cfg.logger()
	out := r.cfg.out()

	b, err := r.launch(browser.Config{
		Headless: r.cfg.Headless,
		Timeout:  r.cfg.Timeout,
		Bin:      r.cfg.ChromeBin,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLaunch, err)
	}
	defer func() {
		if cerr := b.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close browser: %w", cerr))
		}
	}()

	if _, err := r.join(ctx, b, r.cfg.Sender); err != nil {
		return nil, err
	}

	receiver, err := r.join(ctx, b, r.cfg.Receiver)
	if err != nil {
		return nil, err
	}

	logger.Printf("%s: waiting for remote media", r.cfg.Receiver)
	if err := receiver.WaitAttached(ctx, RemoteMediaSelector); err != nil {
		return nil, fmt.Errorf("%w: %s remote media: %w", ErrWait, r.cfg.Receiver, err)
	}

	if err := sleep(ctx, r.cfg.SettleJoin); err != nil {
		return nil, err
	}

	report = &Report{
		Sender:         r.cfg.Sender,
		Receiver:       r.cfg.Receiver,
		ScreenshotPath: r.cfg.ScreenshotPath,
	}

	report.Initial, err = r.snapshot(ctx, receiver, "Initial")
	if err != nil {
		return nil, err
	}
	fmt.Fprintln(out, report.Initial.withoutUI())

	report.Away, err = r.changeStatus(ctx, receiver, StatusAway)
	if err != nil {
		return nil, err
	}
	fmt.Fprintln(out, report.Away)

	report.Online, err = r.changeStatus(ctx, receiver, StatusOnline)
	if err != nil {
		return nil, err
	}
	fmt.Fprintln(out, report.Online)

	if r.cfg.CheckIdempotence {
		again, err := r.changeStatus(ctx, receiver, StatusOnline)
		if err != nil {
			return nil, err
		}
		again.Label = "Status Online (repeated)"
		report.Repeat = &again
		fmt.Fprintln(out, again)
	}

	if err := receiver.Screenshot(ctx, r.cfg.ScreenshotPath); err != nil {
		return nil, err
	}
	if fi, err := os.Stat(r.cfg.ScreenshotPath); err == nil {
		report.ScreenshotSize = fi.Size()
	}
	logger.Printf("screenshot saved to %s", r.cfg.ScreenshotPath)

	return report, nil
}

// join opens a page for user, logs in and waits for the join indicator.
func (r *Runner) join(ctx context.Context, b Browser, user string) (Page, error) {
	logger := r.cfg.logger()

	p, err := b.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: open page for %s: %w", ErrLaunch, user, err)
	}

	url := r.cfg.RoomURL()
	logger.Printf("%s: opening %s", user, url)
	if err := p.Navigate(ctx, url); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNavigate, user, err)
	}

	if err := p.FillByLabel(ctx, UsernameLabel, user); err != nil {
		return nil, fmt.Errorf("%w: %s login form: %w", ErrWait, user, err)
	}
	if err := p.ClickButton(ctx, ConnectButton); err != nil {
		return nil, fmt.Errorf("%w: %s login form: %w", ErrWait, user, err)
	}

	if err := p.WaitVisible(ctx, JoinIndicator); err != nil {
		return nil, fmt.Errorf("%w: %s join: %w", ErrWait, user, err)
	}
	logger.Printf("%s: joined", user)
	return p, nil
}

func (r *Runner) changeStatus(ctx context.Context, p Page, status string) (Snapshot, error) {
	fmt.Fprintf(r.cfg.out(), "Changing status to %s...\n", status)
	if err := p.Eval(ctx, setStatusScript, nil, status); err != nil {
		return Snapshot{}, fmt.Errorf("%w: setStatus(%q): %w", ErrScript, status, err)
	}
	if err := sleep(ctx, r.cfg.SettleStatus); err != nil {
		return Snapshot{}, err
	}
	return r.snapshot(ctx, p, "Status "+status)
}

func (r *Runner) snapshot(ctx context.Context, p Page, label string) (Snapshot, error) {
	var media []MediaState
	if err := p.Eval(ctx, mediaControlsScript, &media); err != nil {
		return Snapshot{}, fmt.Errorf("%w: read media state: %w", ErrScript, err)
	}
	return Snapshot{Label: label, Media: media}, nil
}

// sleep pauses for d unless ctx ends first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
