package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/rod/lib/utils"
)

// Session is one simulated user: an incognito browser context owning a
// single page. Every blocking call is bounded by the browser timeout and by
// the caller's context, whichever ends first.
type Session struct {
	context *rod.Browser
	page    *rod.Page
	timeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

// Page returns the underlying Rod page.
func (s *Session) Page() *rod.Page {
	return s.page
}

// scoped returns a page clone bound to ctx and the session timeout.
// Call the returned func to release the timer.
func (s *Session) scoped(ctx context.Context) (*rod.Page, func()) {
	p := s.page.Context(ctx).Timeout(s.timeout)
	return p, func() { p.CancelTimeout() }
}

// Navigate opens url and waits for the load event.
func (s *Session) Navigate(ctx context.Context, url string) error {
	p, done := s.scoped(ctx)
	defer done()

	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("failed to load %s: %w", url, err)
	}
	return nil
}

// FillByLabel types value into the form control whose <label> text is
// exactly label.
func (s *Session) FillByLabel(ctx context.Context, label, value string) error {
	p, done := s.scoped(ctx)
	defer done()

	l, err := p.ElementR("label", exactText(label))
	if err != nil {
		return fmt.Errorf("label %q: %w", label, err)
	}

	var input *rod.Element
	forID, err := l.Attribute("for")
	if err != nil {
		return fmt.Errorf("label %q: %w", label, err)
	}
	if forID != nil && *forID != "" {
		input, err = p.Element(fmt.Sprintf("[id=%q]", *forID))
	} else {
		// Control nested inside the label.
		input, err = l.Element("input, textarea, select")
	}
	if err != nil {
		return fmt.Errorf("control for label %q: %w", label, err)
	}

	if err := input.SelectAllText(); err != nil {
		return fmt.Errorf("control for label %q: %w", label, err)
	}
	if err := input.Input(value); err != nil {
		return fmt.Errorf("fill %q: %w", label, err)
	}
	return nil
}

// ClickButton clicks the button whose visible name is exactly name.
func (s *Session) ClickButton(ctx context.Context, name string) error {
	p, done := s.scoped(ctx)
	defer done()

	btn, err := p.ElementR("button", exactText(name))
	if err != nil {
		return fmt.Errorf("button %q: %w", name, err)
	}
	if err := btn.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click %q: %w", name, err)
	}
	return nil
}

// WaitAttached blocks until an element matching selector is in the DOM.
// Visibility is not required.
func (s *Session) WaitAttached(ctx context.Context, selector string) error {
	p, done := s.scoped(ctx)
	defer done()

	if _, err := p.Element(selector); err != nil {
		return fmt.Errorf("wait for %s: %w", selector, err)
	}
	return nil
}

// WaitVisible blocks until an element matching selector is in the DOM and
// rendered with a non-empty box.
func (s *Session) WaitVisible(ctx context.Context, selector string) error {
	p, done := s.scoped(ctx)
	defer done()

	el, err := p.Element(selector)
	if err != nil {
		return fmt.Errorf("wait for %s: %w", selector, err)
	}
	if err := el.WaitVisible(); err != nil {
		return fmt.Errorf("wait for %s to be visible: %w", selector, err)
	}
	return nil
}

// Eval runs js in the page and decodes its JSON result into out.
// js is a function definition or an expression; args are passed to the
// function. A nil out discards the result.
func (s *Session) Eval(ctx context.Context, js string, out any, args ...any) error {
	p, done := s.scoped(ctx)
	defer done()

	res, err := p.Eval(js, args...)
	if err != nil {
		return fmt.Errorf("eval failed: %w", err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal([]byte(res.Value.JSON("", "")), out); err != nil {
		return fmt.Errorf("decode eval result: %w", err)
	}
	return nil
}

// Screenshot captures the viewport to path, creating parent directories.
func (s *Session) Screenshot(ctx context.Context, path string) error {
	p, done := s.scoped(ctx)
	defer done()

	img, err := p.Screenshot(false, nil)
	if err != nil {
		return fmt.Errorf("screenshot failed: %w", err)
	}
	if err := utils.OutputFile(path, img); err != nil {
		return fmt.Errorf("write screenshot %s: %w", path, err)
	}
	return nil
}

// Close closes the page and disposes of the browser context.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if err := s.page.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close page: %w", err))
		}
		if err := s.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to dispose browser context: %w", err))
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

// exactText builds a JS regex matching an element whose text is exactly s,
// ignoring surrounding whitespace.
func exactText(s string) string {
	return `^\s*` + regexp.QuoteMeta(s) + `\s*$`
}
