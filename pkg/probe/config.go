package probe

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Defaults match the manual reproduction steps.
const (
	DefaultBaseURL        = "http://localhost:8443"
	DefaultRoom           = "test"
	DefaultSender         = "UserA"
	DefaultReceiver       = "UserB"
	DefaultScreenshotPath = "verification/verification.png"
)

// Config holds everything a probe run needs. The zero value is not usable;
// start from DefaultConfig.
type Config struct {
	BaseURL        string        `toml:"url"`
	Room           string        `toml:"room"`
	Sender         string        `toml:"sender"`
	Receiver       string        `toml:"receiver"`
	ScreenshotPath string        `toml:"screenshot"`
	Timeout        time.Duration `toml:"timeout"`       // Bound on every wait and script call
	SettleJoin     time.Duration `toml:"settle_join"`   // Pause after the remote media appears
	SettleStatus   time.Duration `toml:"settle_status"` // Pause after each status change
	Headless       bool          `toml:"headless"`
	ChromeBin      string        `toml:"chrome"`

	// CheckIdempotence repeats the final status change and takes one more
	// snapshot.
	CheckIdempotence bool `toml:"idempotence"`

	Out    io.Writer   `toml:"-"` // Snapshot output (default: stdout)
	Logger *log.Logger `toml:"-"` // Progress messages (default: stderr)
}

// DefaultConfig returns the configuration of the manual reproduction.
func DefaultConfig() Config {
	return Config{
		BaseURL:        DefaultBaseURL,
		Room:           DefaultRoom,
		Sender:         DefaultSender,
		Receiver:       DefaultReceiver,
		ScreenshotPath: DefaultScreenshotPath,
		Timeout:        30 * time.Second,
		SettleJoin:     2 * time.Second,
		SettleStatus:   1 * time.Second,
		Headless:       true,
	}
}

// LoadConfig overlays the TOML file at path onto cfg. Keys absent from the
// file leave cfg untouched.
func LoadConfig(path string, cfg *Config) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("load config %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// Validate reports the first problem that would make a run meaningless.
func (c Config) Validate() error {
	switch {
	case c.BaseURL == "":
		return errors.New("base URL is required")
	case c.Room == "":
		return errors.New("room is required")
	case c.Sender == "" || c.Receiver == "":
		return errors.New("sender and receiver names are required")
	case c.Sender == c.Receiver:
		return fmt.Errorf("sender and receiver must differ, both are %q", c.Sender)
	case c.ScreenshotPath == "":
		return errors.New("screenshot path is required")
	case c.Timeout <= 0:
		return fmt.Errorf("timeout must be positive, got %v", c.Timeout)
	case c.SettleJoin < 0 || c.SettleStatus < 0:
		return errors.New("settle durations must not be negative")
	}
	return nil
}

// RoomURL is the page both users open.
func (c Config) RoomURL() string {
	return strings.TrimRight(c.BaseURL, "/") + "/group/" + c.Room
}

func (c Config) out() io.Writer {
	if c.Out != nil {
		return c.Out
	}
	return os.Stdout
}

func (c Config) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.New(os.Stderr, "probe: ", log.LstdFlags)
}
