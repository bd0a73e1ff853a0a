// presence-probe reproduces the away-status mute check against a running
// conferencing server.
//
// Two headless Chrome users join the same room; the second one goes Away
// and back Online while the sender's stream, as the receiver sees it, is
// printed after each step. A screenshot of the receiver is saved at the end.
//
// Usage:
//
//	go run ./cmd/presence-probe                       # http://localhost:8443/group/test
//	go run ./cmd/presence-probe --url http://host:8443 --room lobby
//	go run ./cmd/presence-probe --config probe.toml --strict
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/thesyncim/presence-probe/pkg/probe"
)

var (
	configFile string
	strict     bool
	flagCfg    = probe.DefaultConfig()
)

var errFindingsFailed = errors.New("one or more findings failed")

var rootCmd = &cobra.Command{
	Use:   "presence-probe",
	Short: "Check how a conferencing client renders remote media across presence changes",
	Long: `presence-probe logs two users into a conferencing room with fake media
devices, switches the receiver to Away and back to Online, and prints the
receiver's view of the sender's stream after each step.

Settings come from, in increasing priority: built-in defaults,
PRESENCE_PROBE_URL, the --config TOML file, and command-line flags.

The summary's findings look the sender's stream up as media-<sender>.
Clients that name media elements after a random stream or client id
(Galene, for one) fail those findings even when they behave correctly;
the printed snapshots remain accurate.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         runProbe,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&configFile, "config", "", "TOML file with probe settings")
	f.BoolVar(&strict, "strict", false,
		"exit non-zero when a finding fails; findings expect the sender's media id to be media-<sender>")

	f.StringVar(&flagCfg.BaseURL, "url", defaultURL(), "conferencing server base URL")
	f.StringVar(&flagCfg.Room, "room", flagCfg.Room, "room both users join")
	f.StringVar(&flagCfg.Sender, "sender", flagCfg.Sender, "username of the sending user")
	f.StringVar(&flagCfg.Receiver, "receiver", flagCfg.Receiver, "username of the receiving user")
	f.StringVar(&flagCfg.ScreenshotPath, "screenshot", flagCfg.ScreenshotPath, "where to save the receiver's screenshot")
	f.DurationVar(&flagCfg.Timeout, "timeout", flagCfg.Timeout, "bound on every wait and page script")
	f.DurationVar(&flagCfg.SettleJoin, "settle-join", flagCfg.SettleJoin, "pause after the remote media appears")
	f.DurationVar(&flagCfg.SettleStatus, "settle-status", flagCfg.SettleStatus, "pause after each status change")
	f.BoolVar(&flagCfg.Headless, "headless", flagCfg.Headless, "run Chrome without a window")
	f.StringVar(&flagCfg.ChromeBin, "chrome", "", "Chrome binary (default: found or downloaded by Rod)")
	f.BoolVar(&flagCfg.CheckIdempotence, "idempotence", false, "repeat the Online status change and snapshot again")
}

func defaultURL() string {
	if u := os.Getenv("PRESENCE_PROBE_URL"); u != "" {
		return u
	}
	return probe.DefaultBaseURL
}

// resolveConfig layers defaults, the config file and the flags the user set.
func resolveConfig(flags probe.Config, file string, changed func(name string) bool) (probe.Config, error) {
	cfg := probe.DefaultConfig()
	cfg.BaseURL = defaultURL()

	if file != "" {
		if err := probe.LoadConfig(file, &cfg); err != nil {
			return probe.Config{}, err
		}
	}

	overlay := []struct {
		flag  string
		apply func()
	}{
		{"url", func() { cfg.BaseURL = flags.BaseURL }},
		{"room", func() { cfg.Room = flags.Room }},
		{"sender", func() { cfg.Sender = flags.Sender }},
		{"receiver", func() { cfg.Receiver = flags.Receiver }},
		{"screenshot", func() { cfg.ScreenshotPath = flags.ScreenshotPath }},
		{"timeout", func() { cfg.Timeout = flags.Timeout }},
		{"settle-join", func() { cfg.SettleJoin = flags.SettleJoin }},
		{"settle-status", func() { cfg.SettleStatus = flags.SettleStatus }},
		{"headless", func() { cfg.Headless = flags.Headless }},
		{"chrome", func() { cfg.ChromeBin = flags.ChromeBin }},
		{"idempotence", func() { cfg.CheckIdempotence = flags.CheckIdempotence }},
	}
	for _, o := range overlay {
		if changed(o.flag) {
			o.apply()
		}
	}
	return cfg, nil
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(flagCfg, configFile, cmd.Flags().Changed)
	if err != nil {
		return err
	}
	cfg.Out = cmd.OutOrStdout()
	cfg.Logger = log.New(cmd.ErrOrStderr(), "probe: ", log.LstdFlags)

	runner, err := probe.NewRunner(cfg)
	if err != nil {
		return err
	}

	// Cancel on SIGINT/SIGTERM so the browser is still closed.
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			cfg.Logger.Printf("Received %v, stopping...", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	report, err := runner.Run(ctx)
	if err != nil {
		return fmt.Errorf("probe failed: %w", err)
	}

	report.PrintSummary(cmd.OutOrStdout())
	if strict && report.Failed() {
		return errFindingsFailed
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
