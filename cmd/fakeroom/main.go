// Fake conferencing room server.
//
// Serves /group/<room> pages with the login form, remote media markup and
// setStatus() hook that presence-probe drives, and relays each member's
// camera to members who join after them.
//
// Usage:
//
//	go run ./cmd/fakeroom                         # listens on :8443
//	go run ./cmd/fakeroom --mute-on-away          # reproduce the away-mute bug
//	go run ./cmd/fakeroom --stuck-mute-indicator  # Online never restores the button
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/thesyncim/presence-probe/cmd/fakeroom/server"
)

var cfg = server.DefaultConfig()

var rootCmd = &cobra.Command{
	Use:          "fakeroom",
	Short:        "Serve conferencing rooms for presence-probe",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		srv, err := server.NewServer(cfg)
		if err != nil {
			return fmt.Errorf("failed to create server: %w", err)
		}

		addr, err := srv.Start()
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		log.Printf("Listening on %s (mute-on-away=%v, stuck-mute-indicator=%v)",
			addr, cfg.MuteOnAway, cfg.StuckMuteIndicator)
		if _, port, err := net.SplitHostPort(addr); err == nil {
			log.Printf("Open http://localhost:%s/group/test", port)
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		log.Printf("Received %v, shutting down...", sig)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	},
}

func init() {
	cfg.Addr = ":8443"

	f := rootCmd.Flags()
	f.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	f.BoolVar(&cfg.MuteOnAway, "mute-on-away", false, "mute remote streams while the local user is Away")
	f.BoolVar(&cfg.StuckMuteIndicator, "stuck-mute-indicator", false, "mark remote volume buttons muted on Away and never restore them")
	f.StringVar(&cfg.CanonicalHost, "canonical-host", "", "redirect requests for other hosts to https://<host>")
	f.IntVar(&cfg.ReceiveSlots, "receive-slots", cfg.ReceiveSlots, "remote streams each member can receive")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
