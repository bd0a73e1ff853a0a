package probe

import (
	"encoding/json"
	"fmt"
	"io"
)

// MediaState is one remote media element as the receiver sees it.
type MediaState struct {
	ID    string `json:"id"`
	Muted bool   `json:"muted"`
	UI    string `json:"ui,omitempty"` // class list of the volume button
}

// Snapshot is the receiver's media state at one point of the scenario.
type Snapshot struct {
	Label string
	Media []MediaState
}

// Find returns the state of the element with the given id.
func (s Snapshot) Find(id string) (MediaState, bool) {
	for _, m := range s.Media {
		if m.ID == id {
			return m, true
		}
	}
	return MediaState{}, false
}

// String renders the snapshot as it is printed during a run.
func (s Snapshot) String() string {
	media := s.Media
	if media == nil {
		media = []MediaState{}
	}
	b, err := json.Marshal(media)
	if err != nil {
		return fmt.Sprintf("%s: %v", s.Label, err)
	}
	return s.Label + ": " + string(b)
}

// withoutUI drops the indicator classes, for printing a snapshot in the
// shape of the initial read.
func (s Snapshot) withoutUI() Snapshot {
	if s.Media == nil {
		return s
	}
	media := make([]MediaState, len(s.Media))
	for i, m := range s.Media {
		m.UI = ""
		media[i] = m
	}
	return Snapshot{Label: s.Label, Media: media}
}

// Report collects what a run observed.
type Report struct {
	Sender   string
	Receiver string

	Initial Snapshot // includes the indicator classes, printed without them
	Away    Snapshot
	Online  Snapshot
	Repeat  *Snapshot // second Online snapshot, only with CheckIdempotence

	ScreenshotPath string
	ScreenshotSize int64
}

// SenderMediaID is the id the receiver's page gives the sender's stream.
func (r *Report) SenderMediaID() string {
	return RemoteMediaPrefix + r.Sender
}

// Finding is one acceptance check derived from a report.
type Finding struct {
	Name   string
	Pass   bool
	Detail string
}

// Finding names, in the order Findings reports them.
const (
	FindingSingleRemote      = "receiver sees exactly one remote media element from sender"
	FindingInitiallyUnmuted  = "remote media initially unmuted"
	FindingNoAwayMute        = "no away-mute bug: away status leaves remote mute state unchanged"
	FindingOnlineRestores    = "online status restores initial mute state"
	FindingOnlineRestoresUI  = "online status restores initial mute indicator"
	FindingIdempotent        = "repeating online status is idempotent"
	FindingScreenshotWritten = "screenshot written"
)

// Findings evaluates the acceptance checks against the observed snapshots.
// The remote element is looked up by SenderMediaID, so the checks assume
// the client names media elements after the sender's username.
func (r *Report) Findings() []Finding {
	id := r.SenderMediaID()
	initial, inInitial := r.Initial.Find(id)
	away, inAway := r.Away.Find(id)
	online, inOnline := r.Online.Find(id)

	var out []Finding

	out = append(out, Finding{
		Name:   FindingSingleRemote,
		Pass:   len(r.Initial.Media) == 1 && inInitial,
		Detail: fmt.Sprintf("%d element(s), want [%s]", len(r.Initial.Media), id),
	})

	out = append(out, Finding{
		Name:   FindingInitiallyUnmuted,
		Pass:   inInitial && !initial.Muted,
		Detail: fmt.Sprintf("muted=%v", initial.Muted),
	})

	// Fails when going Away mutes the remote stream or its indicator.
	out = append(out, Finding{
		Name:   FindingNoAwayMute,
		Pass:   inInitial && inAway && away.UI == initial.UI && away.Muted == initial.Muted,
		Detail: fmt.Sprintf("initial ui=%q muted=%v, away ui=%q muted=%v", initial.UI, initial.Muted, away.UI, away.Muted),
	})

	out = append(out, Finding{
		Name:   FindingOnlineRestores,
		Pass:   inInitial && inOnline && online.Muted == initial.Muted,
		Detail: fmt.Sprintf("initial muted=%v, online muted=%v", initial.Muted, online.Muted),
	})

	out = append(out, Finding{
		Name:   FindingOnlineRestoresUI,
		Pass:   inInitial && inOnline && online.UI == initial.UI,
		Detail: fmt.Sprintf("initial ui=%q, online ui=%q", initial.UI, online.UI),
	})

	if r.Repeat != nil {
		again, ok := r.Repeat.Find(id)
		out = append(out, Finding{
			Name:   FindingIdempotent,
			Pass:   ok && inOnline && again == online,
			Detail: fmt.Sprintf("first %+v, repeated %+v", online, again),
		})
	}

	out = append(out, Finding{
		Name:   FindingScreenshotWritten,
		Pass:   r.ScreenshotSize > 0,
		Detail: fmt.Sprintf("%s (%d bytes)", r.ScreenshotPath, r.ScreenshotSize),
	})

	return out
}

// Failed reports whether any finding failed.
func (r *Report) Failed() bool {
	for _, f := range r.Findings() {
		if !f.Pass {
			return true
		}
	}
	return false
}

// PrintSummary writes the findings with PASS/FAIL marks.
func (r *Report) PrintSummary(w io.Writer) {
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "Presence Probe Summary\n")
	fmt.Fprintf(w, "======================\n")
	fmt.Fprintf(w, "Sender:     %s\n", r.Sender)
	fmt.Fprintf(w, "Receiver:   %s\n", r.Receiver)
	fmt.Fprintf(w, "Screenshot: %s\n", r.ScreenshotPath)
	fmt.Fprintf(w, "\n")
	for _, f := range r.Findings() {
		fmt.Fprintf(w, "  - %s: %s (%s)\n", f.Name, checkMark(f.Pass), f.Detail)
	}
}

func checkMark(pass bool) string {
	if pass {
		return "PASS"
	}
	return "FAIL"
}
