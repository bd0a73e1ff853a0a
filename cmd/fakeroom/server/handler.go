package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/pion/webrtc/v4"
)

type joinRequest struct {
	Username string                    `json:"username"`
	Offer    webrtc.SessionDescription `json:"offer"`
}

type joinResponse struct {
	Answer     *webrtc.SessionDescription `json:"answer"`
	Publishers []string                   `json:"publishers"`
}

type statusRequest struct {
	Username string `json:"username"`
	Status   string `json:"status"`
}

type pageData struct {
	Room               string
	MuteOnAway         bool
	StuckMuteIndicator bool
	ReceiveSlots       int
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	room, err := s.rooms.get(r.PathValue("room"))
	if err != nil {
		http.Error(w, "Invalid room", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err = s.page.Execute(w, pageData{
		Room:               room.name,
		MuteOnAway:         s.cfg.MuteOnAway,
		StuckMuteIndicator: s.cfg.StuckMuteIndicator,
		ReceiveSlots:       s.cfg.ReceiveSlots,
	})
	if err != nil {
		log.Printf("Failed to render room page: %v", err)
	}
}

// handleJoin answers a member's offer. The answer sends the member every
// stream published by members that joined earlier.
func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	room, err := s.rooms.get(r.PathValue("room"))
	if err != nil {
		http.Error(w, "Invalid room", http.StatusNotFound)
		return
	}

	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("Failed to decode join request: %v", err)
		http.Error(w, "Invalid join request", http.StatusBadRequest)
		return
	}
	if !validName.MatchString(req.Username) {
		http.Error(w, "Invalid username", http.StatusBadRequest)
		return
	}
	if req.Offer.Type != webrtc.SDPTypeOffer {
		http.Error(w, "Invalid offer", http.StatusBadRequest)
		return
	}

	m, err := s.newMember(req.Username)
	if err != nil {
		log.Printf("Failed to set up %s: %v", req.Username, err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	earlier, err := room.add(m)
	if err != nil {
		m.pc.Close()
		switch {
		case errors.Is(err, errNameTaken):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
		}
		return
	}
	s.watch(room, m)

	answer, err := negotiate(m, req.Offer, earlier)
	if err != nil {
		log.Printf("Negotiation with %s failed: %v", req.Username, err)
		s.leave(room, m)
		http.Error(w, "Invalid offer", http.StatusBadRequest)
		return
	}

	resp := joinResponse{Answer: answer, Publishers: make([]string, 0, len(earlier))}
	for _, p := range earlier {
		resp.Publishers = append(resp.Publishers, p.username)
	}

	log.Printf("%s joined %s with %d publisher(s)", m.username, room.name, len(earlier))
	writeJSON(w, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	room, err := s.rooms.get(r.PathValue("room"))
	if err != nil {
		http.Error(w, "Invalid room", http.StatusNotFound)
		return
	}

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid status request", http.StatusBadRequest)
		return
	}

	switch err := room.setStatus(req.Username, req.Status); {
	case errors.Is(err, errNotMember):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	log.Printf("%s in %s is now %s", req.Username, room.name, req.Status)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMembers(w http.ResponseWriter, r *http.Request) {
	room, err := s.rooms.get(r.PathValue("room"))
	if err != nil {
		http.Error(w, "Invalid room", http.StatusNotFound)
		return
	}
	writeJSON(w, room.Members())
}

// newMember creates the member's peer connection and forwarding track.
func (s *Server) newMember(username string) (*member, error) {
	api, err := newAPI()
	if err != nil {
		return nil, err
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{}, // Local testing
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	track, err := webrtc.NewTrackLocalStaticRTP(vp8Capability, "camera", username)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("failed to create forwarding track: %w", err)
	}

	return newMember(username, pc, track), nil
}

// watch wires the member's camera into its forwarding track and removes the
// member when its connection ends.
func (s *Server) watch(room *Room, m *member) {
	m.pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeVideo {
			return
		}
		log.Printf("Received %s track from %s: ssrc=%d", remote.Codec().MimeType, m.username, remote.SSRC())
		m.ssrc.Store(uint32(remote.SSRC()))
		m.publishing.Store(true)
		room.touch(m)

		go func() {
			stats, err := forward(remote, m.track)
			m.publishing.Store(false)
			room.touch(m)
			log.Printf("Forwarding from %s ended after %d packets (%d write errors): %v",
				m.username, stats.Packets, stats.WriteErrors, err)
		}()
	})

	m.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Printf("%s connection state: %s", m.username, state.String())
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			s.leave(room, m)
		}
	})
}

func (s *Server) leave(room *Room, m *member) {
	if !room.remove(m) {
		return
	}
	log.Printf("%s left %s", m.username, room.name)
	if err := m.pc.Close(); err != nil {
		log.Printf("Close %s: %v", m.username, err)
	}
}

// negotiate applies the member's offer, attaches the earlier members'
// tracks to the offered receive slots and returns the complete answer.
func negotiate(m *member, offer webrtc.SessionDescription, earlier []*member) (*webrtc.SessionDescription, error) {
	if err := m.pc.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("failed to set remote description: %w", err)
	}

	// AddTrack reuses the first unbound transceiver of the right kind; the
	// page lists its receive slots before its camera so the camera's
	// transceiver is never taken.
	for _, p := range earlier {
		sender, err := m.pc.AddTrack(p.track)
		if err != nil {
			return nil, fmt.Errorf("failed to add %s's track: %w", p.username, err)
		}
		go relayKeyframeRequests(sender, p)
		p.requestKeyframe()
	}

	answer, err := m.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(m.pc)
	if err := m.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}
	<-gatherComplete

	return m.pc.LocalDescription(), nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to write response: %v", err)
	}
}
