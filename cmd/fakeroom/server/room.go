package server

import (
	"errors"
	"log"
	"regexp"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
)

// Names end up in element ids that the page splits on '-', so they are
// restricted to a dash-free alphabet.
var validName = regexp.MustCompile(`^[A-Za-z0-9_]{1,32}$`)

const (
	statusOnline = "Online"
	maxStatusLen = 32
)

var (
	errBadName   = errors.New("invalid name")
	errNameTaken = errors.New("username already in room")
	errRoomFull  = errors.New("room is full")
	errNotMember = errors.New("not a member of this room")
	errBadStatus = errors.New("invalid status")
)

// MemberInfo is the public view of a room member.
type MemberInfo struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	Status     string `json:"status"`
	Publishing bool   `json:"publishing"`
}

// member is one participant: their peer connection and the local track
// their camera is forwarded into.
type member struct {
	id       string
	username string
	pc       *webrtc.PeerConnection
	track    *webrtc.TrackLocalStaticRTP

	ssrc       atomic.Uint32 // SSRC of the incoming camera track, 0 until known
	publishing atomic.Bool
	status     atomic.Value // string
}

func newMember(username string, pc *webrtc.PeerConnection, track *webrtc.TrackLocalStaticRTP) *member {
	m := &member{id: uuid.NewString(), username: username, pc: pc, track: track}
	m.status.Store(statusOnline)
	return m
}

func (m *member) info() MemberInfo {
	return MemberInfo{
		ID:         m.id,
		Username:   m.username,
		Status:     m.status.Load().(string),
		Publishing: m.publishing.Load(),
	}
}

// requestKeyframe asks the member's browser for a keyframe so a newly bound
// subscriber can start decoding.
func (m *member) requestKeyframe() {
	ssrc := m.ssrc.Load()
	if ssrc == 0 {
		return
	}
	err := m.pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: ssrc}})
	if err != nil {
		log.Printf("PLI to %s failed: %v", m.username, err)
	}
}

// Room is one conference. Members are kept in join order; a member only
// receives the streams of members that joined before it. Every change is
// published to the room's event subscribers.
type Room struct {
	name     string
	capacity int

	mu      sync.Mutex
	members map[string]*member
	order   []string
	subs    map[chan Event]struct{}
}

func newRoom(name string, capacity int) *Room {
	return &Room{
		name:     name,
		capacity: capacity,
		members:  make(map[string]*member),
		subs:     make(map[chan Event]struct{}),
	}
}

// add admits m and returns the members already present.
func (r *Room) add(m *member) ([]*member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[m.username]; ok {
		return nil, errNameTaken
	}
	if len(r.members) >= r.capacity {
		return nil, errRoomFull
	}

	earlier := make([]*member, 0, len(r.order))
	for _, name := range r.order {
		earlier = append(earlier, r.members[name])
	}
	r.members[m.username] = m
	r.order = append(r.order, m.username)
	r.publishLocked(eventJoin, m)
	return earlier, nil
}

// remove drops m if it is still the member registered under its name.
func (r *Room) remove(m *member) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.members[m.username] != m {
		return false
	}
	delete(r.members, m.username)
	for i, name := range r.order {
		if name == m.username {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.publishLocked(eventLeave, m)
	return true
}

func (r *Room) setStatus(username, status string) error {
	if status == "" || len(status) > maxStatusLen {
		return errBadStatus
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[username]
	if !ok {
		return errNotMember
	}
	m.status.Store(status)
	r.publishLocked(eventUpdate, m)
	return nil
}

// touch announces a change in m's publishing state.
func (r *Room) touch(m *member) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.members[m.username] == m {
		r.publishLocked(eventUpdate, m)
	}
}

// Members lists members in join order.
func (r *Room) Members() []MemberInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.membersLocked()
}

func (r *Room) membersLocked() []MemberInfo {
	out := make([]MemberInfo, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.members[name].info())
	}
	return out
}

// subscribe registers for room events. The snapshot is taken atomically
// with the registration, so no change falls between the two.
func (r *Room) subscribe() (<-chan Event, []MemberInfo, func()) {
	ch := make(chan Event, eventBuffer)

	r.mu.Lock()
	r.subs[ch] = struct{}{}
	snapshot := r.membersLocked()
	r.mu.Unlock()

	return ch, snapshot, func() { r.unsubscribe(ch) }
}

func (r *Room) unsubscribe(ch chan Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.subs[ch]; ok {
		delete(r.subs, ch)
		close(ch)
	}
}

// publishLocked fans an event out to subscribers. A subscriber whose
// buffer is full is dropped.
func (r *Room) publishLocked(typ string, m *member) {
	info := m.info()
	ev := Event{Type: typ, Member: &info}
	for ch := range r.subs {
		select {
		case ch <- ev:
		default:
			log.Printf("Dropping slow event subscriber in %s", r.name)
			delete(r.subs, ch)
			close(ch)
		}
	}
}

// drain empties the room and ends every subscription.
func (r *Room) drain() []*member {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*member, 0, len(r.members))
	for _, name := range r.order {
		out = append(out, r.members[name])
	}
	r.members = make(map[string]*member)
	r.order = nil

	for ch := range r.subs {
		delete(r.subs, ch)
		close(ch)
	}
	return out
}

// registry holds rooms by name, creating them on first use.
type registry struct {
	capacity int

	mu    sync.Mutex
	rooms map[string]*Room
}

func newRegistry(capacity int) *registry {
	return &registry{
		capacity: capacity,
		rooms:    make(map[string]*Room),
	}
}

func (g *registry) get(name string) (*Room, error) {
	if !validName.MatchString(name) {
		return nil, errBadName
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rooms[name]
	if !ok {
		r = newRoom(name, g.capacity)
		g.rooms[name] = r
	}
	return r, nil
}

func (g *registry) lookup(name string) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rooms[name]
	return r, ok
}

// closeAll closes every peer connection in every room.
func (g *registry) closeAll() {
	g.mu.Lock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	g.mu.Unlock()

	for _, r := range rooms {
		for _, m := range r.drain() {
			if m.pc == nil {
				continue
			}
			if err := m.pc.Close(); err != nil {
				log.Printf("Close %s/%s: %v", r.name, m.username, err)
			}
		}
	}
}
