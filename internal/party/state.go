package party

import (
	"sort"
	"sync"
)

// Phase of the room lifecycle. Left and Closed are terminal: re-entering a
// room starts a fresh RoomState.
type Phase int

const (
	PhaseNotJoined Phase = iota
	PhaseJoining
	PhaseJoined
	PhaseLeft
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseNotJoined:
		return "not_joined"
	case PhaseJoining:
		return "joining"
	case PhaseJoined:
		return "joined"
	case PhaseLeft:
		return "left"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Video is the room's current selection.
type Video struct {
	ID        string
	Title     string
	Thumbnail string
}

// ChatEntry is one line of the room transcript. System entries describe
// joins, leaves and room lifecycle rather than user chat.
type ChatEntry struct {
	System    bool
	Sender    User
	Content   string
	Timestamp int64
}

// RoomState is the client-local projection of a room: membership, current
// video and transcript, derived purely from observed messages. It is not
// authoritative; a late joiner's member set starts empty and grows only
// from events seen after subscribing.
//
// Mutation happens exclusively on the router's dispatch goroutine; the
// RWMutex only makes snapshot reads from other goroutines safe.
type RoomState struct {
	ref RoomRef

	mu           sync.RWMutex
	phase        Phase
	members      map[string]User
	currentVideo *Video
	chatLog      []ChatEntry
	memberCount  int
	countKnown   bool
}

// NewRoomState creates the projection for one room attempt.
func NewRoomState(ref RoomRef) *RoomState {
	return &RoomState{
		ref:     ref,
		phase:   PhaseNotJoined,
		members: make(map[string]User),
	}
}

// Ref returns the room this state projects.
func (s *RoomState) Ref() RoomRef { return s.ref }

// Phase returns the current lifecycle phase.
func (s *RoomState) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// Closed reports whether ROOM_CLOSED was received.
func (s *RoomState) Closed() bool {
	return s.Phase() == PhaseClosed
}

// Members returns the observed member set, ordered by username for stable
// presentation.
func (s *RoomState) Members() []User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	members := make([]User, 0, len(s.members))
	for _, u := range s.members {
		members = append(members, u)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].Username < members[j].Username })
	return members
}

// MemberCount returns the broker-reported tally, falling back to the size
// of the observed set before the first MEMBER_COUNT_UPDATE arrives. A
// reported tally of zero is real and not masked by the fallback.
func (s *RoomState) MemberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.countKnown {
		return s.memberCount
	}
	return len(s.members)
}

// CurrentVideo returns the playing video, if any.
func (s *RoomState) CurrentVideo() (Video, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.currentVideo == nil {
		return Video{}, false
	}
	return *s.currentVideo, true
}

// ChatLog returns a copy of the transcript in arrival order.
func (s *RoomState) ChatLog() []ChatEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := make([]ChatEntry, len(s.chatLog))
	copy(log, s.chatLog)
	return log
}

func (s *RoomState) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

// addMember inserts a member if absent. Duplicate JOINs are no-ops on the
// set; the transcript still records each one.
func (s *RoomState) addMember(u User) bool {
	if u.ID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, known := s.members[u.ID]; known {
		return false
	}
	s.members[u.ID] = u
	return true
}

// removeMember deletes a member. A LEAVE for an absent sender is ignored.
func (s *RoomState) removeMember(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, known := s.members[id]; !known {
		return false
	}
	delete(s.members, id)
	return true
}

func (s *RoomState) appendEntry(entry ChatEntry) {
	s.mu.Lock()
	s.chatLog = append(s.chatLog, entry)
	s.mu.Unlock()
}

func (s *RoomState) setVideo(v Video) {
	s.mu.Lock()
	s.currentVideo = &v
	s.mu.Unlock()
}

func (s *RoomState) setMemberCount(n int) {
	s.mu.Lock()
	s.memberCount = n
	s.countKnown = true
	s.mu.Unlock()
}

// markClosed flips the state to its terminal closed phase. Returns false if
// it already was closed.
func (s *RoomState) markClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseClosed {
		return false
	}
	s.phase = PhaseClosed
	return true
}
