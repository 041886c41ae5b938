// Package room provides the in-memory room state machine and the registry of
// active rooms.
package room

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/paate57/among-pale/internal/random"
)

// Spawn coordinates assigned to every new member.
const (
	SpawnX = 400
	SpawnY = 300
)

// State is a room's lifecycle state.
type State int

const (
	// Lobby accepts joins. It is the initial state.
	Lobby State = iota
	// InProgress is terminal; membership may only shrink.
	InProgress
)

func (s State) String() string {
	switch s {
	case Lobby:
		return "lobby"
	case InProgress:
		return "in_progress"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Peer is the outbound side of a member's connection.
//
// Push must not block; it returns an error when the peer can no longer accept data.
type Peer interface {
	Push(data []byte) error
}

// PlayerSession is one member's session-scoped identity and last reported position.
type PlayerSession struct {
	// ID is the opaque player identifier, generated at join time.
	ID string
	// Nickname is the validated display name.
	Nickname string
	// X and Y are the last reported position.
	X, Y float64
	// Direction is the last reported facing, if any.
	Direction string
	// Color is one of Palette.
	Color string
	// IsHost mirrors ID == room host.
	IsHost bool

	peer Peer
}

// View is a member record as exposed in membership snapshots.
type View struct {
	ID       string
	Nickname string
	X, Y     float64
	Color    string
	IsHost   bool
}

// Departure describes the outcome of a member removal.
type Departure struct {
	// PlayerID is the removed member.
	PlayerID string
	// WasHost reports whether the removed member held host.
	WasHost bool
	// NewHostID is the elected host when WasHost and members remain.
	NewHostID string
	// Remaining is the member count after removal.
	Remaining int
	// Closed reports that the room became empty and was retired.
	Closed bool
}

// Room owns the state of one session. All methods are safe for concurrent use;
// operations on one room are serialized by its mutex.
type Room struct {
	code       string
	maxMembers int
	src        random.Source

	mu      sync.Mutex
	hostID  string
	members map[string]*PlayerSession
	order   []string // join order; order[0] is next in line for host
	state   State
	closed  bool
}

func newRoom(code string, maxMembers int, src random.Source) *Room {
	return &Room{
		code:       code,
		maxMembers: maxMembers,
		src:        src,
		members:    make(map[string]*PlayerSession, maxMembers),
		order:      make([]string, 0, maxMembers),
	}
}

// Tx is a view of a room handed to callbacks while the room lock is held.
// Deliveries made through a Tx observe the room's mutation order.
// A Tx must not be retained after the callback returns.
type Tx struct {
	r *Room
}

// Code returns the room code.
func (tx Tx) Code() string { return tx.r.code }

// Snapshot returns the current membership in join order.
func (tx Tx) Snapshot() []View { return tx.r.snapshotLocked() }

// Send pushes data to one member.
//
// Postcondition: Returns ErrMemberNotFound if id is not a member, or the peer's Push error.
func (tx Tx) Send(id string, data []byte) error {
	m, ok := tx.r.members[id]
	if !ok {
		return ErrMemberNotFound
	}
	return m.peer.Push(data)
}

// Broadcast pushes data to every member except the one with id except (which may
// be empty). Peers that refuse the data are skipped.
//
// Postcondition: Returns the number of deliveries and the IDs of skipped members.
func (tx Tx) Broadcast(data []byte, except string) (delivered int, skipped []string) {
	for _, id := range tx.r.order {
		if id == except {
			continue
		}
		if err := tx.r.members[id].peer.Push(data); err != nil {
			skipped = append(skipped, id)
			continue
		}
		delivered++
	}
	return delivered, skipped
}

// Code returns the room code.
func (r *Room) Code() string { return r.code }

// MaxMembers returns the room capacity.
func (r *Room) MaxMembers() int { return r.maxMembers }

// State returns the lifecycle state.
func (r *Room) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// HostID returns the current host, or "" for an empty room.
func (r *Room) HostID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hostID
}

// Len returns the member count.
func (r *Room) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Snapshot returns the current membership in join order.
func (r *Room) Snapshot() []View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Member returns a copy of one member's session.
func (r *Room) Member(id string) (PlayerSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[id]
	if !ok {
		return PlayerSession{}, false
	}
	return *m, true
}

// AddMember admits a new member. The first member of a room becomes host.
//
// Precondition: nickname is validated; peer must be non-nil.
// Postcondition: On success fn (if non-nil) runs with the room locked and the new member
// visible; on error the room is unchanged. Errors: ErrNotFound (room retired),
// ErrAlreadyStarted, ErrFull.
func (r *Room) AddMember(nickname, color string, peer Peer, fn func(Tx, PlayerSession)) (PlayerSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.closed:
		return PlayerSession{}, ErrNotFound
	case r.state != Lobby:
		return PlayerSession{}, ErrAlreadyStarted
	case len(r.members) >= r.maxMembers:
		return PlayerSession{}, ErrFull
	}

	used := make(map[string]bool, len(r.members))
	for _, m := range r.members {
		used[m.Color] = true
	}

	sess := &PlayerSession{
		ID:       uuid.NewString(),
		Nickname: nickname,
		X:        SpawnX,
		Y:        SpawnY,
		Color:    pickColor(r.src, used, color),
		peer:     peer,
	}
	if len(r.members) == 0 {
		r.hostID = sess.ID
		sess.IsHost = true
	}
	r.members[sess.ID] = sess
	r.order = append(r.order, sess.ID)

	if fn != nil {
		fn(Tx{r: r}, *sess)
	}
	return *sess, nil
}

// RemoveMember removes a member in either state. When the host leaves and members
// remain, the earliest joined remaining member becomes host. When the last member
// leaves the room is retired and rejects further joins.
//
// Postcondition: fn (if non-nil) runs with the room locked after removal; remaining
// members are reachable through the Tx. Returns ErrMemberNotFound if id is absent.
func (r *Room) RemoveMember(id string, fn func(Tx, Departure)) (Departure, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[id]; !ok {
		return Departure{}, ErrMemberNotFound
	}
	delete(r.members, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	dep := Departure{PlayerID: id, WasHost: id == r.hostID, Remaining: len(r.members)}
	switch {
	case len(r.members) == 0:
		r.hostID = ""
		r.closed = true
		dep.Closed = true
	case dep.WasHost:
		r.hostID = r.order[0]
		r.members[r.hostID].IsHost = true
		dep.NewHostID = r.hostID
	}

	if fn != nil {
		fn(Tx{r: r}, dep)
	}
	return dep, nil
}

// Move records a member's reported position. Positions are relayed as reported.
//
// Postcondition: fn (if non-nil) runs with the room locked after the update.
// Returns ErrMemberNotFound if id is absent.
func (r *Room) Move(id string, x, y float64, direction string, fn func(Tx)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[id]
	if !ok {
		return ErrMemberNotFound
	}
	m.X, m.Y = x, y
	if direction != "" {
		m.Direction = direction
	}
	if fn != nil {
		fn(Tx{r: r})
	}
	return nil
}

// Start transitions the room from Lobby to InProgress.
//
// Postcondition: On success fn (if non-nil) runs with the room locked after the
// transition. Errors leave the room unchanged: ErrMemberNotFound, ErrNotAuthorized
// (by is not host), ErrAlreadyStarted, ErrNotEnoughPlayers (fewer than minPlayers).
func (r *Room) Start(by string, minPlayers int, fn func(Tx)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[by]; !ok {
		return ErrMemberNotFound
	}
	if by != r.hostID {
		return ErrNotAuthorized
	}
	if r.state != Lobby {
		return ErrAlreadyStarted
	}
	if len(r.members) < minPlayers {
		return fmt.Errorf("%w: need %d, have %d", ErrNotEnoughPlayers, minPlayers, len(r.members))
	}
	r.state = InProgress

	if fn != nil {
		fn(Tx{r: r})
	}
	return nil
}

func (r *Room) snapshotLocked() []View {
	out := make([]View, 0, len(r.order))
	for _, id := range r.order {
		m := r.members[id]
		out = append(out, View{
			ID:       m.ID,
			Nickname: m.Nickname,
			X:        m.X,
			Y:        m.Y,
			Color:    m.Color,
			IsHost:   m.ID == r.hostID,
		})
	}
	return out
}
