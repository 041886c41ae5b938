package room

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/paate57/among-pale/internal/protocol"
	"github.com/paate57/among-pale/internal/random"
)

// Defaults applied by NewRegistry to zero-valued Options fields.
const (
	DefaultMaxMembers   = len(Palette)
	DefaultCodeAttempts = 64
)

// Options configures a Registry.
type Options struct {
	// MaxMembers is the capacity of every room.
	MaxMembers int
	// CodeAttempts bounds the rejection-sampling loop for new codes.
	CodeAttempts int
	// Source supplies randomness for codes and colours. Defaults to crypto/rand.
	Source random.Source
}

// Registry tracks all active rooms by code. All methods are safe for concurrent use.
//
// Lock order is registry then room; a room lock is never held while acquiring the
// registry lock.
type Registry struct {
	maxMembers   int
	codeAttempts int
	src          random.Source

	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewRegistry creates an empty Registry.
//
// Postcondition: Zero-valued options are replaced by defaults.
func NewRegistry(opts Options) *Registry {
	if opts.MaxMembers <= 0 {
		opts.MaxMembers = DefaultMaxMembers
	}
	if opts.CodeAttempts <= 0 {
		opts.CodeAttempts = DefaultCodeAttempts
	}
	if opts.Source == nil {
		opts.Source = random.NewCryptoSource()
	}
	return &Registry{
		maxMembers:   opts.MaxMembers,
		codeAttempts: opts.CodeAttempts,
		src:          opts.Source,
		rooms:        make(map[string]*Room),
	}
}

// CreateRoom opens a room under a fresh code with the creator as its host.
//
// Precondition: nickname is validated; peer must be non-nil.
// Postcondition: The room is registered before this returns; fn (if non-nil) runs with
// the room locked. Returns ErrCodeSpaceExhausted if no free code was drawn.
func (g *Registry) CreateRoom(nickname, color string, peer Peer, fn func(Tx, PlayerSession)) (*Room, PlayerSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	code, err := g.freeCodeLocked()
	if err != nil {
		return nil, PlayerSession{}, err
	}
	r := newRoom(code, g.maxMembers, g.src)
	sess, err := r.AddMember(nickname, color, peer, fn)
	if err != nil {
		return nil, PlayerSession{}, fmt.Errorf("adding creator to room %s: %w", code, err)
	}
	g.rooms[code] = r
	return r, sess, nil
}

// JoinRoom admits a member to the room with the given code.
//
// Precondition: code is normalised; nickname is validated; peer must be non-nil.
// Postcondition: Errors are ErrNotFound, ErrAlreadyStarted or ErrFull and leave state unchanged.
func (g *Registry) JoinRoom(code, nickname, color string, peer Peer, fn func(Tx, PlayerSession)) (*Room, PlayerSession, error) {
	r, ok := g.Get(code)
	if !ok {
		return nil, PlayerSession{}, ErrNotFound
	}
	sess, err := r.AddMember(nickname, color, peer, fn)
	if err != nil {
		return nil, PlayerSession{}, err
	}
	return r, sess, nil
}

// RemoveMember removes a member from the room with the given code, deleting the room
// when it becomes empty.
//
// Postcondition: Returns ErrNotFound if the room is unknown, ErrMemberNotFound if the
// member is not in it.
func (g *Registry) RemoveMember(code, playerID string, fn func(Tx, Departure)) (Departure, error) {
	r, ok := g.Get(code)
	if !ok {
		return Departure{}, ErrNotFound
	}
	dep, err := r.RemoveMember(playerID, fn)
	if err != nil {
		return Departure{}, err
	}
	if dep.Closed {
		g.mu.Lock()
		if g.rooms[code] == r {
			delete(g.rooms, code)
		}
		g.mu.Unlock()
	}
	return dep, nil
}

// Get returns the room registered under code.
func (g *Registry) Get(code string) (*Room, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.rooms[code]
	return r, ok
}

// Len returns the number of active rooms.
func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms)
}

// Codes returns the active room codes in sorted order.
func (g *Registry) Codes() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	codes := make([]string, 0, len(g.rooms))
	for c := range g.rooms {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}

// freeCodeLocked draws codes uniformly until one is unused.
//
// Precondition: g.mu is held for writing.
func (g *Registry) freeCodeLocked() (string, error) {
	for i := 0; i < g.codeAttempts; i++ {
		code := g.drawCode()
		if _, taken := g.rooms[code]; !taken {
			return code, nil
		}
	}
	return "", fmt.Errorf("%w after %d attempts", ErrCodeSpaceExhausted, g.codeAttempts)
}

func (g *Registry) drawCode() string {
	var b strings.Builder
	b.Grow(protocol.CodeLength)
	for i := 0; i < protocol.CodeLength; i++ {
		b.WriteByte(protocol.CodeAlphabet[g.src.Intn(len(protocol.CodeAlphabet))])
	}
	return b.String()
}
