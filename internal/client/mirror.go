package client

import (
	"slices"

	"github.com/paate57/among-pale/internal/protocol"
)

// DefaultDirection is the facing given to members until they report one.
const DefaultDirection = "down"

// Member is one room member as seen by this client.
type Member struct {
	protocol.Player
	// Direction is the last facing relayed for this member.
	Direction string
}

// Mirror is the client's copy of the room state that concerns it. It is replaced
// wholesale on every membership message; PLAYER_MOVED patches one entry.
type Mirror struct {
	PlayerID string
	RoomCode string
	Players  []Member
	Started  bool
}

// InRoom reports whether the client is a member of a room.
func (m Mirror) InRoom() bool {
	return m.RoomCode != ""
}

// Self returns the local member.
func (m Mirror) Self() (Member, bool) {
	return m.Member(m.PlayerID)
}

// Member returns the member with the given id.
func (m Mirror) Member(id string) (Member, bool) {
	if id == "" {
		return Member{}, false
	}
	for _, p := range m.Players {
		if p.ID == id {
			return p, true
		}
	}
	return Member{}, false
}

// IsHost reports whether the local member is host.
func (m Mirror) IsHost() bool {
	self, ok := m.Self()
	return ok && self.IsHost
}

// Clone returns a deep copy safe to hand to other goroutines.
func (m Mirror) Clone() Mirror {
	m.Players = slices.Clone(m.Players)
	return m
}

// replacePlayers installs a membership snapshot. Members already known keep their
// last relayed facing; the wire record does not carry it.
func (m *Mirror) replacePlayers(players []protocol.Player) {
	facing := make(map[string]string, len(m.Players))
	for _, p := range m.Players {
		facing[p.ID] = p.Direction
	}
	next := make([]Member, len(players))
	for i, p := range players {
		dir, ok := facing[p.ID]
		if !ok {
			dir = DefaultDirection
		}
		next[i] = Member{Player: p, Direction: dir}
	}
	m.Players = next
}

func (m *Mirror) move(id string, x, y float64, direction string) bool {
	for i := range m.Players {
		if m.Players[i].ID != id {
			continue
		}
		m.Players[i].X, m.Players[i].Y = x, y
		if direction != "" {
			m.Players[i].Direction = direction
		}
		return true
	}
	return false
}
