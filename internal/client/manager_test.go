package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/paate57/among-pale/internal/protocol"
)

const testTimeout = 2 * time.Second

func testOptions() Options {
	return Options{
		URL:                  "ws://relay.test/",
		DialTimeout:          time.Second,
		ReconnectDelay:       5 * time.Millisecond,
		MaxReconnectAttempts: 3,
		MoveInterval:         30 * time.Millisecond,
	}
}

func startManager(t *testing.T, opts Options, d Dialer) *Manager {
	t.Helper()
	m := NewManager(opts, d, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return m
}

func hostPlayer() protocol.Player {
	return protocol.Player{ID: "p1", Nickname: "Alice", X: 400, Y: 300, Color: "red", IsHost: true}
}

func guestPlayer() protocol.Player {
	return protocol.Player{ID: "p2", Nickname: "Bob", X: 400, Y: 300, Color: "blue"}
}

// enterRoom creates a room as p1 and waits until the mirror reflects it.
func enterRoom(t *testing.T, m *Manager, tr *fakeTransport) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, m.CreateRoom(ctx, "Alice", "red"))
	require.IsType(t, protocol.CreateRoom{}, tr.next(t, testTimeout))
	tr.push(t, protocol.RoomCreated{RoomCode: "ABC123", PlayerID: "p1", Players: []protocol.Player{hostPlayer()}})
	require.Eventually(t, func() bool {
		snap, err := m.Snapshot(ctx)
		return err == nil && snap.InRoom()
	}, testTimeout, 5*time.Millisecond)
}

func TestManager_ConnectAndCreateRoom(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	m := startManager(t, testOptions(), newFakeDialer(tr))
	rec := record(m, EventConnected, EventRoomCreated)

	require.NoError(t, m.Connect(ctx))
	rec.wait(t, EventConnected, testTimeout)
	state, err := m.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateConnected, state)

	require.NoError(t, m.CreateRoom(ctx, "  Alice ", "red"))
	assert.Equal(t, protocol.CreateRoom{Nickname: "Alice", Color: "red"}, tr.next(t, testTimeout))

	tr.push(t, protocol.RoomCreated{RoomCode: "ABC123", PlayerID: "p1", Players: []protocol.Player{hostPlayer()}})
	ev := rec.wait(t, EventRoomCreated, testTimeout)
	assert.Equal(t, "ABC123", ev.Mirror.RoomCode)
	assert.Equal(t, "p1", ev.Mirror.PlayerID)
	assert.True(t, ev.Mirror.IsHost())
	self, ok := ev.Mirror.Self()
	require.True(t, ok)
	assert.Equal(t, DefaultDirection, self.Direction)
	assert.IsType(t, protocol.RoomCreated{}, ev.Message)
}

func TestManager_ConnectWhenConnectedIsNoop(t *testing.T) {
	ctx := context.Background()
	d := newFakeDialer(newFakeTransport())
	m := startManager(t, testOptions(), d)

	require.NoError(t, m.Connect(ctx))
	require.NoError(t, m.Connect(ctx))
	assert.Equal(t, int32(1), d.dials.Load())
}

func TestManager_RequestsRequireConnection(t *testing.T) {
	ctx := context.Background()
	m := startManager(t, testOptions(), newFakeDialer())

	assert.ErrorIs(t, m.CreateRoom(ctx, "Alice", ""), ErrNotConnected)
	assert.ErrorIs(t, m.JoinRoom(ctx, "Alice", "ABC123", ""), ErrNotConnected)
	assert.ErrorIs(t, m.Move(ctx, 1, 2, ""), ErrNotConnected)
	assert.ErrorIs(t, m.StartGame(ctx), ErrNotConnected)
	assert.ErrorIs(t, m.LeaveRoom(ctx), ErrNotConnected)
}

func TestManager_ClientSideValidation(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	m := startManager(t, testOptions(), newFakeDialer(tr))
	require.NoError(t, m.Connect(ctx))

	assert.ErrorIs(t, m.CreateRoom(ctx, "A", ""), protocol.ErrInvalidNickname)
	assert.ErrorIs(t, m.JoinRoom(ctx, "Bob", "abc", ""), protocol.ErrInvalidRoomCode)
	assert.Empty(t, tr.written(t))

	require.NoError(t, m.JoinRoom(ctx, "Bob", " abc123 ", "blue"))
	assert.Equal(t, protocol.JoinRoom{Nickname: "Bob", RoomCode: "ABC123", Color: "blue"}, tr.next(t, testTimeout))
}

func TestManager_RoomRequestsRequireRoom(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	m := startManager(t, testOptions(), newFakeDialer(tr))
	require.NoError(t, m.Connect(ctx))

	assert.ErrorIs(t, m.Move(ctx, 1, 2, ""), ErrNotInRoom)
	assert.ErrorIs(t, m.StartGame(ctx), ErrNotInRoom)
	assert.ErrorIs(t, m.LeaveRoom(ctx), ErrNotInRoom)
	assert.Empty(t, tr.written(t))
}

func TestManager_MirrorReplacedWholesale(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	m := startManager(t, testOptions(), newFakeDialer(tr))
	rec := record(m, EventPlayerJoined, EventPlayerMoved, EventPlayerLeft)
	require.NoError(t, m.Connect(ctx))
	enterRoom(t, m, tr)

	tr.push(t, protocol.PlayerJoined{Players: []protocol.Player{hostPlayer(), guestPlayer()}})
	ev := rec.wait(t, EventPlayerJoined, testTimeout)
	require.Len(t, ev.Mirror.Players, 2)
	assert.Equal(t, "p2", ev.Mirror.Players[1].ID)
	assert.Equal(t, "ABC123", ev.Mirror.RoomCode)

	tr.push(t, protocol.PlayerMoved{PlayerID: "p2", X: 430, Y: 310, Direction: "right"})
	ev = rec.wait(t, EventPlayerMoved, testTimeout)
	bob, ok := ev.Mirror.Member("p2")
	require.True(t, ok)
	assert.Equal(t, 430.0, bob.X)
	assert.Equal(t, 310.0, bob.Y)
	assert.Equal(t, "right", bob.Direction)

	require.Eventually(t, func() bool {
		pos, err := m.Positions(ctx)
		return err == nil && pos["p2"] == Point{X: 430, Y: 310}
	}, testTimeout, 5*time.Millisecond)
	pos, err := m.Positions(ctx)
	require.NoError(t, err)
	assert.NotContains(t, pos, "p1")

	host := hostPlayer()
	host.X = 0
	tr.push(t, protocol.PlayerLeft{Players: []protocol.Player{host}})
	ev = rec.wait(t, EventPlayerLeft, testTimeout)
	require.Len(t, ev.Mirror.Players, 1)
	assert.Equal(t, 0.0, ev.Mirror.Players[0].X)

	pos, err = m.Positions(ctx)
	require.NoError(t, err)
	assert.Empty(t, pos)
}

func TestManager_GameStartedAndError(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	m := startManager(t, testOptions(), newFakeDialer(tr))
	rec := record(m, EventGameStarted, EventError)
	require.NoError(t, m.Connect(ctx))
	enterRoom(t, m, tr)

	require.NoError(t, m.StartGame(ctx))
	assert.Equal(t, protocol.StartGame{}, tr.next(t, testTimeout))

	tr.push(t, protocol.NewError(protocol.CodeNotEnoughPlayers, "Not enough players to start"))
	ev := rec.wait(t, EventError, testTimeout)
	e, ok := ev.Message.(protocol.ErrorMessage)
	require.True(t, ok)
	assert.Equal(t, protocol.CodeNotEnoughPlayers, e.Code)
	assert.False(t, ev.Mirror.Started)

	tr.push(t, protocol.GameStarted{})
	ev = rec.wait(t, EventGameStarted, testTimeout)
	assert.True(t, ev.Mirror.Started)
}

func TestManager_MoveThrottleFlushesLatestSample(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	opts := testOptions()
	opts.MoveInterval = 50 * time.Millisecond
	m := startManager(t, opts, newFakeDialer(tr))
	require.NoError(t, m.Connect(ctx))
	enterRoom(t, m, tr)

	for i := 0; i < 10; i++ {
		require.NoError(t, m.Move(ctx, float64(i), 1, "left"))
	}

	first := tr.next(t, testTimeout)
	assert.Equal(t, protocol.PlayerMove{X: 0, Y: 1, Direction: "left"}, first)

	trailing := tr.next(t, testTimeout)
	assert.Equal(t, protocol.PlayerMove{X: 9, Y: 1, Direction: "left"}, trailing)

	time.Sleep(3 * opts.MoveInterval)
	assert.Empty(t, tr.written(t))

	snap, err := m.Snapshot(ctx)
	require.NoError(t, err)
	self, ok := snap.Self()
	require.True(t, ok)
	assert.Equal(t, 9.0, self.X)
}

func TestManager_LeaveRoomClearsMirror(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	m := startManager(t, testOptions(), newFakeDialer(tr))
	require.NoError(t, m.Connect(ctx))
	enterRoom(t, m, tr)

	require.NoError(t, m.LeaveRoom(ctx))
	assert.Equal(t, protocol.LeaveRoom{}, tr.next(t, testTimeout))

	snap, err := m.Snapshot(ctx)
	require.NoError(t, err)
	assert.False(t, snap.InRoom())
	assert.Empty(t, snap.Players)

	state, err := m.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateConnected, state)
}

func TestManager_ReconnectsAfterLoss(t *testing.T) {
	ctx := context.Background()
	tr1, tr2 := newFakeTransport(), newFakeTransport()
	d := newFakeDialer(tr1, tr2)
	m := startManager(t, testOptions(), d)
	rec := record(m, EventConnected, EventConnectionLost, EventReconnecting)

	require.NoError(t, m.Connect(ctx))
	rec.wait(t, EventConnected, testTimeout)
	enterRoom(t, m, tr1)

	require.NoError(t, tr1.Close())
	lost := rec.wait(t, EventConnectionLost, testTimeout)
	assert.False(t, lost.Mirror.InRoom())
	assert.Error(t, lost.Err)

	retry := rec.wait(t, EventReconnecting, testTimeout)
	assert.Equal(t, 1, retry.Attempt)
	assert.Equal(t, testOptions().ReconnectDelay, retry.Delay)

	rec.wait(t, EventConnected, testTimeout)
	assert.Equal(t, int32(2), d.dials.Load())

	require.NoError(t, m.CreateRoom(ctx, "Alice", ""))
	assert.IsType(t, protocol.CreateRoom{}, tr2.next(t, testTimeout))
}

func TestManager_GivesUpAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	opts := testOptions()
	d := newFakeDialer()
	m := startManager(t, opts, d)
	rec := record(m, EventDisconnected, EventReconnecting)

	assert.Error(t, m.Connect(ctx))

	ev := rec.wait(t, EventDisconnected, testTimeout)
	assert.Equal(t, opts.MaxReconnectAttempts, ev.Attempt)
	assert.Error(t, ev.Err)

	time.Sleep(20 * opts.ReconnectDelay)
	assert.Equal(t, 0, rec.count(EventDisconnected))
	assert.Equal(t, int32(1+opts.MaxReconnectAttempts), d.dials.Load())

	state, err := m.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateDisconnected, state)
}

func TestManager_LossThenRetriesExhausted(t *testing.T) {
	ctx := context.Background()
	opts := testOptions()
	tr := newFakeTransport()
	d := newFakeDialer(tr)
	m := startManager(t, opts, d)
	rec := record(m, EventDisconnected, EventReconnecting)

	require.NoError(t, m.Connect(ctx))
	require.NoError(t, tr.Close())

	rec.wait(t, EventDisconnected, testTimeout)
	time.Sleep(20 * opts.ReconnectDelay)
	assert.Equal(t, 0, rec.count(EventDisconnected))
	assert.Equal(t, int32(1+opts.MaxReconnectAttempts), d.dials.Load())
}

func TestManager_DisconnectCancelsPendingRetry(t *testing.T) {
	ctx := context.Background()
	opts := testOptions()
	opts.ReconnectDelay = 50 * time.Millisecond
	d := newFakeDialer()
	m := startManager(t, opts, d)
	rec := record(m, EventReconnecting, EventDisconnected)

	assert.Error(t, m.Connect(ctx))
	rec.wait(t, EventReconnecting, testTimeout)
	require.NoError(t, m.Disconnect(ctx))

	time.Sleep(3 * opts.ReconnectDelay)
	assert.Equal(t, int32(1), d.dials.Load())
	assert.Equal(t, 0, rec.count(EventDisconnected))

	state, err := m.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, state)
}

func TestManager_ReconnectResetsAttempts(t *testing.T) {
	ctx := context.Background()
	opts := testOptions()
	opts.ReconnectDelay = time.Hour
	d := newFakeDialer()
	m := startManager(t, opts, d)
	rec := record(m, EventReconnecting)

	assert.Error(t, m.Connect(ctx))
	first := rec.wait(t, EventReconnecting, testTimeout)
	assert.Equal(t, 1, first.Attempt)

	tr := newFakeTransport()
	d.add(tr)
	require.NoError(t, m.Reconnect(ctx))

	require.NoError(t, tr.Close())
	again := rec.wait(t, EventReconnecting, testTimeout)
	assert.Equal(t, 1, again.Attempt)
	assert.Equal(t, time.Hour, again.Delay)
}

func TestManager_DisconnectClosesTransport(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	d := newFakeDialer(tr)
	m := startManager(t, testOptions(), d)
	rec := record(m, EventConnectionLost, EventReconnecting, EventDisconnected)

	require.NoError(t, m.Connect(ctx))
	enterRoom(t, m, tr)
	require.NoError(t, m.Disconnect(ctx))

	select {
	case <-tr.closed:
	case <-time.After(testTimeout):
		t.Fatal("transport not closed")
	}
	time.Sleep(20 * testOptions().ReconnectDelay)
	assert.Equal(t, int32(1), d.dials.Load())
	assert.Equal(t, 0, rec.count(EventConnectionLost))
	assert.Equal(t, 0, rec.count(EventReconnecting))

	snap, err := m.Snapshot(ctx)
	require.NoError(t, err)
	assert.False(t, snap.InRoom())
}

func TestManager_MalformedFrameIgnored(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	m := startManager(t, testOptions(), newFakeDialer(tr))
	rec := record(m, EventGameStarted)
	require.NoError(t, m.Connect(ctx))
	enterRoom(t, m, tr)

	tr.in <- []byte(`{"type":"PLAYER_INFO"}`)
	tr.in <- []byte(`garbage`)
	tr.push(t, protocol.GameStarted{})
	rec.wait(t, EventGameStarted, testTimeout)

	state, err := m.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateConnected, state)
}

func TestManager_Unsubscribe(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	m := startManager(t, testOptions(), newFakeDialer(tr))

	calls := make(chan string, 8)
	unsubA := m.Subscribe(EventError, func(Event) { calls <- "a" })
	m.Subscribe(EventError, func(Event) { calls <- "b" })
	require.NoError(t, m.Connect(ctx))

	tr.push(t, protocol.NewError(protocol.CodeNotFound, "Room not found"))
	assert.Equal(t, "a", <-calls)
	assert.Equal(t, "b", <-calls)

	unsubA()
	unsubA()
	tr.push(t, protocol.NewError(protocol.CodeNotFound, "Room not found"))
	assert.Equal(t, "b", <-calls)
	select {
	case c := <-calls:
		t.Fatalf("unexpected call %q", c)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestManager_ClosedAfterRunExits(t *testing.T) {
	m := NewManager(testOptions(), newFakeDialer(), zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	_, err := m.Snapshot(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, m.Connect(context.Background()), ErrClosed)
}

func TestManager_InFlightBroadcastsAfterLeaveAreDropped(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	m := startManager(t, testOptions(), newFakeDialer(tr))
	rec := record(m, EventPlayerJoined, EventPlayerMoved, EventGameStarted)
	marker := record(m, EventError)
	require.NoError(t, m.Connect(ctx))
	enterRoom(t, m, tr)

	require.NoError(t, m.LeaveRoom(ctx))
	assert.Equal(t, protocol.LeaveRoom{}, tr.next(t, testTimeout))

	tr.push(t, protocol.PlayerJoined{Players: []protocol.Player{hostPlayer(), guestPlayer()}})
	tr.push(t, protocol.PlayerMoved{PlayerID: "p2", X: 10, Y: 10})
	tr.push(t, protocol.GameStarted{})
	tr.push(t, protocol.NewError(protocol.CodeNotFound, "Room not found"))
	marker.wait(t, EventError, testTimeout)

	assert.Equal(t, 0, rec.count(EventPlayerJoined))
	snap, err := m.Snapshot(ctx)
	require.NoError(t, err)
	assert.False(t, snap.InRoom())
	assert.Empty(t, snap.Players)
	assert.False(t, snap.Started)

	pos, err := m.Positions(ctx)
	require.NoError(t, err)
	assert.Empty(t, pos)
}

func TestManager_MoveForNonMemberIgnored(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	m := startManager(t, testOptions(), newFakeDialer(tr))
	moves := record(m, EventPlayerMoved)
	marker := record(m, EventError)
	require.NoError(t, m.Connect(ctx))
	enterRoom(t, m, tr)

	tr.push(t, protocol.PlayerMoved{PlayerID: "ghost", X: 10, Y: 10})
	tr.push(t, protocol.NewError(protocol.CodeInternal, "marker"))
	marker.wait(t, EventError, testTimeout)

	assert.Equal(t, 0, moves.count(EventPlayerMoved))
	pos, err := m.Positions(ctx)
	require.NoError(t, err)
	assert.NotContains(t, pos, "ghost")
	snap, err := m.Snapshot(ctx)
	require.NoError(t, err)
	_, ok := snap.Member("ghost")
	assert.False(t, ok)
}

func TestManager_MembershipChangeKeepsFacings(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	m := startManager(t, testOptions(), newFakeDialer(tr))
	rec := record(m, EventPlayerJoined, EventPlayerMoved)
	require.NoError(t, m.Connect(ctx))
	enterRoom(t, m, tr)

	tr.push(t, protocol.PlayerJoined{Players: []protocol.Player{hostPlayer(), guestPlayer()}})
	rec.wait(t, EventPlayerJoined, testTimeout)
	tr.push(t, protocol.PlayerMoved{PlayerID: "p2", X: 420, Y: 300, Direction: "left"})
	rec.wait(t, EventPlayerMoved, testTimeout)

	carol := protocol.Player{ID: "p3", Nickname: "Carol", X: 400, Y: 300, Color: "green"}
	bob := guestPlayer()
	bob.X = 420
	tr.push(t, protocol.PlayerJoined{Players: []protocol.Player{hostPlayer(), bob, carol}})
	ev := rec.wait(t, EventPlayerJoined, testTimeout)

	got, ok := ev.Mirror.Member("p2")
	require.True(t, ok)
	assert.Equal(t, "left", got.Direction)
	got, ok = ev.Mirror.Member("p3")
	require.True(t, ok)
	assert.Equal(t, DefaultDirection, got.Direction)
}
