package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/paate57/among-pale/internal/client"
	"github.com/paate57/among-pale/internal/protocol"
	"github.com/paate57/among-pale/internal/random"
)

// Walking area and pace, in map units.
const (
	mapWidth  = 800
	mapHeight = 600
	walkSpeed = 150.0 // units per second
)

type botConfig struct {
	nickname   string
	color      string
	startAfter time.Duration
	duration   time.Duration
}

type app struct {
	opts   client.Options
	logger *zap.Logger
	out    io.Writer
	dialer client.Dialer
	src    random.Source
}

// host creates a room, prints its code and wanders until the run ends.
func (a *app) host(ctx context.Context, cfg botConfig) error {
	return a.withManager(ctx, cfg.nickname, func(ctx context.Context, m *client.Manager) error {
		if err := m.Connect(ctx); err != nil {
			return fmt.Errorf("connecting to %s: %w", a.opts.URL, err)
		}
		ev, err := request(ctx, m, client.EventRoomCreated, func() error {
			return m.CreateRoom(ctx, cfg.nickname, cfg.color)
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(a.out, ev.Mirror.RoomCode)

		var start <-chan time.Time
		if cfg.startAfter > 0 {
			t := time.NewTimer(cfg.startAfter)
			defer t.Stop()
			start = t.C
		}
		return a.wander(ctx, m, cfg.duration, start)
	})
}

// guest joins the room with the given code and wanders until the run ends.
func (a *app) guest(ctx context.Context, code string, cfg botConfig) error {
	return a.withManager(ctx, cfg.nickname, func(ctx context.Context, m *client.Manager) error {
		if err := m.Connect(ctx); err != nil {
			return fmt.Errorf("connecting to %s: %w", a.opts.URL, err)
		}
		ev, err := request(ctx, m, client.EventRoomJoined, func() error {
			return m.JoinRoom(ctx, cfg.nickname, code, cfg.color)
		})
		if err != nil {
			return err
		}
		a.logger.Info("joined room",
			zap.String("bot", cfg.nickname),
			zap.String("room", ev.Mirror.RoomCode),
			zap.Int("members", len(ev.Mirror.Players)),
		)
		return a.wander(ctx, m, cfg.duration, nil)
	})
}

// withManager runs a Manager for the duration of fn.
func (a *app) withManager(ctx context.Context, name string, fn func(context.Context, *client.Manager) error) error {
	dialer := a.dialer
	if dialer == nil {
		dialer = client.WebSocketDialer{}
	}
	logger := a.logger.With(zap.String("bot", name))
	m := client.NewManager(a.opts, dialer, logger)
	logMembership(m, logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.Run(gctx) })
	g.Go(func() error {
		defer cancel()
		return fn(gctx, m)
	})
	return g.Wait()
}

// wander walks around until duration elapses, starting the game when start fires.
// It fails once the manager gives up reconnecting or the room is lost.
func (a *app) wander(ctx context.Context, m *client.Manager, duration time.Duration, start <-chan time.Time) error {
	gaveUp := make(chan client.Event, 1)
	unsub := m.Subscribe(client.EventDisconnected, func(ev client.Event) {
		select {
		case gaveUp <- ev:
		default:
		}
	})
	defer unsub()

	snap, err := m.Snapshot(ctx)
	if err != nil {
		return err
	}
	self, _ := snap.Self()
	src := a.src
	if src == nil {
		src = random.NewCryptoSource()
	}
	w := newWalker(src, self.X, self.Y)

	end := time.NewTimer(duration)
	defer end.Stop()
	ticker := time.NewTicker(a.opts.MoveInterval)
	defer ticker.Stop()
	last := time.Now()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-end.C:
			if err := m.LeaveRoom(ctx); err != nil && !errors.Is(err, client.ErrNotInRoom) {
				a.logger.Debug("leave on exit failed", zap.Error(err))
			}
			return nil
		case ev := <-gaveUp:
			return fmt.Errorf("relay unreachable after %d attempts: %w", ev.Attempt, ev.Err)
		case <-start:
			start = nil
			if err := m.StartGame(ctx); err != nil {
				a.logger.Warn("start game failed", zap.Error(err))
			}
		case now := <-ticker.C:
			x, y, dir := w.step(now.Sub(last))
			last = now
			switch err := m.Move(ctx, x, y, dir); {
			case err == nil, errors.Is(err, client.ErrNotConnected):
			case errors.Is(err, client.ErrNotInRoom):
				return errors.New("left the room")
			default:
				return err
			}
		}
	}
}

// request runs send and waits for the want event or an ERROR reply.
func request(ctx context.Context, m *client.Manager, want client.EventKind, send func() error) (client.Event, error) {
	events := make(chan client.Event, 2)
	forward := func(ev client.Event) {
		select {
		case events <- ev:
		default:
		}
	}
	unsubWant := m.Subscribe(want, forward)
	defer unsubWant()
	unsubErr := m.Subscribe(client.EventError, forward)
	defer unsubErr()

	if err := send(); err != nil {
		return client.Event{}, err
	}
	select {
	case ev := <-events:
		if e, ok := ev.Message.(protocol.ErrorMessage); ok {
			return ev, fmt.Errorf("relay refused %s: %s (%s)", want, e.Message, e.Code)
		}
		return ev, nil
	case <-ctx.Done():
		return client.Event{}, ctx.Err()
	}
}

func logMembership(m *client.Manager, logger *zap.Logger) {
	for _, kind := range []client.EventKind{client.EventPlayerJoined, client.EventPlayerLeft} {
		m.Subscribe(kind, func(ev client.Event) {
			logger.Info(kind.String(), zap.Int("members", len(ev.Mirror.Players)))
		})
	}
	m.Subscribe(client.EventGameStarted, func(ev client.Event) {
		logger.Info("game started", zap.String("room", ev.Mirror.RoomCode))
	})
	m.Subscribe(client.EventReconnecting, func(ev client.Event) {
		logger.Warn("reconnecting", zap.Int("attempt", ev.Attempt), zap.Duration("delay", ev.Delay))
	})
}

var headings = []struct {
	name   string
	dx, dy float64
}{
	{"up", 0, -1},
	{"down", 0, 1},
	{"left", -1, 0},
	{"right", 1, 0},
}

// walker is a bounded random walk. Headings come in opposite pairs so that
// heading^1 reverses direction.
type walker struct {
	src     random.Source
	x, y    float64
	heading int
}

func newWalker(src random.Source, x, y float64) *walker {
	return &walker{
		src:     src,
		x:       math.Min(math.Max(x, 0), mapWidth),
		y:       math.Min(math.Max(y, 0), mapHeight),
		heading: src.Intn(len(headings)),
	}
}

// step advances the walk by dt and returns the rounded position and facing.
func (w *walker) step(dt time.Duration) (x, y float64, direction string) {
	if w.src.Intn(10) == 0 {
		w.heading = w.src.Intn(len(headings))
	}
	dist := walkSpeed * dt.Seconds()
	nx, ny := w.advance(dist)
	if nx < 0 || nx > mapWidth || ny < 0 || ny > mapHeight {
		w.heading ^= 1
		nx, ny = w.advance(dist)
	}
	w.x = math.Min(math.Max(nx, 0), mapWidth)
	w.y = math.Min(math.Max(ny, 0), mapHeight)
	return math.Round(w.x), math.Round(w.y), headings[w.heading].name
}

func (w *walker) advance(dist float64) (float64, float64) {
	h := headings[w.heading]
	return w.x + h.dx*dist, w.y + h.dy*dist
}
