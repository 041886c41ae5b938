// Package handlers binds transport connections to room sessions.
package handlers

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/paate57/among-pale/internal/frontend/ws"
	"github.com/paate57/among-pale/internal/observability"
	"github.com/paate57/among-pale/internal/session"
)

// RoomHandler implements ws.SessionHandler. Each connection gets its own Session
// and Outbox; inbound frames go to the shared Dispatcher.
type RoomHandler struct {
	dispatcher *session.Dispatcher
	sendBuffer int
	logger     *zap.Logger
}

var _ ws.SessionHandler = (*RoomHandler)(nil)

// NewRoomHandler creates a RoomHandler.
//
// Precondition: dispatcher and logger must be non-nil.
// Postcondition: Returns a RoomHandler ready to handle sessions.
func NewRoomHandler(dispatcher *session.Dispatcher, sendBuffer int, logger *zap.Logger) *RoomHandler {
	return &RoomHandler{
		dispatcher: dispatcher,
		sendBuffer: sendBuffer,
		logger:     logger,
	}
}

// HandleSession runs the read loop for one connection and a write pump beside it.
//
// Postcondition: The connection's member (if any) has been removed from its room and
// remaining members were told. Returns nil on an orderly close.
func (h *RoomHandler) HandleSession(ctx context.Context, conn *ws.Conn) error {
	logger := observability.ForConnection(h.logger, conn.ID(), conn.RemoteAddr().String())
	outbox := session.NewOutbox(conn.ID(), h.sendBuffer)
	sess := session.New(conn.ID(), outbox, logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	writeDone := make(chan error, 1)
	go func() {
		err := conn.WritePump(ctx, outbox.Frames())
		// Unblocks ReadFrame when the writer stops first.
		_ = conn.Close()
		writeDone <- err
	}()

	frames := 0
	var readErr error
	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			readErr = err
			break
		}
		frames++
		_ = h.dispatcher.Dispatch(ctx, sess, frame)
	}

	h.dispatcher.Disconnect(context.WithoutCancel(ctx), sess)
	_ = outbox.Close()
	writeErr := <-writeDone

	logger.Debug("connection closed",
		zap.Int("frames", frames),
		zap.NamedError("read_error", readErr),
		zap.NamedError("write_error", writeErr),
	)

	if ws.IsUnexpectedClose(readErr) {
		return fmt.Errorf("reading frames: %w", readErr)
	}
	return nil
}
