package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/gorilla/websocket"

	"github.com/TheMichaelB/newsync/internal/models"
	"github.com/TheMichaelB/newsync/internal/services/sync"
)

const (
	requestWait = 10 * time.Second
	writeWait   = 10 * time.Second
)

// Stream frame types.
const (
	FrameEvent  = "event"
	FrameResult = "result"
	FrameError  = "error"
)

// StreamFrame is one server message on /api/sync/stream.
type StreamFrame struct {
	Type   string             `json:"type"`
	Event  *sync.Event        `json:"event,omitempty"`
	Result *models.SyncResult `json:"result,omitempty"`
	Error  string             `json:"error,omitempty"`
	Status int                `json:"status,omitempty"`
}

type runOutcome struct {
	result *models.SyncResult
	err    error
}

// stream runs one sync per connection. The client sends a SyncBody, then
// receives event frames and a final result or error frame. Closing the
// connection early cancels the run.
func (s *Server) stream(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	var body SyncBody
	_ = conn.SetReadDeadline(time.Now().Add(requestWait))
	if err := conn.ReadJSON(&body); err != nil {
		s.finish(conn, StreamFrame{Type: FrameError, Error: "read request: " + err.Error(), Status: http.StatusBadRequest})
		return
	}
	if err := binding.Validator.ValidateStruct(&body); err != nil {
		s.finish(conn, StreamFrame{Type: FrameError, Error: err.Error(), Status: http.StatusBadRequest})
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	feed, unsubscribe := s.sync.Engine().Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The read side only watches for the client going away.
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				cancel()
				return
			}
		}
	}()

	done := make(chan runOutcome, 1)
	go func() {
		req, opts := body.request()
		result, err := s.sync.Sync(ctx, req, opts)
		done <- runOutcome{result: result, err: err}
	}()

	broken := false
	send := func(frame StreamFrame) {
		if broken {
			return
		}
		if err := writeFrame(conn, frame); err != nil {
			s.logger.WithError(err).Debug("Stream client gone")
			broken = true
			cancel()
		}
	}

	for {
		select {
		case ev := <-feed:
			send(StreamFrame{Type: FrameEvent, Event: &ev})

		case out := <-done:
			if out.err != nil {
				s.finish(conn, StreamFrame{Type: FrameError, Error: out.err.Error(), Status: StatusFor(out.err)})
				return
			}
			for drained := false; !drained; {
				select {
				case ev := <-feed:
					send(StreamFrame{Type: FrameEvent, Event: &ev})
				default:
					drained = true
				}
			}
			if !broken {
				s.finish(conn, StreamFrame{Type: FrameResult, Result: out.result})
			}
			return
		}
	}
}

// finish writes the last frame and a normal close.
func (s *Server) finish(conn *websocket.Conn, frame StreamFrame) {
	if err := writeFrame(conn, frame); err != nil {
		s.logger.WithError(err).Debug("Write final frame failed")
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}

func writeFrame(conn *websocket.Conn, frame StreamFrame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(frame)
}
