package backend

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Stream subscribes to the backend's order status WebSocket feed. It is
// an accelerator only: the resign loop's poll remains the source of
// truth, the stream just lets a cycle start early. Connection loss is
// tolerated with a simple reconnect backoff.
type Stream struct {
	url     string
	log     *zap.SugaredLogger
	updates chan StatusUpdate
}

func NewStream(url string, log *zap.SugaredLogger) *Stream {
	return &Stream{
		url:     url,
		log:     log,
		updates: make(chan StatusUpdate, 64),
	}
}

// Updates returns the channel status pushes arrive on.
func (s *Stream) Updates() <-chan StatusUpdate {
	return s.updates
}

// Run connects and reads until ctx is cancelled, reconnecting on error.
func (s *Stream) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if err := s.readLoop(ctx); err != nil && ctx.Err() == nil {
			s.log.Warnw("order_stream_disconnected", "err", err, "retry_in", backoff)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (s *Stream) readLoop(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Close the socket when ctx ends so ReadJSON unblocks.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	s.log.Infow("order_stream_connected", "url", s.url)
	for {
		var update StatusUpdate
		if err := conn.ReadJSON(&update); err != nil {
			return err
		}
		select {
		case s.updates <- update:
		default:
			// Slow consumer: drop the push, the poll will catch up.
		}
	}
}
