// Package transport carries the worker protocol over a websocket so a remote
// coordinator can drive a local worker. Every frame is one JSON types.Message.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"qaworker/internal/worker"
	"qaworker/pkg/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 32 << 20
)

// Upgrader turns an admin HTTP request into a worker connection.
var Upgrader = websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096}

// Bridge binds one websocket connection to one worker for the connection's
// lifetime. The worker is started by Run and closed when the peer goes away.
type Bridge struct {
	conn *websocket.Conn
	w    *worker.Worker
	log  zerolog.Logger

	loaded  chan types.Loaded
	results chan types.InferenceResult
	control chan types.EvictRequest
}

// NewBridge prepares a bridge. Run must be called to start serving.
func NewBridge(conn *websocket.Conn, w *worker.Worker, log *zerolog.Logger) *Bridge {
	base := zerolog.Nop()
	if log != nil {
		base = *log
	}
	return &Bridge{
		conn:    conn,
		w:       w,
		log:     base.With().Str("component", "transport").Str("worker_id", w.ID()).Logger(),
		loaded:  make(chan types.Loaded, 8),
		results: make(chan types.InferenceResult, 64),
		control: make(chan types.EvictRequest, 1),
	}
}

// Run serves the connection until the peer disconnects, ctx ends or the
// worker stops. In-flight work is drained and written before the socket is
// closed.
func (b *Bridge) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workerDone := make(chan error, 1)
	go func() {
		workerDone <- b.w.Run(ctx)
		cancel()
	}()
	go func() {
		<-ctx.Done()
		_ = b.conn.Close()
	}()

	if err := b.w.Send(ctx, worker.InitMessage(worker.Ports{Loaded: b.loaded, Results: b.results, Control: b.control})); err != nil {
		return err
	}

	stop := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		b.writeLoop(stop)
	}()

	b.log.Info().Str("event", "ws_connected").Str("remote", b.conn.RemoteAddr().String()).Msg("coordinator connected")
	readErr := b.readLoop(ctx)
	b.w.Close()
	werr := <-workerDone
	close(stop)
	<-writerDone
	b.log.Info().Str("event", "ws_closed").AnErr("read_err", readErr).AnErr("worker_err", werr).Msg("coordinator disconnected")

	if werr != nil && !errors.Is(werr, context.Canceled) {
		return werr
	}
	return readErr
}

func (b *Bridge) readLoop(ctx context.Context) error {
	b.conn.SetReadLimit(maxMessageSize)
	_ = b.conn.SetReadDeadline(time.Now().Add(pongWait))
	b.conn.SetPongHandler(func(string) error {
		return b.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := b.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		_ = b.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg types.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			b.log.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}
		if msg.Type == types.MsgInit {
			// Outbound channels are owned by the bridge.
			b.log.Debug().Msg("ignoring remote init")
			continue
		}
		if err := b.w.Send(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
}

// writeLoop is the only writer of data frames on the connection. After a
// write failure it keeps draining so the worker never blocks on its outputs.
func (b *Bridge) writeLoop(stop <-chan struct{}) {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	broken := false
	write := func(msg types.Message) {
		if broken {
			return
		}
		_ = b.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := b.conn.WriteJSON(msg); err != nil {
			broken = true
			b.log.Warn().Err(err).Str("type", string(msg.Type)).Msg("write failed, discarding further output")
		}
	}
	for {
		select {
		case ack := <-b.loaded:
			write(types.Message{Type: types.MsgLoaded, ModelID: ack.ModelID, Loaded: &ack})
		case res := <-b.results:
			write(types.Message{Type: types.MsgResult, Result: &res})
		case req := <-b.control:
			write(types.Message{Type: types.MsgKill, Evict: &req})
		case <-ping.C:
			if !broken {
				_ = b.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			}
		case <-stop:
			for {
				select {
				case ack := <-b.loaded:
					write(types.Message{Type: types.MsgLoaded, ModelID: ack.ModelID, Loaded: &ack})
				case res := <-b.results:
					write(types.Message{Type: types.MsgResult, Result: &res})
				default:
					if !broken {
						_ = b.conn.WriteControl(websocket.CloseMessage,
							websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
					}
					return
				}
			}
		}
	}
}
