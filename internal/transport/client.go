package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"qaworker/pkg/types"
)

// Client is the coordinator end of a worker connection.
type Client struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

// Dial connects to a worker endpoint such as ws://host:port/ws/worker.
func Dial(ctx context.Context, url string, header http.Header) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &Client{conn: conn}, nil
}

// Send writes one message.
func (c *Client) Send(msg types.Message) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg)
}

// Recv reads the next message, honoring ctx's deadline.
func (c *Client) Recv(ctx context.Context) (types.Message, error) {
	var msg types.Message
	if dl, ok := ctx.Deadline(); ok {
		_ = c.conn.SetReadDeadline(dl)
	} else {
		_ = c.conn.SetReadDeadline(time.Time{})
	}
	err := c.conn.ReadJSON(&msg)
	return msg, err
}

// Load sends load and waits for its ack. Messages for other ids are skipped.
func (c *Client) Load(ctx context.Context, id string, params types.ModelParams) (types.Loaded, error) {
	if id == "" {
		id = params.Path
	}
	if err := c.Send(types.Message{Type: types.MsgLoad, ModelID: id, Params: &params}); err != nil {
		return types.Loaded{}, err
	}
	for {
		msg, err := c.Recv(ctx)
		if err != nil {
			return types.Loaded{}, err
		}
		if msg.Type == types.MsgLoaded && msg.Loaded != nil && msg.Loaded.ModelID == id && !msg.Loaded.Unloaded {
			return *msg.Loaded, nil
		}
	}
}

// Infer sends req and waits for the result carrying its request id.
func (c *Client) Infer(ctx context.Context, req types.InferenceRequest) (types.InferenceResult, error) {
	if err := c.Send(types.Message{Type: types.MsgInfer, Request: &req}); err != nil {
		return types.InferenceResult{}, err
	}
	for {
		msg, err := c.Recv(ctx)
		if err != nil {
			return types.InferenceResult{}, err
		}
		if msg.Type == types.MsgResult && msg.Result != nil && msg.Result.RequestID == req.RequestID {
			return *msg.Result, nil
		}
	}
}

// Close sends a normal closure and closes the socket.
func (c *Client) Close() error {
	c.wmu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.wmu.Unlock()
	return c.conn.Close()
}
