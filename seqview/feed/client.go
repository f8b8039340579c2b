package feed

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/seqview/seqview/seqview"
)

func DefaultClientSettings() *ClientSettings {
	return &ClientSettings{
		HandshakeTimeout: 15 * time.Second,
	}
}

type ClientSettings struct {
	HandshakeTimeout time.Duration
	// optional bearer token for feeds protected with `AuthSecret`
	Jwt string
}

// reads frames from a feed url
type Client struct {
	ws *websocket.Conn
}

func DialWithDefaults(ctx context.Context, url string) (*Client, error) {
	return Dial(ctx, url, DefaultClientSettings())
}

func Dial(ctx context.Context, url string, settings *ClientSettings) (*Client, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout: settings.HandshakeTimeout,
	}
	header := http.Header{}
	if settings.Jwt != "" {
		header.Set("Authorization", "Bearer "+settings.Jwt)
	}
	ws, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return &Client{
		ws: ws,
	}, nil
}

func (self *Client) Read() (*Frame, error) {
	for {
		messageType, frameBytes, err := self.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		switch messageType {
		case websocket.BinaryMessage:
			return UnmarshalFrame(frameBytes)
		default:
			// ignore
		}
	}
}

func (self *Client) Close() {
	self.ws.Close()
}

// keeps `list` converged with the remote feed until the context is done or
// the connection drops. the list becomes a local reactive mirror: its own
// change channels fire as remote edits arrive.
func Mirror[T any](ctx context.Context, client *Client, list *seqview.List[T], decode func(b []byte) (T, error)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		frame, err := client.Read()
		if err != nil {
			return err
		}
		if err := Apply(list, frame, decode); err != nil {
			return err
		}
	}
}
