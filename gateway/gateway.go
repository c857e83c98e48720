// Package gateway relays a session gateway's websocket frames into a
// running module as message events.
package gateway

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-gfx-bridge/errors"
)

const closeTimeout = time.Second

// Sink receives frame payloads. runtime.Instance implements it.
type Sink interface {
	Deliver(ctx context.Context, payload []byte) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, payload []byte) error

func (f SinkFunc) Deliver(ctx context.Context, payload []byte) error { return f(ctx, payload) }

// Relay is a client connection to the gateway.
type Relay struct {
	conn      *websocket.Conn
	host      string
	received  atomic.Int64
	closed    atomic.Bool
	closeOnce sync.Once
	writeMu   sync.Mutex
}

// Dial connects to the gateway at rawURL. A non-empty token is sent both as
// a bearer Authorization header and as the token query parameter.
func Dial(ctx context.Context, rawURL, token string) (*Relay, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseGateway, errors.KindInvalidInput, err, "gateway url")
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, errors.New(errors.PhaseGateway, errors.KindInvalidInput).
			Value(rawURL).
			Detail("unsupported scheme %q", u.Scheme).
			Build()
	}

	header := http.Header{}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		b := errors.New(errors.PhaseGateway, errors.KindConnection).
			Path(u.Host).
			Cause(err)
		if resp != nil {
			b = b.Value(resp.StatusCode).Detail("handshake rejected with %s", resp.Status)
		} else {
			b = b.Detail("dial failed")
		}
		return nil, b.Build()
	}

	Logger().Info("gateway connected", zap.String("host", u.Host))
	return &Relay{conn: conn, host: u.Host}, nil
}

// Received returns the number of frames read so far.
func (r *Relay) Received() int64 { return r.received.Load() }

// Run reads frames until the connection closes or ctx is done and hands
// each payload to sink in arrival order. A sink error is logged and does
// not stop the relay. A normal close, by either side, returns nil.
func (r *Relay) Run(ctx context.Context, sink Sink) error {
	stop := context.AfterFunc(ctx, func() { r.conn.Close() })
	defer stop()

	for {
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return ctx.Err()
			case r.closed.Load(),
				websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				return nil
			}
			return errors.Wrap(errors.PhaseGateway, errors.KindConnection, err, "read frame")
		}

		r.received.Add(1)
		if err := sink.Deliver(ctx, data); err != nil {
			Logger().Warn("deliver gateway frame", zap.Int("bytes", len(data)), zap.Error(err))
		}
	}
}

// Send writes payload to the gateway as one binary frame.
func (r *Relay) Send(payload []byte) error {
	if r.closed.Load() {
		return errors.InvalidState(errors.PhaseGateway, "send", "closed")
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if err := r.conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		if stderrors.Is(err, websocket.ErrCloseSent) {
			return errors.InvalidState(errors.PhaseGateway, "send", "closed")
		}
		return errors.Wrap(errors.PhaseGateway, errors.KindConnection, err, "write frame")
	}
	return nil
}

// Close sends a close frame and closes the connection. A running Run
// returns nil.
func (r *Relay) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.closed.Store(true)

		r.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		werr := r.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeTimeout))
		r.writeMu.Unlock()
		if werr != nil && !stderrors.Is(werr, websocket.ErrCloseSent) {
			Logger().Debug("gateway close frame", zap.Error(werr))
		}

		err = r.conn.Close()
		Logger().Info("gateway closed", zap.String("host", r.host), zap.Int64("frames", r.received.Load()))
	})
	return err
}
