package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	socketReadLimit   = 1 << 20
	socketPingEvery   = 30 * time.Second
	socketPingTimeout = 10 * time.Second
	maxSocketBackoff  = 30 * time.Second
)

// SocketClient maintains a Socket Mode connection for one app token and
// delivers message events on a channel. It reconnects on failures and on
// server-requested rotations.
type SocketClient struct {
	appToken string
	apiBase  string
	http     *http.Client

	events chan MessageEvent

	mu   sync.Mutex
	conn *websocket.Conn
}

// SocketOption customizes a SocketClient.
type SocketOption func(*SocketClient)

// WithSocketAPIBase points apps.connections.open at a different API root.
func WithSocketAPIBase(u string) SocketOption {
	return func(s *SocketClient) { s.apiBase = strings.TrimRight(u, "/") }
}

// NewSocketClient returns a client for the given app-level token.
func NewSocketClient(appToken string, opts ...SocketOption) *SocketClient {
	s := &SocketClient{
		appToken: appToken,
		apiBase:  defaultBaseURL,
		http:     &http.Client{Timeout: 30 * time.Second},
		events:   make(chan MessageEvent, 64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Events is the stream of message events. Closed when Run returns.
func (s *SocketClient) Events() <-chan MessageEvent {
	return s.events
}

// Run connects and reads until ctx is cancelled. Server-requested rotations
// reconnect immediately; failures reconnect with capped backoff.
func (s *SocketClient) Run(ctx context.Context) error {
	defer close(s.events)

	backoff := time.Second
	for {
		started := time.Now()
		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			backoff = time.Second
			continue
		}

		// A session that survived a while earns a fresh backoff.
		if time.Since(started) > time.Minute {
			backoff = time.Second
		}
		slog.Warn("socket session ended", "error", err, "retry_in", backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < maxSocketBackoff {
			backoff *= 2
		}
	}
}

// runOnce opens one Socket Mode session and reads it to completion. A nil
// return means the server asked for a routine reconnect.
func (s *SocketClient) runOnce(ctx context.Context) error {
	wsURL, err := s.connectionsOpen(ctx)
	if err != nil {
		return err
	}

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial socket: %w", err)
	}
	conn.SetReadLimit(socketReadLimit)
	s.setConn(conn)
	defer func() {
		s.setConn(nil)
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go pingLoop(pingCtx, conn)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("socket read: %w", err)
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			slog.Warn("unparseable socket frame", "error", err)
			continue
		}

		switch env.Type {
		case "hello":
			slog.Info("socket mode connected")
		case "disconnect":
			slog.Info("server requested reconnect", "reason", env.Reason)
			return nil
		case "events_api":
			s.ack(ctx, env.EnvelopeID)
			ev, ok := extractMessageEvent(env.Payload)
			if !ok {
				continue
			}
			select {
			case s.events <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		default:
			// Unexpected envelope kinds still need their ack.
			s.ack(ctx, env.EnvelopeID)
		}
	}
}

func (s *SocketClient) setConn(conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

// ack confirms receipt of an envelope. Without it the server redelivers and
// eventually drops the connection.
func (s *SocketClient) ack(ctx context.Context, envelopeID string) {
	if envelopeID == "" {
		return
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}

	data, _ := json.Marshal(map[string]string{"envelope_id": envelopeID})
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		slog.Warn("socket ack failed", "envelope_id", envelopeID, "error", err)
	}
}

// connectionsOpen requests a fresh Socket Mode URL using the app token.
func (s *SocketClient) connectionsOpen(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiBase+"/apps.connections.open", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+s.appToken)

	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("apps.connections.open: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("apps.connections.open: read response: %w", err)
	}

	var out struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
		URL   string `json:"url"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("apps.connections.open: decode response: %w", err)
	}
	if !out.OK {
		return "", &APIError{Method: "apps.connections.open", Code: out.Error, StatusCode: resp.StatusCode, RetryAfter: parseRetryAfter(resp.Header)}
	}
	return out.URL, nil
}

// pingLoop detects silently dead connections. A failed ping closes the
// connection, which unblocks the read loop.
func pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(socketPingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, socketPingTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					slog.Warn("socket ping failed, closing connection", "error", err)
					conn.Close(websocket.StatusGoingAway, "ping timeout")
				}
				return
			}
		}
	}
}

type envelope struct {
	EnvelopeID string          `json:"envelope_id"`
	Type       string          `json:"type"`
	Reason     string          `json:"reason"`
	Payload    json.RawMessage `json:"payload"`
}

// extractMessageEvent pulls the message event out of an events_api payload.
// Non-message events are not the relay's business.
func extractMessageEvent(payload []byte) (MessageEvent, bool) {
	var p struct {
		Event json.RawMessage `json:"event"`
	}
	if err := json.Unmarshal(payload, &p); err != nil || len(p.Event) == 0 {
		return MessageEvent{}, false
	}

	var ev MessageEvent
	if err := json.Unmarshal(p.Event, &ev); err != nil {
		return MessageEvent{}, false
	}
	if ev.Type != "message" {
		return MessageEvent{}, false
	}
	return ev, true
}
