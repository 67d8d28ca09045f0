package transport

import (
	"chat-bot/contract"
	"chat-bot/domain"
	errs "chat-bot/errors"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	maxFrameSize = 1 << 20
	closeTimeout = time.Second
)

// WebsocketConnector opens room streams over websocket.
type WebsocketConnector struct {
	log         *slog.Logger
	dialer      *websocket.Dialer
	urlTemplate string
}

// NewWebsocketConnector uses urlTemplate, with {host} and {room} placeholders,
// when the session carries no stream URL yet.
func NewWebsocketConnector(log *slog.Logger, urlTemplate string, handshakeTimeout time.Duration) *WebsocketConnector {
	return &WebsocketConnector{
		log:         log,
		urlTemplate: urlTemplate,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
	}
}

func (c *WebsocketConnector) Connect(ctx context.Context, params domain.ConnectParams,
	session domain.SessionInfo) (contract.Conn, domain.SessionInfo, error) {
	if session.Fkey == "" && session.Cookie == "" {
		return nil, session, fmt.Errorf("%w: no credential for %s", errs.ErrInvalidSession, params.Key)
	}
	streamURL, err := c.streamURL(params.Key, session)
	if err != nil {
		return nil, session, err
	}

	header := http.Header{}
	if session.Origin != "" {
		header.Set("Origin", session.Origin)
	}
	if session.Cookie != "" {
		header.Set("Cookie", session.Cookie)
	}

	conn, resp, err := c.dialer.DialContext(ctx, streamURL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, session, fmt.Errorf("%w: %s refused with %s", errs.ErrInvalidSession, params.Key, resp.Status)
		}
		return nil, session, fmt.Errorf("%w: %s: %w", errs.ErrConnectFailed, params.Key, err)
	}
	conn.SetReadLimit(maxFrameSize)

	c.log.Debug("Websocket connected", "room", params.Key.String(), "url", redact(streamURL))
	session.StreamURL = streamURL
	return &websocketConn{conn: conn}, session, nil
}

func (c *WebsocketConnector) streamURL(key domain.RoomKey, session domain.SessionInfo) (string, error) {
	raw := session.StreamURL
	if raw == "" {
		raw = strings.NewReplacer(
			"{host}", key.Host,
			"{room}", strconv.Itoa(int(key.ID)),
		).Replace(c.urlTemplate)
	}
	if raw == "" {
		return "", fmt.Errorf("%w: no stream url for %s", errs.ErrInvalidSession, key)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errs.ErrInvalidSession, err)
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return "", fmt.Errorf("%w: unsupported scheme %q", errs.ErrInvalidSession, parsed.Scheme)
	}
	// The fkey authenticates the stream beside the cookie; a resumed url already has one to replace
	if session.Fkey != "" {
		query := parsed.Query()
		query.Set("fkey", session.Fkey)
		parsed.RawQuery = query.Encode()
	}
	return parsed.String(), nil
}

// redact drops the query string, which may carry credentials.
func redact(raw string) string {
	before, _, _ := strings.Cut(raw, "?")
	return before
}

type websocketConn struct {
	conn     *websocket.Conn
	once     sync.Once
	closeErr error
}

func (c *websocketConn) ReadFrame() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			return nil, &contract.CloseError{Code: closeErr.Code, Reason: closeErr.Text}
		}
		return nil, err
	}
	return data, nil
}

// Close sends a close frame on a best effort basis and releases the socket, once.
func (c *websocketConn) Close() error {
	c.once.Do(func() {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeTimeout))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
