package e2e

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gookit/color"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/suite"
)

type BaseBotSuite struct {
	suite.Suite
	Config Config
}

// SetupSuite loads the environment configuration before running tests
func (s *BaseBotSuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)
}

// Step prints a colorized header for a scenario step, then runs it.
func (s *BaseBotSuite) Step(name string, fn func()) {
	header := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	s.T().Log(header)
	s.Run(name, fn)
}

// FakeChat is a chat server streaming frames to the bot over websocket.
type FakeChat struct {
	server    *httptest.Server
	mu        sync.Mutex
	current   *websocket.Conn
	accepted  int
	cookies   []string
	connected chan struct{}
}

func NewFakeChat(t *testing.T) *FakeChat {
	chat := &FakeChat{connected: make(chan struct{}, 16)}
	chat.server = httptest.NewServer(http.HandlerFunc(chat.serve))
	t.Cleanup(chat.server.Close)
	return chat
}

// URLTemplate is the stream url template the bot must be configured with.
func (c *FakeChat) URLTemplate() string {
	return "ws" + strings.TrimPrefix(c.server.URL, "http") + "/events/{room}?host={host}"
}

func (c *FakeChat) serve(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c.mu.Lock()
	c.current = conn
	c.accepted++
	c.cookies = append(c.cookies, r.Header.Get("Cookie"))
	c.mu.Unlock()
	c.connected <- struct{}{}

	// Reading keeps control frames flowing until the bot or the test closes the stream
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			_ = conn.Close()
			return
		}
	}
}

// Connected is signalled once per accepted stream.
func (c *FakeChat) Connected() <-chan struct{} {
	return c.connected
}

func (c *FakeChat) Accepted() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accepted
}

func (c *FakeChat) Cookies() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.cookies...)
}

// Send writes a frame on the current stream.
func (c *FakeChat) Send(frame string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return fmt.Errorf("no stream open")
	}
	return c.current.WriteMessage(websocket.TextMessage, []byte(frame))
}

// Drop cuts the current stream without a close frame.
func (c *FakeChat) Drop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		_ = c.current.UnderlyingConn().Close()
		c.current = nil
	}
}
