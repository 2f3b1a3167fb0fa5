// Package channeltest provides an in-memory robot transport for tests of
// packages built on the channel registry.
package channeltest

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/open-teleop/console/pkg/channel"
	"github.com/open-teleop/console/pkg/config"
	customlog "github.com/open-teleop/console/pkg/log"
	"github.com/open-teleop/console/pkg/processing"
)

type frame struct {
	messageType int
	data        []byte
}

// Conn is a fake robot connection. Push feeds inbound frames; Written
// returns what the console sent.
type Conn struct {
	inbound chan frame
	done    chan struct{}
	once    sync.Once

	mu      sync.Mutex
	written []string
}

func NewConn() *Conn {
	return &Conn{inbound: make(chan frame, 256), done: make(chan struct{})}
}

func (c *Conn) ReadMessage() (int, []byte, error) {
	select {
	case f := <-c.inbound:
		return f.messageType, f.data, nil
	case <-c.done:
		return 0, nil, io.EOF
	}
}

func (c *Conn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-c.done:
		return errors.New("connection closed")
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, string(data))
	return nil
}

// Close simulates the robot hanging up.
func (c *Conn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// Push queues a text frame from the robot.
func (c *Conn) Push(payload string) {
	c.inbound <- frame{messageType: channel.TextMessage, data: []byte(payload)}
}

// Written returns a copy of every frame the console wrote.
func (c *Conn) Written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.written...)
}

// Dialer hands out the fake connection registered for each URL.
type Dialer struct {
	mu    sync.Mutex
	conns map[string]*Conn
	errs  map[string]error
}

func NewDialer() *Dialer {
	return &Dialer{conns: make(map[string]*Conn), errs: make(map[string]error)}
}

func (d *Dialer) Add(url string, c *Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conns[url] = c
}

func (d *Dialer) Fail(url string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs[url] = err
}

func (d *Dialer) Dial(ctx context.Context, url string) (channel.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err, ok := d.errs[url]; ok {
		return nil, err
	}
	if c, ok := d.conns[url]; ok {
		return c, nil
	}
	return nil, errors.New("no route to " + url)
}

// Robot is a registry wired to one fake connection per channel.
type Robot struct {
	Registry *channel.Registry
	Conns    map[channel.ID]*Conn
}

// NewRobot builds a registry over the default endpoints. Channels listed in
// failing refuse the handshake. The registry is closed at test cleanup.
func NewRobot(t testing.TB, exec processing.Executor, failing ...channel.ID) *Robot {
	t.Helper()

	endpoints, err := channel.EndpointsFromConfig(config.DefaultBootstrapConfig())
	if err != nil {
		t.Fatalf("endpoints: %v", err)
	}

	fail := make(map[channel.ID]bool)
	for _, id := range failing {
		fail[id] = true
	}

	dialer := NewDialer()
	robot := &Robot{Conns: make(map[channel.ID]*Conn)}
	for _, ep := range endpoints {
		if fail[ep.ID] {
			dialer.Fail(ep.URL, errors.New("handshake refused"))
			continue
		}
		c := NewConn()
		robot.Conns[ep.ID] = c
		dialer.Add(ep.URL, c)
	}

	r, err := channel.NewRegistry(endpoints, dialer, exec, customlog.NewNopLogger())
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	robot.Registry = r
	t.Cleanup(r.Close)
	return robot
}

// WaitStatus blocks until a channel reaches want or the timeout expires.
func (r *Robot) WaitStatus(t testing.TB, id channel.ID, want channel.Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.Registry.Status(id) == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("channel %s never reached %s (now %s)", id, want, r.Registry.Status(id))
}

// WaitWritten blocks until the connection of id has at least n frames.
func (r *Robot) WaitWritten(t testing.TB, id channel.ID, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if w := r.Conns[id].Written(); len(w) >= n {
			return w
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("channel %s: want %d frames, got %v", id, n, r.Conns[id].Written())
	return nil
}
