package channel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	customlog "github.com/open-teleop/console/pkg/log"
	"github.com/open-teleop/console/pkg/processing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// robotStub accepts one radar connection, pushes a sample, records what the
// console writes and then hangs up.
func robotStub(t *testing.T, received chan<- string) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"distance":42,"signal":3}`)); err != nil {
			t.Errorf("write failed: %v", err)
			return
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		received <- string(data)
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	}))
}

func TestWebsocketDialerAgainstRobotStub(t *testing.T) {
	received := make(chan string, 1)
	server := robotStub(t, received)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws-radar"
	r, err := NewRegistry([]Endpoint{{ID: Radar, URL: url}}, NewWebsocketDialer(time.Second),
		processing.Inline{}, customlog.NewNopLogger())
	require.NoError(t, err)
	defer r.Close()

	var (
		mu    sync.Mutex
		seen  []Status
		radar RadarMessage
	)
	gotSample := make(chan struct{})
	r.OnStatus(Radar, func(s Status) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s)
	})
	r.OnMessage(Radar, func(msg Message) {
		radar = msg.(RadarMessage)
		close(gotSample)
	})

	r.Connect(context.Background())

	select {
	case <-gotSample:
	case <-time.After(2 * time.Second):
		t.Fatal("no radar sample received")
	}
	assert.Equal(t, 42.0, radar.Distance)

	r.Send(Radar, []byte("hello"))
	select {
	case msg := <-received:
		assert.Equal(t, "hello", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("robot never received the write")
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, Closed, r.Status(Radar))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Status{Open, Closed}, seen)
}

func TestWebsocketDialerRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws-ctrl"
	server.Close()

	_, err := NewWebsocketDialer(200*time.Millisecond).Dial(context.Background(), url)
	assert.Error(t, err)
}
