package hub

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu      sync.Mutex
	sent    [][]byte
	failing bool
	closed  int
}

func (f *fakeConn) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errors.New("broken pipe")
	}
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return errors.New("already closed")
}

func TestConnectIsIdempotent(t *testing.T) {
	h := New()
	c := &fakeConn{}
	user := uuid.New()

	h.Connect(c, user)
	h.Connect(c, user)

	assert.Equal(t, 1, h.Connections())
}

func TestSubscribeRequiresConnect(t *testing.T) {
	h := New()
	assert.False(t, h.Subscribe(&fakeConn{}, uuid.New()))
}

func TestBroadcastReachesOnlySubscribers(t *testing.T) {
	h := New()
	order, other := uuid.New(), uuid.New()
	a, b, c := &fakeConn{}, &fakeConn{}, &fakeConn{}
	for _, conn := range []*fakeConn{a, b, c} {
		h.Connect(conn, uuid.New())
	}
	h.Subscribe(a, order)
	h.Subscribe(b, order)
	h.Subscribe(c, other)

	n := h.Broadcast(order, map[string]string{"status": "processing"})

	assert.Equal(t, 2, n)
	require.Len(t, a.sent, 1)
	assert.JSONEq(t, `{"status":"processing"}`, string(a.sent[0]))
	assert.Len(t, b.sent, 1)
	assert.Empty(t, c.sent)
}

func TestBroadcastDropsFailingSubscribers(t *testing.T) {
	h := New()
	order := uuid.New()
	good, bad := &fakeConn{}, &fakeConn{failing: true}
	h.Connect(good, uuid.New())
	h.Connect(bad, uuid.New())
	h.Subscribe(good, order)
	h.Subscribe(bad, order)

	assert.Equal(t, 1, h.Broadcast(order, "hello"))
	assert.Equal(t, 1, bad.closed)
	assert.Equal(t, 1, h.Subscribers(order))
	assert.Equal(t, 1, h.Connections())

	assert.Equal(t, 1, h.Broadcast(order, "again"))
	assert.Len(t, good.sent, 2)
}

func TestDisconnectRemovesEverywhere(t *testing.T) {
	h := New()
	c := &fakeConn{}
	o1, o2 := uuid.New(), uuid.New()
	h.Connect(c, uuid.New())
	h.Subscribe(c, o1)
	h.Subscribe(c, o2)

	h.Disconnect(c)
	h.Disconnect(c)

	assert.Equal(t, 0, h.Connections())
	assert.Equal(t, 0, h.Subscribers(o1))
	assert.Equal(t, 0, h.Subscribers(o2))
	assert.Equal(t, 1, c.closed)
	assert.Equal(t, 0, h.Broadcast(o1, "x"))
}

func TestClientOverWebSocket(t *testing.T) {
	h := New()
	order := uuid.New()
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.NewClient(ws).Run(uuid.New(), order)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.Subscribers(order) == 1 }, time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, h.Broadcast(order, map[string]string{"status": "shipped"}))

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)

	var got map[string]string
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "shipped", got["status"])

	require.NoError(t, ws.Close())
	assert.Eventually(t, func() bool { return h.Connections() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestClosePolicyViolation(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ClosePolicyViolation(ws, "forbidden")
	}))
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer ws.Close()

	_, _, err = ws.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation))
}
