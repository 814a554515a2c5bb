package room

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"dndj/core/player"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRelay struct {
	mu       sync.Mutex
	payloads []string
}

func (r *recordingRelay) Relay(payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, string(payload))
}

func (r *recordingRelay) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payloads)
}

func startHub(t *testing.T, relay Relay, snapshot func() []player.Event) (*Hub, *httptest.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub(relay)
	go hub.Run(ctx)

	upgrader := websocket.Upgrader{}
	ctrl := &fakeController{}
	dispatcher := NewDispatcher(ctrl)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := hub.NewClient(conn)
		hub.Register(client, snapshot)
		go client.WritePump()
		go client.ReadPump(ctx, dispatcher.Handle)
	}))
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readAction(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &msg), string(data))
	return msg
}

func TestHubSendsInitialStateThenBroadcasts(t *testing.T) {
	relay := &recordingRelay{}
	hub, srv := startHub(t, relay, func() []player.Event {
		return []player.Event{player.MasterVolumeChanged{Volume: 60}}
	})

	a := dial(t, srv)
	b := dial(t, srv)
	require.Eventually(t, func() bool { return hub.Count() == 2 }, 2*time.Second, 10*time.Millisecond)

	for _, conn := range []*websocket.Conn{a, b} {
		msg := readAction(t, conn)
		assert.Equal(t, ActionSetMasterVolume, msg["action"])
		assert.EqualValues(t, 60, msg["volume"])
	}

	hub.Publish(player.Started{GroupIndex: 0, TrackListIndex: 1, GroupName: "Ambience", TrackListName: "Storm"})
	hub.Publish(player.Stopped{})

	for _, conn := range []*websocket.Conn{a, b} {
		msg := readAction(t, conn)
		assert.Equal(t, ActionNowPlaying, msg["action"])
		assert.EqualValues(t, 0, msg["groupIndex"])
		assert.Equal(t, "Storm", msg["trackName"])

		msg = readAction(t, conn)
		assert.Equal(t, ActionMusicStopped, msg["action"])
	}

	assert.Eventually(t, func() bool { return relay.count() == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestHubUnregistersClosedObserver(t *testing.T) {
	hub, srv := startHub(t, nil, nil)

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.Count() == 0 }, 2*time.Second, 10*time.Millisecond)

	assert.NotPanics(t, func() { hub.Publish(player.Finished{}) })
}

func TestHubDropsSlowObserver(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub(nil)
	go hub.Run(ctx)

	// no WritePump drains this client
	slow := &Client{ID: "slow", Hub: hub, Send: make(chan []byte, 1)}
	hub.Register(slow, nil)
	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 5*time.Millisecond)

	hub.Publish(player.Stopped{})
	hub.Publish(player.Stopped{})

	assert.Eventually(t, func() bool { return hub.Count() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHubSnapshotTakenWhenClientJoins(t *testing.T) {
	hub := NewHub(nil)

	var mu sync.Mutex
	state := player.State{MasterVolume: 40}
	snapshot := func() []player.Event {
		mu.Lock()
		defer mu.Unlock()
		return StateMessages(state)
	}

	client := &Client{ID: "late", Hub: hub, Send: make(chan []byte, 8)}
	registered := make(chan struct{})
	go func() {
		hub.Register(client, snapshot)
		close(registered)
	}()

	// The registration is pending until Run picks it up; playback starts
	// meanwhile and its Started event has no client to reach.
	mu.Lock()
	state = player.State{
		MasterVolume:  40,
		Active:        &player.Position{GroupIndex: 0, TrackListIndex: 1},
		GroupName:     "Ambience",
		TrackListName: "Storm",
	}
	mu.Unlock()
	hub.Publish(player.Started{GroupIndex: 0, TrackListIndex: 1, GroupName: "Ambience", TrackListName: "Storm"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)
	<-registered
	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 5*time.Millisecond)

	hub.Publish(player.Stopped{})

	var actions []string
	for i := 0; i < 3; i++ {
		select {
		case data := <-client.Send:
			var msg map[string]interface{}
			require.NoError(t, json.Unmarshal(data, &msg))
			actions = append(actions, msg["action"].(string))
		case <-time.After(time.Second):
			t.Fatalf("only received %v", actions)
		}
	}
	assert.Equal(t, []string{ActionSetMasterVolume, ActionNowPlaying, ActionMusicStopped}, actions)
}

func TestMarshalState(t *testing.T) {
	hub := NewHub(nil)
	data, err := hub.MarshalState(player.State{StatusName: "idle", MasterVolume: 100})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"idle","masterVolume":100,"observers":0}`, string(data))
}
