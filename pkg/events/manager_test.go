package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type managerTestEnv struct {
	bus     *Bus
	manager *ConnectionManager
	server  *httptest.Server
}

func setupManagerTest(t *testing.T) *managerTestEnv {
	t.Helper()

	bus := NewBus(slog.New(slog.DiscardHandler))
	t.Cleanup(bus.Stop)

	manager := NewConnectionManager(bus, 5*time.Second)
	t.Cleanup(manager.Close)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		manager.HandleConnection(r.Context(), conn)
	}))
	t.Cleanup(server.Close)

	return &managerTestEnv{bus: bus, manager: manager, server: server}
}

func (env *managerTestEnv) connectWS(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + env.server.URL[len("http"):]
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readJSONTimeout(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

// subscribeAndConfirm performs the handshake up to subscription.confirmed.
func subscribeAndConfirm(t *testing.T, conn *websocket.Conn, channel string) {
	t.Helper()

	established := readJSONTimeout(t, conn)
	require.Equal(t, "connection.established", established["type"])
	require.NotEmpty(t, established["connection_id"])

	sendJSON(t, conn, ClientMessage{Action: "subscribe", Channel: channel})

	confirmed := readJSONTimeout(t, conn)
	require.Equal(t, "subscription.confirmed", confirmed["type"])
	require.Equal(t, channel, confirmed["channel"])
}

func TestWebSocketReceivesLiveEvents(t *testing.T) {
	env := setupManagerTest(t)
	conn := env.connectWS(t)

	subscribeAndConfirm(t, conn, GlobalTasksChannel)

	env.bus.Publish(EventTypeTaskRouted, GlobalTasksChannel, TaskPayload{
		TaskID: "t-1", AgentID: "dev",
	})

	evt := readJSONTimeout(t, conn)
	assert.Equal(t, EventTypeTaskRouted, evt["type"])
	assert.Equal(t, GlobalTasksChannel, evt["channel"])

	payload, ok := evt["payload"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "t-1", payload["task_id"])
	assert.Equal(t, "dev", payload["agent_id"])
}

func TestWebSocketSubscribeReplaysHistory(t *testing.T) {
	env := setupManagerTest(t)

	// Publish before the client connects.
	env.bus.Publish(EventTypeTaskAccepted, GlobalTasksChannel, TaskPayload{TaskID: "t-1"})
	env.bus.Publish(EventTypeTaskCompleted, GlobalTasksChannel, TaskPayload{TaskID: "t-1"})

	conn := env.connectWS(t)
	subscribeAndConfirm(t, conn, GlobalTasksChannel)

	first := readJSONTimeout(t, conn)
	second := readJSONTimeout(t, conn)
	assert.Equal(t, EventTypeTaskAccepted, first["type"])
	assert.Equal(t, EventTypeTaskCompleted, second["type"])
}

func TestWebSocketCatchupSinceSeq(t *testing.T) {
	env := setupManagerTest(t)

	env.bus.Publish(EventTypeTaskAccepted, GlobalTasksChannel, TaskPayload{TaskID: "t-1"})
	secondSeq := env.bus.Publish(EventTypeTaskRouted, GlobalTasksChannel, TaskPayload{TaskID: "t-1"})
	env.bus.Publish(EventTypeTaskCompleted, GlobalTasksChannel, TaskPayload{TaskID: "t-1"})

	conn := env.connectWS(t)
	subscribeAndConfirm(t, conn, GlobalTasksChannel)

	// Drain the auto-replay of all three events.
	for range 3 {
		readJSONTimeout(t, conn)
	}

	sendJSON(t, conn, ClientMessage{Action: "catchup", Channel: GlobalTasksChannel, LastSeq: &secondSeq})

	evt := readJSONTimeout(t, conn)
	assert.Equal(t, EventTypeTaskCompleted, evt["type"])
}

func TestWebSocketCatchupOverflow(t *testing.T) {
	env := setupManagerTest(t)

	for i := range ringCapacity + 20 {
		env.bus.Publish(EventTypeTaskAccepted, GlobalTasksChannel, TaskPayload{
			TaskID: fmt.Sprintf("t-%d", i),
		})
	}

	conn := env.connectWS(t)
	subscribeAndConfirm(t, conn, GlobalTasksChannel)

	// Full replay of the retained window, then the overflow marker.
	for range ringCapacity {
		readJSONTimeout(t, conn)
	}
	overflow := readJSONTimeout(t, conn)
	assert.Equal(t, "catchup.overflow", overflow["type"])
	assert.Equal(t, true, overflow["has_more"])
}

func TestWebSocketPingPong(t *testing.T) {
	env := setupManagerTest(t)
	conn := env.connectWS(t)

	established := readJSONTimeout(t, conn)
	require.Equal(t, "connection.established", established["type"])

	sendJSON(t, conn, ClientMessage{Action: "ping"})

	pong := readJSONTimeout(t, conn)
	assert.Equal(t, "pong", pong["type"])
}

func TestWebSocketSubscribeRequiresChannel(t *testing.T) {
	env := setupManagerTest(t)
	conn := env.connectWS(t)

	established := readJSONTimeout(t, conn)
	require.Equal(t, "connection.established", established["type"])

	sendJSON(t, conn, ClientMessage{Action: "subscribe"})

	errMsg := readJSONTimeout(t, conn)
	assert.Equal(t, "error", errMsg["type"])
}

func TestWebSocketDisconnectCleansUpSubscriptions(t *testing.T) {
	env := setupManagerTest(t)
	conn := env.connectWS(t)

	subscribeAndConfirm(t, conn, GlobalAgentsChannel)
	require.Equal(t, 1, env.manager.subscriberCount(GlobalAgentsChannel))

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))

	assert.Eventually(t, func() bool {
		return env.manager.subscriberCount(GlobalAgentsChannel) == 0 &&
			env.manager.ActiveConnections() == 0
	}, 5*time.Second, 10*time.Millisecond)
}
