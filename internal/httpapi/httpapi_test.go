package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/crimecity-live/internal/codec"
	"github.com/DoyleJ11/crimecity-live/internal/hub"
	"github.com/DoyleJ11/crimecity-live/internal/store"
	"github.com/DoyleJ11/crimecity-live/internal/types"
)

func newServer(t *testing.T) (*httptest.Server, *hub.Hub) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h := hub.NewHub(ctx, nil)
	srv := httptest.NewServer(SetupRoutes(h, store.NewSeeded(), nil))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv, h
}

func dialGame(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/game/", nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close(websocket.StatusNormalClosure, "") })
	return c
}

func readEvent(t *testing.T, c *websocket.Conn) types.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := c.Read(ctx)
	require.NoError(t, err)
	ev, err := codec.Decode(data)
	require.NoError(t, err, string(data))
	return ev
}

func writeRaw(t *testing.T, c *websocket.Conn, data string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte(data)))
}

func TestHealthz(t *testing.T) {
	srv, _ := newServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestInventoryItems(t *testing.T) {
	srv, _ := newServer(t)
	resp, err := http.Get(srv.URL + "/market/api/inventory-items/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body types.InventoryResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	names := make([]string, 0, len(body.Items))
	for _, it := range body.Items {
		names = append(names, it.Name)
	}
	assert.Equal(t, []string{"Brass Knuckles", "Stolen Watch"}, names)
}

func TestGameSocket_StatusOnConnect(t *testing.T) {
	srv, _ := newServer(t)
	c := dialGame(t, srv)

	ev := readEvent(t, c)
	ps, ok := ev.(types.PlayerStatus)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, 80, ps.Health)
	assert.Equal(t, 40, ps.Energy)
}

func TestGameSocket_Commands(t *testing.T) {
	cases := []struct {
		name string
		send string
		want types.Event
	}{
		{
			name: "missing combat id",
			send: `{"action":"refresh_combat"}`,
			want: types.ServerError{Message: "Combat ID is required"},
		},
		{
			name: "unknown combat",
			send: `{"action":"refresh_combat","combat_id":"77"}`,
			want: types.ServerError{Message: "No Combat matches the given query."},
		},
		{
			name: "fractional combat id",
			send: `{"action":"refresh_combat","combat_id":1.5}`,
			want: types.ServerError{Message: "Combat ID is required"},
		},
	}

	srv, _ := newServer(t)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := dialGame(t, srv)
			readEvent(t, c) // player_status
			writeRaw(t, c, tc.send)
			assert.Equal(t, tc.want, readEvent(t, c))
		})
	}
}

func TestGameSocket_RefreshCombat(t *testing.T) {
	srv, _ := newServer(t)
	c := dialGame(t, srv)
	readEvent(t, c)

	writeRaw(t, c, `{"action":"refresh_combat","combat_id":1}`)
	ev := readEvent(t, c)
	cs, ok := ev.(types.CombatStatus)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, "vinnie", cs.Defender)
	require.NotNil(t, cs.Winner)
	assert.Equal(t, "tony", *cs.Winner)
	assert.Len(t, cs.Logs, 3)

	writeRaw(t, c, `{"action":"get_status"}`)
	_, ok = readEvent(t, c).(types.PlayerStatus)
	assert.True(t, ok)
}

func TestGameSocket_MalformedCommand(t *testing.T) {
	srv, _ := newServer(t)
	c := dialGame(t, srv)
	readEvent(t, c)

	writeRaw(t, c, `not json`)
	_, ok := readEvent(t, c).(types.ServerError)
	assert.True(t, ok)
}

func TestBroadcast(t *testing.T) {
	srv, h := newServer(t)
	c := dialGame(t, srv)
	readEvent(t, c)
	require.Eventually(t, func() bool { return h.Count() == 1 }, time.Second, 10*time.Millisecond)

	resp, err := http.Post(srv.URL+"/admin/broadcast", "application/json",
		strings.NewReader(`{"type":"notification","message":"Raid at the docks","level":"warning"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var body struct {
		Sessions int `json:"sessions"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 1, body.Sessions)

	assert.Equal(t, types.Notification{Message: "Raid at the docks", Level: types.SeverityWarning}, readEvent(t, c))
}

func TestBroadcast_Rejects(t *testing.T) {
	cases := []struct {
		name string
		body string
		want int
	}{
		{name: "not json", body: `{`, want: http.StatusBadRequest},
		{name: "missing data", body: `{"type":"player_status"}`, want: http.StatusBadRequest},
		{name: "unknown type", body: `{"type":"weather","data":{}}`, want: http.StatusUnprocessableEntity},
	}

	srv, _ := newServer(t)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/admin/broadcast", "application/json", strings.NewReader(tc.body))
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}
