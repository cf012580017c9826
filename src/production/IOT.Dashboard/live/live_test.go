package live

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	logger "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Logger"
	hardware_models "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Models/hardware"
	poller "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Poller"
)

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(logger.Nop())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.Atoi(r.URL.Query().Get("device"))
		hub.ServeWS(w, r, id)
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, deviceID int) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?device=" + strconv.Itoa(deviceID)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.ClientCount() == n }, 2*time.Second, 5*time.Millisecond)
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var m Message
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestHub_DeliversSnapshotsForWatchedDevice(t *testing.T) {
	hub, srv := startHub(t)
	watching := dial(t, srv, 7)
	other := dial(t, srv, 8)
	waitClients(t, hub, 2)

	hub.OnSnapshot(poller.Snapshot{DeviceID: 7, Ticks: 3})
	hub.BroadcastLogout("/login")

	m := readMessage(t, watching)
	assert.Equal(t, MessageSnapshot, m.Type)
	require.NotNil(t, m.Snapshot)
	assert.Equal(t, 7, m.Snapshot.DeviceID)
	assert.Equal(t, uint64(3), m.Snapshot.Ticks)

	// device 8 only sees the logout
	m = readMessage(t, other)
	assert.Equal(t, MessageLogout, m.Type)
	assert.Equal(t, "/login", m.Redirect)

	m = readMessage(t, watching)
	assert.Equal(t, MessageLogout, m.Type)
}

func TestHub_UnregistersClosedClients(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv, 1)
	waitClients(t, hub, 1)

	require.NoError(t, conn.Close())
	waitClients(t, hub, 0)
}

func TestHub_RunStopsAndClosesClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(logger.Nop())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, 0)
	}))
	defer srv.Close()

	conn := dial(t, srv, 0)
	waitClients(t, hub, 1)

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, hub.ClientCount())
}

func chartSeries(temps ...float64) poller.Series {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s := make(poller.Series, len(temps))
	for i, v := range temps {
		s[i] = hardware_models.Reading{ID: i + 1, DeviceID: 1, Ts: base.Add(time.Duration(i) * time.Minute), Temperature: v, Humidity: 40, Battery: 80}
	}
	return s
}

func TestRenderChart_PNG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderChart(chartSeries(20.5, 21, 22.3), poller.MetricTemperature, &buf))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("\x89PNG")))
}

func TestRenderChart_FlatLine(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderChart(chartSeries(1, 2, 3), poller.MetricHumidity, &buf))
	assert.NotZero(t, buf.Len())
}

func TestRenderChart_NeedsTwoPoints(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorIs(t, RenderChart(chartSeries(20), poller.MetricTemperature, &buf), ErrNotEnoughPoints)
	assert.ErrorIs(t, RenderChart(nil, poller.MetricTemperature, &buf), ErrNotEnoughPoints)
	assert.Zero(t, buf.Len())
}

func TestPaddedRange(t *testing.T) {
	r := paddedRange([]float64{5, 5}, 1)
	assert.Equal(t, 4.0, r.Min)
	assert.Equal(t, 6.0, r.Max)

	r = paddedRange([]float64{3, 1, 2}, 1)
	assert.Equal(t, 1.0, r.Min)
	assert.Equal(t, 3.0, r.Max)
}
