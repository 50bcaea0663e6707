package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/dyntarget/internal/gps"
	"github.com/relabs-tech/dyntarget/internal/tracking"
)

// fakeFacade is an in-memory controller.
type fakeFacade struct {
	mu        sync.Mutex
	state     tracking.State
	startErr  error
	observers []tracking.Observer
}

func (f *fakeFacade) State() tracking.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeFacade) Start(context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.set(func(st *tracking.State) { st.Running = true })
	return nil
}

func (f *fakeFacade) Stop() {
	f.set(func(st *tracking.State) { st.Running = false })
}

func (f *fakeFacade) Toggle(ctx context.Context) (bool, error) {
	if f.State().Running {
		f.Stop()
		return false, nil
	}
	if err := f.Start(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (f *fakeFacade) Observe(fn tracking.Observer) func() {
	f.mu.Lock()
	f.observers = append(f.observers, fn)
	st := f.state
	f.mu.Unlock()
	fn(st)
	return func() {}
}

func (f *fakeFacade) set(change func(*tracking.State)) {
	f.mu.Lock()
	change(&f.state)
	st := f.state
	observers := append([]tracking.Observer(nil), f.observers...)
	f.mu.Unlock()
	for _, fn := range observers {
		fn(st)
	}
}

func (f *fakeFacade) observerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.observers)
}

func newTestServer(t *testing.T, f *fakeFacade) (*Web, *httptest.Server) {
	t.Helper()
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "dyntarget_samples_total 0\n")
	})
	web := NewWeb(f, metrics, nil)
	srv := httptest.NewServer(web.Router())
	t.Cleanup(func() {
		web.Close()
		srv.Close()
	})
	return web, srv
}

func decodeState(t *testing.T, res *http.Response) tracking.State {
	t.Helper()
	defer res.Body.Close()
	var st tracking.State
	require.NoError(t, json.NewDecoder(res.Body).Decode(&st))
	return st
}

func TestWeb_GetState(t *testing.T) {
	last := gps.Position{Latitude: 51.5, Longitude: -0.1}
	f := &fakeFacade{state: tracking.State{Running: true, LastKnown: &last}}
	_, srv := newTestServer(t, f)

	res, err := http.Get(srv.URL + "/api/state")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "application/json", res.Header.Get("Content-Type"))

	st := decodeState(t, res)
	assert.True(t, st.Running)
	require.NotNil(t, st.LastKnown)
	assert.Equal(t, last, *st.LastKnown)
}

func TestWeb_Commands(t *testing.T) {
	tests := []struct {
		name        string
		path        string
		running     bool
		startErr    error
		wantStatus  int
		wantRunning bool
	}{
		{name: "start", path: "/api/start", wantStatus: http.StatusOK, wantRunning: true},
		{name: "start denied", path: "/api/start", startErr: errors.New("permission denied"), wantStatus: http.StatusServiceUnavailable},
		{name: "stop", path: "/api/stop", running: true, wantStatus: http.StatusOK, wantRunning: false},
		{name: "toggle on", path: "/api/toggle", wantStatus: http.StatusOK, wantRunning: true},
		{name: "toggle off", path: "/api/toggle", running: true, wantStatus: http.StatusOK, wantRunning: false},
		{name: "toggle denied", path: "/api/toggle", startErr: errors.New("no port"), wantStatus: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeFacade{state: tracking.State{Running: tt.running}, startErr: tt.startErr}
			_, srv := newTestServer(t, f)

			res, err := http.Post(srv.URL+tt.path, "application/json", nil)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, res.StatusCode)

			if tt.wantStatus != http.StatusOK {
				defer res.Body.Close()
				var body map[string]string
				require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
				assert.Equal(t, tt.startErr.Error(), body["error"])
				return
			}
			assert.Equal(t, tt.wantRunning, decodeState(t, res).Running)
			assert.Equal(t, tt.wantRunning, f.State().Running)
		})
	}
}

func TestWeb_CommandsRequirePost(t *testing.T) {
	_, srv := newTestServer(t, &fakeFacade{})

	res, err := http.Get(srv.URL + "/api/start")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, res.StatusCode)
}

func TestWeb_MetricsAndIndex(t *testing.T) {
	_, srv := newTestServer(t, &fakeFacade{})

	res, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(res.Body)
	res.Body.Close()
	assert.Contains(t, string(body), "dyntarget_samples_total")

	res, err = http.Get(srv.URL + "/")
	require.NoError(t, err)
	body, _ = io.ReadAll(res.Body)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(body), "<title>dyntarget</title>")
}

func dialStream(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readState(t *testing.T, conn *websocket.Conn) streamState {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var st streamState
	require.NoError(t, conn.ReadJSON(&st))
	return st
}

func TestWeb_StreamPushesStateChanges(t *testing.T) {
	f := &fakeFacade{}
	_, srv := newTestServer(t, f)
	conn := dialStream(t, srv)

	assert.False(t, readState(t, conn).Running, "current state on connect")

	require.Eventually(t, func() bool { return f.observerCount() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, f.Start(context.Background()))
	assert.True(t, readState(t, conn).Running)

	pos := gps.Position{Latitude: 1, Longitude: 2}
	f.set(func(st *tracking.State) { st.LastKnown = &pos })
	st := readState(t, conn)
	require.NotNil(t, st.LastKnown)
	assert.Equal(t, pos, *st.LastKnown)
}

// Publishing and pending change without notifying observers, so the stream
// leaves them out rather than showing stale values.
func TestWeb_StreamOmitsTransientFlags(t *testing.T) {
	pos := gps.Position{Latitude: 1, Longitude: 2}
	f := &fakeFacade{state: tracking.State{Running: true, LastKnown: &pos, Pending: true, Publishing: true}}
	_, srv := newTestServer(t, f)
	conn := dialStream(t, srv)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg map[string]json.RawMessage
	require.NoError(t, conn.ReadJSON(&msg))

	assert.JSONEq(t, `true`, string(msg["running"]))
	assert.JSONEq(t, `{"lat":1,"lon":2}`, string(msg["last_known"]))
	assert.NotContains(t, msg, "publishing")
	assert.NotContains(t, msg, "pending")
}

func TestWeb_CloseEndsStreams(t *testing.T) {
	web, srv := newTestServer(t, &fakeFacade{})
	conn := dialStream(t, srv)
	readState(t, conn)

	web.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestOfferLatest_DropsOldest(t *testing.T) {
	last := gps.Position{Latitude: 3}
	ch := make(chan streamState, 2)
	offerLatest(ch, streamState{})
	offerLatest(ch, streamState{Running: true})
	offerLatest(ch, streamState{LastKnown: &last})

	assert.Equal(t, streamState{Running: true}, <-ch)
	assert.Equal(t, streamState{LastKnown: &last}, <-ch)
}
