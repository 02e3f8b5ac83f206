package control

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tools.zach/dev/psnwatch/internal/monitor"
	"tools.zach/dev/psnwatch/internal/notify"
	"tools.zach/dev/psnwatch/internal/paths"
	"tools.zach/dev/psnwatch/internal/presence"
	"tools.zach/dev/psnwatch/internal/tracker"
)

type fixture struct {
	srv       *httptest.Server
	toggles   *notify.Toggles
	intervals *monitor.Intervals
	hub       *Hub
	client    *Client
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	iv, err := monitor.NewIntervals(monitor.IntervalSettings{Offline: 150 * time.Second, Online: time.Minute, Step: 30 * time.Second})
	require.NoError(t, err)
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		toggles:   notify.NewToggles(notify.Settings{Errors: true}),
		intervals: iv,
		hub:       NewHub(quiet),
	}
	opts := Options{
		Status: func() monitor.Status {
			return monitor.Status{
				Profile: presence.Profile{OnlineID: "neo"},
				State:   tracker.State{Status: presence.Online, GamesCount: 2},
			}
		},
		Toggles:   f.toggles,
		Intervals: iv,
		Hub:       f.hub,
		Logger:    quiet,
	}
	if mutate != nil {
		mutate(&opts)
	}
	s, err := NewServer(opts)
	require.NoError(t, err)
	f.srv = httptest.NewServer(s.Handler())
	t.Cleanup(f.srv.Close)

	ep, err := ResolveEndpoint(f.srv.Listener.Addr().String(), paths.DataDir{}, "")
	require.NoError(t, err)
	f.client = NewClient(ep)
	return f
}

func TestNewServerRequiresHandles(t *testing.T) {
	_, err := NewServer(Options{})
	assert.Error(t, err)
}

func TestStatusEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	st, err := f.client.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "neo", st.Profile.OnlineID)
	assert.Equal(t, presence.Online, st.State.Status)
	assert.Equal(t, 2, st.State.GamesCount)
}

func TestToggleEndpoints(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	s, err := f.client.Toggles(ctx)
	require.NoError(t, err)
	assert.Equal(t, notify.Settings{Errors: true}, s)

	on := true
	resp, err := f.client.SetToggle(ctx, notify.ToggleGameChange, &on)
	require.NoError(t, err)
	assert.Equal(t, ToggleResponse{Name: notify.ToggleGameChange, Enabled: true}, resp)
	assert.True(t, f.toggles.Enabled(notify.ToggleGameChange))

	// nil flips
	resp, err = f.client.SetToggle(ctx, notify.ToggleErrors, nil)
	require.NoError(t, err)
	assert.False(t, resp.Enabled)
	assert.False(t, f.toggles.Enabled(notify.ToggleErrors))
}

func TestToggleAcceptsDashedNameAndEmptyBody(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := http.Post(f.srv.URL+"/toggles/active-inactive", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, f.toggles.Enabled(notify.ToggleActiveInactive))
}

func TestUnknownToggle(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.client.SetToggle(context.Background(), "bogus", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown toggle")
	assert.Contains(t, err.Error(), "404")
}

func TestIntervalEndpoints(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	iv, err := f.client.Intervals(ctx)
	require.NoError(t, err)
	assert.Equal(t, Intervals{OfflineSeconds: 150, OnlineSeconds: 60, StepSeconds: 30}, iv)

	iv, err = f.client.AdjustOnline(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(120), iv.OnlineSeconds)

	iv, err = f.client.SetIntervals(ctx, Intervals{OfflineSeconds: 300, OnlineSeconds: 45, StepSeconds: 15})
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, f.intervals.For(presence.Online))
	assert.Equal(t, int64(300), iv.OfflineSeconds)

	_, err = f.client.SetIntervals(ctx, Intervals{OfflineSeconds: 0, OnlineSeconds: 45, StepSeconds: 15})
	assert.ErrorContains(t, err, "422")
	_, err = f.client.AdjustOnline(ctx, 0)
	assert.Error(t, err)
}

func TestRejectsUnknownFields(t *testing.T) {
	f := newFixture(t, nil)

	req, err := http.NewRequest(http.MethodPut, f.srv.URL+"/intervals", strings.NewReader(`{"offline":1}`))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLogEndpoint(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "psnwatch_neo.log")
	require.NoError(t, os.WriteFile(logPath, []byte("one\ntwo\nthree\n"), 0o644))
	f := newFixture(t, func(o *Options) { o.LogPath = logPath })

	tail, err := f.client.Log(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, "two\nthree", tail)

	resp, err := http.Get(f.srv.URL + "/log?lines=-1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLogEndpointDisabled(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.client.Log(context.Background(), 10)
	assert.ErrorContains(t, err, "file logging is disabled")
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.RateLimit = 2 })

	codes := make([]int, 0, 3)
	for range 3 {
		resp, err := http.Get(f.srv.URL + "/toggles")
		require.NoError(t, err)
		resp.Body.Close()
		codes = append(codes, resp.StatusCode)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestEventsFeed(t *testing.T) {
	f := newFixture(t, nil)

	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return f.hub.Len() == 1 }, time.Second, 10*time.Millisecond)

	f.hub.Broadcast(monitor.Update{
		Type:  "game_changed",
		Event: tracker.GameChanged{Kind: tracker.GameStarted, To: "Astro Bot", Platform: "PS5"},
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var got struct {
		Type  string         `json:"type"`
		Event map[string]any `json:"event"`
	}
	require.NoError(t, json.Unmarshal(msg, &got))
	assert.Equal(t, "game_changed", got.Type)
	assert.Equal(t, "Astro Bot", got.Event["to"])

	conn.Close()
	require.Eventually(t, func() bool { return f.hub.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestClientNotRunning(t *testing.T) {
	ep, err := ResolveEndpoint("127.0.0.1:1", paths.DataDir{}, "")
	require.NoError(t, err)
	_, err = NewClient(ep).Status(context.Background())
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestClientEvents(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan json.RawMessage, 1)
	done := make(chan error, 1)
	go func() {
		done <- f.client.Events(ctx, func(msg json.RawMessage) error {
			got <- msg
			return nil
		})
	}()
	require.Eventually(t, func() bool { return f.hub.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	f.hub.Broadcast(monitor.Update{
		Type:  "status_changed",
		Event: tracker.StatusChanged{From: presence.Offline, To: presence.Online},
	})

	select {
	case msg := <-got:
		assert.Contains(t, string(msg), `"status_changed"`)
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Events did not return after cancel")
	}
}

func TestClientEventsNotRunning(t *testing.T) {
	ep, err := ResolveEndpoint("127.0.0.1:1", paths.DataDir{}, "")
	require.NoError(t, err)
	err = NewClient(ep).Events(context.Background(), func(json.RawMessage) error { return nil })
	assert.ErrorIs(t, err, ErrNotRunning)
}
