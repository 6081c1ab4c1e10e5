package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/sensorview/internal/db"
	"github.com/banshee-data/sensorview/internal/display"
	"github.com/banshee-data/sensorview/internal/handshake"
	"github.com/banshee-data/sensorview/internal/message"
	"github.com/banshee-data/sensorview/internal/monitoring"
	"github.com/banshee-data/sensorview/internal/testutil"
	"github.com/banshee-data/sensorview/internal/window"
)

type fakeController struct {
	mu        sync.Mutex
	ports     []string
	portsErr  error
	openErr   error
	closeErr  error
	detectErr error
	rateErr   error
	opened    []string
	increases int
	decreases int
	status    handshake.Status
}

func (f *fakeController) Ports() ([]string, error) { return f.ports, f.portsErr }

func (f *fakeController) Open(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("connect context has no deadline")
	}
	if f.openErr != nil {
		return f.openErr
	}
	f.opened = append(f.opened, name)
	f.status = handshake.Status{State: "connected", Connected: true, Port: name}
	return nil
}

func (f *fakeController) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closeErr != nil {
		return f.closeErr
	}
	f.status = handshake.Status{State: "disconnected"}
	return nil
}

func (f *fakeController) AutoDetect(ctx context.Context) (string, error) {
	if f.detectErr != nil {
		return "", f.detectErr
	}
	return "SIM0", f.Open(ctx, "SIM0")
}

func (f *fakeController) Status() handshake.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeController) IncreaseRate() error {
	f.increases++
	return f.rateErr
}

func (f *fakeController) DecreaseRate() error {
	f.decreases++
	return f.rateErr
}

type fakeStore struct {
	samples []db.StoredSample
	err     error
	limit   int
}

func (f *fakeStore) RecentSamples(_ context.Context, limit int) ([]db.StoredSample, error) {
	f.limit = limit
	return f.samples, f.err
}

func newTestServer(t *testing.T) (*Server, *fakeController, *window.Window) {
	t.Helper()
	monitoring.SetLogger(t.Logf)
	t.Cleanup(func() { monitoring.SetLogger(nil) })

	ctl := &fakeController{
		ports:  []string{"/dev/ttyUSB0", "SIM0"},
		status: handshake.Status{State: "disconnected"},
	}
	win := window.New(window.DefaultConfig(), nil, nil)
	return NewServer(ctl, win, &fakeStore{}), ctl, win
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.ServeMux().ServeHTTP(rec, req)
	return rec
}

func TestListPorts(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := serve(s, testutil.NewTestRequest(http.MethodGet, "/api/ports"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	var got portsResponse
	testutil.DecodeJSON(t, rec, &got)
	want := portsResponse{Ports: []string{"NONE", "/dev/ttyUSB0", "SIM0"}, Selected: "NONE"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ports mismatch (-want +got):\n%s", diff)
	}
}

func TestListPorts_Error(t *testing.T) {
	s, ctl, _ := newTestServer(t)
	ctl.portsErr = errors.New("enumeration failed")

	rec := serve(s, testutil.NewTestRequest(http.MethodGet, "/api/ports"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusInternalServerError)
}

func TestConnect(t *testing.T) {
	s, ctl, _ := newTestServer(t)

	rec := serve(s, testutil.NewJSONRequest(t, http.MethodPost, "/api/connect", connectRequest{Port: "/dev/ttyUSB0"}))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, []string{"/dev/ttyUSB0"}, ctl.opened)

	var st handshake.Status
	testutil.DecodeJSON(t, rec, &st)
	assert.True(t, st.Connected)
	assert.Equal(t, "/dev/ttyUSB0", st.Port)

	rec = serve(s, testutil.NewTestRequest(http.MethodGet, "/api/ports"))
	var ports portsResponse
	testutil.DecodeJSON(t, rec, &ports)
	assert.Equal(t, "/dev/ttyUSB0", ports.Selected)
}

func TestConnect_Errors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"no port", handshake.ErrNoPort, http.StatusBadRequest},
		{"unknown port", fmt.Errorf("%w COM9", handshake.ErrUnknownPort), http.StatusNotFound},
		{"already connected", handshake.ErrAlreadyConnected, http.StatusConflict},
		{"in progress", handshake.ErrHandshakeInProgress, http.StatusConflict},
		{"timeout", handshake.ErrHandshakeTimeout, http.StatusGatewayTimeout},
		{"open failed", fmt.Errorf("%w COM1: busy", handshake.ErrTransportOpen), http.StatusBadGateway},
		{"lost", handshake.ErrConnectionLost, http.StatusBadGateway},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, ctl, _ := newTestServer(t)
			ctl.openErr = tt.err

			rec := serve(s, testutil.NewJSONRequest(t, http.MethodPost, "/api/connect", connectRequest{Port: "COM1"}))
			testutil.AssertStatusCode(t, rec.Code, tt.status)

			var body map[string]string
			testutil.DecodeJSON(t, rec, &body)
			assert.Equal(t, tt.err.Error(), body["error"])
		})
	}
}

func TestConnect_BadRequests(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := serve(s, testutil.NewTestRequest(http.MethodGet, "/api/connect"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusMethodNotAllowed)

	rec = serve(s, testutil.NewJSONRequest(t, http.MethodPost, "/api/connect", `{"port":`))
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)

	rec = serve(s, testutil.NewJSONRequest(t, http.MethodPost, "/api/connect", `{"baud":9600}`))
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
}

func TestDisconnect(t *testing.T) {
	s, ctl, _ := newTestServer(t)
	ctl.status = handshake.Status{State: "connected", Connected: true, Port: "SIM0"}

	rec := serve(s, testutil.NewTestRequest(http.MethodPost, "/api/disconnect"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.False(t, ctl.Status().Connected)

	ctl.closeErr = handshake.ErrHandshakeInProgress
	rec = serve(s, testutil.NewTestRequest(http.MethodPost, "/api/disconnect"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusConflict)
}

func TestAutodetect(t *testing.T) {
	s, ctl, _ := newTestServer(t)

	rec := serve(s, testutil.NewTestRequest(http.MethodPost, "/api/autodetect"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, []string{"SIM0"}, ctl.opened)

	ctl.detectErr = handshake.ErrNoDevice
	rec = serve(s, testutil.NewTestRequest(http.MethodPost, "/api/autodetect"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
}

func TestStatus(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := serve(s, testutil.NewTestRequest(http.MethodGet, "/api/status"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	var got map[string]interface{}
	testutil.DecodeJSON(t, rec, &got)
	assert.Equal(t, "disconnected", got["state"])
	assert.Equal(t, "celsius", got["unit"])
	assert.Equal(t, false, got["paused"])
	assert.Contains(t, got, "version")
	assert.NotContains(t, got, "since")
}

func TestChangeRate(t *testing.T) {
	s, ctl, _ := newTestServer(t)

	rec := serve(s, testutil.NewJSONRequest(t, http.MethodPost, "/api/rate", rateRequest{Direction: "increase"}))
	testutil.AssertStatusCode(t, rec.Code, http.StatusAccepted)
	rec = serve(s, testutil.NewJSONRequest(t, http.MethodPost, "/api/rate", rateRequest{Direction: "decrease"}))
	testutil.AssertStatusCode(t, rec.Code, http.StatusAccepted)
	assert.Equal(t, 1, ctl.increases)
	assert.Equal(t, 1, ctl.decreases)

	rec = serve(s, testutil.NewJSONRequest(t, http.MethodPost, "/api/rate", rateRequest{Direction: "sideways"}))
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)

	ctl.rateErr = handshake.ErrNotConnected
	rec = serve(s, testutil.NewJSONRequest(t, http.MethodPost, "/api/rate", rateRequest{Direction: "increase"}))
	testutil.AssertStatusCode(t, rec.Code, http.StatusConflict)
}

func TestSwitchUnit(t *testing.T) {
	s, _, win := newTestServer(t)
	win.Enqueue(message.Sample{Temperature: 20, Timestamp: "12:00:00.00"})
	win.Refresh()

	rec := serve(s, testutil.NewJSONRequest(t, http.MethodPost, "/api/unit", unitRequest{Unit: "fahrenheit"}))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	var v window.View
	testutil.DecodeJSON(t, rec, &v)
	assert.Equal(t, "fahrenheit", v.Unit)
	require.Len(t, v.Samples, 1)
	assert.InDelta(t, 68.0, v.Samples[0].Temperature, 1e-9)

	rec = serve(s, testutil.NewJSONRequest(t, http.MethodPost, "/api/unit", unitRequest{Unit: "kelvin"}))
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
}

func TestRescale(t *testing.T) {
	s, _, win := newTestServer(t)
	before := win.Config().DisplaySize

	rec := serve(s, testutil.NewJSONRequest(t, http.MethodPost, "/api/scale", scaleRequest{Delta: -1}))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	var v window.View
	testutil.DecodeJSON(t, rec, &v)
	assert.Equal(t, before+window.SizeStep, v.DisplaySize)

	rec = serve(s, testutil.NewJSONRequest(t, http.MethodPost, "/api/scale", scaleRequest{Delta: 0}))
	testutil.DecodeJSON(t, rec, &v)
	assert.Equal(t, before+window.SizeStep, v.DisplaySize)
}

func TestShowWindow_UsesSnapshot(t *testing.T) {
	s, _, win := newTestServer(t)

	rec := serve(s, testutil.NewTestRequest(http.MethodGet, "/api/window"))
	var v window.View
	testutil.DecodeJSON(t, rec, &v)
	assert.Equal(t, win.Config().DisplaySize, v.DisplaySize)

	s.Snapshot = display.NewSnapshot()
	s.Snapshot.Present(window.View{DisplaySize: 70, Average: 21})
	rec = serve(s, testutil.NewTestRequest(http.MethodGet, "/api/window"))
	testutil.DecodeJSON(t, rec, &v)
	assert.Equal(t, 70, v.DisplaySize)
	assert.Equal(t, 21, v.Average)
}

func TestListSamples(t *testing.T) {
	s, _, _ := newTestServer(t)
	store := &fakeStore{samples: []db.StoredSample{{ID: 1, TemperatureC: 22.5, RecordedAt: time.Unix(0, 0).UTC()}}}
	s.store = store

	rec := serve(s, testutil.NewTestRequest(http.MethodGet, "/api/samples?limit=5"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, 5, store.limit)

	var got []db.StoredSample
	testutil.DecodeJSON(t, rec, &got)
	require.Len(t, got, 1)
	assert.Equal(t, 22.5, got[0].TemperatureC)

	rec = serve(s, testutil.NewTestRequest(http.MethodGet, "/api/samples"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, 100, store.limit)

	rec = serve(s, testutil.NewTestRequest(http.MethodGet, "/api/samples?limit=abc"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)

	store.samples, store.err = nil, errors.New("disk full")
	rec = serve(s, testutil.NewTestRequest(http.MethodGet, "/api/samples"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusInternalServerError)
}

func TestListSamples_Empty(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := serve(s, testutil.NewTestRequest(http.MethodGet, "/api/samples"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, "[]\n", rec.Body.String())

	s.store = nil
	rec = serve(s, testutil.NewTestRequest(http.MethodGet, "/api/samples"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
}

func TestCharts(t *testing.T) {
	s, _, win := newTestServer(t)
	win.Enqueue(message.Sample{Temperature: 21, Timestamp: "12:00:00.00"}, message.Sample{Temperature: 22, Timestamp: "12:00:00.25"})
	win.Refresh()

	rec := serve(s, testutil.NewTestRequest(http.MethodGet, "/chart"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.True(t, strings.Contains(rec.Body.String(), "12:00:00.25"))

	rec = serve(s, testutil.NewTestRequest(http.MethodGet, "/chart.png"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))

	rec = serve(s, testutil.NewTestRequest(http.MethodPost, "/chart"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusMethodNotAllowed)
}

func TestMetricsRoute(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := serve(s, testutil.NewTestRequest(http.MethodGet, "/metrics"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)

	reg := monitoring.NewRegistry()
	m := monitoring.NewMetrics(reg)
	m.IncFrames()
	s.Metrics = monitoring.Handler(reg)

	rec = serve(s, testutil.NewTestRequest(http.MethodGet, "/metrics"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Contains(t, rec.Body.String(), "frames")
}

func TestLoggingMiddleware(t *testing.T) {
	var logged []string
	monitoring.SetLogger(func(format string, v ...interface{}) {
		logged = append(logged, fmt.Sprintf(format, v...))
	})
	t.Cleanup(func() { monitoring.SetLogger(nil) })

	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status?x=1", nil))

	testutil.AssertStatusCode(t, rec.Code, http.StatusTeapot)
	require.Len(t, logged, 1)
	assert.Contains(t, logged[0], "418")
	assert.Contains(t, logged[0], "/api/status?x=1")
}
