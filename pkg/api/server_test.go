package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overlaybridge/overlaybridge/pkg/logger"
	"github.com/overlaybridge/overlaybridge/pkg/midi"
	"github.com/overlaybridge/overlaybridge/pkg/models"
	"github.com/overlaybridge/overlaybridge/pkg/osc"
	"github.com/overlaybridge/overlaybridge/pkg/registry"
)

type fakeCapability struct {
	known   map[string]bool
	sendErr error
	sent    []interface{}
}

func (f *fakeCapability) Send(identity string, payload interface{}) error {
	if !f.known[identity] {
		return registry.ErrUnknownTarget
	}

	f.sent = append(f.sent, payload)

	return f.sendErr
}

func (f *fakeCapability) Targets() []models.TargetDescriptor {
	targets := make([]models.TargetDescriptor, 0, len(f.known))
	for name := range f.known {
		targets = append(targets, models.TargetDescriptor{EventName: name})
	}

	return targets
}

type staticWSS struct {
	details models.WSSDetails
}

func (s staticWSS) Details() models.WSSDetails { return s.details }

func newTestServer(t *testing.T, reg *registry.Registry, options ...func(*Server)) *Server {
	t.Helper()

	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	return NewServer(store, reg, logger.NewTestLogger(), options...)
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	return rec
}

func TestGetOBSWSSReturnsDetailsVerbatim(t *testing.T) {
	details := models.WSSDetails{IP: "localhost", Port: 4455, Password: "hunter2"}
	s := newTestServer(t, registry.New(), WithWSSProvider(staticWSS{details: details}))

	rec := doJSON(t, s.Router(), http.MethodGet, "/api/obswss", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got models.WSSDetails
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, details, got)
	assert.Contains(t, rec.Body.String(), `"PW"`, "wire keys must stay upper-case")
}

func TestGetOBSWSSWithoutProvider(t *testing.T) {
	s := newTestServer(t, registry.New())

	rec := doJSON(t, s.Router(), http.MethodGet, "/api/obswss", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListFilesMissingFolderIsEmptyArray(t *testing.T) {
	s := newTestServer(t, registry.New())

	rec := doJSON(t, s.Router(), http.MethodGet, "/api/file/list?folder=profiles", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestListFilesMissingParameter(t *testing.T) {
	s := newTestServer(t, registry.New())

	rec := doJSON(t, s.Router(), http.MethodGet, "/api/file/list", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSaveThenGetFileRoundTrip(t *testing.T) {
	s := newTestServer(t, registry.New())

	rec := doJSON(t, s.Router(), http.MethodPost, "/api/file/save", saveFileRequest{
		Folder:   "profiles",
		Filename: "show",
		Data:     json.RawMessage(`{"scene":"intro","volume":0.5}`),
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var saved models.SaveResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &saved))
	assert.True(t, saved.Success)

	onDisk, err := os.ReadFile(saved.Path)
	require.NoError(t, err)

	rec = doJSON(t, s.Router(), http.MethodGet, "/api/file/get?folder=profiles&filename=show.json", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, onDisk, rec.Body.Bytes(), "get must return the stored bytes untouched")
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	rec = doJSON(t, s.Router(), http.MethodGet, "/api/file/list?folder=profiles", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `["show.json"]`, rec.Body.String())
}

func TestGetFileEscapeIsForbidden(t *testing.T) {
	s := newTestServer(t, registry.New())

	rec := doJSON(t, s.Router(), http.MethodGet, "/api/file/get?folder=..%2F..%2Fetc&filename=passwd", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "Access denied")
}

func TestGetFileNotFound(t *testing.T) {
	s := newTestServer(t, registry.New())

	rec := doJSON(t, s.Router(), http.MethodGet, "/api/file/get?folder=profiles&filename=absent.json", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSaveFileRejectsInvalidBody(t *testing.T) {
	s := newTestServer(t, registry.New())

	req := httptest.NewRequest(http.MethodPost, "/api/file/save", bytes.NewBufferString("not json"))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendOSCBridgeNotRegistered(t *testing.T) {
	s := newTestServer(t, registry.New())

	rec := doJSON(t, s.Router(), http.MethodPost, "/api/osc/send", sendOSCRequest{
		EventName: "fader", Address: "/fader1",
	})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSendOSCUnknownTarget(t *testing.T) {
	reg := registry.New()
	reg.Register(osc.CapabilityName, &fakeCapability{known: map[string]bool{}})
	s := newTestServer(t, reg)

	rec := doJSON(t, s.Router(), http.MethodPost, "/api/osc/send", sendOSCRequest{
		EventName: "fader", Address: "/fader1",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "fader")
}

func TestSendOSCDelivered(t *testing.T) {
	capability := &fakeCapability{known: map[string]bool{"fader": true}}
	reg := registry.New()
	reg.Register(osc.CapabilityName, capability)
	s := newTestServer(t, reg)

	rec := doJSON(t, s.Router(), http.MethodPost, "/api/osc/send", sendOSCRequest{
		EventName: "fader", Address: "/fader1", Args: []interface{}{0.5},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.SendResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)

	require.Len(t, capability.sent, 1)
	msg, ok := capability.sent[0].(osc.Message)
	require.True(t, ok)
	assert.Equal(t, "/fader1", msg.Address)
}

func TestSendOSCTransportFailureIsSuccessFalse(t *testing.T) {
	reg := registry.New()
	reg.Register(osc.CapabilityName, &fakeCapability{
		known:   map[string]bool{"fader": true},
		sendErr: errors.New("socket gone"),
	})
	s := newTestServer(t, reg)

	rec := doJSON(t, s.Router(), http.MethodPost, "/api/osc/send", sendOSCRequest{
		EventName: "fader", Address: "/fader1",
	})
	require.Equal(t, http.StatusOK, rec.Code, "a completed send reports in-band, not as an HTTP error")

	var resp models.SendResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
}

func TestSendOSCMissingFields(t *testing.T) {
	s := newTestServer(t, registry.New())

	rec := doJSON(t, s.Router(), http.MethodPost, "/api/osc/send", sendOSCRequest{Address: "/fader1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendMIDIDelivered(t *testing.T) {
	capability := &fakeCapability{known: map[string]bool{"pad": true}}
	reg := registry.New()
	reg.Register(midi.CapabilityName, capability)
	s := newTestServer(t, reg)

	rec := doJSON(t, s.Router(), http.MethodPost, "/api/midi/send", sendMIDIRequest{
		EventName: "pad", Data: "90 3C 40",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, capability.sent, 1)
	assert.Equal(t, "90 3C 40", capability.sent[0])
}

func TestGetTargets(t *testing.T) {
	reg := registry.New()
	reg.Register(osc.CapabilityName, &fakeCapability{known: map[string]bool{"fader": true}})
	s := newTestServer(t, reg)

	rec := doJSON(t, s.Router(), http.MethodGet, "/api/bridges/osc/targets", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var targets []models.TargetDescriptor
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &targets))
	require.Len(t, targets, 1)
	assert.Equal(t, "fader", targets[0].EventName)

	rec = doJSON(t, s.Router(), http.MethodGet, "/api/bridges/midi/targets", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestReloadConfig(t *testing.T) {
	called := 0
	s := newTestServer(t, registry.New(), WithReloadFunc(func() error {
		called++
		return nil
	}))

	rec := doJSON(t, s.Router(), http.MethodPost, "/api/config/reload", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, called)
}

func TestReloadConfigFailure(t *testing.T) {
	s := newTestServer(t, registry.New(), WithReloadFunc(func() error {
		return errors.New("bad config")
	}))

	rec := doJSON(t, s.Router(), http.MethodPost, "/api/config/reload", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "bad config")
}

func TestHealthReportsServiceStates(t *testing.T) {
	s := newTestServer(t, registry.New(), WithHealthProvider(func() map[string]string {
		return map[string]string{"osc": "running", "midi": "unavailable"}
	}))

	rec := doJSON(t, s.Router(), http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var health struct {
		Status   string            `json:"status"`
		Services map[string]string `json:"services"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "running", health.Services["osc"])
}

func TestPreflightShortCircuitsWithCORSHeaders(t *testing.T) {
	s := newTestServer(t, registry.New())

	req := httptest.NewRequest(http.MethodOptions, "/api/osc/send", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
	assert.Empty(t, rec.Body.String(), "preflight must not reach the handler")
}

func TestCORSHeadersOnNormalResponses(t *testing.T) {
	s := newTestServer(t, registry.New())

	rec := doJSON(t, s.Router(), http.MethodGet, "/api/health", nil)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStaticFallbackServesRootFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "overlay.html"), []byte("<html></html>"), 0o644))

	store, err := NewFileStore(root)
	require.NoError(t, err)

	s := NewServer(store, registry.New(), logger.NewTestLogger())

	rec := doJSON(t, s.Router(), http.MethodGet, "/overlay.html", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<html></html>", rec.Body.String())
}

func TestStartStopRestartFreesPort(t *testing.T) {
	s := newTestServer(t, registry.New())

	require.NoError(t, s.Start(0))
	s.Stop()

	require.NoError(t, s.Start(0))
	s.Stop()
}
