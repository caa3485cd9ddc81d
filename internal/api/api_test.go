package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/plc-dashboard/internal/configstore"
	"github.com/thatsimonsguy/plc-dashboard/internal/model"
)

type fakeAcquisition struct {
	values    map[string]*float64
	connected bool
	lastError string
	tested    []model.ControllerSettings
	testOK    bool
}

func (f *fakeAcquisition) CurrentValues() map[string]*float64 { return f.values }
func (f *fakeAcquisition) IsConnected() bool                  { return f.connected }
func (f *fakeAcquisition) LastError() string                  { return f.lastError }
func (f *fakeAcquisition) Interval() time.Duration            { return time.Second }
func (f *fakeAcquisition) Connect() bool {
	f.connected = true
	return true
}
func (f *fakeAcquisition) Disconnect() { f.connected = false }
func (f *fakeAcquisition) TestConnection(s model.ControllerSettings) bool {
	f.tested = append(f.tested, s)
	return f.testOK
}

func floatPtr(v float64) *float64 { return &v }

func setupTestServer(t *testing.T) (*Server, *configstore.Store, *fakeAcquisition) {
	store := configstore.New(configstore.NewFileBackend(filepath.Join(t.TempDir(), "dashboard_config.json")))
	require.NoError(t, store.Load())

	acq := &fakeAcquisition{values: map[string]*float64{"dp1": floatPtr(21.46)}}
	return NewServer(store, acq), store, acq
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestGetSettings(t *testing.T) {
	server, _, _ := setupTestServer(t)

	w := do(t, server, http.MethodGet, "/api/settings", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	resp := decodeBody[SettingsPayload](t, w)
	assert.Equal(t, model.DefaultControllerSettings(), resp.PlcConfiguration)
	require.NotNil(t, resp.SettingsPIN)
	assert.Equal(t, "", *resp.SettingsPIN)
}

func TestPutSettings(t *testing.T) {
	server, store, _ := setupTestServer(t)

	tests := []struct {
		name           string
		body           any
		expectedStatus int
	}{
		{"valid settings", SettingsPayload{PlcConfiguration: model.ControllerSettings{IPAddress: "192.168.1.10", Rack: 0, Slot: 2, PollingIntervalMs: 500}}, http.StatusOK},
		{"zero interval", SettingsPayload{PlcConfiguration: model.ControllerSettings{IPAddress: "192.168.1.10", PollingIntervalMs: 0}}, http.StatusBadRequest},
		{"invalid json", "{not json", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, server, http.MethodPut, "/api/settings", tt.body)
			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}

	assert.Equal(t, "192.168.1.10", store.Settings().IPAddress)
	assert.Equal(t, 500, store.Settings().PollingIntervalMs)

	pin := "0815"
	w := do(t, server, http.MethodPut, "/api/settings", SettingsPayload{PlcConfiguration: store.Settings(), SettingsPIN: &pin})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0815", store.SettingsPIN())
}

func TestPutSettingsSavesOnce(t *testing.T) {
	server, store, _ := setupTestServer(t)
	notified := 0
	store.Subscribe(func() { notified++ })

	pin := "4711"
	settings := model.ControllerSettings{IPAddress: "10.0.0.7", Slot: 1, PollingIntervalMs: 750}
	w := do(t, server, http.MethodPut, "/api/settings", SettingsPayload{PlcConfiguration: settings, SettingsPIN: &pin})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, notified)
	assert.Equal(t, "4711", store.SettingsPIN())

	other := "9999"
	settings.PollingIntervalMs = 0
	w = do(t, server, http.MethodPut, "/api/settings", SettingsPayload{PlcConfiguration: settings, SettingsPIN: &other})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "4711", store.SettingsPIN(), "rejected settings leave the pin alone")
	assert.Equal(t, 1, notified)
}

func TestDataPointLifecycle(t *testing.T) {
	server, store, _ := setupTestServer(t)

	w := do(t, server, http.MethodPost, "/api/datapoints", map[string]any{
		"name": "Durchfluss", "dbNumber": 3, "startByte": 12, "dataType": "int", "unit": "l/min",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	created := decodeBody[model.DataPoint](t, w)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, model.DataTypeInt, created.DataType)
	assert.Equal(t, 1.0, created.ScaleFactor, "unspecified fields keep their defaults")

	created.Name = "Durchfluss Vorlauf"
	w = do(t, server, http.MethodPut, "/api/datapoints/"+created.ID, created)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Durchfluss Vorlauf", decodeBody[model.DataPoint](t, w).Name)

	w = do(t, server, http.MethodGet, "/api/datapoints", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody[[]model.DataPoint](t, w), 3)

	w = do(t, server, http.MethodDelete, "/api/datapoints/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	_, ok := store.DataPoint(created.ID)
	assert.False(t, ok)

	w = do(t, server, http.MethodDelete, "/api/datapoints/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDataPointErrors(t *testing.T) {
	server, _, _ := setupTestServer(t)

	tests := []struct {
		name           string
		method         string
		path           string
		body           any
		expectedStatus int
	}{
		{"unknown data type", http.MethodPost, "/api/datapoints", map[string]any{"name": "x", "dataType": "Word"}, http.StatusBadRequest},
		{"duplicate id", http.MethodPost, "/api/datapoints", map[string]any{"id": "dp1", "name": "x", "dataType": "Real"}, http.StatusConflict},
		{"update unknown", http.MethodPut, "/api/datapoints/nope", map[string]any{"name": "x", "dataType": "Real"}, http.StatusNotFound},
		{"invalid json", http.MethodPost, "/api/datapoints", "[", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, server, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.NotEmpty(t, decodeBody[ErrorResponse](t, w).Error)
		})
	}
}

func TestDeleteDataPointRemovesTiles(t *testing.T) {
	server, store, _ := setupTestServer(t)

	w := do(t, server, http.MethodDelete, "/api/datapoints/dp1", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	d, ok := store.GetDashboard(model.DefaultDashboardID)
	require.True(t, ok)
	for _, tile := range d.Tiles {
		assert.NotEqual(t, "dp1", tile.DataPointID)
	}
}

func TestDashboardLifecycle(t *testing.T) {
	server, _, _ := setupTestServer(t)

	w := do(t, server, http.MethodPost, "/api/dashboards", map[string]any{"name": "Kessel"})
	require.Equal(t, http.StatusCreated, w.Code)
	created := decodeBody[model.Dashboard](t, w)
	assert.Equal(t, "Kessel", created.Name)
	assert.Equal(t, model.DefaultGridColumns, created.GridColumns)

	tile := model.NewTile()
	tile.DataPointID = "dp1"
	created.Tiles = []model.Tile{tile}
	w = do(t, server, http.MethodPut, "/api/dashboards/"+created.ID, created)
	require.Equal(t, http.StatusOK, w.Code)
	updated := decodeBody[model.Dashboard](t, w)
	require.Len(t, updated.Tiles, 1)
	assert.NotEmpty(t, updated.Tiles[0].ID)

	w = do(t, server, http.MethodGet, "/api/dashboards", nil)
	assert.Len(t, decodeBody[[]model.Dashboard](t, w), 2)

	w = do(t, server, http.MethodDelete, "/api/dashboards/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, server, http.MethodGet, "/api/dashboards/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteLastDashboardConflicts(t *testing.T) {
	server, _, _ := setupTestServer(t)

	w := do(t, server, http.MethodDelete, "/api/dashboards/"+model.DefaultDashboardID, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, server, http.MethodDelete, "/api/dashboards/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateDashboardRejectsBadTile(t *testing.T) {
	server, store, _ := setupTestServer(t)

	d, _ := store.GetDashboard(model.DefaultDashboardID)
	d.Tiles[0].Width = 0
	w := do(t, server, http.MethodPut, "/api/dashboards/"+d.ID, d)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetValues(t *testing.T) {
	server, _, _ := setupTestServer(t)

	w := do(t, server, http.MethodGet, "/api/values", nil)
	require.Equal(t, http.StatusOK, w.Code)

	values := decodeBody[[]ValueResponse](t, w)
	require.Len(t, values, 2)
	assert.Equal(t, "dp1", values[0].DataPointID)
	require.NotNil(t, values[0].Value)
	assert.Equal(t, 21.46, *values[0].Value)
	assert.Equal(t, "21.5 °C", values[0].Display)
	assert.Nil(t, values[1].Value)
	assert.Equal(t, "--", values[1].Display)
}

func TestViewDashboard(t *testing.T) {
	server, store, acq := setupTestServer(t)

	d, _ := store.GetDashboard(model.DefaultDashboardID)
	d.Tiles[0].UseThresholdColors = true
	d.Tiles[0].UpperThreshold = floatPtr(20)
	d.Tiles = append(d.Tiles, model.Tile{ID: "orphan", DataPointID: "gone", PositionX: 3, PositionY: 1, Width: 1, Height: 1, BackgroundColor: "#000000"})
	_, err := store.UpdateDashboard(d)
	require.NoError(t, err)
	acq.values["dp2"] = nil

	w := do(t, server, http.MethodGet, "/api/dashboards/default/view", nil)
	require.Equal(t, http.StatusOK, w.Code)

	view := decodeBody[DashboardView](t, w)
	require.Len(t, view.Tiles, 3)
	assert.Equal(t, "Temperatur", view.Tiles[0].Title)
	assert.Equal(t, d.Tiles[0].ColorAboveUpper, view.Tiles[0].Color)
	assert.Equal(t, "--", view.Tiles[1].Display)
	assert.Equal(t, "", view.Tiles[2].Title)
	assert.Equal(t, "#000000", view.Tiles[2].Color)
}

func TestConnectionEndpoints(t *testing.T) {
	server, _, acq := setupTestServer(t)
	acq.lastError = "connection refused"

	w := do(t, server, http.MethodGet, "/api/connection", nil)
	require.Equal(t, http.StatusOK, w.Code)
	status := decodeBody[ConnectionResponse](t, w)
	assert.False(t, status.Connected)
	assert.Equal(t, "connection refused", status.LastError)
	assert.Equal(t, int64(1000), status.PollingIntervalMs)

	w = do(t, server, http.MethodPost, "/api/connection/connect", nil)
	assert.True(t, decodeBody[ConnectionResponse](t, w).Connected)

	w = do(t, server, http.MethodPost, "/api/connection/disconnect", nil)
	assert.False(t, decodeBody[ConnectionResponse](t, w).Connected)
}

func TestTestConnection(t *testing.T) {
	server, store, acq := setupTestServer(t)
	acq.testOK = true

	w := do(t, server, http.MethodPost, "/api/connection/test", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeBody[TestConnectionResponse](t, w).Success)
	require.Len(t, acq.tested, 1)
	assert.Equal(t, store.Settings(), acq.tested[0])

	w = do(t, server, http.MethodPost, "/api/connection/test", map[string]any{"ipAddress": "10.1.1.1"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, acq.tested, 2)
	assert.Equal(t, "10.1.1.1", acq.tested[1].IPAddress)
	assert.Equal(t, store.Settings().PollingIntervalMs, acq.tested[1].PollingIntervalMs)
	assert.Equal(t, store.Settings().IPAddress, model.DefaultControllerSettings().IPAddress, "probing does not persist")

	w = do(t, server, http.MethodPost, "/api/connection/test", "{")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	server, _, _ := setupTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
	}{
		{"DELETE settings", http.MethodDelete, "/api/settings"},
		{"PUT values", http.MethodPut, "/api/values"},
		{"GET connect", http.MethodGet, "/api/connection/connect"},
		{"POST dashboard by id", http.MethodPost, "/api/dashboards/default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, server, tt.method, tt.path, nil)
			assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
		})
	}
}

func TestPreflight(t *testing.T) {
	server, _, _ := setupTestServer(t)

	w := do(t, server, http.MethodOptions, "/api/datapoints", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "DELETE")
}
