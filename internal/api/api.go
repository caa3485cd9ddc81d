package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/plc-dashboard/internal/configstore"
	"github.com/thatsimonsguy/plc-dashboard/internal/model"
)

// Acquisition is the scheduler surface the API exposes.
type Acquisition interface {
	CurrentValues() map[string]*float64
	IsConnected() bool
	LastError() string
	Interval() time.Duration
	Connect() bool
	Disconnect()
	TestConnection(settings model.ControllerSettings) bool
}

type Server struct {
	store  *configstore.Store
	acq    Acquisition
	router *mux.Router
	http   *http.Server
}

type SettingsPayload struct {
	PlcConfiguration model.ControllerSettings `json:"plcConfiguration"`
	SettingsPIN      *string                  `json:"settingsPin,omitempty"`
}

type ValueResponse struct {
	DataPointID string   `json:"dataPointId"`
	Name        string   `json:"name"`
	Value       *float64 `json:"value"`
	Display     string   `json:"display"`
}

type TileView struct {
	model.Tile
	Title   string   `json:"title"`
	Value   *float64 `json:"value"`
	Display string   `json:"display"`
	Color   string   `json:"color"`
}

type DashboardView struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	GridColumns int        `json:"gridColumns"`
	GridRows    int        `json:"gridRows"`
	Tiles       []TileView `json:"tiles"`
}

type ConnectionResponse struct {
	Connected         bool   `json:"connected"`
	LastError         string `json:"lastError"`
	PollingIntervalMs int64  `json:"pollingIntervalMs"`
}

type TestConnectionResponse struct {
	Success bool `json:"success"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func NewServer(store *configstore.Store, acq Acquisition) *Server {
	s := &Server{store: store, acq: acq}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(cors)

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/settings", s.getSettings).Methods(http.MethodGet)
	api.HandleFunc("/settings", s.putSettings).Methods(http.MethodPut)

	api.HandleFunc("/datapoints", s.listDataPoints).Methods(http.MethodGet)
	api.HandleFunc("/datapoints", s.createDataPoint).Methods(http.MethodPost)
	api.HandleFunc("/datapoints/{id}", s.updateDataPoint).Methods(http.MethodPut)
	api.HandleFunc("/datapoints/{id}", s.deleteDataPoint).Methods(http.MethodDelete)

	api.HandleFunc("/dashboards", s.listDashboards).Methods(http.MethodGet)
	api.HandleFunc("/dashboards", s.createDashboard).Methods(http.MethodPost)
	api.HandleFunc("/dashboards/{id}", s.getDashboard).Methods(http.MethodGet)
	api.HandleFunc("/dashboards/{id}", s.updateDashboard).Methods(http.MethodPut)
	api.HandleFunc("/dashboards/{id}", s.deleteDashboard).Methods(http.MethodDelete)
	api.HandleFunc("/dashboards/{id}/view", s.viewDashboard).Methods(http.MethodGet)

	api.HandleFunc("/values", s.getValues).Methods(http.MethodGet)

	api.HandleFunc("/connection", s.getConnection).Methods(http.MethodGet)
	api.HandleFunc("/connection/connect", s.connect).Methods(http.MethodPost)
	api.HandleFunc("/connection/disconnect", s.disconnect).Methods(http.MethodPost)
	api.HandleFunc("/connection/test", s.testConnection).Methods(http.MethodPost)

	r.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Info().Str("address", addr).Msg("Starting REST API server")

	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) getSettings(w http.ResponseWriter, _ *http.Request) {
	pin := s.store.SettingsPIN()
	s.writeJSON(w, http.StatusOK, SettingsPayload{
		PlcConfiguration: s.store.Settings(),
		SettingsPIN:      &pin,
	})
}

func (s *Server) putSettings(w http.ResponseWriter, r *http.Request) {
	var req SettingsPayload
	if !s.decode(w, r, &req) {
		return
	}

	if err := s.store.UpdateSettings(req.PlcConfiguration, req.SettingsPIN); err != nil {
		s.writeStoreError(w, err)
		return
	}

	log.Info().Str("address", req.PlcConfiguration.IPAddress).Msg("Controller settings updated via API")
	s.getSettings(w, r)
}

func (s *Server) listDataPoints(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.store.DataPoints())
}

func (s *Server) createDataPoint(w http.ResponseWriter, r *http.Request) {
	dp := model.NewDataPoint()
	if !s.decode(w, r, &dp) {
		return
	}
	created, err := s.store.AddDataPoint(dp)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	log.Info().Str("datapoint_id", created.ID).Str("name", created.Name).Msg("Data point created via API")
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) updateDataPoint(w http.ResponseWriter, r *http.Request) {
	var dp model.DataPoint
	if !s.decode(w, r, &dp) {
		return
	}
	dp.ID = mux.Vars(r)["id"]

	found, err := s.store.UpdateDataPoint(dp)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if !found {
		s.writeError(w, http.StatusNotFound, "Data point not found")
		return
	}
	stored, _ := s.store.DataPoint(dp.ID)
	s.writeJSON(w, http.StatusOK, stored)
}

func (s *Server) deleteDataPoint(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	removed, err := s.store.DeleteDataPoint(id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if !removed {
		s.writeError(w, http.StatusNotFound, "Data point not found")
		return
	}
	log.Info().Str("datapoint_id", id).Msg("Data point deleted via API")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listDashboards(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.store.Dashboards())
}

func (s *Server) createDashboard(w http.ResponseWriter, r *http.Request) {
	d := model.NewDashboard()
	if !s.decode(w, r, &d) {
		return
	}
	created, err := s.store.AddDashboard(d)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) getDashboard(w http.ResponseWriter, r *http.Request) {
	d, ok := s.store.GetDashboard(mux.Vars(r)["id"])
	if !ok {
		s.writeError(w, http.StatusNotFound, "Dashboard not found")
		return
	}
	s.writeJSON(w, http.StatusOK, d)
}

func (s *Server) updateDashboard(w http.ResponseWriter, r *http.Request) {
	var d model.Dashboard
	if !s.decode(w, r, &d) {
		return
	}
	d.ID = mux.Vars(r)["id"]

	found, err := s.store.UpdateDashboard(d)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if !found {
		s.writeError(w, http.StatusNotFound, "Dashboard not found")
		return
	}
	stored, _ := s.store.GetDashboard(d.ID)
	s.writeJSON(w, http.StatusOK, stored)
}

func (s *Server) deleteDashboard(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, ok := s.store.GetDashboard(id); !ok {
		s.writeError(w, http.StatusNotFound, "Dashboard not found")
		return
	}
	deleted, err := s.store.DeleteDashboard(id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if !deleted {
		s.writeError(w, http.StatusConflict, "The last dashboard cannot be deleted")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// viewDashboard resolves every tile against its data point and the latest
// values. Tiles whose data point is gone keep an empty title.
func (s *Server) viewDashboard(w http.ResponseWriter, r *http.Request) {
	d, ok := s.store.GetDashboard(mux.Vars(r)["id"])
	if !ok {
		s.writeError(w, http.StatusNotFound, "Dashboard not found")
		return
	}
	values := s.acq.CurrentValues()

	view := DashboardView{
		ID:          d.ID,
		Name:        d.Name,
		GridColumns: d.GridColumns,
		GridRows:    d.GridRows,
		Tiles:       make([]TileView, 0, len(d.Tiles)),
	}
	for _, t := range d.Tiles {
		v := values[t.DataPointID]
		tv := TileView{Tile: t, Value: v, Display: "--", Color: t.ColorFor(v)}
		if dp, ok := s.store.DataPoint(t.DataPointID); ok {
			tv.Title = dp.Name
			tv.Display = dp.FormatValue(v)
		}
		view.Tiles = append(view.Tiles, tv)
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) getValues(w http.ResponseWriter, _ *http.Request) {
	values := s.acq.CurrentValues()
	points := s.store.DataPoints()

	response := make([]ValueResponse, 0, len(points))
	for _, dp := range points {
		v := values[dp.ID]
		response = append(response, ValueResponse{
			DataPointID: dp.ID,
			Name:        dp.Name,
			Value:       v,
			Display:     dp.FormatValue(v),
		})
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) connectionStatus() ConnectionResponse {
	return ConnectionResponse{
		Connected:         s.acq.IsConnected(),
		LastError:         s.acq.LastError(),
		PollingIntervalMs: s.acq.Interval().Milliseconds(),
	}
}

func (s *Server) getConnection(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.connectionStatus())
}

func (s *Server) connect(w http.ResponseWriter, _ *http.Request) {
	s.acq.Connect()
	s.writeJSON(w, http.StatusOK, s.connectionStatus())
}

func (s *Server) disconnect(w http.ResponseWriter, _ *http.Request) {
	s.acq.Disconnect()
	s.writeJSON(w, http.StatusOK, s.connectionStatus())
}

// testConnection probes the settings in the body, or the stored settings when
// the body is empty.
func (s *Server) testConnection(w http.ResponseWriter, r *http.Request) {
	settings := s.store.Settings()
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	s.writeJSON(w, http.StatusOK, TestConnectionResponse{Success: s.acq.TestConnection(settings)})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return false
	}
	return true
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, configstore.ErrInvalidDataType),
		errors.Is(err, configstore.ErrInvalidSettings),
		errors.Is(err, configstore.ErrInvalidTile):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, configstore.ErrDuplicateID):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		log.Error().Err(err).Msg("Configuration update failed")
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	s.writeJSON(w, statusCode, ErrorResponse{Error: message})
}
