package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"railnet/internal/catalog"
	"railnet/internal/geo"
	"railnet/internal/metrics"
	"railnet/internal/model"
	"railnet/internal/publisher"
	"railnet/internal/sim"
	"railnet/internal/store"
	"railnet/internal/train"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const stationCost = 10000

// Store is the persistence surface the API needs. The simulation engine
// itself never touches it; handlers fetch rows here and hand the engine
// plain data.
type Store interface {
	StationsByUser(ctx context.Context, userID string) ([]model.Station, error)
	StationsByIDs(ctx context.Context, userID string, ids []string) (map[string]model.Station, error)
	StationByName(ctx context.Context, userID, name string) (*model.Station, error)
	VehiclesAtStation(ctx context.Context, userID, stationID string) ([]model.Vehicle, error)
	VehiclesByIDs(ctx context.Context, userID string, ids []string) (map[string]model.Vehicle, error)
	RoutesByUser(ctx context.Context, userID string) ([]model.Route, error)
	RouteByID(ctx context.Context, userID, routeID string) (*model.Route, error)
	DispatchRoute(ctx context.Context, userID string, stationIDs, vehicleIDs []string, startStationID, endStationID string, startedAt time.Time) (string, error)
	PurchaseStation(ctx context.Context, userID string, st model.Station, cost int64) (*model.Station, int64, error)
	PlayerMoney(ctx context.Context, userID string) (int64, error)
}

// Publisher pushes computed train positions to the live feed. Nil disables
// publishing.
type Publisher interface {
	PublishPosition(msg publisher.PositionMessage) error
}

type Server struct {
	store   Store
	catalog *catalog.Catalog
	pub     Publisher
	metrics *metrics.Collector
	loc     *time.Location
	now     func() time.Time
}

// New constructs the HTTP router wired to the store and the simulation
// engine.
func New(st Store, cat *catalog.Catalog, pub Publisher, m *metrics.Collector, loc *time.Location) http.Handler {
	if loc == nil {
		loc = time.Local
	}
	s := &Server{store: st, catalog: cat, pub: pub, metrics: m, loc: loc, now: time.Now}
	return s.routes()
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.countRequests)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(requirePlayer)
		r.Get("/player", s.handlePlayer)
		r.Get("/stations", s.handleStations)
		r.Post("/stations", s.handlePurchaseStation)
		r.Get("/vehicles", s.handleVehicles)
		r.Get("/routes", s.handleRoutes)
		r.Get("/routes/{id}", s.handleRouteByID)
		r.Post("/routes/dispatch", s.handleDispatch)
	})

	return r
}

type ctxKey int

const playerKey ctxKey = 0

// The auth layer in front of this service resolves the session and passes
// the player id in a header.
func requirePlayer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		playerID := r.Header.Get("X-Player-ID")
		if playerID == "" {
			writeJSONError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), playerKey, playerID)))
	})
}

func playerID(r *http.Request) string {
	id, _ := r.Context().Value(playerKey).(string)
	return id
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		if s.metrics != nil {
			route := chi.RouteContext(r.Context()).RoutePattern()
			s.metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()
		}
	})
}

// ===== player =====

func (s *Server) handlePlayer(w http.ResponseWriter, r *http.Request) {
	money, err := s.store.PlayerMoney(r.Context(), playerID(r))
	if errors.Is(err, store.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "player not found")
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"money": money})
}

// ===== stations =====

func (s *Server) handleStations(w http.ResponseWriter, r *http.Request) {
	uid := playerID(r)
	if name := r.URL.Query().Get("name"); name != "" {
		st, err := s.store.StationByName(r.Context(), uid, name)
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusOK, map[string]any{"exists": false, "station": nil})
			return
		}
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"exists": true, "station": st})
		return
	}

	stations, err := s.store.StationsByUser(r.Context(), uid)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if stations == nil {
		stations = []model.Station{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"stations": stations})
}

func (s *Server) handlePurchaseStation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name      string   `json:"name"`
		LocName   string   `json:"loc_name"`
		Level     int      `json:"level"`
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad request")
		return
	}
	if req.Name == "" {
		writeJSONError(w, http.StatusBadRequest, "station name is required")
		return
	}
	if req.Latitude == nil || req.Longitude == nil {
		writeJSONError(w, http.StatusBadRequest, "latitude and longitude are required")
		return
	}
	if *req.Latitude < -90 || *req.Latitude > 90 {
		writeJSONError(w, http.StatusBadRequest, "latitude must be between -90 and 90")
		return
	}
	if *req.Longitude < -180 || *req.Longitude > 180 {
		writeJSONError(w, http.StatusBadRequest, "longitude must be between -180 and 180")
		return
	}
	if req.Level <= 0 {
		req.Level = 1
	}
	if req.LocName == "" {
		req.LocName = req.Name
	}

	st := model.Station{
		Name:      req.Name,
		LocName:   req.LocName,
		Level:     req.Level,
		Latitude:  *req.Latitude,
		Longitude: *req.Longitude,
	}
	created, remaining, err := s.store.PurchaseStation(r.Context(), playerID(r), st, stationCost)
	switch {
	case errors.Is(err, store.ErrInsufficientFunds):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":     "insufficient funds",
			"required":  stationCost,
			"available": remaining,
		})
		return
	case errors.Is(err, store.ErrStationExists):
		writeJSONError(w, http.StatusBadRequest, "station already exists at this location")
		return
	case err != nil:
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if s.metrics != nil {
		s.metrics.StationsPurchased.Inc()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"station":        created,
		"moneySpent":     stationCost,
		"remainingMoney": remaining,
	})
}

// ===== vehicles =====

func (s *Server) handleVehicles(w http.ResponseWriter, r *http.Request) {
	stationID := r.URL.Query().Get("station_id")
	if stationID == "" {
		writeJSONError(w, http.StatusBadRequest, "station_id is required")
		return
	}
	vehicles, err := s.store.VehiclesAtStation(r.Context(), playerID(r), stationID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if vehicles == nil {
		vehicles = []model.Vehicle{}
	}
	writeJSON(w, http.StatusOK, vehicles)
}

// ===== routes =====

type routeView struct {
	model.Route
	sim.Progress
	StatusReason string `json:"status_reason,omitempty"`
}

func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	uid := playerID(r)
	routes, err := s.store.RoutesByUser(r.Context(), uid)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if len(routes) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{"routes": []routeView{}})
		return
	}

	stationIDs := uniqueIDs(routes, func(rt model.Route) []string { return rt.StationIDs })
	vehicleIDs := uniqueIDs(routes, func(rt model.Route) []string { return rt.VehicleIDs })

	stations, err := s.store.StationsByIDs(r.Context(), uid, stationIDs)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	vehicles, err := s.store.VehiclesByIDs(r.Context(), uid, vehicleIDs)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	active := 0
	views := make([]routeView, 0, len(routes))
	for _, rt := range routes {
		waypoints := s.waypoints(rt, stations)
		profile := train.ComputeProfile(s.consist(rt, vehicles))
		progress, reason := s.project(rt, waypoints, profile)
		// A route that can never move is not en route.
		if reason == sim.ReasonOK && progress.PercentCompletion < 100 {
			active++
		}
		views = append(views, routeView{Route: rt, Progress: progress, StatusReason: reasonLabel(reason)})
	}
	if s.metrics != nil {
		s.metrics.ActiveRoutes.Set(float64(active))
	}
	writeJSON(w, http.StatusOK, map[string]any{"routes": views})
}

type timetableEntryView struct {
	Station          sim.Waypoint `json:"station"`
	EstimatedArrival string       `json:"estimatedArrival"`
	Distance         float64      `json:"distance"`
	IsNext           bool         `json:"isNext"`
	IsPassed         bool         `json:"isPassed"`
}

type routeDetailView struct {
	routeView
	Stations       []sim.Waypoint       `json:"stations"`
	Vehicles       []train.Vehicle      `json:"vehicles"`
	TrainProfile   train.Profile        `json:"trainMetrics"`
	CurrentStation *sim.Waypoint        `json:"currentStation,omitempty"`
	NextStation    *sim.Waypoint        `json:"nextStation,omitempty"`
	Timetable      []timetableEntryView `json:"timetable"`
}

func (s *Server) handleRouteByID(w http.ResponseWriter, r *http.Request) {
	uid := playerID(r)
	rt, err := s.store.RouteByID(r.Context(), uid, chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "route not found")
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	stations, err := s.store.StationsByIDs(r.Context(), uid, rt.StationIDs)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	vehicles, err := s.store.VehiclesByIDs(r.Context(), uid, rt.VehicleIDs)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	waypoints := s.waypoints(*rt, stations)
	consist := s.consist(*rt, vehicles)
	profile := train.ComputeProfile(consist)
	progress, reason := s.project(*rt, waypoints, profile)

	detail := routeDetailView{
		routeView:    routeView{Route: *rt, Progress: progress, StatusReason: reasonLabel(reason)},
		Stations:     waypoints,
		Vehicles:     consist,
		TrainProfile: profile,
	}
	if n := len(waypoints); n > 0 {
		cur := sim.SegmentIndex(n, progress.PercentCompletion)
		next := cur + 1
		if next > n-1 {
			next = n - 1
		}
		detail.CurrentStation = &waypoints[cur]
		detail.NextStation = &waypoints[next]
	}
	for _, e := range sim.Timetable(waypoints, profile, rt.StartedAt, progress.PercentCompletion) {
		detail.Timetable = append(detail.Timetable, timetableEntryView{
			Station:          e.Waypoint,
			EstimatedArrival: e.EstimatedArrival.In(s.loc).Format("2006/01/02 15:04:05"),
			Distance:         e.DistanceKm,
			IsNext:           e.Next,
			IsPassed:         e.Passed,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"route": detail})
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		VehicleIDs     []string `json:"vehicleIds"`
		AllStationIDs  []string `json:"allStationIds"`
		StartStationID string   `json:"startStationId"`
		EndStationID   string   `json:"endStationId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad request")
		return
	}
	if len(req.VehicleIDs) == 0 {
		writeJSONError(w, http.StatusBadRequest, "vehicle ids are required")
		return
	}
	if len(req.AllStationIDs) < 2 {
		writeJSONError(w, http.StatusBadRequest, "at least 2 stations are required for a route")
		return
	}
	if req.StartStationID == "" || req.EndStationID == "" {
		writeJSONError(w, http.StatusBadRequest, "start and end station ids are required")
		return
	}

	uid := playerID(r)
	vehicles, err := s.store.VehiclesByIDs(r.Context(), uid, req.VehicleIDs)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	consist := make([]train.Vehicle, 0, len(req.VehicleIDs))
	for _, id := range req.VehicleIDs {
		row, ok := vehicles[id]
		if !ok {
			writeJSONError(w, http.StatusBadRequest, "unknown vehicle "+id)
			return
		}
		if row.RouteID != "" {
			writeJSONError(w, http.StatusBadRequest, "vehicle "+id+" is already dispatched")
			return
		}
		consist = append(consist, s.catalog.Resolve(row))
	}
	if !train.HasLocomotive(consist) {
		writeJSONError(w, http.StatusBadRequest, "at least one locomotive is required")
		return
	}

	routeID, err := s.store.DispatchRoute(r.Context(), uid, req.AllStationIDs, req.VehicleIDs,
		req.StartStationID, req.EndStationID, s.now().UTC())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to create route")
		return
	}
	if s.metrics != nil {
		s.metrics.RoutesDispatched.Inc()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"routeId": routeID,
		"message": "train dispatched",
	})
}

// ===== simulation glue =====

// waypoints resolves the route's ordered station ids against fetched rows,
// skipping stale references the same way the record store tolerates them.
func (s *Server) waypoints(rt model.Route, stations map[string]model.Station) []sim.Waypoint {
	wps := make([]sim.Waypoint, 0, len(rt.StationIDs))
	for _, id := range rt.StationIDs {
		st, ok := stations[id]
		if !ok {
			continue
		}
		wps = append(wps, sim.Waypoint{
			ID:      st.ID,
			Name:    st.Name,
			LocName: st.LocName,
			Point:   geo.Point{Latitude: st.Latitude, Longitude: st.Longitude},
		})
	}
	return wps
}

func (s *Server) consist(rt model.Route, vehicles map[string]model.Vehicle) []train.Vehicle {
	out := make([]train.Vehicle, 0, len(rt.VehicleIDs))
	for _, id := range rt.VehicleIDs {
		row, ok := vehicles[id]
		if !ok {
			continue
		}
		out = append(out, s.catalog.Resolve(row))
	}
	return out
}

// project invokes the engine with the current wall clock and pushes the
// position to the live feed.
func (s *Server) project(rt model.Route, waypoints []sim.Waypoint, profile train.Profile) (sim.Progress, sim.Reason) {
	start := time.Now()
	progress, reason := sim.Project(waypoints, profile, rt.StartedAt, s.now())
	if s.metrics != nil {
		s.metrics.ObserveProjection(time.Since(start))
	}
	if s.pub != nil && reason == sim.ReasonOK {
		_ = s.pub.PublishPosition(publisher.PositionMessage{
			RouteID:           rt.ID,
			Timestamp:         s.now().UTC(),
			Latitude:          progress.Current.Latitude,
			Longitude:         progress.Current.Longitude,
			Bearing:           geo.BearingDeg(progress.Current, progress.Next),
			PercentCompletion: progress.PercentCompletion,
			ETA:               progress.ETA,
		})
	}
	return progress, reason
}

func reasonLabel(r sim.Reason) string {
	if r == sim.ReasonOK {
		return ""
	}
	return r.String()
}

func uniqueIDs(routes []model.Route, pick func(model.Route) []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, rt := range routes {
		for _, id := range pick(rt) {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}

// ===== helpers =====

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	if msg == "" {
		msg = http.StatusText(status)
	}
	writeJSON(w, status, map[string]string{"error": msg})
}
