package model

import "time"

// Station is a purchased station row.
type Station struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	LocName   string  `json:"loc_name,omitempty"`
	Level     int     `json:"level"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Vehicle is an owned vehicle row. Weight and traction ratings live in the
// model catalog, not in the store; Kind is "locomotive" or "car" as stored.
type Vehicle struct {
	ID        string `json:"id"`
	Model     string `json:"model"`
	Kind      string `json:"type"`
	StationID string `json:"station_id,omitempty"`
	RouteID   string `json:"route_id,omitempty"`
}

// Route is one dispatched consist. StationIDs and VehicleIDs are fixed at
// dispatch; StartedAt anchors the simulation. Progress figures are never
// stored, they are recomputed from StartedAt at read time.
type Route struct {
	ID             string    `json:"id"`
	StationIDs     []string  `json:"all_station_ids"`
	VehicleIDs     []string  `json:"all_vehicle_ids"`
	StartStationID string    `json:"start_station_id"`
	EndStationID   string    `json:"end_station_id"`
	StartedAt      time.Time `json:"started_at"`
	CreatedAt      time.Time `json:"created_at"`
}
