package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"railnet/internal/model"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrStationExists     = errors.New("station already exists")
)

func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// Store reads and writes player, station, vehicle and route rows. The
// simulation engine never touches it; callers hand the engine plain data
// fetched here.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) StationsByUser(ctx context.Context, userID string) ([]model.Station, error) {
	q := `SELECT id, name, COALESCE(loc_name, ''), level, latitude, longitude
          FROM stations WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := s.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("query stations: %w", err)
	}
	defer rows.Close()

	var stations []model.Station
	for rows.Next() {
		var st model.Station
		if err := rows.Scan(&st.ID, &st.Name, &st.LocName, &st.Level, &st.Latitude, &st.Longitude); err != nil {
			return nil, err
		}
		stations = append(stations, st)
	}
	return stations, rows.Err()
}

// StationsByIDs returns the user's stations among ids, keyed by id.
func (s *Store) StationsByIDs(ctx context.Context, userID string, ids []string) (map[string]model.Station, error) {
	if len(ids) == 0 {
		return map[string]model.Station{}, nil
	}
	q := `SELECT id, name, COALESCE(loc_name, ''), level, latitude, longitude
          FROM stations WHERE user_id = $1 AND id = ANY($2)`
	rows, err := s.db.QueryContext(ctx, q, userID, ids)
	if err != nil {
		return nil, fmt.Errorf("query stations by ids: %w", err)
	}
	defer rows.Close()

	out := make(map[string]model.Station, len(ids))
	for rows.Next() {
		var st model.Station
		if err := rows.Scan(&st.ID, &st.Name, &st.LocName, &st.Level, &st.Latitude, &st.Longitude); err != nil {
			return nil, err
		}
		out[st.ID] = st
	}
	return out, rows.Err()
}

func (s *Store) StationByName(ctx context.Context, userID, name string) (*model.Station, error) {
	q := `SELECT id, name, COALESCE(loc_name, ''), level, latitude, longitude
          FROM stations WHERE user_id = $1 AND name = $2`
	var st model.Station
	err := s.db.QueryRowContext(ctx, q, userID, name).
		Scan(&st.ID, &st.Name, &st.LocName, &st.Level, &st.Latitude, &st.Longitude)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query station by name: %w", err)
	}
	return &st, nil
}

func (s *Store) VehiclesAtStation(ctx context.Context, userID, stationID string) ([]model.Vehicle, error) {
	q := `SELECT id, model, type FROM vehicles WHERE user_id = $1 AND station_id = $2`
	rows, err := s.db.QueryContext(ctx, q, userID, stationID)
	if err != nil {
		return nil, fmt.Errorf("query vehicles: %w", err)
	}
	defer rows.Close()

	var vehicles []model.Vehicle
	for rows.Next() {
		var v model.Vehicle
		if err := rows.Scan(&v.ID, &v.Model, &v.Kind); err != nil {
			return nil, err
		}
		v.StationID = stationID
		vehicles = append(vehicles, v)
	}
	return vehicles, rows.Err()
}

// VehiclesByIDs returns the user's vehicles among ids, keyed by id.
func (s *Store) VehiclesByIDs(ctx context.Context, userID string, ids []string) (map[string]model.Vehicle, error) {
	if len(ids) == 0 {
		return map[string]model.Vehicle{}, nil
	}
	q := `SELECT id, model, type, COALESCE(station_id::text, ''), COALESCE(route_id::text, '')
          FROM vehicles WHERE user_id = $1 AND id = ANY($2)`
	rows, err := s.db.QueryContext(ctx, q, userID, ids)
	if err != nil {
		return nil, fmt.Errorf("query vehicles by ids: %w", err)
	}
	defer rows.Close()

	out := make(map[string]model.Vehicle, len(ids))
	for rows.Next() {
		var v model.Vehicle
		if err := rows.Scan(&v.ID, &v.Model, &v.Kind, &v.StationID, &v.RouteID); err != nil {
			return nil, err
		}
		out[v.ID] = v
	}
	return out, rows.Err()
}

func (s *Store) RoutesByUser(ctx context.Context, userID string) ([]model.Route, error) {
	q := `SELECT id, array_to_string(all_station_ids, ','), array_to_string(all_vehicle_ids, ','),
                 start_station_id, end_station_id, started_at, created_at
          FROM routes WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := s.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("query routes: %w", err)
	}
	defer rows.Close()

	var routes []model.Route
	for rows.Next() {
		r, err := scanRoute(rows)
		if err != nil {
			return nil, err
		}
		routes = append(routes, r)
	}
	return routes, rows.Err()
}

func (s *Store) RouteByID(ctx context.Context, userID, routeID string) (*model.Route, error) {
	q := `SELECT id, array_to_string(all_station_ids, ','), array_to_string(all_vehicle_ids, ','),
                 start_station_id, end_station_id, started_at, created_at
          FROM routes WHERE user_id = $1 AND id = $2`
	row := s.db.QueryRowContext(ctx, q, userID, routeID)
	r, err := scanRoute(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query route: %w", err)
	}
	return &r, nil
}

// DispatchRoute creates a route and moves the consist onto it in one
// transaction: vehicles leave their station and become attached to the new
// route. Returns the new route id.
func (s *Store) DispatchRoute(ctx context.Context, userID string, stationIDs, vehicleIDs []string, startStationID, endStationID string, startedAt time.Time) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin dispatch: %w", err)
	}
	defer tx.Rollback()

	var routeID string
	insert := `INSERT INTO routes (user_id, all_station_ids, all_vehicle_ids, start_station_id, end_station_id, started_at, created_at, updated_at)
               VALUES ($1, string_to_array($2, ','), string_to_array($3, ','), $4, $5, $6, $6, $6)
               RETURNING id`
	err = tx.QueryRowContext(ctx, insert, userID, joinIDs(stationIDs), joinIDs(vehicleIDs),
		startStationID, endStationID, startedAt).Scan(&routeID)
	if err != nil {
		return "", fmt.Errorf("insert route: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE vehicles SET station_id = NULL, route_id = $1, updated_at = $2
         WHERE user_id = $3 AND id = ANY($4)`,
		routeID, startedAt, userID, vehicleIDs)
	if err != nil {
		return "", fmt.Errorf("attach vehicles: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n != int64(len(vehicleIDs)) {
		return "", fmt.Errorf("attach vehicles: %d of %d rows updated", n, len(vehicleIDs))
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit dispatch: %w", err)
	}
	return routeID, nil
}

// PurchaseStation creates a station and deducts its cost from the player's
// money in one transaction. Returns the created station and the remaining
// balance.
func (s *Store) PurchaseStation(ctx context.Context, userID string, st model.Station, cost int64) (*model.Station, int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("begin purchase: %w", err)
	}
	defer tx.Rollback()

	var money int64
	err = tx.QueryRowContext(ctx, `SELECT money FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&money)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("query player money: %w", err)
	}
	if money < cost {
		return nil, money, ErrInsufficientFunds
	}

	var exists bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM stations WHERE user_id = $1 AND name = $2)`,
		userID, st.Name).Scan(&exists)
	if err != nil {
		return nil, money, fmt.Errorf("check station: %w", err)
	}
	if exists {
		return nil, money, ErrStationExists
	}

	now := time.Now().UTC()
	err = tx.QueryRowContext(ctx,
		`INSERT INTO stations (user_id, name, loc_name, level, latitude, longitude, created_at, updated_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
         RETURNING id`,
		userID, st.Name, st.LocName, st.Level, st.Latitude, st.Longitude, now).Scan(&st.ID)
	if err != nil {
		return nil, money, fmt.Errorf("insert station: %w", err)
	}

	remaining := money - cost
	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET money = $1 WHERE id = $2`, remaining, userID); err != nil {
		return nil, money, fmt.Errorf("deduct money: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, money, fmt.Errorf("commit purchase: %w", err)
	}
	return &st, remaining, nil
}

func (s *Store) PlayerMoney(ctx context.Context, userID string) (int64, error) {
	var money int64
	err := s.db.QueryRowContext(ctx, `SELECT money FROM users WHERE id = $1`, userID).Scan(&money)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("query player money: %w", err)
	}
	return money, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoute(row rowScanner) (model.Route, error) {
	var r model.Route
	var stations, vehicles string
	if err := row.Scan(&r.ID, &stations, &vehicles, &r.StartStationID, &r.EndStationID, &r.StartedAt, &r.CreatedAt); err != nil {
		return model.Route{}, err
	}
	r.StationIDs = splitIDs(stations)
	r.VehicleIDs = splitIDs(vehicles)
	return r, nil
}

func splitIDs(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func joinIDs(ids []string) string {
	return strings.Join(ids, ",")
}
