package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"railnet/internal/model"
)

func TestSplitIDs(t *testing.T) {
	if got := splitIDs(""); got != nil {
		t.Fatalf("empty string should split to nil, got %v", got)
	}
	got := splitIDs("a,b,c")
	if len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Fatalf("unexpected split: %v", got)
	}
}

func TestJoinIDsRoundTrip(t *testing.T) {
	ids := []string{"s1", "s2", "s3"}
	back := splitIDs(joinIDs(ids))
	if len(back) != len(ids) {
		t.Fatalf("round trip length %d, want %d", len(back), len(ids))
	}
	for i := range ids {
		if back[i] != ids[i] {
			t.Fatalf("round trip element %d = %q, want %q", i, back[i], ids[i])
		}
	}
}

// Scripted driver: each statement the store issues must match the next step
// in order, so the transactional paths run without a postgres instance.

type step struct {
	match    string // substring the SQL must contain
	cols     []string
	rows     [][]driver.Value
	affected int64
}

type script struct {
	mu        sync.Mutex
	steps     []step
	pos       int
	commits   int
	rollbacks int
}

func (s *script) next(query string) (*step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.steps) {
		return nil, fmt.Errorf("unexpected statement %q", query)
	}
	st := &s.steps[s.pos]
	if !strings.Contains(query, st.match) {
		return nil, fmt.Errorf("statement %q does not contain %q", query, st.match)
	}
	s.pos++
	return st, nil
}

var scripts = struct {
	sync.Mutex
	m map[string]*script
}{m: map[string]*script{}}

type scriptDriver struct{}

func (scriptDriver) Open(name string) (driver.Conn, error) {
	scripts.Lock()
	defer scripts.Unlock()
	s, ok := scripts.m[name]
	if !ok {
		return nil, fmt.Errorf("unknown script %q", name)
	}
	return &scriptConn{script: s}, nil
}

func init() { sql.Register("scriptpg", scriptDriver{}) }

func openScripted(t *testing.T, steps []step) (*Store, *script) {
	t.Helper()
	sc := &script{steps: steps}
	scripts.Lock()
	name := fmt.Sprintf("%s-%d", t.Name(), len(scripts.m))
	scripts.m[name] = sc
	scripts.Unlock()

	db, err := sql.Open("scriptpg", name)
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return New(db), sc
}

type scriptConn struct{ script *script }

func (c *scriptConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("prepare not supported")
}
func (c *scriptConn) Close() error { return nil }
func (c *scriptConn) Begin() (driver.Tx, error) {
	return &scriptTx{script: c.script}, nil
}
func (c *scriptConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	return &scriptTx{script: c.script}, nil
}

// Accept any argument type (the pgx driver takes []string and time.Time too).
func (c *scriptConn) CheckNamedValue(*driver.NamedValue) error { return nil }

func (c *scriptConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	st, err := c.script.next(query)
	if err != nil {
		return nil, err
	}
	return &scriptRows{cols: st.cols, rows: st.rows}, nil
}

func (c *scriptConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	st, err := c.script.next(query)
	if err != nil {
		return nil, err
	}
	return driver.RowsAffected(st.affected), nil
}

type scriptTx struct{ script *script }

func (tx *scriptTx) Commit() error {
	tx.script.mu.Lock()
	defer tx.script.mu.Unlock()
	tx.script.commits++
	return nil
}

func (tx *scriptTx) Rollback() error {
	tx.script.mu.Lock()
	defer tx.script.mu.Unlock()
	tx.script.rollbacks++
	return nil
}

type scriptRows struct {
	cols []string
	rows [][]driver.Value
	pos  int
}

func (r *scriptRows) Columns() []string { return r.cols }
func (r *scriptRows) Close() error      { return nil }
func (r *scriptRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.pos])
	r.pos++
	return nil
}

func TestDispatchRouteCommits(t *testing.T) {
	st, sc := openScripted(t, []step{
		{match: "INSERT INTO routes", cols: []string{"id"}, rows: [][]driver.Value{{"route-9"}}},
		{match: "UPDATE vehicles", affected: 2},
	})
	id, err := st.DispatchRoute(context.Background(), "u1",
		[]string{"s1", "s2"}, []string{"v1", "v2"}, "s1", "s2", time.Now())
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if id != "route-9" {
		t.Fatalf("route id = %q", id)
	}
	if sc.commits != 1 || sc.rollbacks != 0 {
		t.Fatalf("commits=%d rollbacks=%d", sc.commits, sc.rollbacks)
	}
}

func TestDispatchRouteRollsBackOnPartialAttach(t *testing.T) {
	// Only one of two vehicles gets attached: the whole dispatch must roll
	// back, leaving no route behind.
	st, sc := openScripted(t, []step{
		{match: "INSERT INTO routes", cols: []string{"id"}, rows: [][]driver.Value{{"route-9"}}},
		{match: "UPDATE vehicles", affected: 1},
	})
	_, err := st.DispatchRoute(context.Background(), "u1",
		[]string{"s1", "s2"}, []string{"v1", "v2"}, "s1", "s2", time.Now())
	if err == nil || !strings.Contains(err.Error(), "1 of 2") {
		t.Fatalf("err = %v, want partial-attach failure", err)
	}
	if sc.commits != 0 || sc.rollbacks != 1 {
		t.Fatalf("commits=%d rollbacks=%d", sc.commits, sc.rollbacks)
	}
}

func TestPurchaseStationCommits(t *testing.T) {
	st, sc := openScripted(t, []step{
		{match: "SELECT money", cols: []string{"money"}, rows: [][]driver.Value{{int64(50000)}}},
		{match: "SELECT EXISTS", cols: []string{"exists"}, rows: [][]driver.Value{{false}}},
		{match: "INSERT INTO stations", cols: []string{"id"}, rows: [][]driver.Value{{"st-9"}}},
		{match: "UPDATE users", affected: 1},
	})
	created, remaining, err := st.PurchaseStation(context.Background(), "u1",
		model.Station{Name: "Shanghai", LocName: "Shanghai", Level: 1, Latitude: 31.23, Longitude: 121.47}, 10000)
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if created.ID != "st-9" || remaining != 40000 {
		t.Fatalf("created=%+v remaining=%d", created, remaining)
	}
	if sc.commits != 1 || sc.rollbacks != 0 {
		t.Fatalf("commits=%d rollbacks=%d", sc.commits, sc.rollbacks)
	}
}

func TestPurchaseStationInsufficientFundsRollsBack(t *testing.T) {
	st, sc := openScripted(t, []step{
		{match: "SELECT money", cols: []string{"money"}, rows: [][]driver.Value{{int64(500)}}},
	})
	_, remaining, err := st.PurchaseStation(context.Background(), "u1",
		model.Station{Name: "Shanghai"}, 10000)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	if remaining != 500 {
		t.Fatalf("remaining = %d, want the untouched balance", remaining)
	}
	if sc.commits != 0 || sc.rollbacks != 1 {
		t.Fatalf("commits=%d rollbacks=%d", sc.commits, sc.rollbacks)
	}
}

func TestPurchaseStationDuplicateNameRollsBack(t *testing.T) {
	st, sc := openScripted(t, []step{
		{match: "SELECT money", cols: []string{"money"}, rows: [][]driver.Value{{int64(50000)}}},
		{match: "SELECT EXISTS", cols: []string{"exists"}, rows: [][]driver.Value{{true}}},
	})
	_, _, err := st.PurchaseStation(context.Background(), "u1",
		model.Station{Name: "Beijing"}, 10000)
	if !errors.Is(err, ErrStationExists) {
		t.Fatalf("err = %v, want ErrStationExists", err)
	}
	if sc.commits != 0 || sc.rollbacks != 1 {
		t.Fatalf("commits=%d rollbacks=%d", sc.commits, sc.rollbacks)
	}
}

func TestPlayerMoney(t *testing.T) {
	st, _ := openScripted(t, []step{
		{match: "SELECT money", cols: []string{"money"}, rows: [][]driver.Value{{int64(777)}}},
	})
	money, err := st.PlayerMoney(context.Background(), "u1")
	if err != nil {
		t.Fatalf("player money: %v", err)
	}
	if money != 777 {
		t.Fatalf("money = %d, want 777", money)
	}
}

func TestPlayerMoneyNotFound(t *testing.T) {
	st, _ := openScripted(t, []step{
		{match: "SELECT money", cols: []string{"money"}},
	})
	if _, err := st.PlayerMoney(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
