package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"railnet/internal/model"
	"railnet/internal/train"
)

func writeCatalog(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	locos := `[{"model":"HXD1","name":"Hexie HXD1","weight":200000,"max_speed":120,"max_weight":10000000}]`
	cars := `[{"model":"YZ22","name":"Hard Seat Coach 22","weight":44000}]`
	if err := os.WriteFile(filepath.Join(dir, "locomotives.json"), []byte(locos), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "cars.json"), []byte(cars), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestLoadAndResolve(t *testing.T) {
	c, err := Load(writeCatalog(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	v := c.Resolve(model.Vehicle{ID: "v1", Model: "HXD1", Kind: "locomotive"})
	if v.Role != train.RoleLocomotive {
		t.Fatalf("HXD1 role = %v, want locomotive", v.Role)
	}
	if v.Weight != 200000 || v.MaxSpeed != 120 || v.MaxWeight != 10000000 {
		t.Fatalf("unexpected HXD1 ratings: %+v", v)
	}

	v = c.Resolve(model.Vehicle{ID: "v2", Model: "YZ22", Kind: "car"})
	if v.Role != train.RoleCar || v.Weight != 44000 {
		t.Fatalf("unexpected YZ22 resolution: %+v", v)
	}
	if v.MaxSpeed != 0 || v.MaxWeight != 0 {
		t.Fatalf("car should carry no traction ratings: %+v", v)
	}
}

func TestResolveUnknownModel(t *testing.T) {
	c, err := Load(writeCatalog(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	v := c.Resolve(model.Vehicle{ID: "v3", Model: "NONEXISTENT"})
	if v.Role != train.RoleCar || v.Weight != 0 {
		t.Fatalf("unknown model should resolve to zero-weight car, got %+v", v)
	}
}

func TestResolveAllPreservesOrder(t *testing.T) {
	c, err := Load(writeCatalog(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	rows := []model.Vehicle{
		{ID: "v1", Model: "YZ22"},
		{ID: "v2", Model: "HXD1"},
	}
	consist := c.ResolveAll(rows)
	if len(consist) != 2 || consist[0].ID != "v1" || consist[1].ID != "v2" {
		t.Fatalf("order not preserved: %+v", consist)
	}
}

func TestLoadMissingDir(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatalf("expected error for missing catalog directory")
	}
}

func TestLoadShippedData(t *testing.T) {
	c, err := Load(filepath.Join("..", "..", "data"))
	if err != nil {
		t.Fatalf("load shipped catalog: %v", err)
	}
	if len(c.Locomotives()) == 0 || len(c.Cars()) == 0 {
		t.Fatalf("shipped catalog should contain locomotives and cars")
	}
}
