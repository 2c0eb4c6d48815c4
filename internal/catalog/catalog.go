package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"railnet/internal/model"
	"railnet/internal/train"
)

// Spec is one catalog entry from locomotives.json or cars.json. Cars carry
// only a weight; locomotives also carry traction ratings.
type Spec struct {
	Model     string  `json:"model"`
	Name      string  `json:"name"`
	Weight    float64 `json:"weight"`
	MaxSpeed  float64 `json:"max_speed,omitempty"`
	MaxWeight float64 `json:"max_weight,omitempty"`
}

// Catalog resolves stored vehicle rows into full consist vehicles using
// the static model data shipped with the game.
type Catalog struct {
	locomotives map[string]Spec
	cars        map[string]Spec
}

// Load reads locomotives.json and cars.json from dir.
func Load(dir string) (*Catalog, error) {
	locos, err := loadSpecs(filepath.Join(dir, "locomotives.json"))
	if err != nil {
		return nil, fmt.Errorf("load locomotives: %w", err)
	}
	cars, err := loadSpecs(filepath.Join(dir, "cars.json"))
	if err != nil {
		return nil, fmt.Errorf("load cars: %w", err)
	}
	return &Catalog{locomotives: locos, cars: cars}, nil
}

func loadSpecs(path string) (map[string]Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var specs []Spec
	if err := json.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	byModel := make(map[string]Spec, len(specs))
	for _, s := range specs {
		if s.Model == "" {
			return nil, fmt.Errorf("%s: entry with empty model", path)
		}
		byModel[s.Model] = s
	}
	return byModel, nil
}

// Resolve turns a stored vehicle row into a consist vehicle. Rows whose
// model is missing from the catalog resolve to a zero-weight car, matching
// the tolerance of the route store for stale references.
func (c *Catalog) Resolve(row model.Vehicle) train.Vehicle {
	if s, ok := c.locomotives[row.Model]; ok {
		return train.Vehicle{
			ID:        row.ID,
			Model:     row.Model,
			Role:      train.RoleLocomotive,
			Weight:    s.Weight,
			MaxSpeed:  s.MaxSpeed,
			MaxWeight: s.MaxWeight,
		}
	}
	if s, ok := c.cars[row.Model]; ok {
		return train.Vehicle{
			ID:     row.ID,
			Model:  row.Model,
			Role:   train.RoleCar,
			Weight: s.Weight,
		}
	}
	return train.Vehicle{ID: row.ID, Model: row.Model, Role: train.RoleCar}
}

// ResolveAll maps a list of rows preserving order.
func (c *Catalog) ResolveAll(rows []model.Vehicle) []train.Vehicle {
	out := make([]train.Vehicle, 0, len(rows))
	for _, r := range rows {
		out = append(out, c.Resolve(r))
	}
	return out
}

// Locomotives returns the locomotive specs for catalog listings.
func (c *Catalog) Locomotives() []Spec { return specList(c.locomotives) }

// Cars returns the car specs for catalog listings.
func (c *Catalog) Cars() []Spec { return specList(c.cars) }

func specList(m map[string]Spec) []Spec {
	out := make([]Spec, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}
	return out
}
