package train

// Role discriminates the two vehicle kinds of a consist. Only locomotives
// carry traction ratings; cars are dead weight.
type Role string

const (
	RoleLocomotive Role = "locomotive"
	RoleCar        Role = "car"
)

// Vehicle is one unit of a consist. MaxSpeed (km/h) and MaxWeight (kg) are
// meaningful only when Role is RoleLocomotive.
type Vehicle struct {
	ID        string  `json:"id"`
	Model     string  `json:"model"`
	Role      Role    `json:"role"`
	Weight    float64 `json:"weight"`
	MaxSpeed  float64 `json:"max_speed,omitempty"`
	MaxWeight float64 `json:"max_weight,omitempty"`
}

// Profile is the derived performance of a consist. Recomputed on demand,
// never stored.
type Profile struct {
	TotalWeight    float64 `json:"totalWeight"`
	MaxWeight      float64 `json:"maxWeight"`
	MaxSpeed       float64 `json:"maxSpeed"`
	EffectiveSpeed float64 `json:"effectiveSpeed"`
	Overweight     bool    `json:"isOverweight"`
}

// ComputeProfile derives the performance profile of a consist.
//
// Multiple locomotives pool their hauling capacity (MaxWeight sums) while
// the fastest locomotive sets the speed ceiling. When the consist outweighs
// its pooled capacity, speed derates proportionally with a floor of 1 km/h
// so an overweight train still crawls forward instead of stalling.
//
// A consist with no locomotive cannot move and yields the zero profile;
// callers gate dispatch on that.
func ComputeProfile(consist []Vehicle) Profile {
	var (
		locomotives int
		totalWeight float64
		maxWeight   float64
		maxSpeed    float64
	)
	for _, v := range consist {
		totalWeight += v.Weight
		switch v.Role {
		case RoleLocomotive:
			locomotives++
			maxWeight += v.MaxWeight
			if v.MaxSpeed > maxSpeed {
				maxSpeed = v.MaxSpeed
			}
		case RoleCar:
		}
	}
	if locomotives == 0 {
		return Profile{}
	}

	effective := maxSpeed
	overweight := totalWeight > maxWeight
	if overweight && maxWeight > 0 {
		ratio := (totalWeight - maxWeight) / maxWeight
		effective = maxSpeed * (1 - ratio)
		if effective < 1 {
			effective = 1
		}
	}

	return Profile{
		TotalWeight:    totalWeight,
		MaxWeight:      maxWeight,
		MaxSpeed:       maxSpeed,
		EffectiveSpeed: effective,
		Overweight:     overweight,
	}
}

// HasLocomotive reports whether the consist contains at least one
// locomotive, the precondition for dispatch.
func HasLocomotive(consist []Vehicle) bool {
	for _, v := range consist {
		if v.Role == RoleLocomotive {
			return true
		}
	}
	return false
}
