package models

// WeightUnit is the unit used for cargo weight and vehicle capacity.
type WeightUnit string

const (
	WeightUnitKg   WeightUnit = "kg"
	WeightUnitTons WeightUnit = "tons"
)

// IsValidWeightUnit checks if a weight unit is known. An empty unit is treated as kilograms.
func IsValidWeightUnit(u WeightUnit) bool {
	switch u {
	case WeightUnitKg, WeightUnitTons, "":
		return true
	default:
		return false
	}
}

// ToKilograms converts a value expressed in u to kilograms.
func (u WeightUnit) ToKilograms(value float64) float64 {
	if u == WeightUnitTons {
		return value * 1000
	}
	return value
}
