// internal/models/criteria.go
package models

import "time"

type PropertyType string

const (
	PropertyHouse     PropertyType = "HOUSE"
	PropertyApartment PropertyType = "APARTMENT"
	PropertyBoth      PropertyType = "BOTH"
)

// Valid reports whether t is one of the known property types.
func (t PropertyType) Valid() bool {
	switch t {
	case PropertyHouse, PropertyApartment, PropertyBoth:
		return true
	}
	return false
}

// Criteria holds a user's search preferences. Nil bounds mean "no preference".
type Criteria struct {
	UserID       string       `json:"userId"`
	PropertyType PropertyType `json:"propertyType"`
	MinPrice     *float64     `json:"minPrice,omitempty"`
	MaxPrice     *float64     `json:"maxPrice,omitempty"`
	Locations    []string     `json:"locations"`
	MinRooms     *int         `json:"minRooms,omitempty"`
	MaxRooms     *int         `json:"maxRooms,omitempty"`
	MinSurface   *float64     `json:"minSurface,omitempty"`
	MaxSurface   *float64     `json:"maxSurface,omitempty"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// Clone returns a deep copy so callers can hand criteria across goroutines safely.
func (c *Criteria) Clone() *Criteria {
	if c == nil {
		return nil
	}
	out := *c
	out.Locations = append([]string(nil), c.Locations...)
	out.MinPrice = cloneFloat(c.MinPrice)
	out.MaxPrice = cloneFloat(c.MaxPrice)
	out.MinSurface = cloneFloat(c.MinSurface)
	out.MaxSurface = cloneFloat(c.MaxSurface)
	out.MinRooms = cloneInt(c.MinRooms)
	out.MaxRooms = cloneInt(c.MaxRooms)
	return &out
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}

// Float64 and Int are small helpers for building optional fields.
func Float64(v float64) *float64 { return &v }

func Int(v int) *int { return &v }

func String(v string) *string { return &v }
