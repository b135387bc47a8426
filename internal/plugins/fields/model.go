// Package fields manages the farm's field registry: named land parcels with
// an area and the crop currently planted. Reads are open to any logged-in
// user; mutations are reserved for administrators.
package fields

import "time"

// Field represents a parcel of farmland.
type Field struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	AreaHectares float64    `json:"area_hectares"`
	Crop         string     `json:"crop,omitempty"`
	SownAt       *time.Time `json:"sown_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// FieldInput is the payload for creating or updating a field.
type FieldInput struct {
	Name         string  `json:"name" form:"name"`
	AreaHectares float64 `json:"area_hectares" form:"area_hectares"`
	Crop         string  `json:"crop" form:"crop"`

	// SownAt is a date in 2006-01-02 form, empty for fallow fields.
	SownAt string `json:"sown_at" form:"sown_at"`
}
