package plugin

import "time"

// Measurement is the raw result of one task run. Field values are coerced to
// float64 by the sink; anything that does not coerce is dropped.
type Measurement struct {
	Name   string
	Fields map[string]any
}

// Point is a Measurement after coercion: every field is a finite float64.
type Point struct {
	Measurement string             `json:"measurement"`
	Fields      map[string]float64 `json:"fields"`
	Time        time.Time          `json:"time"`
}
