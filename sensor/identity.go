package sensor

import (
	"encoding/json"
	"time"
)

// Identity is a sensor record as held by the inventory service. Tasks keep a
// read-only copy for their lifetime.
type Identity struct {
	ID            string `json:"id"`
	Category      string `json:"type"`
	DisplayName   string `json:"name"`
	WalletAddress string `json:"wallet_address,omitempty"`
}

// Reading is one synthetic measurement published to the broker
type Reading struct {
	SensorID  string    `json:"sensorId"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// NewReading stamps a reading in UTC.
func NewReading(sensorID string, value float64, at time.Time) Reading {
	return Reading{SensorID: sensorID, Value: value, Timestamp: at.UTC()}
}

// MarshalJSON renders the timestamp as RFC 3339 with nanoseconds in UTC.
func (r Reading) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		SensorID  string  `json:"sensorId"`
		Value     float64 `json:"value"`
		Timestamp string  `json:"timestamp"`
	}{
		SensorID:  r.SensorID,
		Value:     r.Value,
		Timestamp: r.Timestamp.UTC().Format(time.RFC3339Nano),
	})
}
