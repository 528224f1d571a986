package gps

// Location is one decoded position fix. Alt is nil when the fix is 2D-only.
type Location struct {
	Lat float64  `json:"lat"`
	Lon float64  `json:"lon"`
	Alt *float64 `json:"alt,omitempty"`
}

// Velocity is one decoded motion report. Nil fields were not reported by the
// daemon; they are never defaulted to zero.
type Velocity struct {
	// SpeedMS is ground speed in m/s.
	SpeedMS *float64 `json:"speed_ms,omitempty"`
	// TrackDeg is course over ground, compass degrees.
	TrackDeg *float64 `json:"track_deg,omitempty"`
	// ClimbMS is vertical speed in m/s, positive up.
	ClimbMS *float64 `json:"climb_ms,omitempty"`
}

// Quality is one decoded satellite/sky report.
// SatellitesUsed never exceeds Satellites.
type Quality struct {
	Satellites     int `json:"satellites"`
	SatellitesUsed int `json:"satellites_used"`

	HDOP *float64 `json:"hdop,omitempty"`
	VDOP *float64 `json:"vdop,omitempty"`
	PDOP *float64 `json:"pdop,omitempty"`
}
