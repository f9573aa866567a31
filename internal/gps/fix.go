package gps

// Fix holds a single decoded GPGGA position fix.
type Fix struct {
	Valid         bool    `json:"valid"`         // Fix quality was non-zero
	UTCTime       int64   `json:"utcTime"`       // hhmmss as transmitted
	FixQuality    uint8   `json:"fixQuality"`    // 0=none, 1=GPS, 2=DGPS, ...
	NumSatellites uint8   `json:"numSatellites"` // Sats in use
	Altitude      float64 `json:"altitude"`      // Meters above MSL
	Latitude      float64 `json:"latitude"`      // Decimal degrees, south negative
	Longitude     float64 `json:"longitude"`     // Decimal degrees, west negative
}
