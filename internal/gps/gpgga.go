package gps

import (
	"strconv"
	"strings"
)

const (
	// MaxTokens bounds how many comma-separated fields are looked at.
	MaxTokens = 15
	// minGGATokens covers the highest field index read (altitude, 9).
	minGGATokens = 10

	ggaPrefix = "$GPGGA"
)

// Tokenize splits line on commas, keeping empty fields, and returns at most
// max tokens. truncated reports whether fields beyond max were dropped.
// A max below zero is treated as zero.
func Tokenize(line string, max int) (tokens []string, truncated bool) {
	if max < 0 {
		max = 0
	}
	tokens = make([]string, 0, max)
	for {
		if len(tokens) == max {
			return tokens, true
		}
		field, rest, found := strings.Cut(line, ",")
		tokens = append(tokens, field)
		if !found {
			return tokens, false
		}
		line = rest
	}
}

// Decode parses a $GPGGA sentence into out.
//
// GGA fields:
//
//	0: talker+type
//	1: time (hhmmss.ss)
//	2: latitude (ddmm.mmmm)
//	3: N/S
//	4: longitude (dddmm.mmmm)
//	5: E/W
//	6: fix quality (0=invalid)
//	7: number of satellites
//	8: HDOP
//	9: altitude (meters)
//
// Sentences with fewer than ten fields are rejected and out is left alone.
// A fix quality of zero clears out.Valid and is rejected. Empty numeric
// fields decode as zero. The checksum is not verified.
func Decode(line string, out *Fix) bool {
	f, _ := Tokenize(line, MaxTokens)
	if len(f) < minGGATokens {
		return false
	}

	quality := uint8(atoi(f[6]))
	if quality == 0 {
		out.Valid = false
		return false
	}

	out.Valid = true
	out.UTCTime = atoi(f[1])
	out.FixQuality = quality
	out.NumSatellites = uint8(atoi(f[7]))
	out.Altitude = atof(f[9])

	lat := LatLon(f[2])
	if strings.HasPrefix(f[3], "S") {
		lat = -lat
	}
	out.Latitude = lat

	lon := LatLon(f[4])
	if strings.HasPrefix(f[5], "W") {
		lon = -lon
	}
	out.Longitude = lon

	return true
}

// LatLon converts an NMEA ddmm.mmmm (or dddmm.mmmm) field to unsigned
// decimal degrees. An empty field yields 0.
func LatLon(raw string) float64 {
	if raw == "" {
		return 0
	}
	val := atof(raw)
	deg := float64(int(val / 100))
	min := val - deg*100
	return deg + min/60
}

// atoi parses the leading integer of s, ignoring anything after it, so
// "123519.00" yields 123519. No digits yields 0.
func atoi(s string) int64 {
	n, _ := strconv.ParseInt(numericPrefix(s, false), 10, 64)
	return n
}

// atof parses the leading decimal number of s. No digits yields 0.
func atof(s string) float64 {
	v, _ := strconv.ParseFloat(numericPrefix(s, true), 64)
	return v
}

// numericPrefix returns the longest prefix of s (after leading spaces) that
// looks like an optionally signed decimal number.
func numericPrefix(s string, frac bool) string {
	s = strings.TrimLeft(s, " ")
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	digits := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
		digits++
	}
	if frac && i < len(s) && s[i] == '.' {
		j := i + 1
		for j < len(s) && s[j] >= '0' && s[j] <= '9' {
			j++
			digits++
		}
		i = j
	}
	if digits == 0 {
		return "0"
	}
	return strings.TrimSuffix(s[:i], ".")
}
