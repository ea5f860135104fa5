package glass

import (
	"math"
	"strings"
)

// featureCodes maps raw distributor feature codes to normalized tags.
// Codes not in this table pass through lower-cased so downstream consumers
// never silently lose information.
var featureCodes = map[string]string{
	"RS":   "rain_sensor",
	"HUD":  "hud",
	"HTD":  "heated",
	"ANT":  "antenna",
	"ADAS": "adas",
}

// NormalizeFeatures splits a raw distributor feature string on whitespace and
// commas and maps each code through the normalization table. Duplicates are
// dropped, order is preserved.
func NormalizeFeatures(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	if len(fields) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		tag, ok := featureCodes[strings.ToUpper(f)]
		if !ok {
			tag = strings.ToLower(f)
		}
		if seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}

// Cents converts a price in major currency units to integer cents,
// rounding to nearest. Truncation would systematically underbill.
func Cents(major float64) int64 {
	return int64(math.Round(major * 100))
}
