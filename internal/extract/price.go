package extract

import (
	"math"
	"strconv"
	"strings"
)

// NotFoundText is the raw price text reported when no selector matched.
const NotFoundText = "Non trouvé"

// ExtractPrice parses a raw, human-formatted price. It never fails: empty
// input, the not-found sentinel, and anything unparseable produce 0.
//
// Only digits, '.' and ',' are kept and trailing separators dropped; a leading
// separator reads as "0.". When both separators occur, the last one is the
// decimal separator; a lone ',' or '.' is decimal; a separator repeated with
// no other separator present groups thousands only when every group after the
// first has three digits, and anything else is rejected.
func ExtractPrice(raw string) float64 {
	if strings.TrimSpace(raw) == "" || strings.Contains(raw, NotFoundText) {
		return 0
	}
	var b strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' {
			b.WriteRune(r)
		}
	}
	cleaned := strings.TrimRight(b.String(), ".,")
	if cleaned == "" {
		return 0
	}
	if cleaned[0] == '.' || cleaned[0] == ',' {
		cleaned = "0" + cleaned
	}
	cleaned, ok := normalizeSeparators(cleaned)
	if !ok {
		return 0
	}
	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
		return 0
	}
	return value
}

// normalizeSeparators keeps the decimal separator as '.' and drops every
// other separator. It reports false when a repeated separator does not form
// thousands groups.
func normalizeSeparators(s string) (string, bool) {
	lastDot := strings.LastIndexByte(s, '.')
	lastComma := strings.LastIndexByte(s, ',')
	decimal := -1
	switch {
	case lastDot >= 0 && lastComma >= 0:
		decimal = max(lastDot, lastComma)
	case lastComma >= 0 && strings.Count(s, ",") == 1:
		decimal = lastComma
	case lastDot >= 0 && strings.Count(s, ".") == 1:
		decimal = lastDot
	case lastComma >= 0:
		if !thousandsGroups(s, ",") {
			return "", false
		}
	case lastDot >= 0:
		if !thousandsGroups(s, ".") {
			return "", false
		}
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '.' || c == ',' {
			if i == decimal {
				b.WriteByte('.')
			}
			continue
		}
		b.WriteByte(c)
	}
	return b.String(), true
}

func thousandsGroups(s, sep string) bool {
	groups := strings.Split(s, sep)
	if groups[0] == "" {
		return false
	}
	for _, g := range groups[1:] {
		if len(g) != 3 {
			return false
		}
	}
	return true
}
