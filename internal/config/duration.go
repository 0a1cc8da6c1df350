package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var durationTerm = regexp.MustCompile(`(\d+(?:\.\d+)?)([a-zµ]+)`)

// ParseDuration accepts Go duration syntax plus d (24h) and w (7d) units,
// e.g. "10m", "2d", "1w2d3h", "1.5d".
func ParseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("duration is required")
	}
	if !strings.ContainsAny(raw, "dw") {
		return time.ParseDuration(raw)
	}

	sign, body := "", raw
	if body[0] == '+' || body[0] == '-' {
		sign, body = body[:1], body[1:]
	}

	var b strings.Builder
	b.WriteString(sign)
	pos := 0
	for _, m := range durationTerm.FindAllStringSubmatchIndex(body, -1) {
		if m[0] != pos {
			return 0, fmt.Errorf("invalid duration %q", raw)
		}
		num, unit := body[m[2]:m[3]], body[m[4]:m[5]]
		switch unit {
		case "d", "w":
			n, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid duration %q", raw)
			}
			hours := n * 24
			if unit == "w" {
				hours *= 7
			}
			b.WriteString(strconv.FormatFloat(hours, 'f', -1, 64))
			b.WriteByte('h')
		default:
			b.WriteString(num)
			b.WriteString(unit)
		}
		pos = m[1]
	}
	if pos == 0 || pos != len(body) {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	return time.ParseDuration(b.String())
}
