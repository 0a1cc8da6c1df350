package listing

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bakkerme/listing-notifier/internal/core"
)

var (
	priceAmountPattern = regexp.MustCompile(`(\d{1,3}(?:\.\d{3})+|\d+)(?:,(\d{1,2}))?\s*€`)
	negotiablePattern  = regexp.MustCompile(`(?i)\bVB\b`)
	relativeDayPattern = regexp.MustCompile(`(?i)^(heute|gestern),?\s*(\d{1,2}):(\d{2})$`)
	absoluteDayPattern = regexp.MustCompile(`^(\d{1,2})\.(\d{1,2})\.(\d{4})$`)
)

// ParsePrice interprets labels like "1.200 €", "49,50 € VB", "VB" and
// "Zu verschenken". It returns nil for empty or unrecognized labels.
func ParsePrice(raw string) *core.Price {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if strings.Contains(strings.ToLower(raw), "zu verschenken") {
		return &core.Price{Currency: "EUR", Free: true, Raw: raw}
	}

	negotiable := negotiablePattern.MatchString(raw)
	match := priceAmountPattern.FindStringSubmatch(raw)
	if match == nil {
		if negotiable {
			return &core.Price{Currency: "EUR", Negotiable: true, Raw: raw}
		}
		return nil
	}

	euros, err := strconv.ParseInt(strings.ReplaceAll(match[1], ".", ""), 10, 64)
	if err != nil {
		return nil
	}
	var cents int64
	if match[2] != "" {
		fraction := match[2]
		if len(fraction) == 1 {
			fraction += "0"
		}
		cents, _ = strconv.ParseInt(fraction, 10, 64)
	}
	return &core.Price{
		Amount:     euros*100 + cents,
		Currency:   "EUR",
		Negotiable: negotiable,
		Raw:        raw,
	}
}

// ParseDate interprets "Heute, 14:32", "Gestern, 09:10" and "18.07.2024"
// relative to now in loc. It returns the zero time when raw is absent or unknown.
func ParseDate(raw string, now time.Time, loc *time.Location) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)

	if m := relativeDayPattern.FindStringSubmatch(raw); m != nil {
		hour, _ := strconv.Atoi(m[2])
		minute, _ := strconv.Atoi(m[3])
		if hour > 23 || minute > 59 {
			return time.Time{}
		}
		day := local
		if strings.EqualFold(m[1], "gestern") {
			day = local.AddDate(0, 0, -1)
		}
		return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc)
	}

	if m := absoluteDayPattern.FindStringSubmatch(raw); m != nil {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		parsed := time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
		// time.Date normalizes 31.02 into March; reject instead.
		if parsed.Day() != day || int(parsed.Month()) != month {
			return time.Time{}
		}
		return parsed
	}

	return time.Time{}
}
