package strategy

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	proSportsCategories = map[string]bool{
		"sports": true, "nfl": true, "nba": true, "nhl": true,
		"football": true, "basketball": true, "hockey": true,
	}
	collegeCategories = map[string]bool{
		"college": true, "ncaa": true, "ncaaf": true, "ncaab": true,
	}
	sportsTickerHints = []string{"NFL", "NBA", "NHL", "MLB", "EPL", "MLS", "NCAAF", "NCAAB", "START", "GAME"}

	// gameDateToken matches YYMONDD, e.g. 25OCT19.
	gameDateToken = regexp.MustCompile(`(\d{2})(JAN|FEB|MAR|APR|MAY|JUN|JUL|AUG|SEP|OCT|NOV|DEC)(\d{2})`)
	monthIndex    = map[string]time.Month{
		"JAN": time.January, "FEB": time.February, "MAR": time.March, "APR": time.April,
		"MAY": time.May, "JUN": time.June, "JUL": time.July, "AUG": time.August,
		"SEP": time.September, "OCT": time.October, "NOV": time.November, "DEC": time.December,
	}
)

func isProSports(category string) bool {
	return proSportsCategories[strings.ToLower(strings.TrimSpace(category))]
}

// IsCollege reports whether category is one of the college sports categories.
func IsCollege(category string) bool {
	return collegeCategories[strings.ToLower(strings.TrimSpace(category))]
}

func hasSportsHint(ticker string) bool {
	upper := strings.ToUpper(ticker)
	for _, hint := range sportsTickerHints {
		if strings.Contains(upper, hint) {
			return true
		}
	}
	return false
}

// isSports reports whether a market looks like a sporting event by category
// or ticker.
func isSports(category, ticker string) bool {
	return isProSports(category) || IsCollege(category) || hasSportsHint(ticker)
}

// ParseGameDate extracts the first valid YYMONDD token from s as a UTC date.
func ParseGameDate(s string) (time.Time, bool) {
	for _, m := range gameDateToken.FindAllStringSubmatch(strings.ToUpper(s), -1) {
		yy, _ := strconv.Atoi(m[1])
		dd, _ := strconv.Atoi(m[3])
		month := monthIndex[m[2]]
		d := time.Date(2000+yy, month, dd, 0, 0, 0, 0, time.UTC)
		// Reject rolled-over dates such as 25FEB30.
		if d.Day() != dd || d.Month() != month {
			continue
		}
		return d, true
	}
	return time.Time{}, false
}
