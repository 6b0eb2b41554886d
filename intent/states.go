package intent

import (
	"regexp"
	"strings"
)

var (
	drgCodeRe = regexp.MustCompile(`^\d{3,4}$`)
	zipRe     = regexp.MustCompile(`^\d{3,5}$`)
	stateRe   = regexp.MustCompile(`^[A-Z]{2}$`)
)

// stateAbbrevs maps full US state names (plus DC) to the two-letter codes
// stored in providers.provider_state.
var stateAbbrevs = map[string]string{
	"alabama":              "AL",
	"alaska":               "AK",
	"arizona":              "AZ",
	"arkansas":             "AR",
	"california":           "CA",
	"colorado":             "CO",
	"connecticut":          "CT",
	"delaware":             "DE",
	"district of columbia": "DC",
	"florida":              "FL",
	"georgia":              "GA",
	"hawaii":               "HI",
	"idaho":                "ID",
	"illinois":             "IL",
	"indiana":              "IN",
	"iowa":                 "IA",
	"kansas":               "KS",
	"kentucky":             "KY",
	"louisiana":            "LA",
	"maine":                "ME",
	"maryland":             "MD",
	"massachusetts":        "MA",
	"michigan":             "MI",
	"minnesota":            "MN",
	"mississippi":          "MS",
	"missouri":             "MO",
	"montana":              "MT",
	"nebraska":             "NE",
	"nevada":               "NV",
	"new hampshire":        "NH",
	"new jersey":           "NJ",
	"new mexico":           "NM",
	"new york":             "NY",
	"north carolina":       "NC",
	"north dakota":         "ND",
	"ohio":                 "OH",
	"oklahoma":             "OK",
	"oregon":               "OR",
	"pennsylvania":         "PA",
	"rhode island":         "RI",
	"south carolina":       "SC",
	"south dakota":         "SD",
	"tennessee":            "TN",
	"texas":                "TX",
	"utah":                 "UT",
	"vermont":              "VT",
	"virginia":             "VA",
	"washington":           "WA",
	"west virginia":        "WV",
	"wisconsin":            "WI",
	"wyoming":              "WY",
}

// NormalizeState expands a full state name to its two-letter code and passes
// two-letter inputs through uppercased. Anything else is returned unchanged
// with ok=false; consumers keep it as written and let the state filter match
// nothing.
func NormalizeState(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	upper := strings.ToUpper(s)
	if stateRe.MatchString(upper) {
		return upper, true
	}
	if ab, ok := stateAbbrevs[strings.ToLower(s)]; ok {
		return ab, true
	}
	return s, false
}
