package normalize

import (
	"strings"

	"github.com/andresuchdata/control-tower/internal/domain"
)

var countryAliases = map[string]string{
	"UNITED STATES":            "US",
	"UNITED STATES OF AMERICA": "US",
	"USA":                      "US",
	"CANADA":                   "CA",
	"UNITED KINGDOM":           "GB",
	"UK":                       "GB",
	"GREAT BRITAIN":            "GB",
	"AUSTRALIA":                "AU",
	"GERMANY":                  "DE",
	"FRANCE":                   "FR",
	"INDONESIA":                "ID",
	"SINGAPORE":                "SG",
	"MALAYSIA":                 "MY",
	"MEXICO":                   "MX",
}

var usStates = map[string]string{
	"ALABAMA": "AL", "ALASKA": "AK", "ARIZONA": "AZ", "ARKANSAS": "AR", "CALIFORNIA": "CA",
	"COLORADO": "CO", "CONNECTICUT": "CT", "DELAWARE": "DE", "FLORIDA": "FL", "GEORGIA": "GA",
	"HAWAII": "HI", "IDAHO": "ID", "ILLINOIS": "IL", "INDIANA": "IN", "IOWA": "IA",
	"KANSAS": "KS", "KENTUCKY": "KY", "LOUISIANA": "LA", "MAINE": "ME", "MARYLAND": "MD",
	"MASSACHUSETTS": "MA", "MICHIGAN": "MI", "MINNESOTA": "MN", "MISSISSIPPI": "MS", "MISSOURI": "MO",
	"MONTANA": "MT", "NEBRASKA": "NE", "NEVADA": "NV", "NEW HAMPSHIRE": "NH", "NEW JERSEY": "NJ",
	"NEW MEXICO": "NM", "NEW YORK": "NY", "NORTH CAROLINA": "NC", "NORTH DAKOTA": "ND", "OHIO": "OH",
	"OKLAHOMA": "OK", "OREGON": "OR", "PENNSYLVANIA": "PA", "RHODE ISLAND": "RI", "SOUTH CAROLINA": "SC",
	"SOUTH DAKOTA": "SD", "TENNESSEE": "TN", "TEXAS": "TX", "UTAH": "UT", "VERMONT": "VT",
	"VIRGINIA": "VA", "WASHINGTON": "WA", "WEST VIRGINIA": "WV", "WISCONSIN": "WI", "WYOMING": "WY",
	"DISTRICT OF COLUMBIA": "DC",
}

// NormalizeCountry maps a country label to its ISO-3166 alpha-2 code.
// Unknown labels are returned upper-cased so they still group consistently.
func NormalizeCountry(label string) string {
	c := strings.ToUpper(strings.TrimSpace(label))
	if c == "" {
		return ""
	}
	if iso, ok := countryAliases[c]; ok {
		return iso
	}
	return c
}

// NormalizeRegion maps a region label to an upper-case region code within country.
// "US-TX", "tx" and "Texas" all become "TX" for country "US".
func NormalizeRegion(country, label string) string {
	r := strings.ToUpper(strings.TrimSpace(label))
	if r == "" {
		return ""
	}
	if country != "" {
		r = strings.TrimPrefix(r, country+"-")
	}
	if country == "US" {
		if code, ok := usStates[r]; ok {
			return code
		}
	}
	return r
}

// NormalizeGeography returns the canonical country + region pair.
func NormalizeGeography(country, region string) domain.Geography {
	c := NormalizeCountry(country)
	return domain.Geography{Country: c, Region: NormalizeRegion(c, region)}
}
