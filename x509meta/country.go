package x509meta

import (
	"crypto/x509/pkix"
	"strings"
)

// CountryCode extracts the ISO-3166 alpha-2 country code from a
// distinguished name. ZZ and
// "O=United Nations" both normalize to UN; anything it cannot place
// becomes XX.
func CountryCode(name pkix.Name) string {
	for _, c := range name.Country {
		cc := strings.ToUpper(strings.TrimSpace(c))
		if cc == "ZZ" {
			return "UN"
		}
		if cc != "" {
			return cc
		}
	}
	for _, o := range name.Organization {
		if strings.EqualFold(strings.TrimSpace(o), "United Nations") {
			return "UN"
		}
	}
	return "XX"
}
