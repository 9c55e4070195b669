package canvas

import (
	"strings"

	"github.com/tomnomnom/linkheader"
)

// NormalizeLogin lower-cases a login or email and drops any "@domain"
// suffix, so "JDoe@school.edu" and "jdoe" compare equal.
func NormalizeLogin(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if i := strings.IndexByte(s, '@'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// nextLink extracts the rel="next" target from a Link header.
func nextLink(header string) string {
	if links := linkheader.Parse(header).FilterByRel("next"); len(links) > 0 {
		return links[0].URL
	}
	return ""
}
