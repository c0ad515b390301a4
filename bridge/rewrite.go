package bridge

import (
	"regexp"
	"strings"
)

// PlaceholderMarker is the token a JSONP URL carries where the callback
// name goes
const PlaceholderMarker = "=JSONP_CALLBACK"

var placeholderPattern = regexp.MustCompile(regexp.QuoteMeta(PlaceholderMarker) + `(&|$)`)

// RewriteURL replaces the first placeholder in url with "=" + callbackID,
// keeping the delimiter that followed it. A URL without placeholder is
// returned unchanged.
func RewriteURL(url, callbackID string) string {
	loc := placeholderPattern.FindStringSubmatchIndex(url)
	if loc == nil {
		return url
	}
	delimiter := url[loc[2]:loc[3]]

	var b strings.Builder
	b.Grow(len(url) + len(callbackID))
	b.WriteString(url[:loc[0]])
	b.WriteByte('=')
	b.WriteString(callbackID)
	b.WriteString(delimiter)
	b.WriteString(url[loc[1]:])
	return b.String()
}

// HasPlaceholder reports whether RewriteURL would change url
func HasPlaceholder(url string) bool {
	return placeholderPattern.MatchString(url)
}

// CarriesCallback reports whether url passes id as a whole query value, that
// is "=" + id followed by "&" or the end of url. An id that is only a prefix
// of the value, such as "cb_1" in "=cb_10", does not count.
func CarriesCallback(url, id string) bool {
	if id == "" {
		return false
	}
	token := "=" + id
	for rest := url; ; {
		i := strings.Index(rest, token)
		if i < 0 {
			return false
		}
		rest = rest[i+len(token):]
		if rest == "" || rest[0] == '&' {
			return true
		}
	}
}
