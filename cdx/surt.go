package cdx

import (
	"net/url"
	"regexp"
	"strings"
)

// wwwPrefix matches the host prefixes which are stripped during
// canonicalization, e.g. "www." and "www2.".
var wwwPrefix = regexp.MustCompile(`^www\d*\.`)

// Canonicalize maps a URL to its SURT form key: the host labels are
// reversed and joined with commas, followed by ")" and the path, so
// that captures of the same site sort together. The function is
// idempotent; feeding it an already canonical key returns the key
// unchanged. Callers must treat the output as opaque ordered bytes.
func Canonicalize(rawurl string) string {
	s := strings.TrimSpace(rawurl)
	if s == "" || isCanonical(s) {
		return s
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Hostname() == "" {
		// not parsable as a URL; normalize the best we can
		return strings.ToLower(strings.TrimSpace(rawurl))
	}

	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	host = wwwPrefix.ReplaceAllString(host, "")
	labels := strings.Split(host, ".")
	for i, j := 0, len(labels)-1; i < j; i, j = i+1, j-1 {
		labels[i], labels[j] = labels[j], labels[i]
	}

	var b strings.Builder
	b.WriteString(strings.Join(labels, ","))
	if port := u.Port(); port != "" && port != "80" && port != "443" {
		b.WriteByte(':')
		b.WriteString(port)
	}
	b.WriteByte(')')

	path := strings.ToLower(u.EscapedPath())
	if path == "" {
		path = "/"
	}
	b.WriteString(path)

	if u.RawQuery != "" {
		// parse after lowercasing so both names and values are
		// case folded; Encode sorts parameters by name
		q, err := url.ParseQuery(strings.ToLower(u.RawQuery))
		if err == nil && len(q) > 0 {
			b.WriteByte('?')
			b.WriteString(q.Encode())
		}
	}
	return b.String()
}

// isCanonical reports whether s already looks like a SURT key: a ")"
// host terminator appearing before any path separator.
func isCanonical(s string) bool {
	paren := strings.IndexByte(s, ')')
	if paren < 0 {
		return false
	}
	slash := strings.IndexByte(s, '/')
	return slash < 0 || paren < slash
}
