package util

import (
	"net/url"
	"regexp"
)

// clientIDRegex accepts the identifiers other Plex clients send: UUIDs or short opaque tokens.
var clientIDRegex = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

func IsValidClientID(s string) bool {
	return clientIDRegex.MatchString(s)
}

// IsValidServerURI reports whether s is an absolute http(s) URI with a host.
func IsValidServerURI(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != ""
}
