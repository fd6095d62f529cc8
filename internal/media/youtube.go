package media

import (
	"net/url"
	"strings"
)

var youtubeHosts = map[string]bool{
	"youtube.com":          true,
	"youtu.be":             true,
	"youtube-nocookie.com": true,
}

// IsValidURL reports whether raw is an http(s) link to YouTube.
func IsValidURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, prefix := range []string{"www.", "m.", "music."} {
		host = strings.TrimPrefix(host, prefix)
	}
	return youtubeHosts[host]
}
