// Package script maps URLs to site keys and to the external worker
// programs that handle them.
package script

import (
	"net/url"
	"strings"

	"github.com/fetchbay/fetchd/internal/domain"
)

// SiteKey derives the site key from a URL: the lower-cased
// second-level label of the host ("youtube" for www.youtube.com).
// Hosts without a dot map to themselves. Returns ErrInvalidURL when
// the URL cannot be parsed or has no host.
func SiteKey(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", domain.ErrInvalidURL
	}
	host := u.Hostname()
	if host == "" {
		return "", domain.ErrInvalidURL
	}
	host = strings.ToLower(host)
	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return host, nil
	}
	key := labels[len(labels)-2]
	if key == "" {
		return "", domain.ErrInvalidURL
	}
	return key, nil
}
