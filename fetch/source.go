package fetch

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Source identifies a remote document. URL wins when set; otherwise the
// document ID is appended to BaseURL.
type Source struct {
	DocumentID string
	URL        string
	BaseURL    string
}

// Resolve returns the absolute URL the document is fetched from.
func (s Source) Resolve() (string, error) {
	if s.DocumentID == "" {
		return "", fmt.Errorf("document id is required")
	}
	raw := strings.TrimSpace(s.URL)
	if raw == "" {
		if strings.TrimSpace(s.BaseURL) == "" {
			return "", fmt.Errorf("document %q: source url or base url is required", s.DocumentID)
		}
		raw = strings.TrimSpace(s.BaseURL) + url.PathEscape(s.DocumentID)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("document %q: parse source url: %w", s.DocumentID, err)
	}
	if !u.IsAbs() {
		return "", fmt.Errorf("document %q: source url %q is not absolute", s.DocumentID, raw)
	}
	return u.String(), nil
}

// AllowList restricts which resolved source URLs the service will fetch.
// A prefix matches URLs with the same scheme and host whose cleaned path is
// the prefix path or lies below it.
type AllowList struct {
	prefixes []*url.URL
}

// NewAllowList parses prefixes. Empty entries are skipped. An empty list
// permits nothing.
func NewAllowList(prefixes ...string) (*AllowList, error) {
	a := &AllowList{}
	for _, raw := range prefixes {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse allowed source %q: %w", raw, err)
		}
		if !u.IsAbs() || u.Host == "" {
			return nil, fmt.Errorf("allowed source %q must be an absolute url with a host", raw)
		}
		a.prefixes = append(a.prefixes, u)
	}
	return a, nil
}

// Permits reports whether target may be fetched.
func (a *AllowList) Permits(target string) bool {
	if a == nil {
		return false
	}
	u, err := url.Parse(target)
	if err != nil || !u.IsAbs() || u.User != nil {
		return false
	}
	p := u.Path
	if p == "" {
		p = "/"
	}
	cleaned := path.Clean(p)
	if strings.HasSuffix(p, "/") && cleaned != "/" {
		cleaned += "/"
	}
	if cleaned != p {
		// Dot segments or doubled slashes could escape the prefix upstream.
		return false
	}
	for _, prefix := range a.prefixes {
		if !strings.EqualFold(prefix.Scheme, u.Scheme) || !strings.EqualFold(prefix.Host, u.Host) {
			continue
		}
		base := strings.TrimSuffix(prefix.Path, "/")
		if base == "" || p == base || strings.HasPrefix(p, base+"/") {
			return true
		}
	}
	return false
}
