// Package locgov normalizes loc.gov identifiers and binds them to one of the
// deployment environments.
package locgov

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/weppos/publicsuffix-go/publicsuffix"
)

const platformDomain = "loc.gov"

type Environment string

const (
	Prod Environment = "prod"
	Dev  Environment = "dev"
	Test Environment = "test"
)

// ParseEnvironment maps a name to an Environment. Unknown names yield Prod
// together with an error so callers can warn and carry on.
func ParseEnvironment(name string) (Environment, error) {
	switch env := Environment(strings.ToLower(strings.TrimSpace(name))); env {
	case Prod, Dev, Test:
		return env, nil
	case "":
		return Prod, nil
	default:
		return Prod, fmt.Errorf("unknown environment %q, using prod", name)
	}
}

func (e Environment) Base() string {
	if e == Dev || e == Test {
		return "https://" + string(e) + ".loc.gov/"
	}
	return "https://www.loc.gov/"
}

// Prefix is the path segment prepended to bare identifiers.
type Prefix string

const (
	ItemPrefix     Prefix = "item/"
	ResourcePrefix Prefix = "resource/"
)

var ErrInvalidSegment = errors.New("invalid segment index")

// Site is the base URL every identifier is rewritten to.
type Site struct {
	base *url.URL
}

func NewSite(env Environment) Site {
	s, _ := SiteAt(env.Base())
	return s
}

// SiteAt builds a Site around an arbitrary base URL, such as a mirror or a
// local test server.
func SiteAt(base string) (Site, error) {
	u, err := url.Parse(base)
	if err != nil {
		return Site{}, err
	}
	if u.Scheme == "" || u.Host == "" {
		return Site{}, fmt.Errorf("base %q is not an absolute URL", base)
	}
	u.Path = ensureSlash(u.Path)
	u.RawQuery, u.Fragment = "", ""
	return Site{base: u}, nil
}

func (s Site) Base() string {
	if s.base == nil {
		return Prod.Base()
	}
	return s.base.String()
}

func (s Site) baseURL() *url.URL {
	if s.base == nil {
		u, _ := url.Parse(Prod.Base())
		return u
	}
	return s.base
}

// Normalize turns an id or URL into a canonical absolute URL on this site:
// bare ids get the base and prefix, loc.gov URLs get the site's scheme and
// host, and the path always ends with a slash. Normalize is idempotent.
func (s Site) Normalize(id string, prefix Prefix) string {
	id = strings.TrimSpace(id)
	base := s.baseURL()

	if !IsURL(id) {
		id = base.String() + string(prefix) + strings.TrimPrefix(id, "/")
	}
	u, err := url.Parse(id)
	if err != nil {
		return id
	}
	if IsPlatformURL(u.String()) || u.Host == base.Host {
		u.Scheme = base.Scheme
		u.Host = base.Host
		u.User = nil
	}
	u.Path = ensureSlash(u.Path)
	u.RawPath = ""
	return u.String()
}

// IsItem reports whether a normalized URL points at an item record.
func (s Site) IsItem(u string) bool { return s.hasPrefix(u, ItemPrefix) }

// IsResource reports whether a normalized URL points at a resource record.
func (s Site) IsResource(u string) bool { return s.hasPrefix(u, ResourcePrefix) }

func (s Site) hasPrefix(raw string, p Prefix) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return strings.Contains(u.Path, "/"+string(p))
}

// IsURL reports whether id is an absolute http(s) URL rather than a bare id.
func IsURL(id string) bool {
	u, err := url.Parse(strings.TrimSpace(id))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// IsPlatformURL reports whether raw is hosted under the loc.gov registrable
// domain, in any environment.
func IsPlatformURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	host := u.Hostname()
	if net.ParseIP(host) != nil {
		return false
	}
	domain, err := publicsuffix.Domain(strings.ToLower(host))
	if err != nil {
		return false
	}
	return domain == platformDomain
}

// StripQuery drops everything from the first "?".
func StripQuery(id string) string {
	if i := strings.IndexByte(id, '?'); i >= 0 {
		return id[:i]
	}
	return id
}

// SegmentIndex returns the one-based segment requested with the "sp" query
// parameter. ok is false when no segment is requested.
func SegmentIndex(id string) (n int, ok bool, err error) {
	i := strings.IndexByte(id, '?')
	if i < 0 {
		return 0, false, nil
	}
	q, err := url.ParseQuery(id[i+1:])
	if err != nil {
		return 0, false, fmt.Errorf("%w: %v", ErrInvalidSegment, err)
	}
	sp := q.Get("sp")
	if sp == "" {
		return 0, false, nil
	}
	n, err = strconv.Atoi(sp)
	if err != nil || n < 1 {
		return 0, false, fmt.Errorf("%w: sp=%q", ErrInvalidSegment, sp)
	}
	return n, true, nil
}

func ensureSlash(p string) string {
	if !strings.HasSuffix(p, "/") {
		return p + "/"
	}
	return p
}
