package geoip

import (
	"fmt"
	"net"
	"strings"

	"github.com/oschwald/geoip2-golang"
)

// Resolver maps client IPs to ISO 3166-1 country codes using a local
// MaxMind database. A nil Resolver is valid and reports no country.
type Resolver struct {
	db *geoip2.Reader
}

// NewResolver opens the database at path. An empty path means no
// database is configured and yields a nil resolver without error.
func NewResolver(path string) (*Resolver, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("geoip: open %s: %w", path, err)
	}
	return &Resolver{db: db}, nil
}

// CountryCode returns the uppercase ISO code for ip, or "" when the
// address is unknown to the database.
func (r *Resolver) CountryCode(ip string) (string, error) {
	if r == nil {
		return "", nil
	}
	addr := net.ParseIP(strings.TrimSpace(ip))
	if addr == nil {
		return "", fmt.Errorf("geoip: bad address %q", ip)
	}
	rec, err := r.db.Country(addr)
	if err != nil {
		return "", fmt.Errorf("geoip: lookup %s: %w", addr, err)
	}
	return rec.Country.IsoCode, nil
}

func (r *Resolver) Close() error {
	if r == nil {
		return nil
	}
	return r.db.Close()
}
