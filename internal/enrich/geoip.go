// Package enrich attaches offline context to findings.
package enrich

import (
	"errors"
	"fmt"
	"net"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/oschwald/geoip2-golang"
	"go.uber.org/zap"
)

const defaultCacheSize = 4096

// Geo is what the MaxMind databases know about a source address.
type Geo struct {
	Country string `json:"country,omitempty"`
	City    string `json:"city,omitempty"`
	ASN     uint   `json:"asn,omitempty"`
	ASOrg   string `json:"as_org,omitempty"`
}

func (g Geo) Empty() bool {
	return g == Geo{}
}

type cityReader interface {
	City(ip net.IP) (*geoip2.City, error)
	Close() error
}

type asnReader interface {
	ASN(ip net.IP) (*geoip2.ASN, error)
	Close() error
}

// GeoIP resolves addresses against local City and ASN databases. Either
// database may be absent. A nil *GeoIP resolves nothing.
type GeoIP struct {
	city   cityReader
	asn    asnReader
	cache  *lru.Cache[string, Geo]
	logger *zap.Logger
}

// OpenGeoIP opens the databases at the given paths; an empty path skips
// that database. It returns nil when both are empty.
func OpenGeoIP(cityPath, asnPath string, logger *zap.Logger) (*GeoIP, error) {
	if cityPath == "" && asnPath == "" {
		return nil, nil
	}
	g := &GeoIP{}
	if cityPath != "" {
		db, err := geoip2.Open(cityPath)
		if err != nil {
			return nil, fmt.Errorf("open geoip city db: %w", err)
		}
		g.city = db
	}
	if asnPath != "" {
		db, err := geoip2.Open(asnPath)
		if err != nil {
			_ = g.Close()
			return nil, fmt.Errorf("open geoip asn db: %w", err)
		}
		g.asn = db
	}
	return g.init(logger), nil
}

func (g *GeoIP) init(logger *zap.Logger) *GeoIP {
	if logger == nil {
		logger = zap.NewNop()
	}
	g.logger = logger
	g.cache, _ = lru.New[string, Geo](defaultCacheSize)
	return g
}

// Lookup returns what is known about ip. Unparseable addresses and
// addresses missing from both databases report false.
func (g *GeoIP) Lookup(ip string) (Geo, bool) {
	if g == nil || ip == "" {
		return Geo{}, false
	}
	if geo, ok := g.cache.Get(ip); ok {
		return geo, !geo.Empty()
	}

	addr := net.ParseIP(ip)
	if addr == nil {
		return Geo{}, false
	}

	var geo Geo
	if g.city != nil {
		if rec, err := g.city.City(addr); err != nil {
			g.logger.Debug("geoip city lookup failed", zap.String("ip", ip), zap.Error(err))
		} else {
			geo.Country = rec.Country.IsoCode
			geo.City = rec.City.Names["en"]
		}
	}
	if g.asn != nil {
		if rec, err := g.asn.ASN(addr); err != nil {
			g.logger.Debug("geoip asn lookup failed", zap.String("ip", ip), zap.Error(err))
		} else {
			geo.ASN = rec.AutonomousSystemNumber
			geo.ASOrg = rec.AutonomousSystemOrganization
		}
	}

	g.cache.Add(ip, geo)
	return geo, !geo.Empty()
}

func (g *GeoIP) Close() error {
	if g == nil {
		return nil
	}
	var errs []error
	if g.city != nil {
		errs = append(errs, g.city.Close())
	}
	if g.asn != nil {
		errs = append(errs, g.asn.Close())
	}
	return errors.Join(errs...)
}
