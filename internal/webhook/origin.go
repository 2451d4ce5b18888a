package webhook

import (
	"fmt"
	"net"
)

// OriginGuard restricts webhook admission to an allow-listed set of
// network ranges. Permissive mode is the local-development bypass: the
// loopback address is always admitted, and with no ranges configured
// at all, everything is.
type OriginGuard struct {
	nets       []*net.IPNet
	permissive bool
}

func NewOriginGuard(cidrs []string, permissive bool) (*OriginGuard, error) {
	g := &OriginGuard{permissive: permissive}
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			return nil, fmt.Errorf("bad cidr %q: %w", c, err)
		}
		g.nets = append(g.nets, n)
	}
	return g, nil
}

// Allow reports whether sourceAddr ("ip" or "ip:port") may deliver
// webhooks.
func (g *OriginGuard) Allow(sourceAddr string) bool {
	host := sourceAddr
	if h, _, err := net.SplitHostPort(sourceAddr); err == nil {
		host = h
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}

	if g.permissive {
		if ip.IsLoopback() {
			return true
		}
		if len(g.nets) == 0 {
			return true
		}
	}

	for _, n := range g.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
