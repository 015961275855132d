package provider

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/libdns/libdns"
)

// Normalize validates the content of a desired record for its type and
// rewrites it into the canonical form the remote system reports, so that
// in-sync records compare equal.
func Normalize(r Record) (Record, error) {
	r.Type = strings.ToUpper(strings.TrimSpace(r.Type))
	if r.TTL == 0 {
		r.TTL = DefaultTTL
	}
	if r.Name == "" {
		return r, fmt.Errorf("record name required, type=%s", r.Type)
	}

	lr, err := ToLibdns(r)
	if err != nil {
		return r, fmt.Errorf("record %s %s: %w", r.Type, r.Name, err)
	}
	if lr != nil {
		r.Content = lr.RR().Data
	}
	if r.Content == "" {
		return r, fmt.Errorf("record %s %s: content required", r.Type, r.Name)
	}
	return r, nil
}

// ToLibdns converts the record into its typed libdns form. Types that need
// no content normalization return a nil record.
func ToLibdns(r Record) (libdns.Record, error) {
	switch r.Type {
	case "A", "AAAA":
		// Address content may be given in CIDR form.
		ip, _, _ := strings.Cut(r.Content, "/")
		addr, err := netip.ParseAddr(strings.TrimSpace(ip))
		if err != nil {
			return nil, fmt.Errorf("fail parse ip addr %s, err=%w", r.Content, err)
		}
		if r.Type == "A" && !addr.Is4() {
			return nil, fmt.Errorf("address %s is not ipv4", addr)
		}
		if r.Type == "AAAA" && (addr.Is4() || addr.Is4In6()) {
			return nil, fmt.Errorf("address %s is not ipv6", addr)
		}
		return &libdns.Address{
			Name: r.Name,
			IP:   addr,
			TTL:  r.TTL,
		}, nil
	case "CNAME":
		return &libdns.CNAME{
			Name:   r.Name,
			Target: strings.TrimSuffix(strings.ToLower(r.Content), "."),
			TTL:    r.TTL,
		}, nil
	case "NS":
		return &libdns.NS{
			Name:   r.Name,
			Target: strings.TrimSuffix(strings.ToLower(r.Content), "."),
			TTL:    r.TTL,
		}, nil
	case "TXT":
		return &libdns.TXT{
			Name: r.Name,
			Text: r.Content,
			TTL:  r.TTL,
		}, nil
	case "MX", "SRV", "CAA":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown record type %s", r.Type)
	}
}
