package netguard

import (
	"encoding/binary"
	"net"
	"net/http"
	"syscall"
	"time"
)

// DialControl is a net.Dialer control hook that rejects connections to
// blocked addresses. The address passed here is already resolved, so a
// blocked destination cannot hide behind DNS.
func (f *Filter) DialControl(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		host = address
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return &EgressError{Host: host, Reason: "unresolved dial address"}
	}
	if ip.IsLoopback() {
		return nil
	}
	ip4 := ip.To4()
	if ip4 == nil {
		// The blocklist carries no IPv6 entries, so non-loopback IPv6
		// destinations cannot be vetted. Fail closed.
		return &EgressError{IP: ip.String(), Reason: "IPv6 egress not permitted"}
	}
	if v := binary.BigEndian.Uint32(ip4); f.IsBlocked(v) {
		return &EgressError{IP: FormatIPv4(v)}
	}
	return nil
}

// Dialer returns a dialer whose every connection passes the filter.
func (f *Filter) Dialer(connectTimeout time.Duration) *net.Dialer {
	return &net.Dialer{
		Timeout: connectTimeout,
		Control: f.DialControl,
	}
}

// InstallDefaultGuard wires the filter into http.DefaultTransport so host
// code cannot open outbound connections that bypass enforcement. Guests never
// see a transport at all; their only network surface is the virtual proxy.
func (f *Filter) InstallDefaultGuard() {
	t, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return
	}
	guarded := t.Clone()
	guarded.DialContext = f.Dialer(30 * time.Second).DialContext
	http.DefaultTransport = guarded
}
