package ssu

import (
	"net"
	"testing"

	"github.com/go-i2p/ssu-transport/conn"
)

func TestEndpointFromConnEndpoint(t *testing.T) {
	udpEp, err := conn.ParseEndpoint("192.0.2.1:4444")
	assertNil(t, err)

	ep := NewEndpoint(udpEp)
	if ep.Port() != 4444 {
		t.Fatalf("port = %d, want 4444", ep.Port())
	}
	if !ep.IP().Equal(net.ParseIP("192.0.2.1")) {
		t.Fatalf("ip = %v, want 192.0.2.1", ep.IP())
	}
	if ep.String() == "" {
		t.Fatal("expected non-empty String()")
	}
}
