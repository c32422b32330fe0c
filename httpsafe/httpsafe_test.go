package httpsafe

import (
	"net"
	"testing"
)

func TestIsPrivateOrReservedBlocksPrivateRanges(t *testing.T) {
	for _, addr := range []string{"10.0.0.1", "192.168.1.1", "127.0.0.1", "169.254.1.1"} {
		if !isPrivateOrReserved(net.ParseIP(addr)) {
			t.Fatalf("expected %s to be classified private/reserved", addr)
		}
	}
}

func TestIsPrivateOrReservedAllowsPublicAddress(t *testing.T) {
	if isPrivateOrReserved(net.ParseIP("8.8.8.8")) {
		t.Fatal("8.8.8.8 should not be classified private/reserved")
	}
}

func TestHostsRelated(t *testing.T) {
	c := New(Config{AllowedRedirectSuffixes: []string{"github.com"}})
	cases := []struct {
		src, dest string
		want      bool
	}{
		{"example.com", "example.com", true},
		{"example.com", "www.example.com", true},
		{"www.example.com", "example.com", true},
		{"sub.example.com", "example.com", true},
		{"example.com", "sub.example.net", false},
		{"github.com", "docs.github.com", true},
		{"example.com", "malicious.com", false},
	}
	for _, tc := range cases {
		if got := c.hostsRelated(tc.src, tc.dest); got != tc.want {
			t.Errorf("hostsRelated(%q, %q) = %v, want %v", tc.src, tc.dest, got, tc.want)
		}
	}
}
