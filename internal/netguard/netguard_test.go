package netguard

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsPrivateIPv4(t *testing.T) {
	cases := map[string]bool{
		"10.0.0.1":        true,
		"172.16.5.4":      true,
		"172.32.0.1":      false,
		"192.168.1.1":     true,
		"169.254.1.1":     true,
		"127.0.0.1":       true,
		"100.64.0.1":      true,
		"8.8.8.8":         false,
		"1.1.1.1":         false,
	}
	for addr, want := range cases {
		require.Equal(t, want, IsPrivateIPAddress(addr), "address %s", addr)
	}
}

func TestIsPrivateIPAddressIPv6(t *testing.T) {
	require.True(t, IsPrivateIPAddress("::1"))
	require.True(t, IsPrivateIPAddress("fe80::1"))
	require.True(t, IsPrivateIPAddress("fc00::1"))
	require.True(t, IsPrivateIPAddress("::ffff:10.0.0.1"), "IPv4-mapped private address")
	require.False(t, IsPrivateIPAddress("2001:4860:4860::8888"))
}

func TestIsBlockedHostname(t *testing.T) {
	require.True(t, IsBlockedHostname("localhost"))
	require.True(t, IsBlockedHostname("LOCALHOST"))
	require.True(t, IsBlockedHostname("metadata.google.internal"))
	require.True(t, IsBlockedHostname("foo.internal"))
	require.True(t, IsBlockedHostname("host.local"))
	require.False(t, IsBlockedHostname("example.com"))
}

func TestValidatePublicHostnameRejectsLiteralPrivateAddress(t *testing.T) {
	err := ValidatePublicHostname(context.Background(), "192.168.1.1")
	require.Error(t, err)
	var blocked *BlockedError
	require.ErrorAs(t, err, &blocked)
}

func TestValidatePublicHostnameRejectsBlockedName(t *testing.T) {
	err := ValidatePublicHostname(context.Background(), "localhost")
	require.Error(t, err)
}
