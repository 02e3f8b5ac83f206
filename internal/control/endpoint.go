package control

import (
	"context"
	"fmt"
	"net"
	"strings"

	"tools.zach/dev/psnwatch/internal/paths"
)

// ///////////////////////////////////////////////
// Endpoint
// ///////////////////////////////////////////////

// Endpoint is where the control API listens.
type Endpoint struct {
	// Network is "tcp" or "local". A local endpoint is a unix socket path, or
	// a named pipe on Windows.
	Network string
	Address string
}

func (e Endpoint) String() string {
	return e.Network + "://" + e.Address
}

// ResolveEndpoint maps the configured address to an Endpoint. An empty
// address selects the per-account local socket in dd.
func ResolveEndpoint(address string, dd paths.DataDir, id string) (Endpoint, error) {
	address = strings.TrimSpace(address)
	switch {
	case address == "":
		return Endpoint{Network: "local", Address: localAddress(dd, id)}, nil
	case strings.HasPrefix(address, "unix://"), strings.HasPrefix(address, "pipe://"):
		_, rest, _ := strings.Cut(address, "://")
		if rest == "" {
			return Endpoint{}, fmt.Errorf("control address %q has no path", address)
		}
		return Endpoint{Network: "local", Address: rest}, nil
	default:
		hostport := strings.TrimPrefix(address, "tcp://")
		if _, _, err := net.SplitHostPort(hostport); err != nil {
			return Endpoint{}, fmt.Errorf("control address %q: %w", address, err)
		}
		return Endpoint{Network: "tcp", Address: hostport}, nil
	}
}

// Listen opens a listener for e.
func Listen(e Endpoint) (net.Listener, error) {
	if e.Network == "tcp" {
		return net.Listen("tcp", e.Address)
	}
	return listenLocal(e.Address)
}

// Dial connects to e.
func Dial(ctx context.Context, e Endpoint) (net.Conn, error) {
	if e.Network == "tcp" {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", e.Address)
	}
	return dialLocal(ctx, e.Address)
}
