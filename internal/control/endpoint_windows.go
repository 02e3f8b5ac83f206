//go:build windows

package control

import (
	"context"
	"net"

	"github.com/Microsoft/go-winio"

	"tools.zach/dev/psnwatch/internal/paths"
)

// pipeSDDL grants access to the creating user and SYSTEM only.
const pipeSDDL = "D:P(A;;GA;;;OW)(A;;GA;;;SY)"

func localAddress(_ paths.DataDir, id string) string {
	return paths.PipeNameFor(id)
}

func listenLocal(name string) (net.Listener, error) {
	return winio.ListenPipe(name, &winio.PipeConfig{SecurityDescriptor: pipeSDDL})
}

func dialLocal(ctx context.Context, name string) (net.Conn, error) {
	return winio.DialPipeContext(ctx, name)
}
