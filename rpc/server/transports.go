package server

import (
	"fmt"

	"github.com/ValentinKolb/dComm/rpc/transport"
	"github.com/ValentinKolb/dComm/rpc/transport/grpc"
	"github.com/ValentinKolb/dComm/rpc/transport/http"
	"github.com/ValentinKolb/dComm/rpc/transport/tcp"
	"github.com/ValentinKolb/dComm/rpc/transport/unix"
)

// TransportNames lists the names accepted by NewServerTransport
var TransportNames = []string{"tcp", "unix", "http", "grpc"}

// NewServerTransport creates the server transport with the given name
func NewServerTransport(name string) (transport.IRPCServerTransport, error) {
	switch name {
	case "tcp", "":
		return tcp.NewTCPServerTransport(), nil
	case "unix":
		return unix.NewUnixServerTransport(), nil
	case "http":
		return http.NewHttpServerTransport(), nil
	case "grpc":
		return grpc.NewGrpcServerTransport(), nil
	default:
		return nil, fmt.Errorf("unknown transport %q (valid: %v)", name, TransportNames)
	}
}
