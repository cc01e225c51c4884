package client

import (
	"context"

	"github.com/ValentinKolb/dComm/rpc/common"
	"github.com/ValentinKolb/dComm/rpc/discovery"
)

// DiscoverEndpoints returns the addresses of all servers registered for service that
// use the named transport
func DiscoverEndpoints(ctx context.Context, reg discovery.IRegistry, service, transportName string) ([]string, error) {
	instances, err := reg.Discover(ctx, service)
	if err != nil {
		return nil, common.WrapError(common.KindConnectionFailure, err, "discovery failed")
	}

	endpoints := make([]string, 0, len(instances))
	for _, inst := range instances {
		if transportName == "" || inst.Transport == transportName {
			endpoints = append(endpoints, inst.Addr)
		}
	}
	if len(endpoints) == 0 {
		return nil, common.NewError(common.KindConnectionFailure, "no %s server registered for %q", transportName, service)
	}
	return endpoints, nil
}
