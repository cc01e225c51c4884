package registry

import (
	"context"
	"time"

	"github.com/ValentinKolb/dComm/rpc/common"
	"github.com/ValentinKolb/dComm/rpc/message"
)

// Built-in procedures, available regardless of the registered executor
const (
	ProcGetVersion    = ReservedPrefix + "get_version"
	ProcEcho          = ReservedPrefix + "echo"
	ProcEchoPush      = ReservedPrefix + "echo_push"
	ProcEchoPop       = ReservedPrefix + "echo_pop"
	ProcDeviceTimeUs  = ReservedPrefix + "device_time_usec"
	ProcStop          = ReservedPrefix + "stop"
	EchoValueParamKey = "value"
)

// stopDelay gives the transport time to send the answer of _rpc_stop
const stopDelay = 50 * time.Millisecond

func (r *Registry) reservedHandlers() HandlerSet {
	return HandlerSet{
		ProcGetVersion: func(ctx context.Context, msg *message.Message) (*message.Result, error) {
			return message.Value(r.Version()), nil
		},
		ProcEcho: func(ctx context.Context, msg *message.Message) (*message.Result, error) {
			v, err := echoValue(msg)
			if err != nil {
				return nil, err
			}
			return message.Value(v), nil
		},
		ProcEchoPush: func(ctx context.Context, msg *message.Message) (*message.Result, error) {
			v, err := echoValue(msg)
			if err != nil {
				return nil, err
			}
			r.stackMu.Lock()
			r.stack = append(r.stack, v)
			r.stackMu.Unlock()
			return message.Value("OK"), nil
		},
		ProcEchoPop: func(ctx context.Context, msg *message.Message) (*message.Result, error) {
			r.stackMu.Lock()
			defer r.stackMu.Unlock()
			if len(r.stack) == 0 {
				return message.Value(""), nil
			}
			v := r.stack[len(r.stack)-1]
			r.stack = r.stack[:len(r.stack)-1]
			return message.Value(v), nil
		},
		ProcDeviceTimeUs: func(ctx context.Context, msg *message.Message) (*message.Result, error) {
			return message.Value(time.Now().UnixMicro()), nil
		},
		ProcStop: func(ctx context.Context, msg *message.Message) (*message.Result, error) {
			stop := r.stopFunc.Load()
			if stop == nil {
				return nil, common.NewError(common.KindHandlerFailure, "server cannot be stopped remotely")
			}
			log.Infof("stop requested by remote caller")
			time.AfterFunc(stopDelay, *stop)
			return message.Value("OK"), nil
		},
	}
}

func echoValue(msg *message.Message) (any, error) {
	v, ok := msg.Lookup(EchoValueParamKey)
	if !ok {
		return nil, common.NewError(common.KindKeyNotFound, "%s: missing parameter %q", msg.Name(), EchoValueParamKey)
	}
	return v, nil
}
