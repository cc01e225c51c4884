package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/dComm/rpc/common"
	"github.com/ValentinKolb/dComm/rpc/message"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("registry")

// ReservedPrefix starts the names of the built-in procedures. Executors cannot register them.
const ReservedPrefix = "_rpc_"

// HandlerFunc implements a single procedure
type HandlerFunc func(ctx context.Context, msg *message.Message) (*message.Result, error)

// HandlerSet maps procedure names to their implementation
type HandlerSet map[string]HandlerFunc

// IExecutor provides the procedures of a device
type IExecutor interface {
	// Handlers returns all procedures of the executor
	Handlers() HandlerSet
	// Version identifies the executor, it is returned by _rpc_get_version
	Version() string
}

// NewExecutor creates an executor from a fixed handler set
func NewExecutor(version string, handlers HandlerSet) IExecutor {
	return staticExecutor{version: version, handlers: handlers}
}

type staticExecutor struct {
	version  string
	handlers HandlerSet
}

func (e staticExecutor) Handlers() HandlerSet { return e.handlers }
func (e staticExecutor) Version() string      { return e.version }

// snapshot is an immutable copy of a registered executor
type snapshot struct {
	version  string
	handlers HandlerSet
}

// Registry dispatches messages to the handlers of the active executor.
//
// Registering an executor replaces the previous one completely. A dispatch uses
// the executor that was active when it started, even if another one is registered
// while the handler runs.
type Registry struct {
	active     atomic.Pointer[snapshot]
	middleware Middleware
	reserved   HandlerSet

	// state of the _rpc_echo_push / _rpc_echo_pop stack
	stackMu sync.Mutex
	stack   []any

	stopFunc atomic.Pointer[func()]
}

// New creates an empty registry. The middlewares wrap every dispatch, the first
// one being the outermost.
func New(middlewares ...Middleware) *Registry {
	r := &Registry{middleware: Chain(middlewares...)}
	r.active.Store(&snapshot{handlers: HandlerSet{}})
	r.reserved = r.reservedHandlers()
	return r
}

// RegisterExecutor atomically replaces the active handler set with the one of exec
func (r *Registry) RegisterExecutor(exec IExecutor) error {
	if exec == nil {
		return fmt.Errorf("executor must not be nil")
	}

	handlers := make(HandlerSet, len(exec.Handlers()))
	for name, h := range exec.Handlers() {
		switch {
		case name == "":
			return fmt.Errorf("procedure name must not be empty")
		case strings.HasPrefix(name, ReservedPrefix):
			return fmt.Errorf("procedure name %q uses the reserved prefix %s", name, ReservedPrefix)
		case h == nil:
			return fmt.Errorf("procedure %q has no handler", name)
		}
		handlers[name] = h
	}

	r.active.Store(&snapshot{version: exec.Version(), handlers: handlers})
	log.Infof("registered executor %q with %d procedures", exec.Version(), len(handlers))
	return nil
}

// Version returns the version of the active executor
func (r *Registry) Version() string {
	return r.active.Load().version
}

// Procedures returns the names of all procedures of the active executor
func (r *Registry) Procedures() []string {
	snap := r.active.Load()
	names := make([]string, 0, len(snap.handlers))
	for name := range snap.handlers {
		names = append(names, name)
	}
	return names
}

// Has reports whether name is a reserved procedure or one of the active executor
func (r *Registry) Has(name string) bool {
	if _, ok := r.reserved[name]; ok {
		return true
	}
	_, ok := r.active.Load().handlers[name]
	return ok
}

// SetStopFunc sets the function called by the _rpc_stop procedure
func (r *Registry) SetStopFunc(fn func()) {
	r.stopFunc.Store(&fn)
}

// Dispatch runs the procedure named by msg. Unknown procedures fail with
// ProcedureNotFound, errors without a kind are reported as HandlerFailure.
// A panicking handler never takes down the caller.
func (r *Registry) Dispatch(ctx context.Context, msg *message.Message) (res *message.Result, err error) {
	handler := r.lookup(r.active.Load(), msg.Name())

	res, err = r.middleware(recovery(handler))(ctx, msg)
	if err != nil {
		if !common.HasKind(err) {
			err = common.WrapError(common.KindHandlerFailure, err, "%s", msg.Name())
		}
		return nil, err
	}
	return res, nil
}

func (r *Registry) lookup(snap *snapshot, name string) HandlerFunc {
	if h, ok := r.reserved[name]; ok {
		return h
	}
	if h, ok := snap.handlers[name]; ok {
		return h
	}
	return func(context.Context, *message.Message) (*message.Result, error) {
		return nil, common.NewError(common.KindProcedureNotFound, "unknown procedure %q", name)
	}
}
