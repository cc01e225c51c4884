package server

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dComm/rpc/common"
	"github.com/VictoriaMetrics/metrics"
)

// unknownProcedure is the label of calls to procedures that do not exist
const unknownProcedure = "unknown"

// serverMetrics holds the metrics of one server. Every server has its own set so
// several servers can live in one process.
type serverMetrics struct {
	set      *metrics.Set
	duration *metrics.Histogram
	inFlight atomic.Int64
}

func newServerMetrics() *serverMetrics {
	m := &serverMetrics{set: metrics.NewSet()}
	m.duration = m.set.NewHistogram("dcomm_call_duration_seconds")
	m.set.NewGauge("dcomm_calls_in_flight", func() float64 {
		return float64(m.inFlight.Load())
	})
	return m
}

// observe records a finished call
func (m *serverMetrics) observe(procedure string, err error, start time.Time) {
	if procedure == "" || common.KindOf(err) == common.KindProcedureNotFound {
		procedure = unknownProcedure
	}
	m.set.GetOrCreateCounter(fmt.Sprintf(`dcomm_calls_total{procedure=%q}`, procedure)).Inc()
	if err != nil {
		m.set.GetOrCreateCounter(fmt.Sprintf(`dcomm_call_errors_total{kind=%q}`, common.KindOf(err))).Inc()
	}
	m.duration.UpdateDuration(start)
}
