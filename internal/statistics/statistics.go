package statistics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sunbk201/clickrelay/internal/relay"
)

// Recorder collects resolution statistics for the whole process.
type Recorder struct {
	Resolves *ResolveRecordList
	Metrics  *Metrics
	now      func() time.Time
}

func NewRecorder(dumpFile string, reg prometheus.Registerer, sessions func() int) *Recorder {
	return &Recorder{
		Resolves: NewResolveRecordList(dumpFile),
		Metrics:  NewMetrics(reg, sessions),
		now:      time.Now,
	}
}

func (r *Recorder) Start(ctx context.Context) {
	r.Resolves.Run(ctx)
}

// Observer returns a relay.Observer attributing events to host.
func (r *Recorder) Observer(host string) relay.Observer {
	return &observer{recorder: r, host: host}
}

type observer struct {
	recorder *Recorder
	host     string
}

func (o *observer) ObserveResolve(source relay.Source) {
	o.recorder.Metrics.observeResolve(source)
	o.recorder.Resolves.Enqueue(&ResolveRecord{
		Host:     o.host,
		Source:   source,
		LastSeen: o.recorder.now(),
	})
}

func (o *observer) ObserveExchange(elapsed time.Duration, err error) {
	o.recorder.Metrics.observeExchange(elapsed, err)
}
