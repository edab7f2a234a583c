// Package metrics exposes dkvd's Prometheus instrumentation: per-component
// counters and gauges registered against an injected Registerer (never the
// global default registry, so a node embedding multiple instances in tests
// never double-registers), plus a background host-resource sampler that
// records CPU/memory usage as gauges in the same registry. The host gauges
// are exported for scraping only; nothing else in the node reads them.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Metrics is the fixed set of instruments a node registers at construction.
type Metrics struct {
	OpsTotal    *prometheus.CounterVec
	ReplicaAcks prometheus.Counter

	HostCPUPercent prometheus.Gauge
	HostMemPercent prometheus.Gauge
}

// New constructs and registers every instrument against reg. A nil reg
// registers against a fresh, private prometheus.NewRegistry() rather than
// the package-global default, so tests and multi-node-in-one-process setups
// never collide.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		OpsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dkvd_ops_total",
			Help: "Client operations admitted into the session pipeline, by op type.",
		}, []string{"op_type"}),
		ReplicaAcks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dkvd_replica_acks_total",
			Help: "Replica acknowledgements recorded for quorum/all write concern.",
		}),
		HostCPUPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dkvd_host_cpu_percent",
			Help: "Most recently sampled host CPU utilization percentage.",
		}),
		HostMemPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dkvd_host_mem_percent",
			Help: "Most recently sampled host memory utilization percentage.",
		}),
	}

	reg.MustRegister(m.OpsTotal, m.ReplicaAcks, m.HostCPUPercent, m.HostMemPercent)
	return m
}

// RecordOp increments the op counter for opType; called from a pipeline
// Interceptor so every admitted client op is counted regardless of outcome.
func (m *Metrics) RecordOp(opType string) {
	m.OpsTotal.WithLabelValues(opType).Inc()
}

// SampleHostResourcesOnce takes one CPU/memory reading and updates the host
// gauges. cpu.Percent(interval, false) blocks for interval to measure a
// delta, so this is meant to be called periodically from a ticking loop
// rather than per-request.
func (m *Metrics) SampleHostResourcesOnce(interval time.Duration) {
	if pcts, err := cpu.Percent(interval, false); err == nil && len(pcts) > 0 {
		m.HostCPUPercent.Set(pcts[0])
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		m.HostMemPercent.Set(vm.UsedPercent)
	}
}

// RunHostSampler samples host resources every interval until ctx is
// cancelled. The first sample is taken immediately (with a short measuring
// window) so gauges aren't left at zero for a full interval on startup.
func (m *Metrics) RunHostSampler(ctx context.Context, interval time.Duration) {
	m.SampleHostResourcesOnce(200 * time.Millisecond)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SampleHostResourcesOnce(200 * time.Millisecond)
		}
	}
}
