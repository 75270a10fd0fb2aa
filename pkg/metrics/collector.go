package metrics

import "time"

// FleetSource is the minimal view the metrics collector needs of the
// fleet's current state. The orchestrator package satisfies this without
// the metrics package importing it — avoids a dependency cycle since
// orchestrator already imports metrics for its own counters and timers.
type FleetSource interface {
	// PrinterCounts returns printer counts keyed by adapter type then status.
	PrinterCounts() map[string]map[string]int
	// JobCounts returns job counts keyed by status.
	JobCounts() map[string]int
	// UtilizationPercent returns the current fleet utilization percentage.
	UtilizationPercent() float64
}

// Collector periodically samples a FleetSource into the gauge metrics.
type Collector struct {
	source FleetSource
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector.
func NewCollector(source FleetSource) *Collector {
	return &Collector{
		source: source,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics on a 15s interval.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	for adapterType, statuses := range c.source.PrinterCounts() {
		for status, count := range statuses {
			PrintersTotal.WithLabelValues(adapterType, status).Set(float64(count))
		}
	}

	queued := 0
	for status, count := range c.source.JobCounts() {
		JobsByStatus.WithLabelValues(status).Set(float64(count))
		if status == "queued" {
			queued = count
		}
	}
	JobsQueued.Set(float64(queued))

	UtilizationPercent.Set(c.source.UtilizationPercent())
}
