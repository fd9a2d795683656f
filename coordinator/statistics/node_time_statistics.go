package statistics

import (
	"sync"
	"time"

	"github.com/caio/go-tdigest"
)

type nodeStatistics struct {
	mu       sync.Mutex
	taskTime map[string]*tdigest.TDigest
}

var nodeStats = nodeStatistics{
	taskTime: make(map[string]*tdigest.TDigest),
}

// RecordTaskTime accounts one task run on node, in milliseconds.
func RecordTaskTime(node string, d time.Duration) {
	taskDuration.Observe(d.Seconds())

	nodeStats.mu.Lock()
	defer nodeStats.mu.Unlock()

	td, ok := nodeStats.taskTime[node]
	if !ok {
		td, _ = tdigest.New()
		nodeStats.taskTime[node] = td
	}
	_ = td.Add(float64(d.Microseconds()) / 1000)
}

func GetNodeTimeQuantile(node string, q float64) float64 {
	nodeStats.mu.Lock()
	defer nodeStats.mu.Unlock()

	td, ok := nodeStats.taskTime[node]
	if !ok {
		return 0
	}
	return td.Quantile(q)
}

func ResetNodeStatistics() {
	nodeStats.mu.Lock()
	defer nodeStats.mu.Unlock()

	nodeStats.taskTime = make(map[string]*tdigest.TDigest)
}
