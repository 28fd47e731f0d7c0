package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

type staticStats struct {
	jobs, subscribers int
}

func (s staticStats) JobCount() int        { return s.jobs }
func (s staticStats) SubscriberCount() int { return s.subscribers }

func TestCollectorSamplesOnStart(t *testing.T) {
	c := NewCollector(staticStats{jobs: 4, subscribers: 2}, time.Hour)
	c.Start()
	defer c.Stop()

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(JobsRunning) == 4 && testutil.ToFloat64(Subscribers) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestNewCollectorDefaultInterval(t *testing.T) {
	c := NewCollector(staticStats{}, 0)
	assert.Equal(t, 15*time.Second, c.interval)
}
