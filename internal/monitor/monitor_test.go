package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSpecsAreStable(t *testing.T) {
	m := NewSystemMonitor()
	first := m.Specs(context.Background())
	second := m.Specs(context.Background())

	assert.Equal(t, first, second)
	assert.NotEmpty(t, first.CPUModel)
	assert.GreaterOrEqual(t, first.TotalThreads, 1)
	assert.GreaterOrEqual(t, m.Threads(context.Background()), 1)
}

func TestHealthReportsPercentages(t *testing.T) {
	m := NewSystemMonitor()
	m.sampleWindow = 10 * time.Millisecond

	health, err := m.Health(context.Background())
	if err != nil {
		t.Skipf("host telemetry unavailable: %v", err)
	}
	assert.GreaterOrEqual(t, health.RAMPercent, 0.0)
	assert.LessOrEqual(t, health.RAMPercent, 100.0)
	assert.GreaterOrEqual(t, health.CPUPercent, 0.0)
}
