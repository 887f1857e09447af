package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveDriverStartIncrementsByOutcome(t *testing.T) {
	ObserveDriverStart("system", true)
	ObserveDriverStart("system", false)

	assert.Equal(t, float64(1), testutil.ToFloat64(driverStarts.WithLabelValues("system", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(driverStarts.WithLabelValues("system", "error")))
}

func TestObserveResolutionIncrementsByOutcome(t *testing.T) {
	before := testutil.ToFloat64(routerResolutions.WithLabelValues("match"))
	ObserveResolution(true)
	assert.Equal(t, before+1, testutil.ToFloat64(routerResolutions.WithLabelValues("match")))
}

func TestObserveRPCCallRecordsLatency(t *testing.T) {
	before := testutil.CollectAndCount(rpcCalls)
	ObserveRPCCall("execute", true, 5*time.Millisecond)
	after := testutil.CollectAndCount(rpcCalls)
	assert.Greater(t, after, before-1)
}

func TestObserveAgentTerminalIncrements(t *testing.T) {
	before := testutil.ToFloat64(agentIterations.WithLabelValues("completed"))
	ObserveAgentTerminal("completed")
	assert.Equal(t, before+1, testutil.ToFloat64(agentIterations.WithLabelValues("completed")))
}

func TestObserveDriverKillIncrements(t *testing.T) {
	before := testutil.ToFloat64(driverKills.WithLabelValues("vision", "forced"))
	ObserveDriverKill("vision", "forced")
	assert.Equal(t, before+1, testutil.ToFloat64(driverKills.WithLabelValues("vision", "forced")))
}
