package governance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/credalabs/credence/pkg/audit"
)

// buildScenario drives a kernel through a representative mix of
// operations, including a state transition and an approval.
func buildScenario(t *testing.T) (*Kernel, *manualClock) {
	t.Helper()
	k, clk := newTestKernel(t)

	_, err := k.AddAssumption("net_telemetry", "telemetry is current", 0.95, CategoryCritical)
	require.NoError(t, err)
	_, err = k.AddAssumption("upstream_ok", "upstream reachable", 0.8, CategoryImportant)
	require.NoError(t, err)
	require.NoError(t, k.LinkAssumptions("upstream_ok", "net_telemetry"))

	_, err = k.RegisterAction("isolate_node", "isolate a node", []string{"net_telemetry"}, 4)
	require.NoError(t, err)
	_, err = k.RegisterAction("probe", "cheap probe", []string{"upstream_ok"}, 1)
	require.NoError(t, err)

	clk.advance(10 * time.Minute)
	_, err = k.RevalidateAssumption("net_telemetry", 0.9, "probe refreshed", clk.now)
	require.NoError(t, err)
	_, err = k.AdjustConfidence("upstream_ok", -0.05, "minor blip", clk.now)
	require.NoError(t, err)

	_, err = k.EvaluateAction("isolate_node", clk.now)
	require.NoError(t, err)
	_, err = k.ExecuteAction("isolate_node", "oncall@example.com", nil)
	require.NoError(t, err)
	_, err = k.RecordOutcome("isolate_node", OutcomeSuccess, "", clk.now)
	require.NoError(t, err)

	// Three probe failures push the tracker to DEGRADED.
	_, err = k.EvaluateAction("probe", clk.now)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		clk.advance(time.Minute)
		_, err = k.RecordOutcome("probe", OutcomeFailure, "", clk.now)
		require.NoError(t, err)
	}
	require.Equal(t, StateDegraded, k.State().State)
	return k, clk
}

func TestReplayReconstructsKernel(t *testing.T) {
	k, clk := buildScenario(t)
	trail := k.AuditTrail()

	rk, err := ReplayAuditTrail(trail, DefaultConfig(), WithClock(clk))
	require.NoError(t, err)

	assert.Equal(t, k.Assumptions(), rk.Assumptions())
	assert.Equal(t, k.Actions(), rk.Actions())
	assert.Equal(t, k.State(), rk.State())
	assert.Equal(t, trail, rk.AuditTrail())

	for _, id := range []string{"isolate_node", "probe"} {
		want, err := k.LastEvaluation(id)
		require.NoError(t, err)
		got, err := rk.LastEvaluation(id)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	wantEff, err := k.EffectiveConfidence("upstream_ok", clk.now)
	require.NoError(t, err)
	gotEff, err := rk.EffectiveConfidence("upstream_ok", clk.now)
	require.NoError(t, err)
	assert.Equal(t, wantEff, gotEff)
}

func TestReplayContinuesChain(t *testing.T) {
	k, clk := buildScenario(t)
	trail := k.AuditTrail()
	head := trail[len(trail)-1].EntryHash

	rk, err := ReplayAuditTrail(trail, DefaultConfig(), WithClock(clk))
	require.NoError(t, err)

	_, err = rk.AddAssumption("new_belief", "added after replay", 0.7, CategorySupporting)
	require.NoError(t, err)

	extended := rk.AuditTrail()
	require.Len(t, extended, len(trail)+1)
	last := extended[len(extended)-1]
	assert.Equal(t, head, last.PreviousHash)
	assert.Equal(t, trail[len(trail)-1].Sequence+1, last.Sequence)
	assert.NoError(t, rk.AuditLog().VerifyChain())
}

func TestReplayPreservesApprovals(t *testing.T) {
	k, clk := newTestKernel(t)
	_, err := k.AddAssumption("dep", "d", 0.95, CategoryCritical)
	require.NoError(t, err)
	_, err = k.RegisterAction("act", "needs sign-off", []string{"dep"}, 4)
	require.NoError(t, err)
	_, err = k.EvaluateAction("act", clk.now)
	require.NoError(t, err)
	_, err = k.ExecuteAction("act", "oncall@example.com", nil)
	require.NoError(t, err)

	rk, err := ReplayAuditTrail(k.AuditTrail(), DefaultConfig(), WithClock(clk))
	require.NoError(t, err)

	// The approval recorded against the live evaluation survives.
	_, err = rk.RecordOutcome("act", OutcomeSuccess, "", clk.now)
	require.NoError(t, err)
}

func TestReplayRejectsTamperedTrail(t *testing.T) {
	k, _ := buildScenario(t)
	trail := k.AuditTrail()

	trail[2].Payload = []byte(`{"assumption_id":"net_telemetry","op":"register","confidence":1.0}`)
	_, err := ReplayAuditTrail(trail, DefaultConfig())
	require.Error(t, err)
	assert.ErrorIs(t, err, audit.ErrChainBroken)
}

func TestReplayRejectsTruncatedTrail(t *testing.T) {
	k, _ := buildScenario(t)
	trail := k.AuditTrail()

	// Dropping an interior entry breaks the previous-hash links.
	cut := append(append([]audit.Entry(nil), trail[:3]...), trail[4:]...)
	_, err := ReplayAuditTrail(cut, DefaultConfig())
	assert.ErrorIs(t, err, audit.ErrChainBroken)
}

func TestReplayRejectsInvalidConfig(t *testing.T) {
	k, _ := buildScenario(t)
	cfg := DefaultConfig()
	cfg.BaseThreshold = 0
	_, err := ReplayAuditTrail(k.AuditTrail(), cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
