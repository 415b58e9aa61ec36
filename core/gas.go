package core

// Gas accounting for sandbox calls. The simulator runs with an effectively
// unbounded budget, but the meter still exists so engine-reported exhaustion
// surfaces as a VmExec error instead of a hang being the only signal.

import "math"

// GasUnlimited is the budget used for simulation calls.
const GasUnlimited = math.MaxUint64

// Host operation costs, charged per callback crossing the sandbox boundary.
const (
	gasCostRead    uint64 = 3
	gasCostWrite   uint64 = 6
	gasCostRemove  uint64 = 3
	gasCostScan    uint64 = 10
	gasCostNext    uint64 = 2
	gasCostAddr    uint64 = 5
	gasCostCrypto  uint64 = 100
	gasCostQuery   uint64 = 50
	gasCostDebug   uint64 = 1
)

// GasMeter tracks gas usage and enforces the execution limit.
type GasMeter struct {
	used  uint64
	limit uint64
}

// NewGasMeter constructs a meter with the given limit.
func NewGasMeter(limit uint64) *GasMeter {
	return &GasMeter{limit: limit}
}

// Consume charges cost, failing once the limit is crossed.
func (g *GasMeter) Consume(cost uint64) error {
	if g.used+cost < g.used || g.used+cost > g.limit {
		return errVmExec("out-of-gas (%d/%d)", g.used, g.limit)
	}
	g.used += cost
	return nil
}

// Used returns the gas consumed so far.
func (g *GasMeter) Used() uint64 { return g.used }

// Remaining returns the gas left.
func (g *GasMeter) Remaining() uint64 { return g.limit - g.used }
