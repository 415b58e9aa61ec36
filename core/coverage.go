package core

// Code-coverage collection. Instrumented contract builds export
// dump_coverage; the model drains it after each sandbox call it dispatches
// (instantiate, execute, reply, top-level query) and keeps the buffers
// outside the snapshot machinery so failed transactions still count.
// Sandboxes that the host querier builds for nested queries are not drained.

// CoverageInfo accumulates coverage buffers per contract address.
type CoverageInfo struct {
	enabled bool
	data    map[string][][]byte
}

// NewCoverageInfo returns a disabled collector.
func NewCoverageInfo() *CoverageInfo {
	return &CoverageInfo{data: make(map[string][][]byte)}
}

func (c *CoverageInfo) add(addr string, buf []byte) {
	c.data[addr] = append(c.data[addr], buf)
}

// Clone deep-copies the collector.
func (c *CoverageInfo) Clone() *CoverageInfo {
	out := &CoverageInfo{enabled: c.enabled, data: make(map[string][][]byte, len(c.data))}
	for addr, bufs := range c.data {
		out.data[addr] = append([][]byte(nil), bufs...)
	}
	return out
}

// EnableCodeCoverage turns collection on for subsequent sandbox calls.
func (m *Model) EnableCodeCoverage() {
	m.coverage.enabled = true
}

// DisableCodeCoverage turns collection off.
func (m *Model) DisableCodeCoverage() {
	m.coverage.enabled = false
}

// GetCodeCoverage returns the buffers accumulated so far, keyed by address.
func (m *Model) GetCodeCoverage() map[string][][]byte {
	out := make(map[string][][]byte, len(m.coverage.data))
	for addr, bufs := range m.coverage.data {
		out[addr] = append([][]byte(nil), bufs...)
	}
	return out
}

// handleCoverage drains one instance's coverage after a sandbox call.
func (m *Model) handleCoverage(instance ContractInstance) {
	if !m.coverage.enabled {
		return
	}
	buf, err := instance.DumpCoverage()
	if err != nil {
		// dump failures are ignored; coverage is best-effort
		return
	}
	m.coverage.add(instance.Address(), buf)
	m.debugLog.AddCoverage(instance.Address(), buf)
}
