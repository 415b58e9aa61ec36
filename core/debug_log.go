package core

// DebugLog is the per-transaction ledger handed back to the caller: every
// response's attributes and events, the printer's captured stdout, a
// depth-first call tree, and any coverage buffers dumped along the way.

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// DebugLogEntry records one response observed during the transaction.
type DebugLogEntry struct {
	Attributes []Attribute `json:"attributes"`
	Events     []Event     `json:"events"`
	Data       Binary      `json:"data,omitempty"`
}

func (e DebugLogEntry) String() string {
	out, _ := json.Marshal(&e)
	return string(out)
}

// CallNode is one node of the call tree arena.
type CallNode struct {
	ID       int    `json:"id"`
	Parent   int    `json:"parent"`
	Label    string `json:"label"`
	Children []int  `json:"children"`
}

// CallTree is an arena of call nodes. Node 0 is the root, labelled "top";
// ids are assigned in strictly increasing depth-first order.
type CallTree struct {
	Nodes []CallNode `json:"nodes"`

	open []int
}

func newCallTree() *CallTree {
	t := &CallTree{}
	t.Nodes = append(t.Nodes, CallNode{ID: 0, Parent: -1, Label: "top"})
	t.open = []int{0}
	return t
}

func (t *CallTree) push(label string) int {
	parent := t.open[len(t.open)-1]
	id := len(t.Nodes)
	t.Nodes = append(t.Nodes, CallNode{ID: id, Parent: parent, Label: label})
	t.Nodes[parent].Children = append(t.Nodes[parent].Children, id)
	t.open = append(t.open, id)
	return id
}

func (t *CallTree) pop(id int) {
	for len(t.open) > 1 {
		top := t.open[len(t.open)-1]
		t.open = t.open[:len(t.open)-1]
		if top == id {
			return
		}
	}
}

// leaf adds a closed child (used for error records).
func (t *CallTree) leaf(label string) {
	parent := t.open[len(t.open)-1]
	id := len(t.Nodes)
	t.Nodes = append(t.Nodes, CallNode{ID: id, Parent: parent, Label: label})
	t.Nodes[parent].Children = append(t.Nodes[parent].Children, id)
}

// Children returns the child ids of node id, nil when out of range.
func (t *CallTree) Children(id int) []int {
	if id < 0 || id >= len(t.Nodes) {
		return nil
	}
	return t.Nodes[id].Children
}

func (t *CallTree) clone() *CallTree {
	out := &CallTree{Nodes: make([]CallNode, len(t.Nodes)), open: append([]int(nil), t.open...)}
	for i, n := range t.Nodes {
		n.Children = append([]int(nil), n.Children...)
		out.Nodes[i] = n
	}
	return out
}

// DebugLog accumulates over exactly one top-level call.
type DebugLog struct {
	mu sync.Mutex

	Logs     []DebugLogEntry     `json:"logs"`
	ErrMsg   *string             `json:"err_msg"`
	Stdout   []string            `json:"stdout"`
	CallTree *CallTree           `json:"call_tree"`
	Coverage map[string][][]byte `json:"coverage,omitempty"`
}

// NewDebugLog returns an empty log with a fresh call-tree root.
func NewDebugLog() *DebugLog {
	return &DebugLog{
		CallTree: newCallTree(),
		Coverage: make(map[string][][]byte),
	}
}

// SetErrMsg records the transaction's terminal error string.
func (d *DebugLog) SetErrMsg(msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m := msg
	d.ErrMsg = &m
}

// AppendLog records one response.
func (d *DebugLog) AppendLog(resp *Response) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Logs = append(d.Logs, DebugLogEntry{
		Attributes: resp.Attributes,
		Events:     resp.Events,
		Data:       resp.Data,
	})
}

// AppendStdout records one printer message.
func (d *DebugLog) AppendStdout(msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Stdout = append(d.Stdout, msg)
}

// GetStdout concatenates the captured printer output.
func (d *DebugLog) GetStdout() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return strings.Join(d.Stdout, "")
}

// BeginCall opens a call-tree node for one entry-point dispatch.
func (d *DebugLog) BeginCall(addr, kind string, msg []byte) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.CallTree.push(fmt.Sprintf("%s:%s(%s)", addr, kind, string(msg)))
}

// EndCall closes the node opened by BeginCall.
func (d *DebugLog) EndCall(id int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallTree.pop(id)
}

// AppendError records an error leaf under the current open node.
func (d *DebugLog) AppendError(msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallTree.leaf(msg)
}

// AddCoverage appends one coverage buffer for addr. Coverage accumulates
// unconditionally; rollbacks never touch it.
func (d *DebugLog) AddCoverage(addr string, buf []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Coverage[addr] = append(d.Coverage[addr], buf)
}

// ContractAddressFromLogs scans the recorded events for the
// _contract_address attribute emitted by instantiate.
func (d *DebugLog) ContractAddressFromLogs() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, entry := range d.Logs {
		for _, ev := range entry.Events {
			for _, attr := range ev.Attributes {
				if attr.Key == "_contract_address" {
					return attr.Value, true
				}
			}
		}
	}
	return "", false
}

// Clone deep-copies the log.
func (d *DebugLog) Clone() *DebugLog {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := &DebugLog{
		Logs:     append([]DebugLogEntry(nil), d.Logs...),
		Stdout:   append([]string(nil), d.Stdout...),
		CallTree: d.CallTree.clone(),
		Coverage: make(map[string][][]byte, len(d.Coverage)),
	}
	if d.ErrMsg != nil {
		m := *d.ErrMsg
		out.ErrMsg = &m
	}
	for addr, bufs := range d.Coverage {
		out.Coverage[addr] = append([][]byte(nil), bufs...)
	}
	return out
}
