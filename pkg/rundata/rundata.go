// Package rundata holds the output a previous execution produced for each node,
// plus the pinned output users fix on individual nodes.
package rundata

import "time"

// Item is a single JSON item flowing between nodes
type Item map[string]interface{}

// SourceRef points at the node output a record consumed
type SourceRef struct {
	PreviousNode       string `json:"previousNode"`
	PreviousNodeOutput int    `json:"previousNodeOutput,omitempty"`
	PreviousNodeRun    int    `json:"previousNodeRun,omitempty"`
}

// RecordError describes why a node run failed
type RecordError struct {
	Message     string `json:"message"`
	Description string `json:"description,omitempty"`
}

// RunRecord is the output of one run of a node. A node that ran several times
// in one execution has one record per run, in execution order.
type RunRecord struct {
	StartTime       time.Time    `json:"startTime"`
	ExecutionTimeMs int64        `json:"executionTime"`
	Status          string       `json:"executionStatus,omitempty"`
	Output          [][]Item     `json:"data,omitempty"` // items per output index of the main channel
	Error           *RecordError `json:"error,omitempty"`
	Source          []SourceRef  `json:"source,omitempty"`
}

// RunHistory maps node name to the records the node produced
type RunHistory map[string][]RunRecord

// PinnedData maps node name to user-fixed output
type PinnedData map[string][]Item

// IsEmpty reports whether the history carries no node at all
func (h RunHistory) IsEmpty() bool {
	return len(h) == 0
}

// Has reports whether the node produced at least one record
func (h RunHistory) Has(node string) bool {
	return len(h[node]) > 0
}

// First returns the node's records trimmed to the first one. The returned slice
// never aliases the history.
func (h RunHistory) First(node string) ([]RunRecord, bool) {
	records := h[node]
	if len(records) == 0 {
		return nil, false
	}
	return []RunRecord{records[0]}, true
}

// Nodes returns the names of nodes present in the history
func (h RunHistory) Nodes() []string {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	return names
}

// Clone returns a shallow copy of the map with copied record slices
func (h RunHistory) Clone() RunHistory {
	if h == nil {
		return nil
	}
	out := make(RunHistory, len(h))
	for name, records := range h {
		out[name] = append([]RunRecord(nil), records...)
	}
	return out
}

// Clone returns a copy of the pinned data map
func (p PinnedData) Clone() PinnedData {
	if p == nil {
		return nil
	}
	out := make(PinnedData, len(p))
	for name, items := range p {
		out[name] = append([]Item(nil), items...)
	}
	return out
}
