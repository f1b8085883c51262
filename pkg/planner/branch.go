package planner

import "github.com/wehubfusion/Daedalus/pkg/rundata"

// branchResult is the outcome of walking one branch. Either every node of the
// chain had cached output (StopNode empty) or the walk stopped at StopNode and
// Reused holds the cached prefix before it.
type branchResult struct {
	Reused   []string
	StopNode string
}

// walkBranch walks chain in order and stops at the first node without history
func walkBranch(chain []string, history rundata.RunHistory) branchResult {
	var res branchResult
	for _, name := range chain {
		if !history.Has(name) {
			res.StopNode = name
			return res
		}
		res.Reused = append(res.Reused, name)
	}
	return res
}

// compose merges branch results in branch order. Nodes shared by several
// branches are reused once; start nodes keep their first occurrence.
func compose(branches []branchResult, history rundata.RunHistory) *Result {
	runData := make(rundata.RunHistory)
	startNodes := []string{}
	seenStart := make(map[string]bool)

	for _, b := range branches {
		for _, name := range b.Reused {
			if _, done := runData[name]; done {
				continue
			}
			first, _ := history.First(name)
			runData[name] = first
		}
		if b.StopNode != "" && !seenStart[b.StopNode] {
			seenStart[b.StopNode] = true
			startNodes = append(startNodes, b.StopNode)
		}
	}

	result := &Result{StartNodes: startNodes}
	if len(runData) > 0 {
		result.RunData = runData
	}
	return result
}
