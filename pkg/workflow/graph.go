package workflow

// parentIndex maps each node to the sources feeding it on the given channel,
// in connection declaration order and without duplicates
func (w *Workflow) parentIndex(channel string) map[string][]string {
	index := make(map[string][]string)
	seen := make(map[[2]string]bool)
	for _, c := range w.Connections {
		if connectionType(c) != channel {
			continue
		}
		key := [2]string{c.Target, c.Source}
		if seen[key] {
			continue
		}
		seen[key] = true
		index[c.Target] = append(index[c.Target], c.Source)
	}
	return index
}

// ParentNodes returns the upstream nodes of name on channel, up to depth hops
// (depth < 0 means unbounded). Ancestors always precede their descendants, so
// with depth 1 the result is the direct parents in connection order and with
// unbounded depth it reads from the roots towards name. The node itself is
// never included, and cycles are cut at the first repeated node.
func (w *Workflow) ParentNodes(name, channel string, depth int) []string {
	index := w.parentIndex(channel)
	visited := map[string]bool{name: true}
	var out []string

	var visit func(node string, remaining int)
	visit = func(node string, remaining int) {
		if remaining == 0 {
			return
		}
		for _, parent := range index[node] {
			if visited[parent] {
				continue
			}
			visited[parent] = true
			visit(parent, remaining-1)
			out = append(out, parent)
		}
	}
	visit(name, depth)

	return out
}

// ChildNodes returns the nodes directly fed by name on channel
func (w *Workflow) ChildNodes(name, channel string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, c := range w.Connections {
		if c.Source != name || connectionType(c) != channel || seen[c.Target] {
			continue
		}
		seen[c.Target] = true
		out = append(out, c.Target)
	}
	return out
}
