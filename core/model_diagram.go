package core

import (
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"
)

// BackpressureCycle is a set of vertices that can block each other through Put solders into
// bounded schedulers. Names are sorted.
type BackpressureCycle []string

func (c BackpressureCycle) String() string {
	return strings.Join(c, " -> ")
}

// CheckForCyclicalBackpressure reports every cycle of the wiring graph in which each hop blocks:
// a Put into a bounded scheduler, or an inline hop through a transformer or lambda. Such a cycle
// can deadlock once every scheduler on it is full. Cycles are reported, never rejected.
func (m *Model) CheckForCyclicalBackpressure() []BackpressureCycle {
	m.mu.Lock()
	adjacency := make(map[string][]string)
	for _, e := range m.edges {
		if m.blockingEdgeLocked(e) {
			adjacency[e.from] = append(adjacency[e.from], e.to)
		}
	}
	m.mu.Unlock()

	var cycles []BackpressureCycle
	for _, component := range stronglyConnected(adjacency) {
		if len(component) == 1 && !lo.Contains(adjacency[component[0]], component[0]) {
			continue
		}
		sort.Strings(component)
		cycles = append(cycles, BackpressureCycle(component))
	}
	sort.Slice(cycles, func(i, j int) bool { return cycles[i][0] < cycles[j][0] })

	for _, c := range cycles {
		m.logger.Info("Cyclical backpressure detected", "cycle", c.String())
	}
	return cycles
}

func (m *Model) blockingEdgeLocked(e edge) bool {
	to, ok := m.vertices[e.to]
	if !ok {
		return false
	}
	if to.kind != vertexScheduler {
		return true
	}
	return e.typ == SolderTypePut && to.scheduler.Capacity() != UnlimitedCapacity
}

// stronglyConnected is Tarjan's algorithm over a string keyed graph.
func stronglyConnected(adjacency map[string][]string) [][]string {
	var (
		index    int
		stack    []string
		onStack  = map[string]bool{}
		indices  = map[string]int{}
		lowlinks = map[string]int{}
		result   [][]string
	)

	var visit func(v string)
	visit = func(v string) {
		indices[v], lowlinks[v] = index, index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range adjacency[v] {
			if _, seen := indices[w]; !seen {
				visit(w)
				lowlinks[v] = min(lowlinks[v], lowlinks[w])
			} else if onStack[w] {
				lowlinks[v] = min(lowlinks[v], indices[w])
			}
		}

		if lowlinks[v] == indices[v] {
			var component []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				component = append(component, w)
				if w == v {
					break
				}
			}
			result = append(result, component)
		}
	}

	roots := lo.Keys(adjacency)
	sort.Strings(roots)
	for _, v := range roots {
		if _, seen := indices[v]; !seen {
			visit(v)
		}
	}
	return result
}

// GenerateWiringDiagram renders the wiring graph as a Mermaid flowchart. Put solders are solid
// arrows, offers dotted, injections thick.
func (m *Model) GenerateWiringDiagram() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var b strings.Builder
	b.WriteString("flowchart LR\n")

	names := lo.Keys(m.vertices)
	sort.Strings(names)
	for _, name := range names {
		v := m.vertices[name]
		switch v.kind {
		case vertexScheduler:
			s := v.scheduler
			caption := s.Type().String()
			if s.Capacity() != UnlimitedCapacity {
				caption = fmt.Sprintf("%s, capacity %d", caption, s.Capacity())
			}
			fmt.Fprintf(&b, "    %s[\"%s<br/>%s\"]\n", name, name, caption)
		case vertexTransformer:
			fmt.Fprintf(&b, "    %s{{\"%s\"}}\n", mermaidID(name), name)
		case vertexFunc:
			fmt.Fprintf(&b, "    %s([\"%s\"])\n", mermaidID(name), name)
		}
	}

	edges := append([]edge(nil), m.edges...)
	sort.SliceStable(edges, func(i, j int) bool {
		if edges[i].from != edges[j].from {
			return edges[i].from < edges[j].from
		}
		return edges[i].to < edges[j].to
	})
	for _, e := range edges {
		arrow := map[SolderType]string{
			SolderTypePut:    "-->",
			SolderTypeOffer:  "-.->",
			SolderTypeInject: "==>",
		}[e.typ]
		from, to := mermaidID(e.from), mermaidID(e.to)
		if e.label != "" {
			fmt.Fprintf(&b, "    %s %s|%s| %s\n", from, arrow, e.label, to)
		} else {
			fmt.Fprintf(&b, "    %s %s %s\n", from, arrow, to)
		}
	}
	return b.String()
}

// mermaidID turns a free-form label into a node identifier.
func mermaidID(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
