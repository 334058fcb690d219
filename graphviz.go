package fsm

import (
	"github.com/enetx/g"
	"github.com/enetx/g/cmp"
)

// legendRow is one line of the rendered legend: a symbol/swatch and the
// thing it denotes.
type legendRow struct {
	mark  g.String
	means g.String
}

var dotLegend = []legendRow{
	{`●`, "regular state"},
	{`<font color="green">◎</font>`, "current state"},
	{`<font color="gray">◎</font>`, "final state (no outgoing transitions)"},
	{`<font color="red">→</font>`, "guarded transition"},
}

// groupEdgesByPair collapses every declared transition into one entry per
// distinct (from, to) pair, joining same-pair event names into a single
// edge label so parallel transitions between the same two states render
// as one arrow instead of several overlapping ones.
func groupEdgesByPair(table *transitionTable) g.Map[g.Pair[State, State], g.Slice[g.String]] {
	grouped := g.NewMap[g.Pair[State, State], g.Slice[g.String]]()

	for from, list := range table.byState.Iter() {
		for t := range list.Iter() {
			key := g.Pair[State, State]{Key: from, Value: t.To}

			label := g.String(t.Event)
			if t.Guard != nil {
				label += " (guarded)"
			}

			grouped.Entry(key).
				AndModify(func(s *g.Slice[g.String]) { s.Push(label) }).
				OrInsert(g.SliceOf(label))
		}
	}

	return grouped
}

func nodeAttrs(state, current State, hasOutgoing bool) g.Slice[g.String] {
	attrs := g.SliceOf(g.Format("label=\"{}\"", state))

	switch {
	case state == current:
		attrs.Push("fillcolor=\"#90ee90\"", "shape=doublecircle")
	case !hasOutgoing:
		attrs.Push("fillcolor=\"#d3d3d3\"", "shape=doublecircle")
	}

	return attrs
}

func edgeAttrs(labels g.Slice[g.String]) g.Slice[g.String] {
	joined := labels.Join("\\n")
	attrs := g.SliceOf(g.Format("label=\" {} \"", joined))

	if joined.Contains("(guarded)") {
		attrs.Push("style=dashed", "color=red", "arrowhead=odiamond")
	}

	return attrs
}

// ToDOT renders the machine's declared transitions as a Graphviz DOT
// graph: one node per reachable state, one edge per (from, to) pair
// labeled with its events, and trailing comments listing attached nested
// children and any events with live subscribers.
func (m *Machine) ToDOT() g.String {
	b := g.NewBuilder()

	b.WriteString("digraph FSM {\n  rankdir=LR;\n")
	b.WriteString("  node [shape=circle, style=filled, fillcolor=\"#f8f8f8\", color=\"#444444\", fontname=\"Helvetica\"];\n")
	b.WriteString("  edge [fontname=\"Helvetica\", fontsize=10];\n\n")
	b.WriteString("  __start [shape=point, style=invis];\n")
	b.WriteString(g.Format("  __start -> \"{}\" [label=\" initial\"];\n\n", m.initial))

	grouped := groupEdgesByPair(m.table)

	outgoing := g.NewSet[State]()
	for p := range grouped.Keys().Iter() {
		outgoing.Insert(p.Key)
	}

	states := m.States()
	states.SortBy(cmp.Cmp)
	current := m.Current()

	for state := range states.Iter() {
		attrs := nodeAttrs(state, current, outgoing.Contains(state))
		b.WriteString(g.Format("  \"{}\" [{}];\n", state, attrs.Join(", ")))
	}

	b.WriteByte('\n')

	for pair, labels := range grouped.Iter() {
		attrs := edgeAttrs(labels)
		b.WriteString(g.Format("  \"{}\" -> \"{}\" [{}];\n", pair.Key, pair.Value, attrs.Join(", ")))
	}

	if m.children.Len() > 0 {
		var names g.Slice[g.String]
		for link := range m.children.Iter() {
			names.Push(g.String(link.name))
		}

		b.WriteString(g.Format("\n  // nested children: {}\n", names.Join(", ")))
	}

	for event := range m.table.events.Iter() {
		if count := m.subs.list(event).Len(); count > 0 {
			b.WriteString(g.Format("  // {} subscriber(s) on {}\n", count, event))
		}
	}

	b.WriteString("\n  subgraph cluster_legend {\n    label = \"Legend\";\n    style = dashed;\n")
	b.WriteString(`    key [label=<<table border="0" cellpadding="4" cellspacing="0" cellborder="0">` + "\n")

	for _, row := range dotLegend {
		b.WriteString(g.Format(`      <tr><td align="right">{}</td><td>{}</td></tr>`+"\n", row.mark, row.means))
	}

	b.WriteString("    </table>>, shape=none];\n  }\n}\n")

	return b.String()
}
