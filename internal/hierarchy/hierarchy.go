// Package hierarchy turns recovered typeinfo bases into an inheritance graph.
package hierarchy

import (
	"github.com/zboralski/lattice"
	"github.com/zboralski/lattice/render"

	"cxxrecon/internal/typeinfo"
)

// Build constructs a lattice.Graph with one node per type and one edge from
// each type to each of its direct bases. Bases that have no typeinfo of their
// own still become nodes.
func Build(nodes []typeinfo.Node) *lattice.Graph {
	g := &lattice.Graph{}
	seen := make(map[string]bool)
	linked := make(map[[2]string]bool)
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			g.Nodes = append(g.Nodes, name)
		}
	}
	for _, n := range nodes {
		add(n.Name)
		for _, b := range n.Bases {
			add(b)
			if k := [2]string{n.Name, b}; !linked[k] {
				linked[k] = true
				g.Edges = append(g.Edges, lattice.Edge{Caller: n.Name, Callee: b})
			}
		}
	}
	g.Dedup()
	return g
}

// DOT renders g as Graphviz source.
func DOT(g *lattice.Graph, title string) string {
	return render.DOT(g, title)
}
