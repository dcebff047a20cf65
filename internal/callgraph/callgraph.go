// Package callgraph maps decoded QVM modules onto lattice graphs.
package callgraph

import (
	"github.com/zboralski/lattice"

	"igiconv/internal/disasm"
)

// Script holds the data needed to place one module in the batch call graph.
type Script struct {
	Name  string
	Calls []disasm.CallRecord
}

// BuildCallGraph constructs a lattice.Graph from a batch of scripts.
// Each script becomes a node. Each call with a known callee becomes an
// edge from the script to the callee. Computed callees are skipped.
func BuildCallGraph(scripts []Script) *lattice.Graph {
	g := &lattice.Graph{}
	for _, s := range scripts {
		g.Nodes = append(g.Nodes, s.Name)
		for _, c := range s.Calls {
			if c.Callee == "" {
				continue
			}
			g.Edges = append(g.Edges, lattice.Edge{
				Caller: s.Name,
				Callee: c.Callee,
			})
		}
	}
	g.Dedup()
	return g
}
