package render

import (
	"fmt"
	"strings"

	"igiconv/internal/disasm"
	"igiconv/internal/qvm"
)

// CFGDOT renders a module's top-level CFG as DOT.
// Each basic block is a node listing its instructions; loops are drawn as
// nested clusters. The entry block is highlighted, exit blocks and
// unreachable blocks are filled. Conditional edges use T/F colors, back
// edges and irreducible edges get their own colors.
func CFGDOT(g *disasm.CFG, m *qvm.Module, t Theme) string {
	if len(g.Blocks) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("digraph cfg {\n")
	b.WriteString("  rankdir=TB;\n")
	b.WriteString("  nodesep=0.3;\n")
	b.WriteString("  ranksep=0.4;\n")
	fmt.Fprintf(&b, "  bgcolor=%q;\n", t.Background)
	fmt.Fprintf(&b, "  node [shape=rect, style=filled, fillcolor=%q, color=%q, penwidth=0.5, fontname=\"Courier,monospace\", fontsize=8, fontcolor=%q, margin=\"0.08,0.04\"];\n",
		t.NodeFill, t.NodeBorder, t.TextColor)
	fmt.Fprintf(&b, "  edge [penwidth=0.7, arrowsize=0.5, arrowhead=vee];\n")
	fmt.Fprintf(&b, "  labelloc=t;\n  labeljust=l;\n")
	fmt.Fprintf(&b, "  label=<<font face=\"Helvetica Neue,Helvetica\" point-size=\"9\" color=\"%s\">%s</font>>;\n",
		t.TextColor, dotEscape(g.Name))
	b.WriteByte('\n')

	children := make(map[int][]int) // loop index -> nested loops, -1 for top level
	for i, l := range g.Loops {
		children[l.Parent] = append(children[l.Parent], i)
	}
	members := make(map[int][]int) // loop index -> blocks whose innermost loop it is
	for id := range g.Blocks {
		members[g.LoopOf[id]] = append(members[g.LoopOf[id]], id)
	}

	var emit func(loop int, indent string)
	emit = func(loop int, indent string) {
		for _, id := range members[loop] {
			writeBlock(&b, g, m, t, id, indent)
		}
		for _, li := range children[loop] {
			fmt.Fprintf(&b, "%ssubgraph cluster_loop%d {\n", indent, li)
			fmt.Fprintf(&b, "%s  style=dashed;\n%s  color=%q;\n", indent, indent, t.LoopBorder)
			fmt.Fprintf(&b, "%s  label=<<font point-size=\"7\" color=\"%s\">loop bb%d</font>>;\n",
				indent, t.LoopLabel, g.Loops[li].Header)
			emit(li, indent+"  ")
			fmt.Fprintf(&b, "%s}\n", indent)
		}
	}
	emit(-1, "  ")
	b.WriteByte('\n')

	back := make(map[disasm.Edge]bool)
	for _, l := range g.Loops {
		for _, latch := range l.Latches {
			back[disasm.Edge{From: latch, To: l.Header}] = true
		}
	}
	irred := make(map[disasm.Edge]bool, len(g.Irreducible))
	for _, e := range g.Irreducible {
		irred[e] = true
	}

	// Render edges.
	for _, blk := range g.Blocks {
		from := fmt.Sprintf("bb%d", blk.ID)
		for _, s := range blk.Succs {
			to := fmt.Sprintf("bb%d", s.BlockID)
			e := disasm.Edge{From: blk.ID, To: s.BlockID}
			var style string
			switch {
			case irred[e]:
				style = fmt.Sprintf(", style=dashed, constraint=false, color=%q", t.EdgeIrred)
			case back[e]:
				style = fmt.Sprintf(", constraint=false, color=%q", t.EdgeBack)
			}
			switch s.Cond {
			case "T":
				if style == "" {
					style = fmt.Sprintf(", color=%q", t.EdgeTaken)
				}
				fmt.Fprintf(&b, "  %s -> %s [label=<<font point-size=\"7\" color=\"%s\">T</font>>%s];\n",
					from, to, t.EdgeTaken, style)
			case "F":
				if style == "" {
					style = fmt.Sprintf(", color=%q", t.EdgeFall)
				}
				fmt.Fprintf(&b, "  %s -> %s [label=<<font point-size=\"7\" color=\"%s\">F</font>>%s];\n",
					from, to, t.EdgeFall, style)
			default:
				if style == "" {
					style = fmt.Sprintf(", color=%q", t.EdgeJump)
				}
				fmt.Fprintf(&b, "  %s -> %s [%s];\n", from, to, strings.TrimPrefix(style, ", "))
			}
		}
	}

	b.WriteString("}\n")
	return b.String()
}

func writeBlock(b *strings.Builder, g *disasm.CFG, m *qvm.Module, t Theme, id int, indent string) {
	// One line per instruction.
	var lines []string
	blk := g.Blocks[id]
	for pos := blk.Start; pos < blk.End; pos++ {
		lines = instLines(lines, g.Prog, m, g.Prog.Main[pos], "")
	}
	// Truncate long blocks.
	if len(lines) > 12 {
		kept := append(lines[:5:5], fmt.Sprintf("... (%d more)", len(lines)-10))
		lines = append(kept, lines[len(lines)-5:]...)
	}

	label := strings.Join(lines, "<br align=\"left\"/>")
	label += "<br align=\"left\"/>"

	attrs := ""
	if blk.IsEntry {
		attrs = fmt.Sprintf(", penwidth=1.5, color=%q", t.EntryBorder)
	}
	switch {
	case !g.Reachable(id):
		attrs += fmt.Sprintf(", fillcolor=%q, style=\"filled,dashed\"", t.DeadFill)
	case blk.IsTerm:
		attrs += fmt.Sprintf(", fillcolor=%q", t.ExitFill)
	}
	fmt.Fprintf(b, "%sbb%d [label=<%s>%s];\n", indent, id, label, attrs)
}

// instLines appends the line for instruction idx, followed by the
// argument thunks if it is a CALL.
func instLines(lines []string, p *disasm.Program, m *qvm.Module, idx int, indent string) []string {
	in := p.Insts[idx]
	line := fmt.Sprintf("%s0x%x: %s", indent, in.Off, in.Text())
	if c := in.Comment(m); c != "" {
		line += "  ; " + truncLabel(c, 40)
	}
	lines = append(lines, dotEscape(line))
	if c, ok := p.Calls[idx]; ok {
		for _, arg := range c.Args {
			for _, j := range arg {
				lines = instLines(lines, p, m, j, indent+"  ")
			}
		}
	}
	return lines
}
