package render

// Theme holds colors for CFG rendering.
type Theme struct {
	Background string
	NodeFill   string
	NodeBorder string
	TextColor  string

	// Edge colors by kind.
	EdgeTaken string // branch taken
	EdgeFall  string // conditional fallthrough
	EdgeJump  string // unconditional
	EdgeBack  string // loop back edge
	EdgeIrred string // retreating edge into a non-dominating block

	// Node accents.
	EntryBorder string
	ExitFill    string // blocks ending in BRK or RET
	DeadFill    string // unreachable blocks
	LoopBorder  string // loop cluster border
	LoopLabel   string
}

// NASA is the NASA/Bauhaus theme: geometric, monochrome, sparse color.
var NASA = Theme{
	Background: "#F5F5F5",
	NodeFill:   "white",
	NodeBorder: "#1A1A1A",
	TextColor:  "#1A1A1A",

	EdgeTaken: "#0B3D91", // NASA blue
	EdgeFall:  "#FC3D21", // NASA red
	EdgeJump:  "#424242", // dark gray
	EdgeBack:  "#00695C", // teal
	EdgeIrred: "#E65100", // deep orange

	EntryBorder: "#0B3D91",
	ExitFill:    "#ECEFF1", // blue-gray 50
	DeadFill:    "#E0E0E0",
	LoopBorder:  "#BDBDBD",
	LoopLabel:   "#757575",
}
