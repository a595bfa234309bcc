package render

// Theme holds colors for graph rendering.
type Theme struct {
	Background string
	NodeFill   string
	NodeBorder string
	TextColor  string

	// Edge colors by invoke kind.
	EdgeStatic    string // invokestatic
	EdgeVirtual   string // invokevirtual
	EdgeInterface string // invokeinterface
	EdgeSpecial   string // invokespecial: constructors, super and private calls
	EdgeDynamic   string // invokedynamic call sites
	EdgeException string // CFG exception edges

	// Node accents.
	EntryBorder  string // entry blocks and entry methods
	TermFill     string // blocks ending in return or throw
	ExternalText string // callees outside the batch

	// Cluster styling.
	ClusterBorder string
	ClusterLabel  string
}

// NASA is the NASA/Bauhaus theme: geometric, monochrome, sparse color.
var NASA = Theme{
	Background: "#F5F5F5",
	NodeFill:   "white",
	NodeBorder: "#1A1A1A",
	TextColor:  "#1A1A1A",

	EdgeStatic:    "#424242", // dark gray
	EdgeVirtual:   "#0B3D91", // NASA blue
	EdgeInterface: "#00695C", // teal
	EdgeSpecial:   "#9E9E9E", // gray
	EdgeDynamic:   "#E65100", // deep orange
	EdgeException: "#FC3D21", // NASA red

	EntryBorder:  "#0B3D91",
	TermFill:     "#ECEFF1", // blue-gray 50
	ExternalText: "#9E9E9E",

	ClusterBorder: "#BDBDBD",
	ClusterLabel:  "#757575",
}
