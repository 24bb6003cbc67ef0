package mcpserver

import (
	"math"
	"unicode/utf8"

	"fumen/internal/domain"
)

const (
	GridSize = 10.0
	Padding  = 20.0 // 2 grid cells between nodes
	MaxRowW  = 1200.0

	// fieldW and fieldH are the drawn size of a field thumbnail.
	fieldW = 50.0
	fieldH = 100.0
	// textCharW approximates one character of 16px text.
	textCharW    = 8.0
	textBaseSize = 16
)

// Box is the footprint of a node. X and Y are the centre, matching how the
// canvas positions nodes.
type Box struct {
	ID   int64
	X, Y float64
	W, H float64
}

// FieldBox returns the footprint of a field node.
func FieldBox(n domain.FieldNode) Box {
	b := Box{W: fieldW, H: fieldH}
	if n.ID != nil {
		b.ID = *n.ID
	}
	if n.X != nil {
		b.X = *n.X
	}
	if n.Y != nil {
		b.Y = *n.Y
	}
	return b
}

// TextBox estimates the footprint of a text node from its length and size.
func TextBox(n domain.TextNode) Box {
	size := textBaseSize
	if n.Size != nil && *n.Size > 0 {
		size = *n.Size
	}
	chars := 1
	if n.Text != nil && *n.Text != "" {
		chars = utf8.RuneCountInString(*n.Text)
	}
	scale := float64(size) / textBaseSize
	b := Box{W: float64(chars) * textCharW * scale, H: float64(size) * 1.5}
	if n.ID != nil {
		b.ID = *n.ID
	}
	if n.X != nil {
		b.X = *n.X
	}
	if n.Y != nil {
		b.Y = *n.Y
	}
	return b
}

// LayoutEngine places nodes on the canvas so that MCP-created nodes don't
// overlap existing ones.
type LayoutEngine struct {
	gridSize float64
	padding  float64
	maxRowW  float64
}

func NewLayoutEngine() *LayoutEngine {
	return &LayoutEngine{
		gridSize: GridSize,
		padding:  Padding,
		maxRowW:  MaxRowW,
	}
}

// snap rounds v to the nearest grid point.
func (le *LayoutEngine) snap(v float64) float64 {
	return math.Round(v/le.gridSize) * le.gridSize
}

// rect is an axis-aligned bounding box anchored at its top-left corner.
type rect struct {
	x, y, w, h float64
}

func (a rect) intersects(b rect) bool {
	return a.x < b.x+b.w && a.x+a.w > b.x &&
		a.y < b.y+b.h && a.y+a.h > b.y
}

func (b Box) rect() rect {
	return rect{b.X - b.W/2, b.Y - b.H/2, b.W, b.H}
}

// NextPosition finds the centre of the first free slot for a node of size
// (w, h), scanning rows top to bottom from the origin. The slot's top-left
// corner sits on the grid.
func (le *LayoutEngine) NextPosition(existing []Box, w, h float64) (float64, float64) {
	if len(existing) == 0 {
		return w / 2, h / 2
	}

	occupied := make([]rect, len(existing))
	for i, b := range existing {
		r := b.rect()
		occupied[i] = rect{r.x - le.padding, r.y - le.padding, r.w + le.padding*2, r.h + le.padding*2}
	}

	candidate := rect{w: w, h: h}
	for y := 0.0; y < 100000; y += le.gridSize {
		for x := 0.0; x+w <= le.maxRowW; x += le.gridSize {
			candidate.x, candidate.y = x, y
			free := true
			for _, occ := range occupied {
				if candidate.intersects(occ) {
					free = false
					break
				}
			}
			if free {
				return x + w/2, y + h/2
			}
		}
	}

	// Below everything.
	maxY := 0.0
	for _, b := range existing {
		if bottom := b.Y + b.H/2; bottom > maxY {
			maxY = bottom
		}
	}
	return w / 2, le.snap(maxY+le.padding) + h/2
}

// ArrangeGroup lays boxes out in rows starting at (startX, startY), wrapping
// at the maximum row width. Positions are updated in place.
func (le *LayoutEngine) ArrangeGroup(boxes []Box, startX, startY float64) []Box {
	x := le.snap(startX)
	y := le.snap(startY)
	rowHeight := 0.0

	for i := range boxes {
		if x > le.snap(startX) && x+boxes[i].W > le.snap(startX)+le.maxRowW {
			x = le.snap(startX)
			y += le.snap(rowHeight + le.padding)
			rowHeight = 0
		}
		boxes[i].X = x + boxes[i].W/2
		boxes[i].Y = y + boxes[i].H/2
		if boxes[i].H > rowHeight {
			rowHeight = boxes[i].H
		}
		x += le.snap(boxes[i].W + le.padding)
	}
	return boxes
}
