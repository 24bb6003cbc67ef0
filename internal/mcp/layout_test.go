package mcpserver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fumen/internal/domain"
)

func overlaps(a, b Box) bool {
	return a.rect().intersects(b.rect())
}

func TestNextPosition_EmptyCanvas(t *testing.T) {
	le := NewLayoutEngine()
	x, y := le.NextPosition(nil, fieldW, fieldH)
	assert.Equal(t, 25.0, x)
	assert.Equal(t, 50.0, y)
}

func TestNextPosition_AvoidsExistingNodes(t *testing.T) {
	le := NewLayoutEngine()
	existing := []Box{
		{X: 25, Y: 50, W: fieldW, H: fieldH},
		{X: 125, Y: 50, W: fieldW, H: fieldH},
	}
	x, y := le.NextPosition(existing, fieldW, fieldH)
	placed := Box{X: x, Y: y, W: fieldW, H: fieldH}
	for _, b := range existing {
		assert.False(t, overlaps(placed, b), "placed at (%.0f, %.0f) overlaps (%.0f, %.0f)", x, y, b.X, b.Y)
	}
	assert.Less(t, y, 100.0, "still fits on the first row")
}

func TestNextPosition_FullRowWraps(t *testing.T) {
	le := NewLayoutEngine()
	existing := []Box{{X: MaxRowW / 2, Y: 50, W: MaxRowW, H: fieldH}}
	x, y := le.NextPosition(existing, fieldW, fieldH)
	assert.GreaterOrEqual(t, y-fieldH/2, 100.0+Padding)
	assert.Equal(t, 25.0, x)
}

func TestArrangeGroup_NoOverlaps(t *testing.T) {
	le := NewLayoutEngine()
	boxes := []Box{
		{ID: 1, W: fieldW, H: fieldH},
		{ID: 2, W: 300, H: 24},
		{ID: 3, W: fieldW, H: fieldH},
	}
	arranged := le.ArrangeGroup(boxes, 0, 0)
	require.Len(t, arranged, 3)

	for i := 0; i < len(arranged); i++ {
		for j := i + 1; j < len(arranged); j++ {
			assert.False(t, overlaps(arranged[i], arranged[j]), "nodes %d and %d overlap", i, j)
		}
	}
	assert.Equal(t, arranged[0].Y-fieldH/2, arranged[1].Y-12, "one row shares a top edge")
}

func TestArrangeGroup_Wraps(t *testing.T) {
	le := NewLayoutEngine()
	boxes := make([]Box, 0, 30)
	for i := range 30 {
		boxes = append(boxes, Box{ID: int64(i), W: fieldW, H: fieldH})
	}
	arranged := le.ArrangeGroup(boxes, 0, 0)
	for _, b := range arranged {
		assert.LessOrEqual(t, b.X+b.W/2, MaxRowW)
	}
	assert.Greater(t, arranged[len(arranged)-1].Y, arranged[0].Y)
}

func TestTextBox_ScalesWithSize(t *testing.T) {
	small := TextBox(domain.TextNode{Text: domain.Ptr("abcd")})
	big := TextBox(domain.TextNode{Text: domain.Ptr("abcd"), Size: domain.Ptr(32)})
	assert.Equal(t, 32.0, small.W)
	assert.Equal(t, 2*small.W, big.W)
	assert.Equal(t, 2*small.H, big.H)

	f := FieldBox(domain.FieldNode{ID: domain.Ptr(int64(4)), X: domain.Ptr(10.0)})
	assert.Equal(t, Box{ID: 4, X: 10, W: fieldW, H: fieldH}, f)
}

func TestSnap(t *testing.T) {
	le := NewLayoutEngine()
	for _, tt := range []struct{ input, want float64 }{
		{0, 0},
		{4, 0},
		{5, 10},
		{25, 30},
		{99, 100},
	} {
		assert.Equal(t, tt.want, le.snap(tt.input), "snap(%v)", tt.input)
	}
}
