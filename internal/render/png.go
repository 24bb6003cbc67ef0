// Package render draws board thumbnails as PNG data URLs.
package render

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"

	"fumen/internal/domain"
)

const (
	// DefaultCell is the edge of one board cell in pixels.
	DefaultCell = 4
	cols        = 10
	rows        = 20
)

// Cell colours by piece letter, guideline palette. Lower-case and digits map
// through parseRow.
var palette = map[byte]color.RGBA{
	'I': {0x31, 0xc7, 0xef, 0xff},
	'O': {0xf7, 0xd3, 0x08, 0xff},
	'T': {0xad, 0x4d, 0x9c, 0xff},
	'L': {0xef, 0x79, 0x21, 0xff},
	'J': {0x5a, 0x65, 0xad, 0xff},
	'S': {0x42, 0xb6, 0x42, 0xff},
	'Z': {0xef, 0x20, 0x29, 0xff},
	'X': {0x99, 0x99, 0x99, 0xff},
}

var background = color.RGBA{0x1b, 0x1b, 0x1f, 0xff}

// numeric cell values used by array boards: 0 empty, 1..7 IOTLJSZ, 8 garbage.
const cellCode = "_IOTLJSZX"

// PNG renders boards as a 10-wide grid with the bottom row last.
type PNG struct {
	cell int
}

// NewPNG returns a renderer drawing cell-pixel squares. cell <= 0 uses
// DefaultCell.
func NewPNG(cell int) *PNG {
	if cell <= 0 {
		cell = DefaultCell
	}
	return &PNG{cell: cell}
}

// Thumbnail implements storage.Renderer.
func (r *PNG) Thumbnail(ctx context.Context, b domain.Board) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	grid, err := Parse(b)
	if err != nil {
		return "", err
	}
	img := r.draw(grid)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode thumbnail: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func (r *PNG) draw(grid [][]byte) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, cols*r.cell, rows*r.cell))
	fill(img, img.Bounds(), background)
	// Align the grid to the bottom so short boards sit on the floor.
	offset := rows - len(grid)
	for y, row := range grid {
		for x, c := range row {
			col, ok := palette[c]
			if !ok || x >= cols || y+offset < 0 {
				continue
			}
			px, py := x*r.cell, (y+offset)*r.cell
			fill(img, image.Rect(px, py, px+r.cell, py+r.cell), col)
		}
	}
	return img
}

func fill(img *image.RGBA, rect image.Rectangle, c color.RGBA) {
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

// Parse reads the cell grid out of a board. It accepts an object with a
// "field" or "board" member holding rows top to bottom, each row either a
// string of piece letters ("_" empty) or an array of cell numbers. Anything
// else is an empty grid. Rows beyond the visible 20 are dropped from the top.
func Parse(b domain.Board) ([][]byte, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(b, &doc); err != nil {
		// Opaque boards still get a (blank) thumbnail.
		return nil, nil
	}
	raw, ok := doc["field"]
	if !ok {
		raw, ok = doc["board"]
	}
	if !ok {
		return nil, nil
	}

	var rowsRaw []json.RawMessage
	if err := json.Unmarshal(raw, &rowsRaw); err != nil {
		return nil, fmt.Errorf("board rows: %w", err)
	}
	grid := make([][]byte, 0, len(rowsRaw))
	for i, rr := range rowsRaw {
		row, err := parseRow(rr)
		if err != nil {
			return nil, fmt.Errorf("board row %d: %w", i, err)
		}
		grid = append(grid, row)
	}
	if len(grid) > rows {
		grid = grid[len(grid)-rows:]
	}
	return grid, nil
}

func parseRow(raw json.RawMessage) ([]byte, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []byte(strings.ToUpper(s)), nil
	}
	var nums []int
	if err := json.Unmarshal(raw, &nums); err != nil {
		return nil, err
	}
	row := make([]byte, len(nums))
	for i, n := range nums {
		if n < 0 || n >= len(cellCode) {
			return nil, fmt.Errorf("cell value %d out of range", n)
		}
		row[i] = cellCode[n]
	}
	return row, nil
}
