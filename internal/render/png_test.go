package render_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fumen/internal/domain"
	"fumen/internal/render"
	"fumen/internal/storage"
)

var _ storage.Renderer = (*render.PNG)(nil)

func decode(t *testing.T, url string) (w, h int, at func(x, y int) [4]uint32) {
	t.Helper()
	const prefix = "data:image/png;base64,"
	require.True(t, strings.HasPrefix(url, prefix))
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(url, prefix))
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	b := img.Bounds()
	return b.Dx(), b.Dy(), func(x, y int) [4]uint32 {
		r, g, bl, a := img.At(x, y).RGBA()
		return [4]uint32{r, g, bl, a}
	}
}

func TestParse(t *testing.T) {
	grid, err := render.Parse(domain.Board(`{"field":["__IIII____","xxxxxxxxx_"]}`))
	require.NoError(t, err)
	require.Len(t, grid, 2)
	assert.Equal(t, []byte("__IIII____"), grid[0])
	assert.Equal(t, []byte("XXXXXXXXX_"), grid[1])

	grid, err = render.Parse(domain.Board(`{"board":[[0,1,2],[8]]}`))
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("_IO"), []byte("X")}, grid)

	grid, err = render.Parse(domain.Board(`{"pages":3}`))
	require.NoError(t, err)
	assert.Empty(t, grid)

	_, err = render.Parse(domain.Board(`{"board":[[9]]}`))
	assert.Error(t, err)
	_, err = render.Parse(domain.Board(`{"field":"nope"}`))
	assert.Error(t, err)
}

func TestParse_KeepsBottomRows(t *testing.T) {
	rows := make([]string, 25)
	for i := range rows {
		rows[i] = `"__________"`
	}
	rows[24] = `"IIII______"`
	grid, err := render.Parse(domain.Board(`{"field":[` + strings.Join(rows, ",") + `]}`))
	require.NoError(t, err)
	require.Len(t, grid, 20)
	assert.Equal(t, []byte("IIII______"), grid[19])
}

func TestThumbnail_DrawsCellsFromTheFloor(t *testing.T) {
	r := render.NewPNG(2)
	url, err := r.Thumbnail(context.Background(), domain.Board(`{"field":["Z_________"]}`))
	require.NoError(t, err)

	w, h, at := decode(t, url)
	assert.Equal(t, 20, w)
	assert.Equal(t, 40, h)
	// One row board sits on the bottom row.
	assert.NotEqual(t, at(0, 0), at(0, 39))
	assert.Equal(t, at(0, 0), at(19, 39), "empty cells share the background")
}

func TestThumbnail_OpaqueBoardIsBlank(t *testing.T) {
	url, err := render.NewPNG(0).Thumbnail(context.Background(), domain.Board(`not json`))
	require.NoError(t, err)
	w, h, _ := decode(t, url)
	assert.Equal(t, 10*render.DefaultCell, w)
	assert.Equal(t, 20*render.DefaultCell, h)
}

func TestThumbnail_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := render.NewPNG(1).Thumbnail(ctx, domain.Board(`{}`))
	assert.ErrorIs(t, err, context.Canceled)
}
