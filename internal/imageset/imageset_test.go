package imageset

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fertiscan/internal/failure"
)

func encodeImage(t *testing.T, w, h int, c color.Color, format imaging.Format) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, imaging.New(w, h, c), format))
	return buf.Bytes()
}

func TestAddBytes(t *testing.T) {
	s := New()
	require.NoError(t, s.Add(Bytes{Data: encodeImage(t, 40, 30, color.Black, imaging.PNG)}))
	require.NoError(t, s.Add(Bytes{Data: encodeImage(t, 20, 60, color.Black, imaging.JPEG)}))

	assert.Equal(t, 2, s.Len())
	assert.Equal(t, []image.Rectangle{image.Rect(0, 0, 40, 30), image.Rect(0, 0, 20, 60)}, s.Bounds())
}

func TestAddRejectsUndecodable(t *testing.T) {
	s := New()

	err := s.Add(Bytes{Data: []byte("not an image"), Name: "note.txt"})
	require.Error(t, err)
	assert.ErrorIs(t, err, failure.ErrBadImage)
	assert.ErrorIs(t, err, ErrUndecodable)
	assert.Equal(t, failure.ReasonDecode, failure.ReasonOf(err))

	err = s.Add(Bytes{})
	assert.ErrorIs(t, err, ErrUndecodable)
	assert.Equal(t, 0, s.Len())
}

func TestAddPathNotFound(t *testing.T) {
	s := New()

	err := s.Add(Path{Name: filepath.Join(t.TempDir(), "missing.png")})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, failure.ErrBadImage)
	assert.Equal(t, failure.ReasonNotFound, failure.ReasonOf(err))
}

func TestComposeEmpty(t *testing.T) {
	_, err := New().Compose(FormatPDF)

	assert.ErrorIs(t, err, ErrEmpty)
	assert.ErrorIs(t, err, failure.ErrBadImage)
	assert.Equal(t, failure.ReasonEmptyInput, failure.ReasonOf(err))
}

func TestComposePDFOnePagePerImage(t *testing.T) {
	for _, n := range []int{1, 3} {
		s := New()
		for i := 0; i < n; i++ {
			require.NoError(t, s.Add(Bytes{Data: encodeImage(t, 300, 200, color.Gray{Y: 200}, imaging.PNG)}))
		}

		data, err := s.Compose(FormatPDF)
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))

		pages, err := api.PageCount(bytes.NewReader(data), nil)
		require.NoError(t, err)
		assert.Equal(t, n, pages)
	}
}

func TestComposePNGStacksImages(t *testing.T) {
	s := New()
	require.NoError(t, s.Add(Bytes{Data: encodeImage(t, 400, 600, color.Black, imaging.PNG)}))
	require.NoError(t, s.Add(Bytes{Data: encodeImage(t, 800, 400, color.Black, imaging.JPEG)}))

	data, err := s.Compose(FormatPNG)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 800, img.Bounds().Dx())
	assert.Equal(t, 1000, img.Bounds().Dy())

	// Right of the narrow first image is background.
	r, g, b, _ := img.At(600, 100).RGBA()
	assert.Equal(t, [3]uint32{0xffff, 0xffff, 0xffff}, [3]uint32{r, g, b})

	// The second image starts right below the first.
	r, g, b, _ = img.At(600, 700).RGBA()
	assert.Less(t, r+g+b, uint32(0x3000))
}

func TestWriteTo(t *testing.T) {
	dir := t.TempDir()
	s := New()
	require.NoError(t, s.Add(Bytes{Data: encodeImage(t, 10, 10, color.White, imaging.PNG)}))

	path, err := s.WriteTo(dir, FormatPNG)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "composite.png"), path)
	assert.FileExists(t, path)
}

func TestClearRemovesScratchFiles(t *testing.T) {
	dir := t.TempDir()
	scratch := filepath.Join(dir, "scratch.png")
	kept := filepath.Join(dir, "kept.png")
	require.NoError(t, os.WriteFile(scratch, encodeImage(t, 5, 5, color.White, imaging.PNG), 0o600))
	require.NoError(t, os.WriteFile(kept, encodeImage(t, 5, 5, color.White, imaging.PNG), 0o600))

	s := New()
	require.NoError(t, s.Add(Path{Name: scratch, Scratch: true}))
	require.NoError(t, s.Add(Path{Name: kept}))
	require.NoError(t, s.Clear())

	assert.NoFileExists(t, scratch)
	assert.FileExists(t, kept)
	assert.Equal(t, 0, s.Len())

	// Clearing twice is harmless.
	require.NoError(t, s.Clear())
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatPDF, f)

	f, err = ParseFormat("png")
	require.NoError(t, err)
	assert.Equal(t, FormatPNG, f)

	_, err = ParseFormat("tiff")
	assert.Error(t, err)
}
