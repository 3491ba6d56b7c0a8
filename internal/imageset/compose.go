package imageset

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"io"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// pageLayout places each image on a letter page, centered, scaled to the
// page bounds with aspect ratio kept.
const pageLayout = "f:Letter, pos:c, sc:1.0"

// jpegQuality is used when embedding pages. Label text survives it well and
// it keeps multi-photo documents under the OCR upload limit.
const jpegQuality = 92

var pdfConfig = sync.OnceValue(func() *model.Configuration {
	api.DisableConfigDir()
	return model.NewDefaultConfiguration()
})

func composePDF(images []image.Image) ([]byte, error) {
	imp, err := api.Import(pageLayout, types.POINTS)
	if err != nil {
		return nil, fmt.Errorf("pdf page layout: %w", err)
	}

	pages := make([]io.Reader, 0, len(images))
	for i, img := range images {
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
			return nil, fmt.Errorf("encode page %d: %w", i+1, err)
		}
		pages = append(pages, &buf)
	}

	var out bytes.Buffer
	if err := api.ImportImages(nil, &out, pages, imp, pdfConfig()); err != nil {
		return nil, fmt.Errorf("build pdf: %w", err)
	}
	return out.Bytes(), nil
}

func composePNG(images []image.Image) ([]byte, error) {
	width, height := 0, 0
	for _, img := range images {
		b := img.Bounds()
		width = max(width, b.Dx())
		height += b.Dy()
	}

	canvas := imaging.New(width, height, color.White)
	y := 0
	for _, img := range images {
		canvas = imaging.Paste(canvas, img, image.Pt(0, y))
		y += img.Bounds().Dy()
	}

	var out bytes.Buffer
	if err := imaging.Encode(&out, canvas, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return out.Bytes(), nil
}
