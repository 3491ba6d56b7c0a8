// Package imageset collects label photographs and composes them into a single
// document for OCR.
//
// Images may come from the filesystem or from memory. Both go through the
// same decoder, which applies EXIF orientation and accepts PNG, JPEG, WebP,
// GIF, BMP and TIFF.
//
// Two composite formats exist:
//   - FormatPDF: one letter-size page per image, centered and scaled to fit.
//     This is the format sent to OCR.
//   - FormatPNG: all images stacked top to bottom on a white canvas at their
//     original size. Useful for eyeballing what OCR received.
package imageset

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"fertiscan/internal/failure"
)

// Format is a composite output format.
type Format string

const (
	FormatPDF Format = "pdf"
	FormatPNG Format = "png"
)

// ParseFormat parses a user supplied format name.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatPDF, FormatPNG:
		return Format(s), nil
	case "":
		return FormatPDF, nil
	}
	return "", fmt.Errorf("unknown composite format %q (want pdf or png)", s)
}

var (
	// ErrNotFound is returned when a Path source does not exist.
	ErrNotFound = errors.New("image not found")

	// ErrUndecodable is returned when the bytes are not a supported image.
	ErrUndecodable = errors.New("image could not be decoded")

	// ErrEmpty is returned when composing a set with no images.
	ErrEmpty = errors.New("image set is empty")
)

// Source is an image to add to a Set. It is either a Path or Bytes.
type Source interface {
	source()
}

// Path is an image file on disk. When Scratch is set the file belongs to the
// set and is removed by Clear.
type Path struct {
	Name    string
	Scratch bool
}

// Bytes is an in-memory image. Name is used in error messages only.
type Bytes struct {
	Data []byte
	Name string
}

func (Path) source()  {}
func (Bytes) source() {}

// Set is an ordered collection of decoded images. A Set is not safe for
// concurrent use.
type Set struct {
	images  []image.Image
	scratch []string
}

// New returns an empty Set.
func New() *Set {
	return &Set{}
}

// Add decodes src and appends it to the set.
func (s *Set) Add(src Source) error {
	const op = "imageset.Add"

	var (
		img image.Image
		err error
	)

	switch v := src.(type) {
	case Path:
		img, err = decodeFile(v.Name)
		if v.Scratch {
			// Registered even on failure so Clear still removes it.
			s.scratch = append(s.scratch, v.Name)
		}
	case Bytes:
		img, err = decodeBytes(v.Data, v.Name)
	default:
		err = fmt.Errorf("unsupported source %T", src)
	}

	if err != nil {
		reason := failure.ReasonDecode
		if errors.Is(err, ErrNotFound) {
			reason = failure.ReasonNotFound
		}
		return &failure.Error{Op: op, Kind: failure.ErrBadImage, Reason: reason, Err: err}
	}

	s.images = append(s.images, img)
	return nil
}

// Len returns the number of images in the set.
func (s *Set) Len() int {
	return len(s.images)
}

// Bounds returns the size of each image, in insertion order.
func (s *Set) Bounds() []image.Rectangle {
	out := make([]image.Rectangle, len(s.images))
	for i, img := range s.images {
		out[i] = img.Bounds()
	}
	return out
}

// Compose renders the set in the given format.
func (s *Set) Compose(format Format) ([]byte, error) {
	const op = "imageset.Compose"

	if len(s.images) == 0 {
		return nil, &failure.Error{Op: op, Kind: failure.ErrBadImage, Reason: failure.ReasonEmptyInput, Err: ErrEmpty}
	}

	switch format {
	case FormatPDF, "":
		return composePDF(s.images)
	case FormatPNG:
		return composePNG(s.images)
	default:
		return nil, fmt.Errorf("%s: unknown format %q", op, format)
	}
}

// WriteTo composes the set and writes it as composite.<format> inside dir.
// It returns the written path.
func (s *Set) WriteTo(dir string, format Format) (string, error) {
	if format == "" {
		format = FormatPDF
	}

	data, err := s.Compose(format)
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, "composite."+string(format))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write composite: %w", err)
	}
	return path, nil
}

// Clear drops every image and removes scratch files registered with the set.
// Files already gone are ignored.
func (s *Set) Clear() error {
	var errs []error
	for _, name := range s.scratch {
		if err := os.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}

	s.images = nil
	s.scratch = nil
	return errors.Join(errs...)
}

func decodeFile(name string) (image.Image, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, err
	}
	return decodeBytes(data, name)
}

func decodeBytes(data []byte, name string) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s: no data", ErrUndecodable, label(name))
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUndecodable, label(name), err)
	}
	return img, nil
}

func label(name string) string {
	if name == "" {
		return "<memory>"
	}
	return name
}
