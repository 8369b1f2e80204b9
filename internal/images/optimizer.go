// Package images recompresses raster and vector images without changing how
// they render.
package images

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"path"
	"strings"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/svg"
)

const maxPasses = 10

// Optimizer recompresses images. The result is never larger than the input:
// when a pass cannot improve on the original, the original is kept.
type Optimizer struct {
	// Level is the optimization aggressiveness, 0 through 7.
	Level     int
	Multipass bool

	svg *minify.M
}

func NewOptimizer(level int, multipass bool) *Optimizer {
	m := minify.New()
	m.Add("image/svg+xml", &svg.Minifier{})
	return &Optimizer{Level: level, Multipass: multipass, svg: m}
}

// Optimize recompresses data according to the extension of name. Unknown
// formats are returned unchanged.
func (o *Optimizer) Optimize(name string, data []byte) ([]byte, error) {
	var pass func([]byte) ([]byte, error)
	switch strings.ToLower(path.Ext(name)) {
	case ".png":
		pass = o.optimizePNG
	case ".jpg", ".jpeg":
		pass = stripJPEG
	case ".gif":
		pass = optimizeGIF
	case ".svg":
		pass = o.optimizeSVG
	default:
		return data, nil
	}

	best := data
	passes := 1
	if o.Multipass {
		passes = maxPasses
	}
	for i := 0; i < passes; i++ {
		out, err := pass(best)
		if err != nil {
			return nil, err
		}
		if len(out) >= len(best) {
			break
		}
		best = out
	}
	return best, nil
}

func (o *Optimizer) pngLevel() png.CompressionLevel {
	switch {
	case o.Level <= 1:
		return png.BestSpeed
	case o.Level <= 3:
		return png.DefaultCompression
	default:
		return png.BestCompression
	}
}

func (o *Optimizer) optimizePNG(data []byte) ([]byte, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding png: %w", err)
	}
	if o.Level >= 2 {
		img = toPaletted(img)
	}

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: o.pngLevel()}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding png: %w", err)
	}
	return buf.Bytes(), nil
}

// toPaletted converts an 8-bit truecolor image with at most 256 distinct
// colors to a paletted one. Any other image is returned as is.
func toPaletted(img image.Image) image.Image {
	switch img.(type) {
	case *image.NRGBA, *image.RGBA:
	default:
		return img
	}

	bounds := img.Bounds()
	index := make(map[color.NRGBA]uint8)
	var palette color.Palette
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			if _, ok := index[c]; ok {
				continue
			}
			if len(palette) == 256 {
				return img
			}
			index[c] = uint8(len(palette))
			palette = append(palette, c)
		}
	}

	out := image.NewPaletted(bounds, palette)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			out.SetColorIndex(x, y, index[c])
		}
	}
	return out
}

// JPEG marker bytes.
const (
	markerSOI  = 0xD8
	markerSOS  = 0xDA
	markerAPP0 = 0xE0
	markerAPP2 = 0xE2 // ICC profile
	markerAPPE = 0xEE // Adobe color transform
	markerCOM  = 0xFE
)

// stripJPEG drops metadata segments (EXIF, XMP, comments) that do not take
// part in decoding. Entropy-coded data is copied untouched, so pixels are
// identical.
func stripJPEG(data []byte) ([]byte, error) {
	if _, err := jpeg.DecodeConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("decoding jpeg: %w", err)
	}
	if len(data) < 4 || data[0] != 0xFF || data[1] != markerSOI {
		return nil, fmt.Errorf("decoding jpeg: missing SOI marker")
	}

	out := make([]byte, 0, len(data))
	out = append(out, data[:2]...)
	i := 2
	for i < len(data) {
		if data[i] != 0xFF {
			return nil, fmt.Errorf("decoding jpeg: expected marker at offset %d", i)
		}
		if i+1 < len(data) && data[i+1] == 0xFF {
			i++ // fill byte
			continue
		}
		if i+3 >= len(data) {
			return nil, fmt.Errorf("decoding jpeg: truncated segment at offset %d", i)
		}

		marker := data[i+1]
		length := int(binary.BigEndian.Uint16(data[i+2 : i+4]))
		end := i + 2 + length
		if length < 2 || end > len(data) {
			return nil, fmt.Errorf("decoding jpeg: bad segment length at offset %d", i)
		}

		if marker == markerSOS {
			// scan data runs to the end of the image
			out = append(out, data[i:]...)
			return out, nil
		}
		if keepSegment(marker) {
			out = append(out, data[i:end]...)
		}
		i = end
	}
	return nil, fmt.Errorf("decoding jpeg: no scan data")
}

func keepSegment(marker byte) bool {
	if marker == markerCOM {
		return false
	}
	if marker >= markerAPP0 && marker <= 0xEF {
		return marker == markerAPP0 || marker == markerAPP2 || marker == markerAPPE
	}
	return true
}

func optimizeGIF(data []byte) ([]byte, error) {
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding gif: %w", err)
	}
	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, g); err != nil {
		return nil, fmt.Errorf("encoding gif: %w", err)
	}
	return buf.Bytes(), nil
}

func (o *Optimizer) optimizeSVG(data []byte) ([]byte, error) {
	out, err := o.svg.Bytes("image/svg+xml", data)
	if err != nil {
		return nil, fmt.Errorf("minifying svg: %w", err)
	}
	return out, nil
}
