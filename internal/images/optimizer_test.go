package images_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spachava753/oscar/internal/images"
	"github.com/spachava753/oscar/internal/pipeline"
)

// stripes draws a 64x64 image using only a handful of colors.
func stripes() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 64, 64))
	colors := []color.NRGBA{
		{R: 255, A: 255},
		{G: 255, A: 255},
		{B: 255, A: 128},
		{A: 0},
	}
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.SetNRGBA(x, y, colors[(x/8+y/16)%len(colors)])
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.NoCompression}
	require.NoError(t, enc.Encode(&buf, img))
	return buf.Bytes()
}

func samePixels(t *testing.T, a, b image.Image) {
	t.Helper()
	require.Equal(t, a.Bounds(), b.Bounds())
	for y := a.Bounds().Min.Y; y < a.Bounds().Max.Y; y++ {
		for x := a.Bounds().Min.X; x < a.Bounds().Max.X; x++ {
			ca := color.NRGBAModel.Convert(a.At(x, y))
			cb := color.NRGBAModel.Convert(b.At(x, y))
			if ca != cb {
				t.Fatalf("pixel (%d,%d) differs: %v != %v", x, y, ca, cb)
			}
		}
	}
}

func TestOptimizePNGLossless(t *testing.T) {
	src := stripes()
	input := encodePNG(t, src)

	out, err := images.NewOptimizer(4, true).Optimize("logo.png", input)
	require.NoError(t, err)
	assert.Less(t, len(out), len(input))

	decoded, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	samePixels(t, src, decoded)
}

func TestOptimizeNeverGrows(t *testing.T) {
	// already optimal output from the optimizer itself
	input := encodePNG(t, stripes())
	o := images.NewOptimizer(7, true)

	once, err := o.Optimize("a.png", input)
	require.NoError(t, err)
	twice, err := o.Optimize("a.png", once)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(twice), len(once))
}

func TestOptimizeJPEGStripsMetadata(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for i := range img.Pix {
		img.Pix[i] = uint8(i * 7)
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	plain := buf.Bytes()

	// insert an EXIF-like APP1 segment and a comment after SOI
	app1 := append([]byte{0xFF, 0xE1, 0x00, 0x0A}, []byte("Exif\x00\x00ab")...)
	com := append([]byte{0xFF, 0xFE, 0x00, 0x07}, []byte("hello")...)
	input := append(append(append([]byte{}, plain[:2]...), append(app1, com...)...), plain[2:]...)

	out, err := images.NewOptimizer(4, true).Optimize("photo.jpg", input)
	require.NoError(t, err)
	assert.Equal(t, plain, out)

	want, err := jpeg.Decode(bytes.NewReader(plain))
	require.NoError(t, err)
	got, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	samePixels(t, want, got)
}

func TestOptimizeGIFLossless(t *testing.T) {
	pal := color.Palette{color.Black, color.White}
	frame := image.NewPaletted(image.Rect(0, 0, 8, 8), pal)
	for i := range frame.Pix {
		frame.Pix[i] = uint8(i % 2)
	}
	var buf bytes.Buffer
	require.NoError(t, gif.EncodeAll(&buf, &gif.GIF{Image: []*image.Paletted{frame}, Delay: []int{0}}))
	input := buf.Bytes()

	out, err := images.NewOptimizer(4, true).Optimize("anim.gif", input)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(out), len(input))

	decoded, err := gif.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	samePixels(t, frame, decoded)
}

func TestOptimizeSVG(t *testing.T) {
	input := []byte(`<?xml version="1.0" encoding="UTF-8"?>
<!-- Generator: Sketch -->
<svg xmlns="http://www.w3.org/2000/svg" width="24" height="24" viewBox="0 0 24 24">
    <g>
        <rect x="0" y="0" width="24" height="24" fill="#ff0000"/>
    </g>
</svg>
`)

	out, err := images.NewOptimizer(4, true).Optimize("icon.svg", input)
	require.NoError(t, err)
	assert.Less(t, len(out), len(input))
	assert.Contains(t, string(out), "<svg")
	assert.NotContains(t, string(out), "Generator")
}

func TestOptimizeCorruptImage(t *testing.T) {
	_, err := images.NewOptimizer(4, false).Optimize("broken.png", []byte("not a png"))
	assert.Error(t, err)
}

func TestOptimizeUnknownFormat(t *testing.T) {
	out, err := images.NewOptimizer(4, true).Optimize("notes.txt", []byte("keep me"))
	require.NoError(t, err)
	assert.Equal(t, "keep me", string(out))
}

func TestOptimizeStepWritesSmallerFiles(t *testing.T) {
	root := t.TempDir()
	out := filepath.Join(root, "assets", "img")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "img", "icons"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "img", "sprites"), 0755))

	input := encodePNG(t, stripes())
	require.NoError(t, os.WriteFile(filepath.Join(root, "img", "logo.png"), input, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "img", "icons", "home.png"), input, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "img", "sprites", "arrow.svg"), []byte("<svg/>"), 0644))

	p := &pipeline.Pipeline{
		Name: "img",
		Source: pipeline.Source{
			Root:    root,
			Include: []string{"img/{,*/}*.{png,jpg,gif,svg}"},
			Exclude: []string{"img/sprites/*"},
		},
		Steps: []pipeline.Step{
			images.OptimizeStep(images.NewOptimizer(4, true), slog.New(slog.NewTextHandler(io.Discard, nil))),
			pipeline.Dest(out),
		},
	}
	require.NoError(t, p.Run(context.Background()))

	for _, name := range []string{"logo.png", filepath.Join("icons", "home.png")} {
		info, err := os.Stat(filepath.Join(out, name))
		require.NoError(t, err)
		assert.LessOrEqual(t, info.Size(), int64(len(input)))
	}
	_, err := os.Stat(filepath.Join(out, "sprites", "arrow.svg"))
	assert.True(t, os.IsNotExist(err))
}
