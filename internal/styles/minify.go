package styles

import (
	"fmt"

	"github.com/tdewolff/minify/v2"
	mincss "github.com/tdewolff/minify/v2/css"
)

const mediaType = "text/css"

// Minifier shrinks CSS without changing its rule set.
type Minifier struct {
	m *minify.M
}

// NewMinifier creates a CSS minifier. Vendor prefixes are left alone; they
// were added on purpose by the prefixer.
func NewMinifier() *Minifier {
	m := minify.New()
	m.Add(mediaType, &mincss.Minifier{KeepCSS2: true})
	return &Minifier{m: m}
}

// Minify returns the minified stylesheet.
func (m *Minifier) Minify(src []byte) ([]byte, error) {
	out, err := m.m.Bytes(mediaType, src)
	if err != nil {
		return nil, fmt.Errorf("minifying css: %w", err)
	}
	return out, nil
}
