// Package sprite assembles standalone SVG files into a single symbol sprite.
//
// Every input becomes a <symbol> whose id is derived from the file name, so a
// page can reference it with <use href="sprite.svg#name"/>. Shapes are
// minified first; ids inside a shape are namespaced with the shape id so two
// inputs can never collide.
package sprite

import (
	"bytes"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/svg"
)

const svgNS = "http://www.w3.org/2000/svg"

// Options controls shape transformation.
type Options struct {
	// Whitespace replaces runs of whitespace in shape ids.
	Whitespace string
	// Precision is the number of significant digits kept in coordinates;
	// 0 keeps them all.
	Precision int
	// Dimensions adds width and height attributes to every symbol.
	Dimensions bool
}

// Shape is one input file.
type Shape struct {
	Name string
	Data []byte
}

// Symbol describes an assembled shape.
type Symbol struct {
	ID      string
	ViewBox string
	Width   float64
	Height  float64
}

type Assembler struct {
	opts Options
	m    *minify.M
}

func NewAssembler(opts Options) *Assembler {
	if opts.Whitespace == "" {
		opts.Whitespace = "-"
	}
	m := minify.New()
	m.Add("image/svg+xml", &svg.Minifier{Precision: opts.Precision})
	return &Assembler{opts: opts, m: m}
}

var whitespaceRE = regexp.MustCompile(`\s+`)

// ShapeID derives a symbol id from a file name.
func (a *Assembler) ShapeID(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSuffix(name, ".svg")
	return whitespaceRE.ReplaceAllString(name, a.opts.Whitespace)
}

// Assemble builds the sprite sheet. Symbols appear in input order.
func (a *Assembler) Assemble(shapes []Shape) ([]byte, []Symbol, error) {
	out := etree.NewDocument()
	root := out.CreateElement("svg")
	root.CreateAttr("xmlns", svgNS)

	seen := make(map[string]string)
	symbols := make([]Symbol, 0, len(shapes))
	needsXlink := false

	for _, shape := range shapes {
		id := a.ShapeID(shape.Name)
		if prev, ok := seen[id]; ok {
			return nil, nil, fmt.Errorf("shapes %q and %q both map to id %q", prev, shape.Name, id)
		}
		seen[id] = shape.Name

		symbol, info, xlink, err := a.symbol(id, shape.Data)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", shape.Name, err)
		}
		needsXlink = needsXlink || xlink
		root.AddChild(symbol)
		symbols = append(symbols, info)
	}

	if needsXlink {
		root.CreateAttr("xmlns:xlink", "http://www.w3.org/1999/xlink")
	}

	data, err := out.WriteToBytes()
	if err != nil {
		return nil, nil, fmt.Errorf("writing sprite: %w", err)
	}
	return data, symbols, nil
}

func (a *Assembler) symbol(id string, data []byte) (*etree.Element, Symbol, bool, error) {
	minified, err := a.m.Bytes("image/svg+xml", data)
	if err != nil {
		return nil, Symbol{}, false, fmt.Errorf("minifying: %w", err)
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(minified); err != nil {
		return nil, Symbol{}, false, fmt.Errorf("parsing: %w", err)
	}
	src := doc.Root()
	if src == nil || src.Tag != "svg" {
		return nil, Symbol{}, false, fmt.Errorf("root element is not <svg>")
	}

	width := parseLength(src.SelectAttrValue("width", ""))
	height := parseLength(src.SelectAttrValue("height", ""))
	viewBox := strings.TrimSpace(src.SelectAttrValue("viewBox", ""))
	if viewBox == "" {
		if width == 0 || height == 0 {
			return nil, Symbol{}, false, fmt.Errorf("no viewBox and no width/height")
		}
		viewBox = fmt.Sprintf("0 0 %s %s", formatNumber(width), formatNumber(height))
	}
	if width == 0 || height == 0 {
		if w, h, ok := viewBoxSize(viewBox); ok {
			width, height = w, h
		}
	}
	width, height = math.Round(width), math.Round(height)

	namespaceIDs(src, id)

	symbol := etree.NewElement("symbol")
	symbol.CreateAttr("id", id)
	symbol.CreateAttr("viewBox", viewBox)
	if a.opts.Dimensions && width > 0 && height > 0 {
		symbol.CreateAttr("width", formatNumber(width))
		symbol.CreateAttr("height", formatNumber(height))
	}

	xlink := false
	for _, attr := range src.Attr {
		switch {
		case attr.Space == "xmlns" && attr.Key == "xlink":
			xlink = true
			continue
		case attr.Space == "" && attr.Key == "xmlns", attr.Space == "xmlns":
			continue
		}
		switch attr.FullKey() {
		case "id", "width", "height", "viewBox", "x", "y", "version", "xml:space", "enable-background":
			continue
		}
		symbol.CreateAttr(attr.FullKey(), attr.Value)
	}

	children := append([]etree.Token(nil), src.Child...)
	for _, child := range children {
		symbol.AddChild(child)
	}

	return symbol, Symbol{ID: id, ViewBox: viewBox, Width: width, Height: height}, xlink, nil
}

// namespaceIDs prefixes every id below el with prefix and rewrites the
// references to them.
func namespaceIDs(el *etree.Element, prefix string) {
	renamed := make(map[string]string)
	walk(el, func(e *etree.Element) {
		if v := e.SelectAttrValue("id", ""); v != "" && e != el {
			renamed[v] = prefix + "-" + v
		}
	})
	if len(renamed) == 0 {
		return
	}

	walk(el, func(e *etree.Element) {
		for i := range e.Attr {
			attr := &e.Attr[i]
			switch {
			case attr.Key == "id" && attr.Space == "" && e != el:
				if n, ok := renamed[attr.Value]; ok {
					attr.Value = n
				}
			case attr.Key == "href" && strings.HasPrefix(attr.Value, "#"):
				if n, ok := renamed[attr.Value[1:]]; ok {
					attr.Value = "#" + n
				}
			case strings.Contains(attr.Value, "url(#"):
				attr.Value = rewriteURLRefs(attr.Value, renamed)
			}
		}
	})
}

var urlRefRE = regexp.MustCompile(`url\(#([^)]+)\)`)

func rewriteURLRefs(value string, renamed map[string]string) string {
	return urlRefRE.ReplaceAllStringFunc(value, func(m string) string {
		ref := urlRefRE.FindStringSubmatch(m)[1]
		if n, ok := renamed[ref]; ok {
			return "url(#" + n + ")"
		}
		return m
	})
}

func walk(el *etree.Element, fn func(*etree.Element)) {
	fn(el)
	for _, child := range el.ChildElements() {
		walk(child, fn)
	}
}

func parseLength(v string) float64 {
	v = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(v), "px"))
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}

func viewBoxSize(viewBox string) (float64, float64, bool) {
	fields := strings.FieldsFunc(viewBox, func(r rune) bool { return r == ' ' || r == ',' })
	if len(fields) != 4 {
		return 0, 0, false
	}
	w, err1 := strconv.ParseFloat(fields[2], 64)
	h, err2 := strconv.ParseFloat(fields[3], 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return w, h, true
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Stylesheet renders a Sass partial with one map entry per symbol.
func Stylesheet(symbols []Symbol) []byte {
	var b bytes.Buffer
	b.WriteString("// Generated by the sprite task. Do not edit.\n")
	b.WriteString("$sprite-shapes: (\n")
	for _, s := range symbols {
		fmt.Fprintf(&b, "  %q: (width: %spx, height: %spx),\n", s.ID, formatNumber(s.Width), formatNumber(s.Height))
	}
	b.WriteString(");\n")
	return b.Bytes()
}
