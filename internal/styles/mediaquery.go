package styles

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/css"
)

// CombineMediaQueries merges top-level @media blocks that share a query into
// one block per query. Merged blocks keep the order in which their query
// first appeared and are placed after all other rules. Rules nested inside a
// block keep their relative order.
func CombineMediaQueries(src []byte) ([]byte, error) {
	p := css.NewParser(parse.NewInputBytes(src), false)

	var base bytes.Buffer
	var queries []string
	blocks := make(map[string]*bytes.Buffer)

	var current *bytes.Buffer
	depth := 0

	for {
		gt, _, data := p.Next()
		if gt == css.ErrorGrammar {
			if err := p.Err(); err != nil && err != io.EOF {
				return nil, fmt.Errorf("parsing css: %w", err)
			}
			break
		}

		out := &base
		if current != nil {
			out = current
		}

		switch gt {
		case css.BeginAtRuleGrammar:
			if depth == 0 && strings.EqualFold(string(data), "@media") {
				query := joinValues(p.Values())
				buf, ok := blocks[query]
				if !ok {
					buf = &bytes.Buffer{}
					blocks[query] = buf
					queries = append(queries, query)
				}
				current = buf
				depth++
				continue
			}
			writeGrammar(out, gt, data, p.Values())
			depth++
		case css.EndAtRuleGrammar:
			depth--
			if depth == 0 && current != nil {
				current = nil
				continue
			}
			out.Write(data)
		default:
			writeGrammar(out, gt, data, p.Values())
		}
	}

	for _, query := range queries {
		base.WriteString("@media ")
		base.WriteString(query)
		base.WriteByte('{')
		base.Write(blocks[query].Bytes())
		base.WriteByte('}')
	}
	return base.Bytes(), nil
}

func writeGrammar(out *bytes.Buffer, gt css.GrammarType, data []byte, values []css.Token) {
	switch gt {
	case css.AtRuleGrammar, css.BeginAtRuleGrammar, css.QualifiedRuleGrammar,
		css.BeginRulesetGrammar, css.DeclarationGrammar, css.CustomPropertyGrammar:
		out.Write(data)
		if gt == css.DeclarationGrammar || gt == css.CustomPropertyGrammar {
			out.WriteByte(':')
		}
		if gt == css.BeginAtRuleGrammar || gt == css.AtRuleGrammar {
			if len(values) > 0 && values[0].TokenType != css.WhitespaceToken {
				out.WriteByte(' ')
			}
		}
		for _, val := range values {
			out.Write(val.Data)
		}
		switch gt {
		case css.BeginAtRuleGrammar, css.BeginRulesetGrammar:
			out.WriteByte('{')
		case css.AtRuleGrammar, css.DeclarationGrammar, css.CustomPropertyGrammar:
			out.WriteByte(';')
		case css.QualifiedRuleGrammar:
			out.WriteByte(',')
		}
	default:
		out.Write(data)
	}
}

func joinValues(values []css.Token) string {
	var b strings.Builder
	for _, val := range values {
		b.Write(val.Data)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
