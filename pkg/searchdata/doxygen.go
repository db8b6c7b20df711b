package searchdata

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/bastiangx/symserve/pkg/symbols"
)

// SyntaxError reports malformed searchData input.
type SyntaxError struct {
	File   string
	Offset int
	Msg    string
}

func (e *SyntaxError) Error() string {
	if e.File == "" {
		return fmt.Sprintf("searchdata: offset %d: %s", e.Offset, e.Msg)
	}
	return fmt.Sprintf("searchdata: %s: offset %d: %s", e.File, e.Offset, e.Msg)
}

// ParseDoxygen reads a Doxygen searchData script:
//
//	var searchData=
//	[
//	  ['m_5fv',['m_v',['../a.html#a74',1,'m_derived_types::m_v()'],['../b.html#a35',1,'m_global_parameters::m_v()']]],
//	];
//
// Each row yields one Entry. The escaped key is decoded and normalized, the
// label is kept as is, and every [url, flag, scope] triple becomes an
// Occurrence with the url as anchor.
func ParseDoxygen(name string, data []byte) ([]symbols.Entry, error) {
	p := &jsParser{file: name, src: data}

	start := bytes.IndexByte(data, '[')
	if start < 0 {
		return nil, p.errorf("no array literal found")
	}
	if eq := bytes.IndexByte(data[:start], '='); eq < 0 && len(bytes.TrimSpace(data[:start])) > 0 {
		return nil, p.errorf("unexpected content before array literal")
	}
	p.pos = start

	v, err := p.value()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos < len(p.src) && p.src[p.pos] == ';' {
		p.pos++
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, p.errorf("trailing content after searchData")
	}

	rows, ok := v.([]any)
	if !ok {
		return nil, p.errorf("searchData is not an array")
	}
	entries := make([]symbols.Entry, 0, len(rows))
	for i, row := range rows {
		e, err := rowToEntry(row)
		if err != nil {
			return nil, &SyntaxError{File: name, Offset: p.pos, Msg: fmt.Sprintf("row %d: %v", i, err)}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func rowToEntry(row any) (symbols.Entry, error) {
	fields, ok := row.([]any)
	if !ok || len(fields) != 2 {
		return symbols.Entry{}, fmt.Errorf("expected [key, [label, ...]]")
	}
	rawKey, ok := fields[0].(string)
	if !ok {
		return symbols.Entry{}, fmt.Errorf("key is not a string")
	}
	body, ok := fields[1].([]any)
	if !ok || len(body) < 1 {
		return symbols.Entry{}, fmt.Errorf("expected [label, [url, flag, scope]...]")
	}
	label, ok := body[0].(string)
	if !ok {
		return symbols.Entry{}, fmt.Errorf("label is not a string")
	}

	e := symbols.Entry{
		Key:   symbols.NormalizeQuery(UnescapeKey(rawKey)),
		Label: label,
	}
	for j, raw := range body[1:] {
		triple, ok := raw.([]any)
		if !ok || len(triple) != 3 {
			return symbols.Entry{}, fmt.Errorf("occurrence %d: expected [url, flag, scope]", j)
		}
		anchor, ok1 := triple[0].(string)
		_, ok2 := triple[1].(float64)
		scope, ok3 := triple[2].(string)
		if !ok1 || !ok2 || !ok3 {
			return symbols.Entry{}, fmt.Errorf("occurrence %d: wrong field types", j)
		}
		e.Occurrences = append(e.Occurrences, symbols.Occurrence{Scope: scope, Anchor: anchor})
	}
	return e, nil
}

// UnescapeKey decodes Doxygen's search key escaping, where any byte outside
// [a-z0-9] is written as "_" plus two lowercase hex digits ("m_5fv" is "m_v").
// Sequences that are not valid escapes are kept verbatim.
func UnescapeKey(key string) string {
	if !strings.Contains(key, "_") {
		return key
	}
	var out []byte
	for i := 0; i < len(key); i++ {
		if key[i] == '_' && i+2 < len(key) {
			if b, err := strconv.ParseUint(key[i+1:i+3], 16, 8); err == nil {
				out = append(out, byte(b))
				i += 2
				continue
			}
		}
		out = append(out, key[i])
	}
	if !utf8.Valid(out) {
		return key
	}
	return string(out)
}

type jsParser struct {
	file string
	src  []byte
	pos  int
}

func (p *jsParser) errorf(format string, args ...any) error {
	return &SyntaxError{File: p.file, Offset: p.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *jsParser) skipSpace() {
	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

func (p *jsParser) value() (any, error) {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return nil, p.errorf("unexpected end of input")
	}
	switch c := p.src[p.pos]; {
	case c == '[':
		return p.array()
	case c == '\'' || c == '"':
		return p.str()
	case c == '-' || (c >= '0' && c <= '9'):
		return p.number()
	default:
		return nil, p.errorf("unexpected character %q", c)
	}
}

func (p *jsParser) array() ([]any, error) {
	p.pos++ // '['
	items := []any{}
	for {
		p.skipSpace()
		if p.pos >= len(p.src) {
			return nil, p.errorf("unterminated array")
		}
		if p.src[p.pos] == ']' {
			p.pos++
			return items, nil
		}
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		items = append(items, v)

		p.skipSpace()
		if p.pos >= len(p.src) {
			return nil, p.errorf("unterminated array")
		}
		switch p.src[p.pos] {
		case ',':
			p.pos++ // trailing commas are allowed, "]" is handled above
		case ']':
		default:
			return nil, p.errorf("expected ',' or ']', got %q", p.src[p.pos])
		}
	}
}

func (p *jsParser) str() (string, error) {
	quote := p.src[p.pos]
	p.pos++
	var sb strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case c == quote:
			p.pos++
			return sb.String(), nil
		case c == '\n':
			return "", p.errorf("newline in string literal")
		case c == '\\':
			if p.pos+1 >= len(p.src) {
				return "", p.errorf("unterminated escape")
			}
			p.pos++
			switch e := p.src[p.pos]; e {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case 'u':
				if p.pos+4 >= len(p.src) {
					return "", p.errorf("short \\u escape")
				}
				r, err := strconv.ParseUint(string(p.src[p.pos+1:p.pos+5]), 16, 32)
				if err != nil {
					return "", p.errorf("bad \\u escape")
				}
				sb.WriteRune(rune(r))
				p.pos += 4
			default:
				sb.WriteByte(e)
			}
			p.pos++
		default:
			sb.WriteByte(c)
			p.pos++
		}
	}
	return "", p.errorf("unterminated string")
}

func (p *jsParser) number() (float64, error) {
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == '-' || c == '+' || c == '.' || c == 'e' || c == 'E' || (c >= '0' && c <= '9') {
			p.pos++
			continue
		}
		break
	}
	f, err := strconv.ParseFloat(string(p.src[start:p.pos]), 64)
	if err != nil {
		lit := string(p.src[start:p.pos])
		p.pos = start
		return 0, p.errorf("bad number %q", lit)
	}
	return f, nil
}
