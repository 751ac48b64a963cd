package rtorrent

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"math"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/s0up4200/btrpc/btrpc"
)

const iso8601 = "20060102T15:04:05"

// Fault is an XML-RPC fault reported by rTorrent.
type Fault struct {
	Code   int
	String string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("<Fault %d: %s>", f.Code, f.String)
}

// EncodeMethodCall returns the XML-RPC request for method. Non-ASCII
// characters are written as character references. nil values can't be
// encoded.
func EncodeMethodCall(method string, args ...any) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString("<?xml version='1.0'?>\n<methodCall>\n<methodName>")
	writeEscaped(&b, method)
	b.WriteString("</methodName>\n<params>\n")
	for _, arg := range args {
		b.WriteString("<param>\n")
		if err := writeValue(&b, reflect.ValueOf(arg)); err != nil {
			return nil, err
		}
		b.WriteString("</param>\n")
	}
	b.WriteString("</params>\n</methodCall>\n")
	return b.Bytes(), nil
}

var timeType = reflect.TypeOf(time.Time{})

func writeValue(b *bytes.Buffer, v reflect.Value) error {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return btrpc.NewValueError("Cannot marshal nil")
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return btrpc.NewValueError("Cannot marshal nil")
	}

	if v.Type() == timeType {
		b.WriteString("<value><dateTime.iso8601>")
		b.WriteString(v.Interface().(time.Time).Format(iso8601))
		b.WriteString("</dateTime.iso8601></value>\n")
		return nil
	}

	switch v.Kind() {
	case reflect.Bool:
		if v.Bool() {
			b.WriteString("<value><boolean>1</boolean></value>\n")
		} else {
			b.WriteString("<value><boolean>0</boolean></value>\n")
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		writeInt(b, v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := v.Uint()
		if u > math.MaxInt64 {
			return btrpc.NewValueError("Integer exceeds XML-RPC limits: %d", u)
		}
		writeInt(b, int64(u))
	case reflect.Float32, reflect.Float64:
		b.WriteString("<value><double>")
		b.WriteString(strconv.FormatFloat(v.Float(), 'g', -1, 64))
		b.WriteString("</double></value>\n")
	case reflect.String:
		b.WriteString("<value><string>")
		writeEscaped(b, v.String())
		b.WriteString("</string></value>\n")
	case reflect.Slice, reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			data := make([]byte, v.Len())
			reflect.Copy(reflect.ValueOf(data), v)
			b.WriteString("<value><base64>\n")
			b.WriteString(base64.StdEncoding.EncodeToString(data))
			b.WriteString("\n</base64></value>\n")
			return nil
		}
		b.WriteString("<value><array><data>\n")
		for i := 0; i < v.Len(); i++ {
			if err := writeValue(b, v.Index(i)); err != nil {
				return err
			}
		}
		b.WriteString("</data></array></value>\n")
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return btrpc.NewValueError("Dictionary keys must be strings: %s", v.Type())
		}
		keys := make([]string, 0, v.Len())
		for _, k := range v.MapKeys() {
			keys = append(keys, k.String())
		}
		slices.Sort(keys)
		b.WriteString("<value><struct>\n")
		for _, k := range keys {
			b.WriteString("<member>\n<name>")
			writeEscaped(b, k)
			b.WriteString("</name>\n")
			if err := writeValue(b, v.MapIndex(reflect.ValueOf(k).Convert(v.Type().Key()))); err != nil {
				return err
			}
			b.WriteString("</member>\n")
		}
		b.WriteString("</struct></value>\n")
	default:
		return btrpc.NewValueError("Cannot marshal %s", v.Type())
	}
	return nil
}

func writeInt(b *bytes.Buffer, i int64) {
	tag := "int"
	if i > math.MaxInt32 || i < math.MinInt32 {
		tag = "i8"
	}
	fmt.Fprintf(b, "<value><%s>%d</%s></value>\n", tag, i, tag)
}

// writeEscaped escapes markup characters and replaces non-ASCII characters
// with character references.
func writeEscaped(b *bytes.Buffer, s string) {
	for _, r := range s {
		switch {
		case r == '&':
			b.WriteString("&amp;")
		case r == '<':
			b.WriteString("&lt;")
		case r == '>':
			b.WriteString("&gt;")
		case r > 127:
			fmt.Fprintf(b, "&#%d;", r)
		default:
			b.WriteRune(r)
		}
	}
}

// DecodeResponse reads an XML-RPC response from r as it arrives. A single
// return value is returned as is, multiple values as []any. Faults are
// returned as *Fault.
func DecodeResponse(r io.Reader) (any, error) {
	p := &decoder{d: xml.NewDecoder(r)}
	values, err := p.response()
	if err != nil {
		return nil, err
	}
	if len(values) == 1 {
		return values[0], nil
	}
	return values, nil
}

type decoder struct {
	d *xml.Decoder
}

// malformed wraps parser errors. Errors from the underlying stream are
// returned unchanged.
func malformed(err error) error {
	var e *btrpc.Error
	if errors.As(err, &e) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return btrpc.NewRPCError("Invalid XML-RPC response: %s", err)
}

// next returns the next token that is not whitespace, a comment or a
// processing instruction.
func (p *decoder) next() (xml.Token, error) {
	for {
		tok, err := p.d.Token()
		if err != nil {
			return nil, malformed(err)
		}
		switch t := tok.(type) {
		case xml.CharData:
			if len(bytes.TrimSpace(t)) == 0 {
				continue
			}
			return t.Copy(), nil
		case xml.Comment, xml.ProcInst, xml.Directive:
			continue
		default:
			return xml.CopyToken(tok), nil
		}
	}
}

func (p *decoder) expectStart(names ...string) (xml.StartElement, error) {
	tok, err := p.next()
	if err != nil {
		return xml.StartElement{}, err
	}
	start, ok := tok.(xml.StartElement)
	if !ok || !slices.Contains(names, start.Name.Local) {
		return xml.StartElement{}, btrpc.NewRPCError("Invalid XML-RPC response: expected <%s>", strings.Join(names, "> or <"))
	}
	return start, nil
}

func (p *decoder) expectEnd(name string) error {
	tok, err := p.next()
	if err != nil {
		return err
	}
	if end, ok := tok.(xml.EndElement); !ok || end.Name.Local != name {
		return btrpc.NewRPCError("Invalid XML-RPC response: expected </%s>", name)
	}
	return nil
}

func (p *decoder) response() ([]any, error) {
	if _, err := p.expectStart("methodResponse"); err != nil {
		return nil, err
	}
	start, err := p.expectStart("params", "fault")
	if err != nil {
		return nil, err
	}

	if start.Name.Local == "fault" {
		return nil, p.fault()
	}

	values := []any{}
	for {
		tok, err := p.next()
		if err != nil {
			return nil, err
		}
		if end, ok := tok.(xml.EndElement); ok && end.Name.Local == "params" {
			break
		}
		if s, ok := tok.(xml.StartElement); !ok || s.Name.Local != "param" {
			return nil, btrpc.NewRPCError("Invalid XML-RPC response: expected <param>")
		}
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		if err := p.expectEnd("param"); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	if err := p.expectEnd("methodResponse"); err != nil {
		return nil, err
	}
	return values, nil
}

func (p *decoder) fault() error {
	v, err := p.value()
	if err != nil {
		return err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return btrpc.NewRPCError("Invalid XML-RPC response: fault is not a struct")
	}
	f := &Fault{}
	if code, ok := m["faultCode"].(int64); ok {
		f.Code = int(code)
	}
	f.String, _ = m["faultString"].(string)
	return f
}

// value parses <value>...</value>. Untyped values are strings.
func (p *decoder) value() (any, error) {
	if _, err := p.expectStart("value"); err != nil {
		return nil, err
	}
	return p.valueBody()
}

// valueBody parses what follows <value>.
func (p *decoder) valueBody() (any, error) {
	var text strings.Builder
	for {
		tok, err := p.d.Token()
		if err != nil {
			return nil, malformed(err)
		}
		switch t := tok.(type) {
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			return text.String(), nil
		case xml.StartElement:
			v, err := p.typed(t.Copy())
			if err != nil {
				return nil, err
			}
			if err := p.expectEnd("value"); err != nil {
				return nil, err
			}
			return v, nil
		}
	}
}

func (p *decoder) typed(start xml.StartElement) (any, error) {
	switch name := start.Name.Local; name {
	case "i1", "i2", "i4", "i8", "int":
		text, err := p.text(name)
		if err != nil {
			return nil, err
		}
		i, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
		if err != nil {
			return nil, btrpc.NewRPCError("Invalid XML-RPC integer: %s", text)
		}
		return i, nil
	case "boolean":
		text, err := p.text(name)
		if err != nil {
			return nil, err
		}
		switch strings.TrimSpace(text) {
		case "1":
			return true, nil
		case "0":
			return false, nil
		}
		return nil, btrpc.NewRPCError("Invalid XML-RPC boolean: %s", text)
	case "double":
		text, err := p.text(name)
		if err != nil {
			return nil, err
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			return nil, btrpc.NewRPCError("Invalid XML-RPC double: %s", text)
		}
		return f, nil
	case "string":
		return p.text(name)
	case "dateTime.iso8601":
		text, err := p.text(name)
		if err != nil {
			return nil, err
		}
		t, err := time.Parse(iso8601, strings.TrimSpace(text))
		if err != nil {
			return nil, btrpc.NewRPCError("Invalid XML-RPC dateTime: %s", text)
		}
		return t, nil
	case "base64":
		text, err := p.text(name)
		if err != nil {
			return nil, err
		}
		data, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(text), ""))
		if err != nil {
			return nil, btrpc.NewRPCError("Invalid XML-RPC base64: %s", err)
		}
		return data, nil
	case "nil":
		if err := p.expectEnd(name); err != nil {
			return nil, err
		}
		return nil, nil
	case "array":
		items, err := p.array()
		if err != nil {
			return nil, err
		}
		return items, nil
	case "struct":
		members, err := p.structure()
		if err != nil {
			return nil, err
		}
		return members, nil
	default:
		return nil, btrpc.NewRPCError("Invalid XML-RPC response: unknown type <%s>", name)
	}
}

// text returns the character data up to </name>.
func (p *decoder) text(name string) (string, error) {
	var text strings.Builder
	for {
		tok, err := p.d.Token()
		if err != nil {
			return "", malformed(err)
		}
		switch t := tok.(type) {
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			if t.Name.Local != name {
				return "", btrpc.NewRPCError("Invalid XML-RPC response: expected </%s>", name)
			}
			return text.String(), nil
		case xml.StartElement:
			return "", btrpc.NewRPCError("Invalid XML-RPC response: unexpected <%s> in <%s>", t.Name.Local, name)
		}
	}
}

func (p *decoder) array() ([]any, error) {
	if _, err := p.expectStart("data"); err != nil {
		return nil, err
	}
	items := []any{}
	for {
		tok, err := p.next()
		if err != nil {
			return nil, err
		}
		if end, ok := tok.(xml.EndElement); ok && end.Name.Local == "data" {
			break
		}
		if s, ok := tok.(xml.StartElement); !ok || s.Name.Local != "value" {
			return nil, btrpc.NewRPCError("Invalid XML-RPC response: expected <value>")
		}
		v, err := p.valueBody()
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	if err := p.expectEnd("array"); err != nil {
		return nil, err
	}
	return items, nil
}

func (p *decoder) structure() (map[string]any, error) {
	members := map[string]any{}
	for {
		tok, err := p.next()
		if err != nil {
			return nil, err
		}
		if end, ok := tok.(xml.EndElement); ok && end.Name.Local == "struct" {
			return members, nil
		}
		if s, ok := tok.(xml.StartElement); !ok || s.Name.Local != "member" {
			return nil, btrpc.NewRPCError("Invalid XML-RPC response: expected <member>")
		}

		var name string
		var value any
		var haveName, haveValue bool
		for !haveName || !haveValue {
			start, err := p.expectStart("name", "value")
			if err != nil {
				return nil, err
			}
			if start.Name.Local == "name" {
				if name, err = p.text("name"); err != nil {
					return nil, err
				}
				haveName = true
				continue
			}
			if value, err = p.valueBody(); err != nil {
				return nil, err
			}
			haveValue = true
		}
		if err := p.expectEnd("member"); err != nil {
			return nil, err
		}
		members[name] = value
	}
}
