package rtorrent

import (
	"strconv"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s0up4200/btrpc/btrpc"
)

func TestEncodeMethodCall(t *testing.T) {
	data, err := EncodeMethodCall("d.name", "abc", 1, true)
	require.NoError(t, err)
	assert.Equal(t, "<?xml version='1.0'?>\n"+
		"<methodCall>\n"+
		"<methodName>d.name</methodName>\n"+
		"<params>\n"+
		"<param>\n<value><string>abc</string></value>\n</param>\n"+
		"<param>\n<value><int>1</int></value>\n</param>\n"+
		"<param>\n<value><boolean>1</boolean></value>\n</param>\n"+
		"</params>\n"+
		"</methodCall>\n", string(data))
}

func TestEncodeMethodCallNoArgs(t *testing.T) {
	data, err := EncodeMethodCall("system.pid")
	require.NoError(t, err)
	assert.Equal(t, "<?xml version='1.0'?>\n<methodCall>\n<methodName>system.pid</methodName>\n<params>\n</params>\n</methodCall>\n", string(data))
}

func TestEncodeValues(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{name: "escaped", value: "a<b>&c", want: "<value><string>a&lt;b&gt;&amp;c</string></value>\n"},
		{name: "non-ASCII", value: "Ünïcödé", want: "<value><string>&#220;n&#239;c&#246;d&#233;</string></value>\n"},
		{name: "false", value: false, want: "<value><boolean>0</boolean></value>\n"},
		{name: "large int", value: int64(1) << 40, want: "<value><i8>1099511627776</i8></value>\n"},
		{name: "double", value: 1.5, want: "<value><double>1.5</double></value>\n"},
		{name: "bytes", value: []byte("foo"), want: "<value><base64>\nZm9v\n</base64></value>\n"},
		{
			name:  "time",
			value: time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC),
			want:  "<value><dateTime.iso8601>20210304T05:06:07</dateTime.iso8601></value>\n",
		},
		{
			name:  "array",
			value: []string{"a", "b"},
			want:  "<value><array><data>\n<value><string>a</string></value>\n<value><string>b</string></value>\n</data></array></value>\n",
		},
		{
			name:  "struct",
			value: map[string]any{"b": 2, "a": "x"},
			want: "<value><struct>\n" +
				"<member>\n<name>a</name>\n<value><string>x</string></value>\n</member>\n" +
				"<member>\n<name>b</name>\n<value><int>2</int></value>\n</member>\n" +
				"</struct></value>\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeMethodCall("m", tt.value)
			require.NoError(t, err)
			assert.Contains(t, string(data), "<param>\n"+tt.want+"</param>\n")
		})
	}
}

func TestEncodeNil(t *testing.T) {
	var ptr *int
	for _, v := range []any{nil, ptr, []any{"a", nil}, map[string]any{"a": nil}} {
		_, err := EncodeMethodCall("m", v)
		assert.Equal(t, btrpc.NewValueError("Cannot marshal nil"), err)
	}

	_, err := EncodeMethodCall("m", map[int]string{1: "a"})
	assert.ErrorIs(t, err, btrpc.ErrValue)

	_, err = EncodeMethodCall("m", struct{}{})
	assert.ErrorIs(t, err, btrpc.ErrValue)
}

func response(params ...string) string {
	var b strings.Builder
	b.WriteString("<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n<methodResponse>\n<params>\n")
	for _, p := range params {
		b.WriteString("<param><value>" + p + "</value></param>\n")
	}
	b.WriteString("</params>\n</methodResponse>\n")
	return b.String()
}

func faultResponse(code int, msg string) string {
	return "<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n<methodResponse>\n<fault>\n<value><struct>\n" +
		"<member><name>faultCode</name><value><i4>" + strconv.Itoa(code) + "</i4></value></member>\n" +
		"<member><name>faultString</name><value><string>" + msg + "</string></value></member>\n" +
		"</struct></value>\n</fault>\n</methodResponse>\n"
}

func TestDecodeResponse(t *testing.T) {
	tests := []struct {
		name string
		body string
		want any
	}{
		{name: "i8", body: response("<i8>1234</i8>"), want: int64(1234)},
		{name: "i4", body: response("<i4>-5</i4>"), want: int64(-5)},
		{name: "untyped string", body: response("hello"), want: "hello"},
		{name: "empty string", body: response("<string/>"), want: ""},
		{name: "entity", body: response("<string>a &amp; b &#228;</string>"), want: "a & b ä"},
		{name: "boolean", body: response("<boolean>1</boolean>"), want: true},
		{name: "double", body: response("<double>0.25</double>"), want: 0.25},
		{name: "base64", body: response("<base64>Zm9v\nYmFy</base64>"), want: []byte("foobar")},
		{name: "nil", body: response("<nil/>"), want: nil},
		{
			name: "array",
			body: response("<array><data>\n<value><string>a</string></value>\n<value><i8>1</i8></value>\n</data></array>"),
			want: []any{"a", int64(1)},
		},
		{
			name: "struct",
			body: response("<struct><member><name>x</name><value><i4>1</i4></value></member>" +
				"<member><value><array><data/></array></value><name>y</name></member></struct>"),
			want: map[string]any{"x": int64(1), "y": []any{}},
		},
		{name: "multiple values", body: response("<i4>1</i4>", "<i4>2</i4>"), want: []any{int64(1), int64(2)}},
		{name: "no values", body: response(), want: []any{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeResponse(strings.NewReader(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			// Same result when the data trickles in byte by byte
			got, err = DecodeResponse(iotest.OneByteReader(strings.NewReader(tt.body)))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeFault(t *testing.T) {
	_, err := DecodeResponse(strings.NewReader(faultResponse(3, "Unsupported target type found.")))
	var fault *Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, 3, fault.Code)
	assert.Equal(t, "Unsupported target type found.", fault.String)
}

func TestDecodeMalformed(t *testing.T) {
	for _, body := range []string{
		"",
		"not xml",
		"<methodResponse><params><param><value><i4>1</i4></value>",
		"<methodResponse><params><param><value><i4>x</i4></value></param></params></methodResponse>",
		"<methodResponse><params><param><value><foo>1</foo></value></param></params></methodResponse>",
		"<methodCall></methodCall>",
	} {
		t.Run(body, func(t *testing.T) {
			_, err := DecodeResponse(strings.NewReader(body))
			assert.ErrorIs(t, err, btrpc.ErrRPC)
		})
	}
}

func TestDecodeStreamError(t *testing.T) {
	r := &errAfter{r: strings.NewReader("<methodResponse><params>"), err: btrpc.NewConnectionError("Connection reset")}
	_, err := DecodeResponse(r)
	assert.Equal(t, btrpc.NewConnectionError("Connection reset"), err)
}

type errAfter struct {
	r   *strings.Reader
	err error
}

func (e *errAfter) Read(p []byte) (int, error) {
	n, _ := e.r.Read(p)
	if n == 0 {
		return 0, e.err
	}
	return n, nil
}
