package btrpc

import (
	"fmt"
	"os"
	"path"
	"reflect"
	"strconv"
	"strings"
	"sync"
)

// URL locates an RPC interface.
//
// Parsing is more intuitive than RFC 3986: "localhost:1234" is host
// "localhost" and port 1234, not scheme "localhost" and path "1234". Values
// without a scheme that start with a path separator are file system paths.
//
// URL is safe for concurrent use. Every successful setter call invokes the
// change callback, even if the value did not change.
type URL struct {
	mu       sync.RWMutex
	scheme   string
	host     string
	port     string
	path     string
	username string
	password string
	onChange func()
}

// URLOption configures ParseURL.
type URLOption func(*urlOptions)

type urlOptions struct {
	defaultScheme string
	onChange      func()
}

// WithDefaultScheme sets the scheme used when the URL doesn't provide one and
// a host was detected.
func WithDefaultScheme(scheme string) URLOption {
	return func(o *urlOptions) {
		o.defaultScheme = scheme
	}
}

// WithOnChange sets the callback that is called after any property is set.
func WithOnChange(fn func()) URLOption {
	return func(o *urlOptions) {
		o.onChange = fn
	}
}

// ParseURL parses raw into a URL.
func ParseURL(raw string, opts ...URLOption) (*URL, error) {
	var o urlOptions
	for _, opt := range opts {
		opt(&o)
	}

	u := &URL{}
	if err := u.parse(strings.TrimSpace(raw), o.defaultScheme); err != nil {
		return nil, err
	}
	// Enabled after parsing so the initial values don't trigger it
	u.onChange = o.onChange
	return u, nil
}

// MustParseURL is like ParseURL but panics on error.
func MustParseURL(raw string, opts ...URLOption) *URL {
	u, err := ParseURL(raw, opts...)
	if err != nil {
		panic(err)
	}
	return u
}

func (u *URL) parse(rest, defaultScheme string) error {
	if i := strings.Index(rest, "://"); i >= 0 {
		u.setScheme(rest[:i])
		rest = rest[i+3:]
	} else if rest != "" && (strings.HasPrefix(rest, string(os.PathSeparator)) || !looksLikeNetloc(rest)) {
		u.setScheme("file")
	} else if defaultScheme != "" {
		u.setScheme(defaultScheme)
	}

	if u.scheme == "file" {
		u.path = rest
		return nil
	}

	// user:pass@
	if colon := strings.Index(rest, ":"); colon >= 0 {
		if at := strings.Index(rest[colon+1:], "@"); at >= 0 {
			u.username = rest[:colon]
			u.password = rest[colon+1 : colon+1+at]
			rest = rest[colon+1+at+1:]
		}
	}

	end := strings.IndexAny(rest, "/:")
	if end < 0 {
		end = len(rest)
	}
	u.host = rest[:end]
	rest = rest[end:]

	if strings.HasPrefix(rest, ":") {
		end = strings.Index(rest, "/")
		if end < 0 {
			end = len(rest)
		}
		port, err := validatePort(rest[1:end])
		if err != nil {
			return err
		}
		u.port = port
		rest = rest[end:]
	}

	u.path = normalizePath(rest)
	return nil
}

// looksLikeNetloc reports whether s has the shape [user[:pass]@]host[:port][/path].
func looksLikeNetloc(s string) bool {
	if i := strings.LastIndex(s, "@"); i >= 0 {
		s = s[i+1:]
	}
	end := strings.IndexAny(s, "/:")
	if end < 0 {
		end = len(s)
	}
	host := s[:end]
	if host == "" {
		return false
	}
	return !strings.ContainsAny(host, " \t\\")
}

func normalizePath(p string) string {
	if p == "" {
		return ""
	}
	cleaned := path.Clean(p)
	if cleaned == "." {
		return ""
	}
	return cleaned
}

func validatePort(value string) (string, error) {
	port, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || port < 1 || port > 65535 {
		return "", NewValueError("Invalid port")
	}
	return strconv.Itoa(port), nil
}

// isFalsy reports whether v should reset a property to "absent".
func isFalsy(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String, reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	case reflect.Bool:
		return !rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func coerce(v any) string {
	if isFalsy(v) {
		return ""
	}
	return fmt.Sprint(v)
}

func (u *URL) changed() {
	u.mu.RLock()
	fn := u.onChange
	u.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// SetOnChange replaces the change callback.
func (u *URL) SetOnChange(fn func()) {
	u.mu.Lock()
	u.onChange = fn
	u.mu.Unlock()
}

// Scheme returns the lowercase scheme, e.g. "http" or "file", or "".
func (u *URL) Scheme() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.scheme
}

// SetScheme sets the scheme. Setting "file" moves everything after the scheme
// into the path and clears host, port and credentials.
func (u *URL) SetScheme(scheme any) {
	u.mu.Lock()
	u.setScheme(coerce(scheme))
	u.mu.Unlock()
	u.changed()
}

func (u *URL) setScheme(scheme string) {
	scheme = strings.ToLower(scheme)
	if scheme == "file" && u.scheme != "file" {
		if netloc := u.render(false, true); netloc != "" {
			u.path = netloc
		}
		u.host, u.port, u.username, u.password = "", "", "", ""
	}
	u.scheme = scheme
}

// Host returns the host name or IP address or "".
func (u *URL) Host() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.host
}

// SetHost sets the host. It has no effect on file:// URLs.
func (u *URL) SetHost(host any) {
	u.mu.Lock()
	if u.scheme != "file" {
		u.host = coerce(host)
	}
	u.mu.Unlock()
	u.changed()
}

// Port returns the port number as a string or "".
func (u *URL) Port() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.port
}

// SetPort sets the port. Values outside 1-65535 or non-numeric values return
// a ValueError and leave the port unchanged. It has no effect on file:// URLs.
func (u *URL) SetPort(port any) error {
	var value string
	if !isFalsy(port) {
		var err error
		if value, err = validatePort(fmt.Sprint(port)); err != nil {
			return err
		}
	}
	u.mu.Lock()
	if u.scheme != "file" {
		u.port = value
	}
	u.mu.Unlock()
	u.changed()
	return nil
}

// Path returns the request path or the file system path or "".
func (u *URL) Path() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.path
}

// SetPath sets the path. Paths of file:// URLs are not normalized.
func (u *URL) SetPath(p any) {
	u.mu.Lock()
	if u.scheme == "file" {
		u.path = coerce(p)
	} else {
		u.path = normalizePath(coerce(p))
	}
	u.mu.Unlock()
	u.changed()
}

// Username returns the user name for authentication or "".
func (u *URL) Username() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.username
}

// SetUsername sets the user name. It has no effect on file:// URLs.
func (u *URL) SetUsername(username any) {
	u.mu.Lock()
	if u.scheme != "file" {
		u.username = coerce(username)
	}
	u.mu.Unlock()
	u.changed()
}

// Password returns the password for authentication or "".
func (u *URL) Password() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.password
}

// SetPassword sets the password. It has no effect on file:// URLs.
func (u *URL) SetPassword(password any) {
	u.mu.Lock()
	if u.scheme != "file" {
		u.password = coerce(password)
	}
	u.mu.Unlock()
	u.changed()
}

// WithoutAuth renders the URL without username and password.
func (u *URL) WithoutAuth() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.render(false, false)
}

// WithAuth renders the URL including username and password.
func (u *URL) WithAuth() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.render(true, false)
}

func (u *URL) render(withAuth, omitScheme bool) string {
	var b strings.Builder
	if u.scheme != "" && !omitScheme {
		b.WriteString(u.scheme)
		b.WriteString("://")
	}
	if (withAuth || omitScheme) && (u.username != "" || u.password != "") {
		b.WriteString(u.username)
		b.WriteByte(':')
		b.WriteString(u.password)
		b.WriteByte('@')
	}
	b.WriteString(u.host)
	if u.port != "" {
		b.WriteByte(':')
		b.WriteString(u.port)
	}
	b.WriteString(u.path)
	return b.String()
}

// String returns WithoutAuth so credentials don't end up in logs.
func (u *URL) String() string {
	return u.WithoutAuth()
}

// Equal reports whether both URLs render to the same WithAuth string.
func (u *URL) Equal(other *URL) bool {
	if u == nil || other == nil {
		return u == other
	}
	return u.WithAuth() == other.WithAuth()
}

// Clone returns a copy of u without the change callback.
func (u *URL) Clone() *URL {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return &URL{
		scheme:   u.scheme,
		host:     u.host,
		port:     u.port,
		path:     u.path,
		username: u.username,
		password: u.password,
	}
}
