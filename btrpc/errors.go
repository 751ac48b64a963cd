package btrpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Kind identifies the category of an Error.
type Kind int

// Error kinds
const (
	// KindRPC is a miscommunication with the daemon or an error message reported by it.
	KindRPC Kind = iota + 1
	// KindConnection is a failure to establish or keep the network link.
	KindConnection
	// KindTimeout is an exceeded deadline during connect, disconnect or call.
	KindTimeout
	// KindAuthentication means the daemon rejected the credentials.
	KindAuthentication
	// KindValue is invalid user input, e.g. port 65536.
	KindValue
)

func (k Kind) String() string {
	switch k {
	case KindRPC:
		return "RPCError"
	case KindConnection:
		return "ConnectionError"
	case KindTimeout:
		return "TimeoutError"
	case KindAuthentication:
		return "AuthenticationError"
	case KindValue:
		return "ValueError"
	default:
		return "Error(" + strconv.Itoa(int(k)) + ")"
	}
}

// Error is the only error type returned by clients. Two errors are equal
// when they have the same Kind and message.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	return e.Msg
}

// Is reports whether target is an *Error of the same kind. A target without
// a message matches any message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Msg == "" || t.Msg == e.Msg)
}

// Sentinels for errors.Is checks against a kind.
var (
	ErrRPC            = &Error{Kind: KindRPC}
	ErrConnection     = &Error{Kind: KindConnection}
	ErrTimeout        = &Error{Kind: KindTimeout}
	ErrAuthentication = &Error{Kind: KindAuthentication}
	ErrValue          = &Error{Kind: KindValue}
)

// NewRPCError returns a KindRPC error.
func NewRPCError(format string, args ...any) *Error {
	return &Error{Kind: KindRPC, Msg: sprintf(format, args...)}
}

// NewAuthenticationError returns a KindAuthentication error.
func NewAuthenticationError(format string, args ...any) *Error {
	return &Error{Kind: KindAuthentication, Msg: sprintf(format, args...)}
}

// NewValueError returns a KindValue error.
func NewValueError(format string, args ...any) *Error {
	return &Error{Kind: KindValue, Msg: sprintf(format, args...)}
}

// NewTimeoutError returns a KindTimeout error that mentions d in seconds.
func NewTimeoutError(d time.Duration) *Error {
	return &Error{Kind: KindTimeout, Msg: "Timeout after " + formatSeconds(d) + " seconds"}
}

var bracketSuffixRegex = regexp.MustCompile(`\s+\[.*?\]$`)

// NewConnectionError returns a KindConnection error. Trailing bracketed
// diagnostics like " [None]" are removed from the message.
func NewConnectionError(format string, args ...any) *Error {
	msg := bracketSuffixRegex.ReplaceAllString(sprintf(format, args...), "")
	return &Error{Kind: KindConnection, Msg: msg}
}

func sprintf(format string, args ...any) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}

// Translation maps an RPC error message to a more specific error.
type Translation struct {
	// Pattern is matched against the error message.
	Pattern *regexp.Regexp
	// Replacement may reference submatches ("$1", "${name}").
	Replacement string
	// As builds the translated error. Defaults to NewRPCError.
	As func(msg string) error
}

// Translate returns the first matching translation of e. KindRPC errors that
// match nothing and errors of any other kind are returned unchanged.
func (e *Error) Translate(table []Translation) error {
	if e.Kind != KindRPC {
		return e
	}
	for _, t := range table {
		if t.Pattern == nil || !t.Pattern.MatchString(e.Msg) {
			continue
		}
		msg := t.Pattern.ReplaceAllString(e.Msg, t.Replacement)
		if t.As != nil {
			return t.As(msg)
		}
		return NewRPCError("%s", msg)
	}
	return e
}

var errnoRegex = regexp.MustCompile(`\[Errno \d+\]\s*(.*?)\s*(?:\[|\(|$)`)

// ConnectionErrorFrom turns low-level network failures into a user-presentable
// ConnectionError. Taxonomy errors and context errors are returned unchanged.
func ConnectionErrorFrom(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	switch {
	case errors.Is(err, syscall.ECONNABORTED):
		return NewConnectionError("Connection aborted")
	case errors.Is(err, syscall.ECONNREFUSED):
		return NewConnectionError("Connection refused")
	case errors.Is(err, syscall.ECONNRESET):
		return NewConnectionError("Connection reset")
	case errors.Is(err, os.ErrDeadlineExceeded):
		return NewConnectionError("Connection timed out")
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return NewConnectionError("%s", dnsErr.Err)
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return NewConnectionError("%s", capitalize(errno.Error()))
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Err != nil {
		err = opErr.Err
	}

	msg := err.Error()
	if m := errnoRegex.FindStringSubmatch(msg); m != nil {
		msg = m[1]
	}
	if msg == "" {
		msg = "Unknown error"
	}
	return NewConnectionError("%s", msg)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
