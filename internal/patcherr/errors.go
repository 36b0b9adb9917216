package patcherr

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Kind is the category name reported to the user when a run fails.
type Kind string

const (
	KindArgument        Kind = "ArgumentError"
	KindToolNotFound    Kind = "ToolNotFound"
	KindToolOutsideRoot Kind = "ToolOutsideSearchRoot"
	KindExternalTool    Kind = "ExternalToolFailure"
	KindTemplateRender  Kind = "TemplateRenderError"
	// KindCloneProbe never leaves the clone package; probes degrade to sharing.
	KindCloneProbe Kind = "CloneProbeFailure"
	KindIO         Kind = "IOFailure"

	kindUnknown Kind = "Error"
)

const maxStackDepth = 32

// Error is a categorized failure. ExternalToolFailure errors also carry the
// tool's exit code and its captured output, verbatim.
type Error struct {
	Kind     Kind
	Op       string
	Path     string
	Msg      string
	Err      error
	ExitCode int
	Stdout   string
	Stderr   string

	stack []uintptr
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Msg)
	if e.Path != "" {
		fmt.Fprintf(&b, " (%s)", e.Path)
	}
	if e.Err != nil {
		if e.Msg != "" {
			b.WriteString(": ")
		}
		b.WriteString(e.Err.Error())
	}
	if e.Kind == KindExternalTool && (e.Stdout != "" || e.Stderr != "") {
		b.WriteString("\n")
		b.WriteString(e.Stdout)
		b.WriteString("\n")
		b.WriteString(e.Stderr)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// StackTrace renders the call stack captured when the error was created.
func (e *Error) StackTrace() string {
	if e == nil || len(e.stack) == 0 {
		return ""
	}
	var b strings.Builder
	frames := runtime.CallersFrames(e.stack)
	for {
		f, more := frames.Next()
		fmt.Fprintf(&b, "   at %s\n      %s:%d\n", f.Function, f.File, f.Line)
		if !more {
			break
		}
	}
	return b.String()
}

// New creates an error of the given kind with a formatted message.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...), stack: callers()}
}

// Wrap attaches a kind to an underlying error. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err, stack: callers()}
}

// WithPath sets the path the error refers to and returns e.
func (e *Error) WithPath(path string) *Error {
	e.Path = path
	return e
}

// ToolFailure reports a non-zero exit from an external tool.
func ToolFailure(op string, exitCode int, stdout, stderr string) *Error {
	return &Error{
		Kind:     KindExternalTool,
		Op:       op,
		Msg:      fmt.Sprintf("exit code %d", exitCode),
		ExitCode: exitCode,
		Stdout:   stdout,
		Stderr:   stderr,
		stack:    callers(),
	}
}

// KindOf returns the category of the first *Error in err's chain.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return kindUnknown
}

// IsKind reports whether err's chain holds an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var pe *Error
	for err != nil {
		if !errors.As(err, &pe) {
			return false
		}
		if pe.Kind == kind {
			return true
		}
		err = pe.Err
	}
	return false
}

// StackOf returns the stack captured by the first *Error in err's chain.
func StackOf(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.StackTrace()
	}
	return ""
}

func callers() []uintptr {
	pcs := make([]uintptr, maxStackDepth)
	n := runtime.Callers(3, pcs)
	return pcs[:n]
}
