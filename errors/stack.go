package errors

import (
	"bytes"
	"fmt"
	"runtime"
	"strings"

	"google.golang.org/grpc/codes"
)

// StackFrame is a single resolved frame of an error's stack.
type StackFrame struct {
	File     string
	Line     int
	Function string
}

// String formats the frame similarly to runtime/debug.Stack().
func (f StackFrame) String() string {
	return fmt.Sprintf("%s\n\t%s:%d\n", f.Function, f.File, f.Line)
}

// StackFrames returns the resolved frames of the error's stack.
func (err *Error) StackFrames() []StackFrame {
	if len(err.stack) == 0 {
		return nil
	}
	frames := runtime.CallersFrames(err.stack)
	var out []StackFrame
	for {
		f, more := frames.Next()
		out = append(out, StackFrame{File: f.File, Line: f.Line, Function: f.Function})
		if !more {
			break
		}
	}
	return out
}

// Stack returns the callstack formatted the same way that go does in
// runtime/debug.Stack().
func (err *Error) Stack() []byte {
	buf := bytes.Buffer{}
	for _, frame := range err.StackFrames() {
		buf.WriteString(frame.String())
	}
	return buf.Bytes()
}

// ErrorStack returns a string that contains both the error message and the
// callstack.
func (err *Error) ErrorStack() string {
	return err.TypeName() + " " + err.Error() + "\n" + string(err.Stack())
}

// MinimalStack returns a compact, single line representation of up to n frames
// after skipping the first skip frames. Suitable for structured log fields.
func (err *Error) MinimalStack(skip, n int) string {
	frames := err.StackFrames()
	if skip >= len(frames) {
		return ""
	}
	frames = frames[skip:]
	if n > 0 && len(frames) > n {
		frames = frames[:n]
	}
	parts := make([]string, 0, len(frames))
	for _, f := range frames {
		fn := f.Function
		if i := strings.LastIndex(fn, "/"); i >= 0 {
			fn = fn[i+1:]
		}
		parts = append(parts, fmt.Sprintf("%s:%d", fn, f.Line))
	}
	return strings.Join(parts, " < ")
}

type panicError struct {
	value any
}

func (p *panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}

// FromPanic converts a recovered panic value into an Error whose stack starts
// at the panicking frame.
func FromPanic(r any, skip int) *Error {
	if err, ok := r.(*Error); ok {
		return err
	}
	return newError(&panicError{value: r}, codes.Internal, 1+skip)
}
