// Package logging is a minimal trace logger in the teacher's own style:
// a bracketed component tag followed by a terse verb phrase and
// key=value detail pairs, written straight to an io.Writer with no
// external formatting dependency.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Logger writes one-line trace records tagged with a component name.
type Logger struct {
	component string
	out       io.Writer
}

// New returns a Logger tagged with component, writing to os.Stderr.
func New(component string) *Logger {
	return &Logger{component: component, out: os.Stderr}
}

// WithOutput returns a copy of l writing to w instead of stderr — used by
// tests that want to assert on log output.
func (l *Logger) WithOutput(w io.Writer) *Logger {
	return &Logger{component: l.component, out: w}
}

// Trace writes "[component] verb k1=v1 k2=v2 ...". fields must be an even
// number of alternating keys and values.
func (l *Logger) Trace(verb string, fields ...any) {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", l.component, verb)
	for i := 0; i+1 < len(fields); i += 2 {
		fmt.Fprintf(&b, " %v=%v", fields[i], fields[i+1])
	}
	b.WriteByte('\n')
	io.WriteString(l.out, b.String())
}

func (l *Logger) Errorf(verb string, err error, fields ...any) {
	all := append(append([]any{}, fields...), "err", err)
	l.Trace(verb, all...)
}
