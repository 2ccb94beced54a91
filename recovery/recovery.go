// Package recovery defines how low-level parsing components react to
// malformed input: fail fast, skip the damaged construct, or patch it up
// and keep going.
package recovery

import "fmt"

// Location pinpoints where in the input an error was observed.
type Location struct {
	ByteOffset int64
	ObjectNum  int
	ObjectGen  int
	Component  string
}

// Action is the decision a Strategy returns for an observed error.
type Action int

const (
	ActionFail Action = iota
	ActionSkip
	ActionFix
	ActionWarn
)

// Strategy is consulted by the scanner and the xref resolver whenever they
// hit a construct they cannot parse cleanly.
type Strategy interface {
	OnError(err error, loc Location) Action
}

// Strict fails on the first error. This is the default for regular decode.
type Strict struct{}

func NewStrict() *Strict { return &Strict{} }

func (*Strict) OnError(err error, loc Location) Action { return ActionFail }

// Lenient patches over what it can and records everything it saw. The
// repair path runs with a Lenient strategy and surfaces the collected
// notes as job warnings.
type Lenient struct {
	Notes []string
}

func NewLenient() *Lenient { return &Lenient{} }

func (l *Lenient) OnError(err error, loc Location) Action {
	l.Notes = append(l.Notes, fmt.Sprintf("%s at offset %d (obj %d %d): %v",
		loc.Component, loc.ByteOffset, loc.ObjectNum, loc.ObjectGen, err))
	return ActionFix
}
