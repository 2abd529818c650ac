package errs

import (
	"fmt"
	"strings"
)

// Error is a module-coded error value. Construction never runs business
// logic; an Error is safe to declare at package level and share.
type Error struct {
	Module  uint16
	Code    string
	Message string
	Tpl     string
	args    map[string]any
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Tpl != "" && e.args != nil {
		msg = renderTpl(e.Tpl, e.args)
	}
	return fmt.Sprintf("[%d%s] %s", e.Module, e.Code, msg)
}

// WithArgs returns a copy of the error with template placeholders bound.
// The receiver is left untouched so catalog entries stay immutable.
func (e *Error) WithArgs(args map[string]any) *Error {
	clone := *e
	clone.args = args
	return &clone
}

// Is matches on module and intra-module code so callers can compare a
// rendered error against its catalog entry with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Module == t.Module && e.Code == t.Code
}

func renderTpl(tpl string, args map[string]any) string {
	out := tpl
	for key, val := range args {
		out = strings.ReplaceAll(out, "{"+key+"}", fmt.Sprint(val))
	}
	return out
}
