package helpers

import (
	"strings"

	"github.com/juju/errors"
)

// MultiError keeps every folded error, so callers can still classify them.
type MultiError []error

func (m MultiError) Error() string {
	ss := make([]string, len(m))
	for i, e := range m {
		ss[i] = e.Error()
	}
	return strings.Join(ss, "\n")
}

// Any reports whether f is true for at least one folded error.
func (m MultiError) Any(f func(error) bool) bool {
	for _, e := range m {
		if f(e) {
			return true
		}
	}
	return false
}

// FoldErrors drops nil values. Single error is returned as is,
// several are wrapped into MultiError.
func FoldErrors(errs []error) error {
	var m MultiError
	for _, e := range errs {
		if e != nil {
			m = append(m, e)
		}
	}
	switch len(m) {
	case 0:
		return nil
	case 1:
		return m[0]
	}
	return m
}

// AnyError applies f to err or, for MultiError, to each folded error.
func AnyError(err error, f func(error) bool) bool {
	if m, ok := errors.Cause(err).(MultiError); ok {
		return m.Any(f)
	}
	return err != nil && f(err)
}
