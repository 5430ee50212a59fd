package helpers

import (
	"fmt"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
)

func TestFoldErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		input  []error
		expect string
	}{
		{"nil", nil, ""},
		{"empty", []error{}, ""},
		{"all-nil", []error{nil, nil}, ""},
		{"one", []error{fmt.Errorf("device=a port")}, "device=a port"},
		{"many", []error{fmt.Errorf("first"), nil, fmt.Errorf("second %d%%", 2)}, "first\nsecond 2%"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			err := FoldErrors(c.input)
			if c.expect == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, c.expect)
		})
	}
}

func TestFoldErrorsClassify(t *testing.T) {
	t.Parallel()

	one := FoldErrors([]error{nil, errors.NotValidf("port=-1")})
	assert.True(t, errors.IsNotValid(one), "err=%v", one)

	many := FoldErrors([]error{errors.NotFoundf("config name=a"), errors.NotSupportedf("type=fax")})
	assert.False(t, errors.IsNotSupported(many))
	assert.True(t, AnyError(many, errors.IsNotSupported))
	assert.True(t, AnyError(errors.Annotate(many, "relay"), errors.IsNotFound))
	assert.False(t, AnyError(many, errors.IsNotValid))
	assert.Len(t, many, 2)

	assert.True(t, AnyError(one, errors.IsNotValid))
	assert.False(t, AnyError(nil, func(error) bool { return true }))
}

func TestIntSecondDefault(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 5*time.Second, IntSecondDefault(0, 5*time.Second))
	assert.Equal(t, 30*time.Second, IntSecondDefault(30, 5*time.Second))
}
