package helpers

import (
	"bytes"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriteAll(t *testing.T) {
	t.Parallel()
	content := []byte(`{"name":"iSpindel1","ID":1}`)

	cases := []struct {
		name      string
		limit     int
		err       error
		expectErr error
		expectLen int
	}{
		{"whole", 1000, nil, nil, len(content)},
		{"throttled", 7, nil, nil, len(content)},
		{"byte-by-byte", 1, nil, nil, len(content)},
		{"stuck", 0, nil, io.ErrShortWrite, 0},
		{"broken", 5, fmt.Errorf("broken pipe"), fmt.Errorf("broken pipe"), 5},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			buf := bytes.NewBuffer(nil)
			tw := &throttleWriter{w: buf, n: c.limit, err: c.err}
			err := WriteAll(tw, content)
			assert.Equal(t, c.expectErr, err)
			assert.Equal(t, c.expectLen, buf.Len())
			if c.expectErr == nil {
				assert.Equal(t, content, buf.Bytes())
			}
		})
	}
}

// throttleWriter writes at most n bytes per call, then fails with err if set.
type throttleWriter struct {
	w   io.Writer
	n   int
	err error
}

func (tw *throttleWriter) Write(p []byte) (n int, err error) {
	limit := len(p)
	if limit > tw.n {
		limit = tw.n
	}
	n, err = tw.w.Write(p[:limit])
	if err == nil && tw.err != nil && n < len(p) {
		err = tw.err
	}
	return n, err
}
