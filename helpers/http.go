package helpers

import (
	"bufio"
	"bytes"
	"fmt"
	"net/http"
)

// MockHTTP is http.RoundTripper for tests.
// Fun takes precedence, then Err, then canned response from Status (or raw Header) and Body.
type MockHTTP struct {
	Fun    func(*http.Request) (*http.Response, error)
	Status int
	Header []byte
	Body   []byte
	Err    error
}

func (m *MockHTTP) RoundTrip(req *http.Request) (*http.Response, error) {
	if m.Fun != nil {
		return m.Fun(req)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	header := m.Header
	if header == nil {
		status := m.Status
		if status == 0 {
			status = http.StatusOK
		}
		header = []byte(fmt.Sprintf("HTTP/1.0 %d %s\r\n\r\n", status, http.StatusText(status)))
	}
	rb := make([]byte, 0, len(header)+len(m.Body))
	rb = append(rb, header...)
	rb = append(rb, m.Body...)
	return http.ReadResponse(bufio.NewReader(bytes.NewReader(rb)), req)
}
