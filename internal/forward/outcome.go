package forward

import "fmt"

// Outcome classifies one delivery attempt.
type Outcome uint8

const (
	OutcomeInvalid Outcome = iota
	// destination acknowledged, drop from queue and continue immediately
	Success
	// terminal failure, drop from queue, retry nothing
	Error
	// transient failure, keep in queue and retry after delay
	Buffer
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Error:
		return "error"
	case Buffer:
		return "buffer"
	}
	return fmt.Sprintf("outcome(%d)", uint8(o))
}
