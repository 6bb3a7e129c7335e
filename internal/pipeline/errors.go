package pipeline

import (
	"errors"
	"fmt"

	"github.com/dunamismax/pawtrait/internal/stage"
)

var (
	ErrOwnerMismatch  = errors.New("execution owner does not own job")
	ErrAlreadyStarted = errors.New("job already started")
)

// StageError is what a failed job records. Stage is 0 for failures before
// the first edit, such as missing credentials.
type StageError struct {
	Stage  int
	Action string
	Kind   stage.Kind
	Err    error
}

func (e *StageError) Error() string {
	if e.Stage == 0 {
		return fmt.Sprintf("Error (%s): %v", e.Action, e.Err)
	}
	return fmt.Sprintf("Stage %d Error (%s): %v", e.Stage, e.Action, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
