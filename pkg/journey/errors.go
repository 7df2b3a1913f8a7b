package journey

import "fmt"

// ActivityWriteError is a failure to read or update one activity. It never
// aborts the run for the subject.
type ActivityWriteError struct {
	ActivityID int64
	Err        error
}

func (e *ActivityWriteError) Error() string {
	return fmt.Sprintf("activity %d: %v", e.ActivityID, e.Err)
}

func (e *ActivityWriteError) Unwrap() error {
	return e.Err
}
