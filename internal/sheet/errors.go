package sheet

import (
	"fmt"
)

// SyncError means a record could not be merged into the workbook
type SyncError struct {
	ID  int
	Op  string
	Err error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("failed to sync work item %d to workbook (%s): %v", e.ID, e.Op, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}
