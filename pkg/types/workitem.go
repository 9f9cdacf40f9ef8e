package types

import (
	"strings"
	"time"
)

// maxWorksheetName is the longest sheet name a workbook accepts
const maxWorksheetName = 31

var worksheetNameReplacer = strings.NewReplacer(
	":", "_", "\\", "_", "/", "_", "?", "_", "*", "_", "[", "_", "]", "_",
)

// WorkItemRecord is the minimal projection of a created work item needed
// to reconcile it into the history workbook. ID is the row dedup key.
type WorkItemRecord struct {
	ID        int       `json:"id"`
	Subject   string    `json:"subject"`
	CreatedAt time.Time `json:"createdAt"`
	Project   string    `json:"project"`
	Type      string    `json:"type"`
	MessageID string    `json:"messageID,omitempty"`
	ChannelID string    `json:"channelID,omitempty"`
}

// Worksheet returns the worksheet the record belongs to. Characters a
// sheet name cannot hold become underscores and the name is cut to 31
// runes, so a type always maps to the same sheet.
func (r WorkItemRecord) Worksheet() string {
	name := worksheetNameReplacer.Replace(strings.TrimSpace(r.Type))
	if runes := []rune(name); len(runes) > maxWorksheetName {
		name = string(runes[:maxWorksheetName])
	}
	name = strings.Trim(strings.TrimSpace(name), "'")
	if name == "" {
		return DefaultTicketType
	}
	return name
}

// PendingUpdate is a record waiting in the retry queue
type PendingUpdate struct {
	WorkItemRecord
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"lastError,omitempty"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}
