package types

import (
	"time"
)

// DefaultTicketType is used when a ticket request names no type
const DefaultTicketType = "default"

// AttachmentRef points at a file in the ticket source drive
type AttachmentRef struct {
	ID   string `json:"id" validate:"required"`
	Name string `json:"name" validate:"required"`
}

// TicketRequest is a parsed ticket-request document
type TicketRequest struct {
	Subject         string          `json:"subject" validate:"required"`
	ProjectName     string          `json:"projectName" validate:"required"`
	Description     string          `json:"description"`
	PriorityName    string          `json:"priorityName"`
	AccountableName string          `json:"accountableName"`
	AssigneeName    string          `json:"assigneeName" validate:"required"`
	ReleaseDate     string          `json:"releaseDate"`
	From            string          `json:"from"`
	Type            string          `json:"type"`
	Attachments     []AttachmentRef `json:"attachments" validate:"dive"`
	ChatID          string          `json:"chatID"`
	ChatType        string          `json:"chatType"`
}

// FileRef identifies a document in the remote ticket folder
type FileRef struct {
	ID           string
	Name         string
	Size         int64
	LastModified time.Time
}
