package ingest

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/clintrovert/ticketsync/pkg/types"
)

var validate = validator.New()

// ParseTicket decodes and validates a ticket request document
func ParseTicket(data []byte) (*types.TicketRequest, error) {
	var req types.TicketRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to decode ticket: %w", err)
	}
	if err := validate.Struct(&req); err != nil {
		return nil, fmt.Errorf("invalid ticket: %w", err)
	}
	if req.Type == "" {
		req.Type = types.DefaultTicketType
	}
	return &req, nil
}
