package entity

import (
	"fmt"
)

// FieldError describes one invalid field in a client request,
// following the list-of-field-errors convention.
type FieldError struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

// Validate checks the structural invariants of a chat request before it
// reaches any upstream. It returns the full list of violations, not just
// the first.
func (r *ChatRequest) Validate() []FieldError {
	var errs []FieldError

	if r.Model == "" {
		errs = append(errs, FieldError{
			Loc: []string{"body", "model"}, Msg: "field required", Type: "value_error.missing",
		})
	}
	if len(r.Messages) == 0 {
		errs = append(errs, FieldError{
			Loc: []string{"body", "messages"}, Msg: "messages must not be empty", Type: "value_error",
		})
	}

	for i, msg := range r.Messages {
		loc := []string{"body", "messages", fmt.Sprintf("%d", i)}
		switch msg.Role {
		case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		default:
			errs = append(errs, FieldError{
				Loc: append(loc, "role"), Msg: fmt.Sprintf("invalid role %q", msg.Role), Type: "value_error.enum",
			})
		}
		if msg.Role == RoleTool && msg.ToolCallID == "" {
			errs = append(errs, FieldError{
				Loc: append(loc, "tool_call_id"), Msg: "required for role \"tool\"", Type: "value_error.missing",
			})
		}
	}

	if r.Temperature < 0 || r.Temperature > 2 {
		errs = append(errs, FieldError{
			Loc: []string{"body", "temperature"}, Msg: "must be between 0 and 2", Type: "value_error.range",
		})
	}
	if r.N < 0 {
		errs = append(errs, FieldError{
			Loc: []string{"body", "n"}, Msg: "must be non-negative", Type: "value_error.range",
		})
	}

	return errs
}
