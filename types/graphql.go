package types

import (
	"encoding/json"
)

// GraphQLRequest is the wire shape of a GraphQL operation over HTTP.
type GraphQLRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
	Extensions    map[string]any `json:"extensions,omitempty"`
}

// GraphQLResponse is the wire shape of a GraphQL result.
type GraphQLResponse struct {
	Data       json.RawMessage `json:"data,omitempty"`
	Errors     []GraphQLError  `json:"errors,omitempty"`
	Extensions map[string]any  `json:"extensions,omitempty"`
}

// GraphQLError is a single entry of the errors list.
type GraphQLError struct {
	Message    string         `json:"message"`
	Locations  []Location     `json:"locations,omitempty"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// Location points into the operation document.
type Location struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// ToGraphQLError renders a structured error as a GraphQL error entry.
func (e *Error) ToGraphQLError(path ...any) GraphQLError {
	ext := map[string]any{"code": string(e.Code)}
	if e.Service != "" {
		ext["serviceName"] = e.Service
	}
	if e.Retryable {
		ext["retryable"] = true
	}
	ge := GraphQLError{Message: e.Message, Extensions: ext}
	if len(path) > 0 {
		ge.Path = path
	}
	return ge
}

// ErrorResponse wraps errors into a data-less response body.
func ErrorResponse(errs ...*Error) *GraphQLResponse {
	out := &GraphQLResponse{Errors: make([]GraphQLError, 0, len(errs))}
	for _, e := range errs {
		out.Errors = append(out.Errors, e.ToGraphQLError())
	}
	return out
}
