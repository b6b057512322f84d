package llm

import "fmt"

type ErrUnsupportedProvider struct {
	Provider string
}

func (e ErrUnsupportedProvider) Error() string {
	return fmt.Sprintf("unsupported LLM provider: %s", e.Provider)
}

// APIError is returned for any non-200 response from the completions endpoint.
// Code is taken from the error body when it carries a numeric code, otherwise
// it is the HTTP status.
type APIError struct {
	Message string
	Code    int
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("[%d] %s", e.Code, e.Message)
	}
	return e.Message
}
