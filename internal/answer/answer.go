// Package answer turns raw model text into the reply shown to users.
package answer

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	Refusal       = "（抱歉, 我现在还不会这个）"
	keywordPrefix = "关键词："
)

var (
	fencePattern = regexp.MustCompile("^```\\w*\\s*|\\s*```$")
	validate     = validator.New(validator.WithRequiredStructEnabled())
)

// Result is the structured answer the model is asked to produce.
type Result struct {
	Output  *string  `json:"output" validate:"required"`
	Block   bool     `json:"block"`
	Keyword Keywords `json:"keyword"`
}

// Keywords accepts either a single string or a list of strings.
type Keywords []string

func (k *Keywords) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*k = nil
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if single == "" {
			*k = nil
		} else {
			*k = Keywords{single}
		}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return errors.New("keyword must be a string or a list of strings")
	}
	*k = list
	return nil
}

// Line renders the keyword header, or "" when there are none.
func (k Keywords) Line() string {
	if len(k) == 0 {
		return ""
	}
	return keywordPrefix + strings.Join(k, " | ") + "\n\n"
}

type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse model output: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Normalize is a best-effort recovery step ahead of strict decoding: it
// strips a surrounding code fence, then keeps the span from the first '{'
// to the last '}'. Braces in prose around the object can still misplace
// that span.
func Normalize(raw string) string {
	text := fencePattern.ReplaceAllString(strings.TrimSpace(raw), "")
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return text
}

func Parse(raw string) (Result, error) {
	var result Result
	if err := json.Unmarshal([]byte(Normalize(raw)), &result); err != nil {
		return Result{}, &ParseError{Raw: raw, Err: err}
	}
	if err := validate.Struct(result); err != nil {
		return Result{}, &ParseError{Raw: raw, Err: err}
	}
	return result, nil
}

// Render applies the block flag and the keyword header without auditing.
func Render(result Result) string {
	if result.Block {
		return Refusal
	}
	return result.Keyword.Line() + *result.Output
}
