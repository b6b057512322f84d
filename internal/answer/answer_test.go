package answer

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "bare", raw: `{"output":"x"}`, want: `{"output":"x"}`},
		{name: "json fence", raw: "```json\n{\"output\":\"x\"}\n```", want: `{"output":"x"}`},
		{name: "plain fence", raw: "```\n{\"output\":\"x\"}\n```", want: `{"output":"x"}`},
		{name: "prose around", raw: "Sure! Here it is: {\"output\":\"x\"} hope it helps", want: `{"output":"x"}`},
		{name: "prose and fence", raw: "Answer:\n```json\n{\"output\":\"x\"}\n```\nbye", want: `{"output":"x"}`},
		{name: "no braces", raw: "  nothing here ", want: "nothing here"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Normalize(tt.raw))
		})
	}
}

func TestNormalize_BraceInTrailingProse(t *testing.T) {
	// the recovery slice runs to the last '}', so a brace in trailing prose
	// drags the prose along and strict decoding then fails
	raw := `{"output":"x"} see {this}`
	require.Equal(t, raw, Normalize(raw))
	_, err := Parse(raw)
	require.Error(t, err)
}

func TestParse_RecoversOutput(t *testing.T) {
	output := "这是一个梗，出自 {某} 动画。\n第二行"
	encoded, err := json.Marshal(map[string]any{"output": output, "block": false})
	require.NoError(t, err)

	wrappers := map[string]string{
		"bare":        "%s",
		"json fence":  "```json\n%s\n```",
		"plain fence": "```\n%s\n```",
		"prose":       "好的：\n%s\n以上。",
	}
	for name, wrapper := range wrappers {
		t.Run(name, func(t *testing.T) {
			result, err := Parse(fmt.Sprintf(wrapper, encoded))
			require.NoError(t, err)
			require.NotNil(t, result.Output)
			require.Equal(t, output, *result.Output)
			require.False(t, result.Block)
			require.Nil(t, result.Keyword)
		})
	}
}

func TestParse_Failures(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: ""},
		{name: "not json", raw: "I cannot answer that."},
		{name: "missing output", raw: `{"block": false, "keyword": "x"}`},
		{name: "null output", raw: `{"output": null}`},
		{name: "wrong block type", raw: `{"output": "x", "block": "yes"}`},
		{name: "bad keyword", raw: `{"output": "x", "keyword": 3}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.raw)
			var parseErr *ParseError
			require.True(t, errors.As(err, &parseErr), "expected *ParseError, got %T", err)
			require.Equal(t, tt.raw, parseErr.Raw)
		})
	}
}

func TestParse_EmptyOutputIsPresent(t *testing.T) {
	result, err := Parse(`{"output": ""}`)
	require.NoError(t, err)
	require.Equal(t, "", *result.Output)
}

func TestKeywords(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Keywords
		line string
	}{
		{name: "absent", raw: `{"output":"o"}`, want: nil, line: ""},
		{name: "null", raw: `{"output":"o","keyword":null}`, want: nil, line: ""},
		{name: "scalar", raw: `{"output":"o","keyword":"梗"}`, want: Keywords{"梗"}, line: "关键词：梗\n\n"},
		{name: "empty scalar", raw: `{"output":"o","keyword":""}`, want: nil, line: ""},
		{name: "list", raw: `{"output":"o","keyword":["a","b"]}`, want: Keywords{"a", "b"}, line: "关键词：a | b\n\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Parse(tt.raw)
			require.NoError(t, err)
			require.Equal(t, tt.want, result.Keyword)
			require.Equal(t, tt.line, result.Keyword.Line())
		})
	}
}

func TestRender(t *testing.T) {
	blocked, err := Parse(`{"output":"secret","block":true,"keyword":["k"]}`)
	require.NoError(t, err)
	require.Equal(t, Refusal, Render(blocked))

	normal, err := Parse(`{"output":"解释","keyword":["a","b"]}`)
	require.NoError(t, err)
	require.Equal(t, "关键词：a | b\n\n解释", Render(normal))
}
