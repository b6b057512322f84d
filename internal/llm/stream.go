package llm

import (
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"
)

const progressInterval = 5 * time.Second

// Accumulator folds streamed deltas into a Completion. Each caller owns its
// own Accumulator, so concurrent streams on one Client never share buffers.
type Accumulator struct {
	content   strings.Builder
	reasoning strings.Builder
	chunks    int
}

// Add folds one delta and returns the running content.
func (a *Accumulator) Add(delta Delta) string {
	a.chunks++
	a.content.WriteString(delta.Content)
	a.reasoning.WriteString(delta.ReasoningContent)
	return a.content.String()
}

func (a *Accumulator) Chunks() int {
	return a.chunks
}

func (a *Accumulator) Completion() Completion {
	return Completion{
		Content:          a.content.String(),
		ReasoningContent: a.reasoning.String(),
	}
}

// Collect drains a stream, logging progress every few seconds under label.
// On error the partial completion is returned alongside it.
func Collect(stream iter.Seq2[Delta, error], log *slog.Logger, label string) (Completion, error) {
	if log == nil {
		log = slog.Default()
	}
	var acc Accumulator
	last := time.Now()
	running := ""
	for delta, err := range stream {
		if err != nil {
			return acc.Completion(), err
		}
		running = acc.Add(delta)
		if time.Since(last) > progressInterval {
			last = time.Now()
			log.Info(label+" progress", "chunks", acc.Chunks(), "preview", Preview(running))
		}
	}
	completion := acc.Completion()
	log.Info(label+" finished", "chunks", acc.Chunks(), "preview", Preview(running), "reasoning_chars", len([]rune(completion.ReasoningContent)))
	return completion, nil
}

// Preview shortens long text to head...n...tail for log lines.
func Preview(text string) string {
	runes := []rune(text)
	if len(runes) <= 60 {
		return text
	}
	return fmt.Sprintf("%s...%d...%s", string(runes[:20]), len(runes)-40, string(runes[len(runes)-20:]))
}
