// Package pipeline sequences one explain command: classify the incoming
// segments, resolve images and at most one link into text, assemble the
// nonce-bounded prompt, generate, then parse and audit the answer.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/Keyring-Network/keyring-zssm/explainer/internal/answer"
	"github.com/Keyring-Network/keyring-zssm/explainer/internal/events"
	"github.com/Keyring-Network/keyring-zssm/explainer/internal/llm"
	"github.com/Keyring-Network/keyring-zssm/explainer/internal/prompt"
	"github.com/Keyring-Network/keyring-zssm/explainer/internal/resolvers"
	"github.com/Keyring-Network/keyring-zssm/explainer/internal/segment"
)

const (
	MaxImages         = 2
	defaultRetryDelay = 250 * time.Millisecond
)

// Stages reported in a Failure.
const (
	StageInput    = "input"
	StageConfig   = "config"
	StageImage    = "image"
	StageWebPage  = "web_page"
	StagePDF      = "pdf"
	StageGenerate = "generate"
)

// User-visible messages.
const (
	MsgNothingToExplain = "未找到需要解释的内容"
	MsgEmptyReply       = "上一条消息内容为空"
	MsgReference        = "暂不支持解释引用消息"
	MsgSticker          = "暂不支持解释表情"
	MsgUnsupported      = "暂不支持解释该类型的消息"
	MsgTooManyImages    = "图片数量超过限制, 最多支持 2 张"
	MsgImageFailed      = "图片识别失败"
	MsgWebPageFailed    = "无法获取页面内容"
	MsgPDFFailed        = "PDF 处理失败"
	MsgNoAPIKey         = "未配置 Api Key，暂时无法使用"
	MsgGenerateFailed   = "AI 回复失败，请重试"
)

// Message is the replied-to message as delivered by the host.
type Message struct {
	ID       string            `json:"id,omitempty"`
	Segments []segment.Segment `json:"segments"`
}

type Request struct {
	RequestID string
	MessageID string
	Reply     *Message
	Content   []segment.Segment
}

// Failure carries the single user-visible message for a command that could
// not be answered.
type Failure struct {
	Stage   string
	Message string
	Err     error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Stage, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Stage, f.Message)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

type ImageResolver interface {
	Resolve(ctx context.Context, img segment.Image) (string, error)
}

type URLResolver interface {
	Resolve(ctx context.Context, url string) (string, error)
}

type URLClassifier interface {
	IsPDF(ctx context.Context, url string) bool
}

type Recorder interface {
	Record(ctx context.Context, requestID string, eventType string, payload map[string]any) error
}

// Deps wires a Pipeline. Text is nil when no text model is configured.
type Deps struct {
	Images     ImageResolver
	Web        URLResolver
	PDF        URLResolver
	Classifier URLClassifier
	Text       llm.ChatClient
	Auditor    *answer.Auditor
	Recorder   Recorder
	Template   string
	RetryDelay time.Duration
	Log        *slog.Logger
}

type Pipeline struct {
	images     ImageResolver
	web        URLResolver
	pdf        URLResolver
	classifier URLClassifier
	text       llm.ChatClient
	auditor    *answer.Auditor
	recorder   Recorder
	template   string
	retryDelay time.Duration
	log        *slog.Logger
}

func New(deps Deps) *Pipeline {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	template := deps.Template
	if template == "" {
		template = prompt.Default
	}
	retryDelay := deps.RetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}
	auditor := deps.Auditor
	if auditor == nil {
		auditor = answer.NewAuditor(nil, log)
	}
	return &Pipeline{
		images:     deps.Images,
		web:        deps.Web,
		pdf:        deps.PDF,
		classifier: deps.Classifier,
		text:       deps.Text,
		auditor:    auditor,
		recorder:   deps.Recorder,
		template:   template,
		retryDelay: retryDelay,
		log:        log,
	}
}

// Explain answers one command. It returns either the text to deliver or a
// *Failure whose Message is the text to deliver instead.
func (p *Pipeline) Explain(ctx context.Context, req Request) (string, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}
	log := p.log.With("request_id", req.RequestID, "message_id", req.MessageID)
	started := time.Now()
	p.checkpoint(ctx, req.RequestID, events.TypeAccepted, map[string]any{"has_reply": req.Reply != nil})

	text, err := p.explain(ctx, log, req)
	if err != nil {
		var failure *Failure
		if !errors.As(err, &failure) {
			failure = &Failure{Stage: StageGenerate, Message: MsgGenerateFailed, Err: err}
		}
		log.Warn("explain failed", "stage", failure.Stage, "error", failure)
		p.checkpoint(ctx, req.RequestID, events.TypeFailed, map[string]any{
			"stage":       failure.Stage,
			"duration_ms": time.Since(started).Milliseconds(),
		})
		return "", failure
	}

	p.checkpoint(ctx, req.RequestID, events.TypeAnswered, map[string]any{
		"chars":       len([]rune(text)),
		"duration_ms": time.Since(started).Milliseconds(),
	})
	return text, nil
}

func (p *Pipeline) explain(ctx context.Context, log *slog.Logger, req Request) (string, error) {
	in, err := classify(req)
	if err != nil {
		return "", err
	}
	if p.text == nil {
		return "", &Failure{Stage: StageConfig, Message: MsgNoAPIKey}
	}

	sections, err := p.resolve(ctx, log, in)
	if err != nil {
		return "", err
	}
	p.checkpoint(ctx, req.RequestID, events.TypeResolved, map[string]any{
		"sections": len(sections),
		"images":   len(in.images),
		"url":      in.url != "",
	})

	envelope, err := prompt.Build(p.template, sections)
	if err != nil {
		return "", &Failure{Stage: StageGenerate, Message: MsgGenerateFailed, Err: err}
	}
	log.Debug("prompt assembled", "user_prompt", llm.Preview(envelope.UserPrompt))

	result, err := p.generate(ctx, log, envelope)
	if err != nil {
		return "", &Failure{Stage: StageGenerate, Message: MsgGenerateFailed, Err: err}
	}
	return p.auditor.Compose(ctx, result, envelope.SystemPrompt), nil
}

// input is the classified request before any network work.
type input struct {
	replyText   string
	commandText string
	hasReply    bool
	images      []segment.Image
	url         string
}

func classify(req Request) (input, error) {
	var in input
	var replyImages []segment.Image
	if req.Reply != nil {
		text, images, err := segment.Format(req.Reply.Segments)
		if err != nil {
			return in, unsupported(err)
		}
		if strings.TrimSpace(text) == "" && len(images) == 0 {
			return in, &Failure{Stage: StageInput, Message: MsgEmptyReply}
		}
		in.hasReply = true
		in.replyText = text
		replyImages = images
	}

	text, images, err := segment.Format(req.Content)
	if err != nil {
		return in, unsupported(err)
	}
	in.commandText = text
	if !in.hasReply && strings.TrimSpace(text) == "" && len(images) == 0 {
		return in, &Failure{Stage: StageInput, Message: MsgNothingToExplain}
	}

	in.images = segment.UniqueImages(append(replyImages, images...))
	if len(in.images) > MaxImages {
		return in, &Failure{Stage: StageInput, Message: MsgTooManyImages}
	}
	// only raw text is searched; image descriptions are never scanned for links
	in.url = resolvers.FirstURL(in.replyText + "\n" + in.commandText)
	return in, nil
}

func unsupported(err error) error {
	var unsupportedErr *segment.UnsupportedError
	if !errors.As(err, &unsupportedErr) {
		return &Failure{Stage: StageInput, Message: MsgUnsupported, Err: err}
	}
	switch unsupportedErr.Kind {
	case segment.KindReference:
		return &Failure{Stage: StageInput, Message: MsgReference, Err: err}
	case segment.KindSticker:
		return &Failure{Stage: StageInput, Message: MsgSticker, Err: err}
	default:
		return &Failure{Stage: StageInput, Message: MsgUnsupported, Err: err}
	}
}

func (p *Pipeline) resolve(ctx context.Context, log *slog.Logger, in input) ([]prompt.Section, error) {
	sections := []prompt.Section{}
	if in.hasReply {
		sections = append(sections, prompt.Section{Kind: prompt.KindText, Body: in.replyText})
		sections = append(sections, prompt.Section{Kind: prompt.KindInterest, Body: in.commandText})
	} else {
		sections = append(sections, prompt.Section{Kind: prompt.KindText, Body: in.commandText})
	}
	sections = lo.Filter(sections, func(s prompt.Section, _ int) bool {
		return strings.TrimSpace(s.Body) != ""
	})

	for _, img := range in.images {
		if p.images == nil {
			return nil, &Failure{Stage: StageImage, Message: MsgImageFailed}
		}
		description, err := p.images.Resolve(ctx, img)
		if err != nil {
			return nil, &Failure{Stage: StageImage, Message: MsgImageFailed, Err: err}
		}
		log.Info("image resolved", "placeholder", img.Placeholder(), "chars", len([]rune(description)))
		sections = append(sections, prompt.Section{Kind: prompt.KindImage, Identifier: img.Placeholder(), Body: description})
	}

	if in.url != "" {
		section, err := p.resolveURL(ctx, log, in.url)
		if err != nil {
			return nil, err
		}
		sections = append(sections, section)
	}
	return sections, nil
}

// resolveURL reads a link as a PDF when it looks like one, otherwise as a
// web page with a single PDF fallback.
func (p *Pipeline) resolveURL(ctx context.Context, log *slog.Logger, url string) (prompt.Section, error) {
	if p.classifier != nil && p.classifier.IsPDF(ctx, url) {
		text, err := p.resolvePDF(ctx, url)
		if err != nil {
			return prompt.Section{}, &Failure{Stage: StagePDF, Message: MsgPDFFailed, Err: err}
		}
		return prompt.Section{Kind: prompt.KindPDF, Identifier: url, Body: text}, nil
	}

	var webErr error
	if p.web != nil {
		text, err := p.web.Resolve(ctx, url)
		if err == nil {
			return prompt.Section{Kind: prompt.KindWebPage, Identifier: url, Body: text}, nil
		}
		webErr = err
	} else {
		webErr = errors.New("web resolver not configured")
	}
	log.Info("web page unavailable, trying pdf", "url", url, "error", webErr)

	text, err := p.resolvePDF(ctx, url)
	if err != nil {
		return prompt.Section{}, &Failure{Stage: StageWebPage, Message: MsgWebPageFailed, Err: errors.Join(webErr, err)}
	}
	return prompt.Section{Kind: prompt.KindPDF, Identifier: url, Body: text}, nil
}

func (p *Pipeline) resolvePDF(ctx context.Context, url string) (string, error) {
	if p.pdf == nil {
		return "", errors.New("pdf resolver not configured")
	}
	return p.pdf.Resolve(ctx, url)
}

// generate streams the final answer, retrying once on transport or parse
// failure.
func (p *Pipeline) generate(ctx context.Context, log *slog.Logger, envelope prompt.Envelope) (answer.Result, error) {
	messages := []llm.Message{
		llm.SystemMessage(envelope.SystemPrompt),
		llm.UserMessage(envelope.UserPrompt),
	}

	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return answer.Result{}, errors.Join(lastErr, ctx.Err())
			case <-time.After(p.retryDelay):
			}
		}
		result, err := p.generateOnce(ctx, log, messages)
		if err == nil {
			return result, nil
		}
		lastErr = err
		log.Warn("generation attempt failed", "attempt", attempt, "model", p.text.Model(), "error", err)
	}
	return answer.Result{}, lastErr
}

func (p *Pipeline) generateOnce(ctx context.Context, log *slog.Logger, messages []llm.Message) (answer.Result, error) {
	completion, err := llm.Collect(p.text.Stream(ctx, messages), log, "generation")
	if err != nil {
		return answer.Result{}, err
	}
	if strings.TrimSpace(completion.Content) == "" {
		return answer.Result{}, errors.New("empty model response")
	}
	return answer.Parse(completion.Content)
}

func (p *Pipeline) checkpoint(ctx context.Context, requestID, eventType string, payload map[string]any) {
	if p.recorder == nil {
		return
	}
	if err := p.recorder.Record(ctx, requestID, eventType, payload); err != nil {
		p.log.Debug("checkpoint not recorded", "request_id", requestID, "type", eventType, "error", err)
	}
}
