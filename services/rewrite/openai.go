// Package rewritesvc turns rough notice drafts into polished notices through an OpenAI compatible
// chat completion API (OpenRouter by default).
package rewritesvc

import (
	"context"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"

	"github.com/trezcool/edusmart/core"
)

const systemPrompt = "You are a professional coaching administrator. Rewrite the following rough draft into a " +
	"clear, polite, and professional notice. Keep it concise."

var errEmptyResponse = errors.New("empty completion")

// Rewriter is implemented by OpenAIRewriter and NopRewriter.
type Rewriter interface {
	Rewrite(ctx context.Context, draft string) string
}

type OpenAIRewriter struct {
	client *openai.Client
	model  string
	conf   *core.Config
	logger core.Logger
}

var _ Rewriter = (*OpenAIRewriter)(nil)

// referer sets the attribution headers OpenRouter asks for.
type referer struct {
	base    http.RoundTripper
	url     string
	appName string
}

func (r referer) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("HTTP-Referer", r.url)
	req.Header.Set("X-Title", r.appName)
	return r.base.RoundTrip(req)
}

func NewOpenAIRewriter(conf *core.Config, logger core.Logger) *OpenAIRewriter {
	cfg := openai.DefaultConfig(conf.Rewrite.APIKey)
	if conf.Rewrite.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(conf.Rewrite.BaseURL, "/")
	}
	cfg.HTTPClient = &http.Client{
		Timeout:   conf.Rewrite.Timeout,
		Transport: referer{base: http.DefaultTransport, url: conf.FrontendBaseURL, appName: conf.AppName},
	}
	return &OpenAIRewriter{
		client: openai.NewClientWithConfig(cfg),
		model:  conf.Rewrite.Model,
		conf:   conf,
		logger: logger,
	}
}

// Rewrite returns the rewritten draft, or the draft itself when the completion fails or is empty.
func (r *OpenAIRewriter) Rewrite(ctx context.Context, draft string) string {
	text, err := r.complete(ctx, draft)
	if err != nil {
		r.logger.Warn("rewriting notice", err)
		return draft
	}
	return text
}

func (r *OpenAIRewriter) complete(ctx context.Context, draft string) (string, error) {
	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: r.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: draft},
		},
	})
	if err != nil {
		return "", errors.Wrap(err, "creating chat completion")
	}
	if len(resp.Choices) == 0 {
		return "", errEmptyResponse
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", errEmptyResponse
	}
	return text, nil
}

// NopRewriter hands drafts back untouched; used when no API key is configured.
type NopRewriter struct{}

func (NopRewriter) Rewrite(_ context.Context, draft string) string { return draft }

// New returns an OpenAIRewriter when an API key is configured, a NopRewriter otherwise.
func New(conf *core.Config, logger core.Logger) Rewriter {
	if conf.Rewrite.APIKey == "" {
		return NopRewriter{}
	}
	return NewOpenAIRewriter(conf, logger)
}
