// internal/llmclient/gemini_client.go
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/moodlens/api/schemas"
	"github.com/xkilldash9x/moodlens/internal/config"
	"github.com/xkilldash9x/moodlens/internal/llmutil"
)

// contentGenerator is the slice of *genai.Models the client needs.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiClient implements schemas.Analyzer for the Google Gemini API.
type GeminiClient struct {
	models  contentGenerator
	model   string
	timeout time.Duration
	genCfg  *genai.GenerateContentConfig
	logger  *zap.Logger
	now     func() time.Time
}

var _ schemas.Analyzer = (*GeminiClient)(nil)

// NewGeminiClient initializes the client. The SDK does not retry
// GenerateContent, which keeps every analysis at-most-once.
func NewGeminiClient(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API Key is required")
	}

	clientCfg := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{},
	}
	if cfg.Endpoint != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.Endpoint}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return newGeminiClient(client.Models, cfg, logger), nil
}

func newGeminiClient(models contentGenerator, cfg config.LLMConfig, logger *zap.Logger) *GeminiClient {
	return &GeminiClient{
		models:  models,
		model:   cfg.Model,
		timeout: cfg.APITimeout,
		genCfg: &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(SystemInstruction, genai.RoleUser),
			ResponseMIMEType:  "application/json",
			ResponseSchema:    expressionSchema(),
			Temperature:       genai.Ptr(cfg.Temperature),
		},
		logger: logger.Named("llm_client.gemini"),
		now:    time.Now,
	}
}

// Analyze sends one image to Gemini and parses the structured reply.
func (c *GeminiClient) Analyze(ctx context.Context, image []byte, mimeType string) (*schemas.ExpressionResult, error) {
	if err := validateFrame(image, mimeType); err != nil {
		return nil, err
	}

	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(image, normalizeMIME(mimeType)),
			genai.NewPartFromText(Instruction),
		}, genai.RoleUser),
	}

	startTime := time.Now()
	resp, err := c.models.GenerateContent(callCtx, c.model, contents, c.genCfg)
	duration := time.Since(startTime)
	if err != nil {
		return nil, classifyGeminiError(err)
	}

	fields := []zap.Field{zap.Duration("duration", duration), zap.String("model", c.model)}
	if u := resp.UsageMetadata; u != nil {
		fields = append(fields,
			zap.Int32("prompt_tokens", u.PromptTokenCount),
			zap.Int32("completion_tokens", u.CandidatesTokenCount),
			zap.Int32("total_tokens", u.TotalTokenCount),
		)
	}

	text := resp.Text()
	if text == "" {
		reason := blockReason(resp)
		c.logger.Warn("Gemini returned no text", append(fields, zap.String("reason", reason))...)
		if reason != "" {
			return nil, fmt.Errorf("%w: blocked (%s)", schemas.ErrResponseEmpty, reason)
		}
		return nil, schemas.ErrResponseEmpty
	}

	c.logger.Info("LLM generation complete (Gemini)", fields...)
	return llmutil.ParseExpression(text, c.now())
}

// blockReason explains an empty response when the API says why.
func blockReason(resp *genai.GenerateContentResponse) string {
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return string(resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0] != nil {
		if fr := resp.Candidates[0].FinishReason; fr != "" && fr != genai.FinishReasonStop {
			return string(fr)
		}
	}
	return ""
}

// classifyGeminiError maps SDK errors onto the taxonomy. Every failure that
// happens before a response body is obtained is a network error.
func classifyGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: gemini API error %d (%s): %s", schemas.ErrNetwork, apiErr.Code, apiErr.Status, apiErr.Message)
	}
	return fmt.Errorf("%w: gemini request failed: %v", schemas.ErrNetwork, err)
}
