// internal/llmclient/openai_client.go
package llmclient

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"go.uber.org/zap"

	"github.com/xkilldash9x/moodlens/api/schemas"
	"github.com/xkilldash9x/moodlens/internal/config"
	"github.com/xkilldash9x/moodlens/internal/llmutil"
)

// responseCreator is the slice of responses.ResponseService the client needs.
type responseCreator interface {
	New(ctx context.Context, body responses.ResponseNewParams, opts ...option.RequestOption) (*responses.Response, error)
}

// OpenAIClient implements schemas.Analyzer with the OpenAI Responses API and
// strict structured outputs.
type OpenAIClient struct {
	responses responseCreator
	model     string
	timeout   time.Duration
	format    responses.ResponseFormatTextConfigUnionParam
	temp      float64
	logger    *zap.Logger
	now       func() time.Time
}

var _ schemas.Analyzer = (*OpenAIClient)(nil)

// NewOpenAIClient initializes the client with SDK retries disabled.
func NewOpenAIClient(cfg config.LLMConfig, logger *zap.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API Key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(cfg.Endpoint))
	}
	client := openai.NewClient(opts...)
	return newOpenAIClient(&client.Responses, cfg, logger)
}

func newOpenAIClient(rc responseCreator, cfg config.LLMConfig, logger *zap.Logger) (*OpenAIClient, error) {
	schema, err := openAIExpressionSchema()
	if err != nil {
		return nil, err
	}
	return &OpenAIClient{
		responses: rc,
		model:     cfg.Model,
		timeout:   cfg.APITimeout,
		format: responses.ResponseFormatTextConfigUnionParam{
			OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
				Name:        schemaName,
				Schema:      schema,
				Strict:      openai.Bool(true),
				Description: openai.String("Structured facial expression analysis"),
				Type:        "json_schema",
			},
		},
		temp:   float64(cfg.Temperature),
		logger: logger.Named("llm_client.openai"),
		now:    time.Now,
	}, nil
}

// Analyze sends one image to OpenAI as a base64 data URL and parses the reply.
func (c *OpenAIClient) Analyze(ctx context.Context, image []byte, mimeType string) (*schemas.ExpressionResult, error) {
	if err := validateFrame(image, mimeType); err != nil {
		return nil, err
	}

	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	dataURL := "data:" + normalizeMIME(mimeType) + ";base64," + base64.StdEncoding.EncodeToString(image)
	input := responses.ResponseInputMessageContentListParam{
		{OfInputText: &responses.ResponseInputTextParam{Text: Instruction}},
		{OfInputImage: &responses.ResponseInputImageParam{
			ImageURL: openai.String(dataURL),
			Detail:   responses.ResponseInputImageDetailAuto,
		}},
	}

	params := responses.ResponseNewParams{
		Model:        c.model,
		Instructions: openai.String(SystemInstruction),
		Temperature:  openai.Float(c.temp),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: []responses.ResponseInputItemUnionParam{
				responses.ResponseInputItemParamOfMessage(input, responses.EasyInputMessageRoleUser),
			},
		},
		Text: responses.ResponseTextConfigParam{Format: c.format},
	}

	startTime := time.Now()
	resp, err := c.responses.New(callCtx, params)
	duration := time.Since(startTime)
	if err != nil {
		return nil, classifyOpenAIError(err)
	}

	fields := []zap.Field{
		zap.Duration("duration", duration),
		zap.String("model", c.model),
		zap.Int64("prompt_tokens", resp.Usage.InputTokens),
		zap.Int64("completion_tokens", resp.Usage.OutputTokens),
		zap.Int64("total_tokens", resp.Usage.TotalTokens),
	}

	text := resp.OutputText()
	if text == "" {
		reason := resp.IncompleteDetails.Reason
		c.logger.Warn("OpenAI returned no text", append(fields, zap.String("reason", reason))...)
		if reason != "" {
			return nil, fmt.Errorf("%w: incomplete (%s)", schemas.ErrResponseEmpty, reason)
		}
		return nil, schemas.ErrResponseEmpty
	}

	c.logger.Info("LLM generation complete (OpenAI)", fields...)
	return llmutil.ParseExpression(text, c.now())
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: openai API error %d: %s", schemas.ErrNetwork, apiErr.StatusCode, apiErr.Message)
	}
	return fmt.Errorf("%w: openai request failed: %v", schemas.ErrNetwork, err)
}
