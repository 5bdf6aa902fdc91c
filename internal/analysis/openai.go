package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sashabaranov/go-openai"

	"lease-analyzer/internal/apperr"
	"lease-analyzer/internal/models"
)

const classifierSystemPrompt = `You are a lease accounting specialist applying IFRS 16 and ASC 842.
Decide whether the contract contains a lease. Reply with a single JSON object:
{"isLease": bool, "confidence": number between 0 and 1,
 "leaseType": "OperatingLease" | "FinanceLease" | "ServiceContract" | "NotApplicable",
 "citations": [string], "reasoning": [string],
 "identifiedAsset": {"hasIdentifiedAsset": bool, "assetDescription": string, "assetSpecificity": string, "citations": [string]},
 "rightToControl": {"hasRightToControl": bool, "controlIndicators": [string], "citations": [string]},
 "substitutionRights": {"hasSubstitutionRights": bool, "analysis": string, "citations": [string]}}`

// maxPromptRunes keeps requests well inside the model context window.
const maxPromptRunes = 24000

type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIConfig selects the model endpoint. BaseURL allows compatible servers.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// OpenAIClassifier asks a chat model for a structured verdict in JSON mode.
type OpenAIClassifier struct {
	client chatCompleter
	model  string
	logger *slog.Logger
}

func NewOpenAIClassifier(cfg OpenAIConfig, logger *slog.Logger) (*OpenAIClassifier, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	logger.Info("initializing openai classifier", "model", cfg.Model)
	return &OpenAIClassifier{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		logger: logger,
	}, nil
}

type llmVerdict struct {
	IsLease            bool                              `json:"isLease"`
	Confidence         float64                           `json:"confidence"`
	LeaseType          models.LeaseType                  `json:"leaseType"`
	Citations          []string                          `json:"citations"`
	Reasoning          []string                          `json:"reasoning"`
	IdentifiedAsset    models.IdentifiedAssetAnalysis    `json:"identifiedAsset"`
	RightToControl     models.RightToControlAnalysis     `json:"rightToControl"`
	SubstitutionRights models.SubstitutionRightsAnalysis `json:"substitutionRights"`
}

func (c *OpenAIClassifier) Classify(ctx context.Context, content models.StructuredContent, opts models.AnalysisOptions) (models.LeaseClassification, error) {
	language := "English"
	if opts.Language == "ja" {
		language = "Japanese"
	}
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: classifierSystemPrompt + "\nWrite reasoning text in " + language + "."},
			{Role: openai.ChatMessageRoleUser, Content: truncateRunes(content.AnalysisText(), maxPromptRunes)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		Temperature:    0,
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		c.logger.Warn("openai classification call failed", "file_id", content.FileID, "error", err)
		return models.LeaseClassification{}, classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return models.LeaseClassification{}, apperr.Transient(errors.New("openai returned no choices"))
	}
	c.logger.Debug("received openai verdict", "file_id", content.FileID, "finish_reason", resp.Choices[0].FinishReason)

	var v llmVerdict
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &v); err != nil {
		// Sampling may produce a valid object on the next attempt.
		return models.LeaseClassification{}, apperr.Transient(fmt.Errorf("decode openai verdict: %w", err))
	}
	return v.classification(), nil
}

func (v llmVerdict) classification() models.LeaseClassification {
	switch v.LeaseType {
	case models.LeaseTypeOperating, models.LeaseTypeFinance, models.LeaseTypeService, models.LeaseTypeNotApplicable:
	default:
		v.LeaseType = models.LeaseTypeNotApplicable
	}
	if v.Confidence < 0 {
		v.Confidence = 0
	}
	if v.Confidence > 1 {
		v.Confidence = 1
	}
	out := models.LeaseClassification{
		IsLease:                    v.IsLease,
		Confidence:                 v.Confidence,
		LeaseType:                  v.LeaseType,
		Citations:                  orEmpty(v.Citations),
		Reasoning:                  orEmpty(v.Reasoning),
		IdentifiedAssetAnalysis:    v.IdentifiedAsset,
		RightToControlAnalysis:     v.RightToControl,
		SubstitutionRightsAnalysis: v.SubstitutionRights,
	}
	out.IdentifiedAssetAnalysis.Citations = orEmpty(out.IdentifiedAssetAnalysis.Citations)
	out.RightToControlAnalysis.ControlIndicators = orEmpty(out.RightToControlAnalysis.ControlIndicators)
	out.RightToControlAnalysis.Citations = orEmpty(out.RightToControlAnalysis.Citations)
	out.SubstitutionRightsAnalysis.Citations = orEmpty(out.SubstitutionRightsAnalysis.Citations)
	return out
}

// classifyOpenAIError maps the client's error taxonomy onto retryability:
// rate limits, server errors and transport failures are transient, other
// API rejections are permanent.
func classifyOpenAIError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return byStatus(apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return byStatus(reqErr.HTTPStatusCode, err)
	}
	return apperr.Transient(err)
}

func byStatus(code int, err error) error {
	if code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500 {
		return apperr.Transient(err)
	}
	return apperr.Permanent(err)
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
