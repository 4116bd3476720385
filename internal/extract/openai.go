package extract

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared"
	"golang.org/x/time/rate"

	"github.com/yifanzh/structpdf/internal/models"
	"github.com/yifanzh/structpdf/pkg/logger"
)

const (
	// Shared token budget across all extractions; conservative against the
	// provider's published per-minute limits.
	tokensPerSecond = 30000
	burstTokens     = 60000

	// Rough prompt-size heuristic for the limiter.
	bytesPerToken = 4
)

// OpenAIExtractor is the production Extractor. One request per Extract
// call; structured output is steered by attaching the target schema to the
// response format.
type OpenAIExtractor struct {
	client  openai.Client
	model   shared.ChatModel
	limiter *rate.Limiter
	logger  logger.Logger
}

func NewOpenAIExtractor(apiKey, model string, log logger.Logger) *OpenAIExtractor {
	if model == "" {
		model = shared.ChatModelGPT5Mini
	}
	return &OpenAIExtractor{
		client:  openai.NewClient(option.WithAPIKey(apiKey)),
		model:   shared.ChatModel(model),
		limiter: rate.NewLimiter(rate.Limit(tokensPerSecond), burstTokens),
		logger:  log,
	}
}

func (e *OpenAIExtractor) Extract(ctx context.Context, req Request) (*models.ExtractionAttempt, error) {
	schemaMap, err := req.Target.AsMap()
	if err != nil {
		return nil, err
	}

	prompt := BuildPrompt(req)

	estimated := len(prompt)/bytesPerToken + 1
	if estimated > burstTokens {
		estimated = burstTokens
	}
	if err := e.limiter.WaitN(ctx, estimated); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	e.logger.Debug("Calling extraction model",
		logger.String("schema", req.Target.ID),
		logger.Int("attempt", req.Attempt),
		logger.Int("promptBytes", len(prompt)),
	)

	response, err := e.client.Responses.New(ctx, responses.ResponseNewParams{
		Model: e.model,
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: responses.ResponseInputParam{
				responses.ResponseInputItemParamOfMessage(
					responses.ResponseInputMessageContentListParam{
						responses.ResponseInputContentParamOfInputText(prompt),
					},
					"user",
				),
			},
		},
		Text: responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigParamOfJSONSchema(req.Target.ID, schemaMap),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("extraction call failed: %w", err)
	}

	return attemptFromRaw(req.Attempt, response.OutputText()), nil
}
