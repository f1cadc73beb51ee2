package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"github.com/maraichr/cellforge/internal/config"
)

var bedrockModels = []Model{
	{ID: "anthropic.claude-3-haiku-20240307-v1:0", Name: "Claude 3 Haiku", API: "bedrock"},
	{ID: "anthropic.claude-3-5-sonnet-20240620-v1:0", Name: "Claude 3.5 Sonnet", API: "bedrock"},
	{ID: "meta.llama3-8b-instruct-v1:0", Name: "Llama 3 8B Instruct", API: "bedrock"},
	{ID: "mistral.mistral-small-2402-v1:0", Name: "Mistral Small", API: "bedrock"},
	{ID: "amazon.titan-text-express-v1", Name: "Titan Text Express", API: "bedrock"},
}

// converseAPI is the subset of the Bedrock runtime client used here.
type converseAPI interface {
	Converse(ctx context.Context, in *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Bedrock calls AWS Bedrock through the Converse API with IAM credentials
// from the default provider chain.
type Bedrock struct {
	api converseAPI
}

// NewBedrock loads the AWS config for the configured region.
func NewBedrock(ctx context.Context, cfg config.BedrockConfig) (*Bedrock, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Bedrock{api: bedrockruntime.NewFromConfig(awsCfg)}, nil
}

func (b *Bedrock) Complete(ctx context.Context, req Completion) (string, error) {
	in := &bedrockruntime.ConverseInput{
		ModelId: aws.String(req.Model),
		Messages: []types.Message{{
			Role:    types.ConversationRoleUser,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: req.Prompt}},
		}},
		InferenceConfig: &types.InferenceConfiguration{
			Temperature: aws.Float32(float32(req.Temperature)),
		},
	}
	if req.MaxTokens > 0 {
		in.InferenceConfig.MaxTokens = aws.Int32(int32(req.MaxTokens))
	}
	if req.System != "" {
		in.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: req.System}}
	}

	out, err := b.api.Converse(ctx, in)
	if err != nil {
		return "", bedrockError(err)
	}
	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return "", &BackendError{Backend: KindBedrock, Message: "unexpected output type", Err: ErrEmptyResponse}
	}
	var sb strings.Builder
	for _, block := range msg.Value.Content {
		if t, ok := block.(*types.ContentBlockMemberText); ok {
			sb.WriteString(t.Value)
		}
	}
	if sb.Len() == 0 {
		return "", &BackendError{Backend: KindBedrock, Message: "no text content", Err: ErrEmptyResponse}
	}
	return sb.String(), nil
}

func (b *Bedrock) ListModels(context.Context) ([]Model, error) {
	out := make([]Model, len(bedrockModels))
	copy(out, bedrockModels)
	return out, nil
}

func (b *Bedrock) Ping(ctx context.Context, model string) error {
	_, err := b.Complete(ctx, Completion{
		Model:     model,
		System:    "You are a helpful assistant.",
		Prompt:    "Test connection",
		MaxTokens: 5,
	})
	return err
}

func bedrockError(err error) error {
	var throttled *types.ThrottlingException
	if errors.As(err, &throttled) {
		return &BackendError{Backend: KindBedrock, Status: 429, Message: throttled.ErrorMessage(), Err: ErrRateLimited}
	}
	var denied *types.AccessDeniedException
	if errors.As(err, &denied) {
		return &BackendError{Backend: KindBedrock, Status: 403, Message: denied.ErrorMessage(), Err: ErrUnauthorized}
	}
	var unavailable *types.ServiceUnavailableException
	if errors.As(err, &unavailable) {
		return &BackendError{Backend: KindBedrock, Status: 503, Message: unavailable.ErrorMessage(), Err: ErrUnavailable}
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return &BackendError{Backend: KindBedrock, Message: apiErr.ErrorCode() + ": " + apiErr.ErrorMessage()}
	}
	return fmt.Errorf("bedrock converse: %w", err)
}
