package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/google/uuid"
	"github.com/osteele/liquid"
)

// ArtifactKind identifies what a generation run produced.
type ArtifactKind string

const (
	ArtifactText  ArtifactKind = "text"
	ArtifactImage ArtifactKind = "image"
	ArtifactVideo ArtifactKind = "video"
)

// Request is one generation call into a provider.
type Request struct {
	UserID          uuid.UUID
	Prompt          string
	AspectRatio     string
	Style           string
	DurationSeconds int
}

// Artifact is a generation result.
type Artifact struct {
	Kind            ArtifactKind
	Text            string
	Media           []byte
	ContentType     string
	ModelID         string
	DurationSeconds int
	Placeholder     bool
}

// Provider is the black-box generation capability: one model, one call.
// Implementations return Terminal-wrapped errors for failures that a
// retry cannot fix.
type Provider interface {
	Generate(ctx context.Context, req Request) (Artifact, error)
	ModelID() string
}

// Capabilities describes which providers are actually configured. It is
// injected so strategy selection is an explicit, testable function rather
// than environment-variable branching at call sites.
type Capabilities struct {
	TextModel  bool
	ImageModel bool
	VideoModel bool
}

// =============================================================================
// BEDROCK TEXT PROVIDER
// =============================================================================

// BedrockTextProvider generates post copy through Amazon Bedrock using the
// Anthropic messages format.
type BedrockTextProvider struct {
	client  *bedrockruntime.Client
	modelID string
}

// NewBedrockTextProvider creates a text provider for the given model.
func NewBedrockTextProvider(client *bedrockruntime.Client, modelID string) *BedrockTextProvider {
	return &BedrockTextProvider{client: client, modelID: modelID}
}

func (p *BedrockTextProvider) ModelID() string { return p.modelID }

type anthropicRequest struct {
	AnthropicVersion string             `json:"anthropic_version"`
	MaxTokens        int                `json:"max_tokens"`
	Messages         []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

// Generate implements Provider.
func (p *BedrockTextProvider) Generate(ctx context.Context, req Request) (Artifact, error) {
	body, err := json.Marshal(anthropicRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        1024,
		Messages: []anthropicMessage{
			{Role: "user", Content: req.Prompt},
		},
	})
	if err != nil {
		return Artifact{}, Terminal(fmt.Errorf("marshal request: %w", err))
	}

	out, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(p.modelID),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return Artifact{}, classifyBedrockError(err)
	}

	var resp anthropicResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return Artifact{}, fmt.Errorf("parse model response: %w", err)
	}
	if len(resp.Content) == 0 {
		return Artifact{}, fmt.Errorf("model returned empty content")
	}

	return Artifact{
		Kind:    ArtifactText,
		Text:    strings.TrimSpace(resp.Content[0].Text),
		ModelID: p.modelID,
	}, nil
}

// =============================================================================
// BEDROCK IMAGE PROVIDER
// =============================================================================

// BedrockImageProvider generates images through Amazon Bedrock (Titan
// image model family).
type BedrockImageProvider struct {
	client  *bedrockruntime.Client
	modelID string
}

// NewBedrockImageProvider creates an image provider for the given model.
func NewBedrockImageProvider(client *bedrockruntime.Client, modelID string) *BedrockImageProvider {
	return &BedrockImageProvider{client: client, modelID: modelID}
}

func (p *BedrockImageProvider) ModelID() string { return p.modelID }

type titanImageRequest struct {
	TaskType              string `json:"taskType"`
	TextToImageParams     struct {
		Text string `json:"text"`
	} `json:"textToImageParams"`
	ImageGenerationConfig struct {
		NumberOfImages int `json:"numberOfImages"`
		Width          int `json:"width"`
		Height         int `json:"height"`
	} `json:"imageGenerationConfig"`
}

type titanImageResponse struct {
	Images []string `json:"images"` // base64 PNG
	Error  string   `json:"error,omitempty"`
}

// Generate implements Provider.
func (p *BedrockImageProvider) Generate(ctx context.Context, req Request) (Artifact, error) {
	w, h := AspectDimensions(req.AspectRatio)

	var treq titanImageRequest
	treq.TaskType = "TEXT_IMAGE"
	treq.TextToImageParams.Text = req.Prompt
	treq.ImageGenerationConfig.NumberOfImages = 1
	treq.ImageGenerationConfig.Width = w
	treq.ImageGenerationConfig.Height = h

	body, err := json.Marshal(treq)
	if err != nil {
		return Artifact{}, Terminal(fmt.Errorf("marshal request: %w", err))
	}

	out, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(p.modelID),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return Artifact{}, classifyBedrockError(err)
	}

	var resp titanImageResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return Artifact{}, fmt.Errorf("parse model response: %w", err)
	}
	if resp.Error != "" {
		return Artifact{}, Terminal(fmt.Errorf("model rejected prompt: %s", resp.Error))
	}
	if len(resp.Images) == 0 {
		return Artifact{}, fmt.Errorf("model returned no images")
	}

	media, err := decodeBase64(resp.Images[0])
	if err != nil {
		return Artifact{}, fmt.Errorf("decode image: %w", err)
	}

	return Artifact{
		Kind:        ArtifactImage,
		Media:       media,
		ContentType: "image/png",
		ModelID:     p.modelID,
	}, nil
}

// classifyBedrockError marks validation and permanent-quota failures as
// terminal; everything else (throttling, timeouts, 5xx) stays retryable.
func classifyBedrockError(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "ValidationException") ||
		strings.Contains(msg, "AccessDeniedException") ||
		strings.Contains(msg, "ResourceNotFoundException") {
		return Terminal(err)
	}
	return err
}

// =============================================================================
// PROMPT TEMPLATING
// =============================================================================

var promptEngine = liquid.NewEngine()

// RenderPrompt renders a liquid prompt template with the given bindings.
// Campaign briefs are turned into model prompts this way so the wording
// lives in templates, not format strings.
func RenderPrompt(template string, bindings map[string]interface{}) (string, error) {
	out, err := promptEngine.ParseAndRenderString(template, bindings)
	if err != nil {
		return "", Terminal(fmt.Errorf("render prompt template: %w", err))
	}
	return strings.TrimSpace(out), nil
}
