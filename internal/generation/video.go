package generation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// BedrockVideoProvider generates short clips through Amazon Bedrock's
// video model family.
type BedrockVideoProvider struct {
	client  *bedrockruntime.Client
	modelID string
}

// NewBedrockVideoProvider creates a video provider for the given model.
func NewBedrockVideoProvider(client *bedrockruntime.Client, modelID string) *BedrockVideoProvider {
	return &BedrockVideoProvider{client: client, modelID: modelID}
}

func (p *BedrockVideoProvider) ModelID() string { return p.modelID }

type videoModelRequest struct {
	TaskType       string `json:"taskType"`
	TextToVideoParams struct {
		Text string `json:"text"`
	} `json:"textToVideoParams"`
	VideoGenerationConfig struct {
		DurationSeconds int    `json:"durationSeconds"`
		Dimension       string `json:"dimension"`
	} `json:"videoGenerationConfig"`
}

type videoModelResponse struct {
	Video string `json:"video"` // base64 MP4
	Error string `json:"error,omitempty"`
}

// Generate implements Provider.
func (p *BedrockVideoProvider) Generate(ctx context.Context, req Request) (Artifact, error) {
	w, h := AspectDimensions(req.AspectRatio)

	var vreq videoModelRequest
	vreq.TaskType = "TEXT_VIDEO"
	vreq.TextToVideoParams.Text = req.Prompt
	vreq.VideoGenerationConfig.DurationSeconds = req.DurationSeconds
	vreq.VideoGenerationConfig.Dimension = fmt.Sprintf("%dx%d", w, h)

	body, err := json.Marshal(vreq)
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

	var resp videoModelResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return Artifact{}, fmt.Errorf("parse model response: %w", err)
	}
	if resp.Error != "" {
		return Artifact{}, Terminal(fmt.Errorf("model rejected prompt: %s", resp.Error))
	}
	if resp.Video == "" {
		return Artifact{}, fmt.Errorf("model returned no video")
	}

	media, err := decodeBase64(resp.Video)
	if err != nil {
		return Artifact{}, fmt.Errorf("decode video: %w", err)
	}

	return Artifact{
		Kind:            ArtifactVideo,
		Media:           media,
		ContentType:     "video/mp4",
		ModelID:         p.modelID,
		DurationSeconds: req.DurationSeconds,
	}, nil
}
