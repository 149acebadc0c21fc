package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/compozy/animagen/engine/imaging"
	"github.com/compozy/animagen/engine/reference"
	"github.com/compozy/animagen/pkg/logger"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const ProviderOpenAI = "openai"

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	OrgID   string
	Timeout time.Duration
}

// OpenAIClient implements ImageGenerator over the OpenAI Images API.
type OpenAIClient struct {
	client     openai.Client
	downloader reference.Fetcher
}

// NewOpenAIClient builds a client with SDK retries disabled. downloader is used
// for responses that carry a URL instead of inline data; nil uses a default
// HTTP fetcher.
func NewOpenAIClient(cfg OpenAIConfig, downloader reference.Fetcher) *OpenAIClient {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.OrgID != "" {
		opts = append(opts, option.WithOrganization(cfg.OrgID))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	if downloader == nil {
		downloader = reference.NewHTTPFetcher(reference.HTTPOptions{})
	}
	return &OpenAIClient{client: openai.NewClient(opts...), downloader: downloader}
}

// dall-e models default to URL responses; gpt-image models always return b64.
func usesResponseFormat(model string) bool {
	return strings.HasPrefix(model, "dall-e")
}

func (c *OpenAIClient) Generate(ctx context.Context, req GenerateRequest) ([]byte, error) {
	params := openai.ImageGenerateParams{
		Prompt: req.Prompt,
		Model:  req.Model,
		N:      openai.Int(1),
	}
	if req.Size != "" {
		params.Size = openai.ImageGenerateParamsSize(req.Size)
	}
	if req.Quality != "" && req.Quality != "auto" {
		params.Quality = openai.ImageGenerateParamsQuality(req.Quality)
	}
	if usesResponseFormat(req.Model) {
		params.ResponseFormat = openai.ImageGenerateParamsResponseFormat("b64_json")
	}
	logger.FromContext(ctx).Debug("Calling image generation", "provider", ProviderOpenAI, "model", req.Model)
	resp, err := c.client.Images.Generate(ctx, params)
	if err != nil {
		return nil, fromOpenAI(err)
	}
	return c.firstImage(ctx, resp)
}

func (c *OpenAIClient) Edit(ctx context.Context, req EditRequest) ([]byte, error) {
	if len(req.Images) == 0 {
		return nil, &ProviderError{
			Provider: ProviderOpenAI,
			Type:     KindInvalidRequest,
			Message:  "image edit requires at least one input image",
		}
	}
	files := make([]io.Reader, 0, len(req.Images))
	for i, img := range req.Images {
		files = append(files, openai.File(bytes.NewReader(img.Data), fileName(img, i), img.MIME))
	}
	params := openai.ImageEditParams{
		Prompt: req.Prompt,
		Model:  req.Model,
		N:      openai.Int(1),
		Image:  openai.ImageEditParamsImageUnion{OfFileArray: files},
	}
	if req.Size != "" {
		params.Size = openai.ImageEditParamsSize(req.Size)
	}
	if req.Quality != "" && req.Quality != "auto" {
		params.Quality = openai.ImageEditParamsQuality(req.Quality)
	}
	if usesResponseFormat(req.Model) {
		params.ResponseFormat = openai.ImageEditParamsResponseFormat("b64_json")
	}
	logger.FromContext(ctx).Debug("Calling image edit",
		"provider", ProviderOpenAI, "model", req.Model, "images", len(req.Images))
	resp, err := c.client.Images.Edit(ctx, params)
	if err != nil {
		return nil, fromOpenAI(err)
	}
	return c.firstImage(ctx, resp)
}

func (c *OpenAIClient) firstImage(ctx context.Context, resp *openai.ImagesResponse) ([]byte, error) {
	if resp == nil || len(resp.Data) == 0 {
		return nil, &ProviderError{Provider: ProviderOpenAI, Type: KindEmptyResponse, Message: "no image returned"}
	}
	img := resp.Data[0]
	if img.B64JSON != "" {
		buf, err := base64.StdEncoding.DecodeString(img.B64JSON)
		if err != nil {
			return nil, fmt.Errorf("failed to decode image payload: %w", err)
		}
		return buf, nil
	}
	if img.URL != "" {
		return c.downloader.Fetch(ctx, img.URL)
	}
	return nil, &ProviderError{Provider: ProviderOpenAI, Type: KindEmptyResponse, Message: "image has neither data nor url"}
}

func fileName(img Image, i int) string {
	if img.Name != "" {
		return img.Name + imaging.Extension(img.MIME)
	}
	return fmt.Sprintf("image-%d%s", i+1, imaging.Extension(img.MIME))
}
