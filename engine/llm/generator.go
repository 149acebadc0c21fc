package llm

import "context"

// Image is an input image for an edit request.
type Image struct {
	Name string
	Data []byte
	MIME string
}

type GenerateRequest struct {
	Model   string
	Prompt  string
	Size    string
	Quality string
}

type EditRequest struct {
	Model   string
	Prompt  string
	Images  []Image
	Size    string
	Quality string
}

// ImageGenerator is the AI image capability used by ai-generation blocks.
// Implementations must not retry; callers own the retry policy.
type ImageGenerator interface {
	Generate(ctx context.Context, req GenerateRequest) ([]byte, error)
	Edit(ctx context.Context, req EditRequest) ([]byte, error)
}
