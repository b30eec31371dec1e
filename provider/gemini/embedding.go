package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nevindra/mergerag"
)

// GeminiEmbedding implements mergerag.EmbeddingProvider for Gemini embedding
// models. Each Embed call is one batchEmbedContents request.
type GeminiEmbedding struct {
	apiKey     string
	model      string
	dims       int
	taskType   string
	httpClient *http.Client
}

var _ mergerag.EmbeddingProvider = (*GeminiEmbedding)(nil)

// EmbeddingOption configures a GeminiEmbedding.
type EmbeddingOption func(*GeminiEmbedding)

// WithTaskType sets the embedding task type, e.g. "RETRIEVAL_DOCUMENT" or
// "SEMANTIC_SIMILARITY". Omitted when empty (the default).
func WithTaskType(t string) EmbeddingOption {
	return func(e *GeminiEmbedding) { e.taskType = t }
}

// WithEmbeddingHTTPClient sets the HTTP client used for requests.
func WithEmbeddingHTTPClient(c *http.Client) EmbeddingOption {
	return func(e *GeminiEmbedding) { e.httpClient = c }
}

// NewEmbedding creates a new Gemini embedding provider.
func NewEmbedding(apiKey, model string, dims int, opts ...EmbeddingOption) *GeminiEmbedding {
	e := &GeminiEmbedding{
		apiKey:     apiKey,
		model:      model,
		dims:       dims,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Name returns "gemini/<model>" so index fingerprints change with the model.
func (e *GeminiEmbedding) Name() string { return "gemini/" + e.model }

// Dimensions returns the configured embedding dimensionality.
func (e *GeminiEmbedding) Dimensions() int { return e.dims }

// Embed returns one vector per text, in input order.
func (e *GeminiEmbedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	url := fmt.Sprintf("%s/models/%s:batchEmbedContents?key=%s", baseURL, e.model, e.apiKey)

	requests := make([]map[string]any, len(texts))
	for i, text := range texts {
		req := map[string]any{
			"model": "models/" + e.model,
			"content": map[string]any{
				"parts": []map[string]any{{"text": text}},
			},
		}
		if e.dims > 0 {
			req["outputDimensionality"] = e.dims
		}
		if e.taskType != "" {
			req["taskType"] = e.taskType
		}
		requests[i] = req
	}

	respBody, err := post(ctx, e.httpClient, url, map[string]any{"requests": requests})
	if err != nil {
		return nil, err
	}

	var parsed batchEmbedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, wrapErr("failed to parse embed response: " + err.Error())
	}
	if len(parsed.Embeddings) != len(texts) {
		return nil, wrapErr(fmt.Sprintf("got %d embeddings for %d texts", len(parsed.Embeddings), len(texts)))
	}

	out := make([][]float32, len(texts))
	for i, emb := range parsed.Embeddings {
		vec := make([]float32, len(emb.Values))
		for j, v := range emb.Values {
			vec[j] = float32(v)
		}
		out[i] = vec
	}
	return out, nil
}

type batchEmbedResponse struct {
	Embeddings []embedValues `json:"embeddings"`
}

type embedValues struct {
	Values []float64 `json:"values"`
}
