package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dwhitley/recollect/pkg/types"
)

// ModelClient is the boundary to the local embedding model runtime. It never
// leaves this package: the generator validates every output shape before the
// rest of the system sees a vector.
type ModelClient interface {
	// Infer embeds a single text.
	Infer(ctx context.Context, text string) (ModelOutput, error)

	// InferBatch embeds a batch of texts in one call.
	InferBatch(ctx context.Context, texts []string) (ModelOutput, error)

	// Model returns the model identifier this client talks to.
	Model() string

	// Close releases any resources held by the client.
	Close() error
}

// ModelOutput is a tagged union of the two shapes a model runtime can return:
// a flat vector for one text, or a batch tensor for several. Exactly one
// field is set; callers convert immediately via FlatVector or BatchVectors so
// the loosely-typed boundary never leaks further in.
type ModelOutput struct {
	Flat  []float32
	Batch [][]float32
}

// FlatVector validates the output as a single non-empty vector.
func (o ModelOutput) FlatVector() ([]float32, error) {
	if len(o.Flat) > 0 {
		return o.Flat, nil
	}
	// Tolerate runtimes that answer single-text requests with a 1-row batch.
	if len(o.Batch) == 1 && len(o.Batch[0]) > 0 {
		return o.Batch[0], nil
	}
	return nil, fmt.Errorf("%w: expected flat vector, got %d batch rows", types.ErrShapeMismatch, len(o.Batch))
}

// BatchVectors validates the output as a [wantRows][D] batch with a uniform
// dimension. A mismatch is returned as ErrShapeMismatch so the caller can
// fall back to per-item inference instead of failing the whole batch.
func (o ModelOutput) BatchVectors(wantRows int) ([][]float32, error) {
	if len(o.Batch) != wantRows {
		return nil, fmt.Errorf("%w: expected %d rows, got %d", types.ErrShapeMismatch, wantRows, len(o.Batch))
	}
	if wantRows == 0 {
		return nil, nil
	}
	dim := len(o.Batch[0])
	if dim == 0 {
		return nil, fmt.Errorf("%w: empty vector in batch", types.ErrShapeMismatch)
	}
	for i, row := range o.Batch {
		if len(row) != dim {
			return nil, fmt.Errorf("%w: row %d has dimension %d, expected %d", types.ErrShapeMismatch, i, len(row), dim)
		}
	}
	return o.Batch, nil
}

// OllamaClient talks to a locally hosted Ollama server. Embeddings never
// leave the machine.
type OllamaClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewOllamaClient creates a client for the local Ollama embeddings API.
func NewOllamaClient(model, baseURL string) *OllamaClient {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	return &OllamaClient{
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}
}

// embedRequest is the wire format of Ollama's /api/embed endpoint, which
// accepts either a single string or a list under "input".
type embedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

// embedResponse covers both response shapes: "embeddings" from /api/embed,
// "embedding" from the legacy /api/embeddings endpoint.
type embedResponse struct {
	Embedding  []float32   `json:"embedding"`
	Embeddings [][]float32 `json:"embeddings"`
}

func (c *OllamaClient) Infer(ctx context.Context, text string) (ModelOutput, error) {
	return c.call(ctx, embedRequest{Model: c.model, Input: text})
}

func (c *OllamaClient) InferBatch(ctx context.Context, texts []string) (ModelOutput, error) {
	return c.call(ctx, embedRequest{Model: c.model, Input: texts})
}

func (c *OllamaClient) call(ctx context.Context, reqBody embedRequest) (ModelOutput, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return ModelOutput{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return ModelOutput{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ModelOutput{}, fmt.Errorf("%w: %v", types.ErrModelUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return ModelOutput{}, fmt.Errorf("%w: status %d: %s", types.ErrModelUnavailable, resp.StatusCode, string(bodyBytes))
	}

	var apiResp embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return ModelOutput{}, fmt.Errorf("decode response: %w", err)
	}

	// Convert the duck-typed wire shape into the tagged union immediately.
	if len(apiResp.Embeddings) > 0 {
		return ModelOutput{Batch: apiResp.Embeddings}, nil
	}
	return ModelOutput{Flat: apiResp.Embedding}, nil
}

func (c *OllamaClient) Model() string {
	return c.model
}

func (c *OllamaClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
