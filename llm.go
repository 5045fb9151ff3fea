package serenpair

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// ChatMessage is one turn of a chat completion request.
type ChatMessage struct {
	Role    string
	Content string
}

// ChatResponse is the raw result of a chat completion call.
type ChatResponse struct {
	Text       string
	StopReason string
	TokensUsed int
}

// ChatProvider is the chat-completion half of C4. Calls here are one-shot:
// no session, no multi-turn continuity, since every use (extraction,
// scoring, essay generation) is a single structured request/response.
type ChatProvider interface {
	Chat(ctx context.Context, messages []ChatMessage, temperature float32) (*ChatResponse, error)
	Name() string
}

// Embedder generates vector embeddings from text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// Resolution hierarchy for ChatProvider and Embedder: step-level argument,
// then context value, then process-wide global, then ErrNoProvider /
// ErrNoEmbedder.
var (
	ErrNoProvider = fmt.Errorf("serenpair: no chat provider configured: set via context, call-level, or global")
	ErrNoEmbedder = fmt.Errorf("serenpair: no embedder configured: set via context, call-level, or global")
)

type chatProviderKeyType struct{}
type embedderKeyType struct{}

var (
	chatProviderKey = chatProviderKeyType{}
	embedderKey     = embedderKeyType{}

	globalProvider   ChatProvider
	globalProviderMu sync.RWMutex

	globalEmbedder   Embedder
	globalEmbedderMu sync.RWMutex
)

// SetProvider sets the process-wide fallback chat provider.
func SetProvider(p ChatProvider) {
	globalProviderMu.Lock()
	defer globalProviderMu.Unlock()
	globalProvider = p
}

// WithProvider attaches a chat provider to ctx, preferred over the global.
func WithProvider(ctx context.Context, p ChatProvider) context.Context {
	return context.WithValue(ctx, chatProviderKey, p)
}

// ResolveProvider applies the resolution hierarchy: explicit > context >
// global > error.
func ResolveProvider(ctx context.Context, explicit ChatProvider) (ChatProvider, error) {
	if explicit != nil {
		return explicit, nil
	}
	if p, ok := ctx.Value(chatProviderKey).(ChatProvider); ok {
		return p, nil
	}
	globalProviderMu.RLock()
	defer globalProviderMu.RUnlock()
	if globalProvider != nil {
		return globalProvider, nil
	}
	return nil, ErrNoProvider
}

// SetEmbedder sets the process-wide fallback embedder.
func SetEmbedder(e Embedder) {
	globalEmbedderMu.Lock()
	defer globalEmbedderMu.Unlock()
	globalEmbedder = e
}

// WithEmbedder attaches an embedder to ctx, preferred over the global.
func WithEmbedder(ctx context.Context, e Embedder) context.Context {
	return context.WithValue(ctx, embedderKey, e)
}

// ResolveEmbedder applies the resolution hierarchy: explicit > context >
// global > error.
func ResolveEmbedder(ctx context.Context, explicit Embedder) (Embedder, error) {
	if explicit != nil {
		return explicit, nil
	}
	if e, ok := ctx.Value(embedderKey).(Embedder); ok {
		return e, nil
	}
	globalEmbedderMu.RLock()
	defer globalEmbedderMu.RUnlock()
	if globalEmbedder != nil {
		return globalEmbedder, nil
	}
	return nil, ErrNoEmbedder
}

// OpenAIEmbedder implements Embedder against OpenAI's embeddings API.
type OpenAIEmbedder struct {
	apiKey     string
	model      string
	dimensions int
	baseURL    string
	client     *http.Client
}

const (
	ModelTextEmbeddingAda002 = "text-embedding-ada-002"
	ModelTextEmbedding3Small = "text-embedding-3-small"
	DimensionsAda002         = 1536
)

// OpenAIEmbedderOption configures an OpenAIEmbedder.
type OpenAIEmbedderOption func(*OpenAIEmbedder)

func WithEmbeddingModel(model string, dimensions int) OpenAIEmbedderOption {
	return func(e *OpenAIEmbedder) { e.model = model; e.dimensions = dimensions }
}

func WithEmbedderHTTPClient(client *http.Client) OpenAIEmbedderOption {
	return func(e *OpenAIEmbedder) { e.client = client }
}

// NewOpenAIEmbedder creates an OpenAI embedder with the given API key.
func NewOpenAIEmbedder(apiKey string, opts ...OpenAIEmbedderOption) *OpenAIEmbedder {
	e := &OpenAIEmbedder{
		apiKey:     apiKey,
		model:      ModelTextEmbeddingAda002,
		dimensions: DimensionsAda002,
		baseURL:    "https://api.openai.com/v1",
		client:     http.DefaultClient,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type embeddingRequest struct {
	Input string `json:"input"`
	Model string `json:"model"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Embed generates an embedding for text. Per §4.4, a ThoughtUnit's embedding
// input is its claim plus optional context, concatenated by the caller.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embeddingRequest{Input: text, Model: e.model})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: "embed", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Op: "embed read body", Err: err}
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal embed response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("embedding API error: %s", parsed.Error.Message)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("embedding API returned no data")
	}
	return parsed.Data[0].Embedding, nil
}

func (e *OpenAIEmbedder) Dimensions() int { return e.dimensions }

var _ Embedder = (*OpenAIEmbedder)(nil)

// HTTPChatProvider implements ChatProvider against an OpenAI-compatible
// chat completions endpoint (used for both the extraction/scoring/essay
// provider and, interchangeably, Anthropic-compatible gateways that speak
// the same wire shape).
type HTTPChatProvider struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

type HTTPChatProviderOption func(*HTTPChatProvider)

func WithChatModel(model string) HTTPChatProviderOption {
	return func(p *HTTPChatProvider) { p.model = model }
}

func WithChatBaseURL(url string) HTTPChatProviderOption {
	return func(p *HTTPChatProvider) { p.baseURL = url }
}

func WithChatHTTPClient(client *http.Client) HTTPChatProviderOption {
	return func(p *HTTPChatProvider) { p.client = client }
}

func NewHTTPChatProvider(apiKey, model string, opts ...HTTPChatProviderOption) *HTTPChatProvider {
	p := &HTTPChatProvider{
		apiKey:  apiKey,
		model:   model,
		baseURL: "https://api.openai.com/v1",
		client:  http.DefaultClient,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *HTTPChatProvider) Name() string { return p.model }

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
}

type chatChoice struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

type chatCompletionResponse struct {
	Choices []chatChoice `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *HTTPChatProvider) Chat(ctx context.Context, messages []ChatMessage, temperature float32) (*ChatResponse, error) {
	body, err := json.Marshal(chatRequest{Model: p.model, Messages: messages, Temperature: temperature})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: "chat", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Op: "chat read body", Err: err}
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal chat response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("chat API error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("chat API returned no choices")
	}

	return &ChatResponse{
		Text:       parsed.Choices[0].Message.Content,
		StopReason: parsed.Choices[0].FinishReason,
		TokensUsed: parsed.Usage.TotalTokens,
	}, nil
}

var _ ChatProvider = (*HTTPChatProvider)(nil)

// DefaultScoringTemperature is used for pair-scoring chat calls, per §4.4.
const DefaultScoringTemperature float32 = 1.0

// DefaultMaxPairsPerBatch is the pair count for a multi-pair scoring request.
// No code in this package reads it: Scorer sends one pair per chat request.
const DefaultMaxPairsPerBatch = 10
