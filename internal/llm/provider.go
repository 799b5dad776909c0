package llm

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/PauloHFS/llmcache/internal/httpclient"
)

var (
	ErrUnsupportedOperation = errors.New("operation not supported by provider")
	ErrUnsupportedParameter = errors.New("parameter not supported by provider")
	ErrUnknownProvider      = errors.New("unknown provider")
)

const (
	ProviderOpenAI = "openai"
	ProviderClaude = "claude"
)

// Provider maps requests and responses to one service's wire format. The
// Client keeps retries, rate limiting and caching to itself and asks the
// provider only how to encode, where to send and how to decode.
type Provider interface {
	Name() string
	// BaseURL is used when the client is not given one.
	BaseURL() string
	DefaultModel() ModelID
	ChatPath() string
	EncodeChat(req ChatRequest) ([]byte, error)
	DecodeChat(data []byte) (*ChatResponse, error)
	// EmbeddingsPath is empty when the service has no embeddings endpoint.
	EmbeddingsPath() string
	// Auth returns the transport option that attaches apiKey to each
	// outbound request.
	Auth(apiKey string) httpclient.Option
}

// ProviderByName returns the built-in provider registered under name.
func ProviderByName(name string) (Provider, error) {
	switch name {
	case "", ProviderOpenAI:
		return OpenAIProvider{}, nil
	case ProviderClaude:
		return ClaudeProvider{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
}

// OpenAIProvider speaks the OpenAI chat completions API, which OpenRouter
// and most self-hosted gateways also accept.
type OpenAIProvider struct{}

func (OpenAIProvider) Name() string { return ProviderOpenAI }

func (OpenAIProvider) BaseURL() string { return URLOpenAI }

func (OpenAIProvider) DefaultModel() ModelID { return ModelGPT4oMini }

func (OpenAIProvider) ChatPath() string { return chatCompletionsPath }

func (OpenAIProvider) EmbeddingsPath() string { return embeddingsPath }

func (OpenAIProvider) EncodeChat(req ChatRequest) ([]byte, error) {
	body, err := json.Marshal(req.wirePayload())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return body, nil
}

func (OpenAIProvider) DecodeChat(data []byte) (*ChatResponse, error) {
	return ParseChatResponse(data)
}

func (OpenAIProvider) Auth(apiKey string) httpclient.Option {
	return httpclient.WithBearerToken(apiKey)
}
