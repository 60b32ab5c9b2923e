// Package completion wraps the LLM backends behind a transport-agnostic
// Completer. Providers are the eino chat models; the pipeline never sees
// provider-specific types.
package completion

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"eloquent/internal/config"
)

// Completer produces a full answer or a stream of text deltas for an
// ordered role/content history.
type Completer interface {
	Generate(ctx context.Context, messages []*schema.Message) (string, error)
	Stream(ctx context.Context, messages []*schema.Message) (DeltaStream, error)
}

// DeltaStream is a finite, single-pass sequence of text fragments. Recv
// returns io.EOF when the model is done and any other error on upstream
// failure mid-stream.
type DeltaStream interface {
	Recv() (string, error)
	Close()
}

// Service implements Completer over a configured eino chat model.
type Service struct {
	chatModel model.BaseChatModel
}

// NewService creates the chat model for the configured provider.
func NewService(ctx context.Context, provider string, cfg config.ProviderConfig) (*Service, error) {
	var (
		chatModel model.BaseChatModel
		err       error
	)
	switch provider {
	case "openai":
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			APIKey:  cfg.APIKey,
		})
	case "gemini":
		var client *genai.Client
		client, err = genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
		if err != nil {
			return nil, fmt.Errorf("init gemini client: %w", err)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  cfg.Model,
		})
	case "claude":
		var baseURLPtr *string
		if cfg.BaseURL != "" {
			baseURLPtr = &cfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			BaseURL:   baseURLPtr,
			MaxTokens: 3000,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", provider, err)
	}
	return &Service{chatModel: chatModel}, nil
}

// Generate runs a synchronous full-answer completion.
func (s *Service) Generate(ctx context.Context, messages []*schema.Message) (string, error) {
	if len(messages) == 0 {
		return "", errors.New("messages cannot be empty")
	}
	response, err := s.chatModel.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("generate completion: %w", err)
	}
	return response.Content, nil
}

// Stream starts a streaming completion.
func (s *Service) Stream(ctx context.Context, messages []*schema.Message) (DeltaStream, error) {
	if len(messages) == 0 {
		return nil, errors.New("messages cannot be empty")
	}
	reader, err := s.chatModel.Stream(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("start completion stream: %w", err)
	}
	return &einoStream{reader: reader}, nil
}

type einoStream struct {
	reader *schema.StreamReader[*schema.Message]
}

func (s *einoStream) Recv() (string, error) {
	for {
		chunk, err := s.reader.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", io.EOF
			}
			return "", err
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		return chunk.Content, nil
	}
}

func (s *einoStream) Close() {
	s.reader.Close()
}
