// Package pipeline drives a single conversational turn from raw user input
// to a persisted, safety-filtered exchange. Transports differ only in how
// they deliver output; they all converge on Run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"eloquent/internal/completion"
	"eloquent/internal/guardrails"
	"eloquent/internal/history"
	"eloquent/internal/models"
	"eloquent/internal/prompts"
	"eloquent/internal/retrieval"
	"eloquent/internal/store"
)

// State is the terminal state a completed turn reached. Authorization and
// deletion rejections surface as errors instead; they perform no mutation.
type State string

const (
	// StateDone: the assistant answered and everything was persisted.
	StateDone State = "done"
	// StateBlocked: guardrails rejected the input; exactly one guardrails
	// row was persisted and no external call was made.
	StateBlocked State = "blocked"
	// StateFailed: the completion stream broke mid-answer; the partial
	// buffer was persisted.
	StateFailed State = "failed"
)

// TurnRequest carries one inbound message. ConversationID zero (or an id
// that resolves to nothing) starts a fresh conversation. CallerID zero is
// an anonymous caller.
type TurnRequest struct {
	ConversationID int64
	CallerID       int64
	Message        string
}

// TurnResult is the outcome of a turn. Err is populated only for
// StateFailed and is for logging; transports must surface a generic
// message instead.
type TurnResult struct {
	State          State
	ConversationID int64
	Messages       []history.UserMessage
	Err            error
}

// DeltaSink receives streamed answer fragments as they arrive. A non-nil
// return aborts the stream (client gone); the buffered partial answer is
// still persisted.
type DeltaSink func(delta string) error

// Deps bundles the pipeline's collaborators. Everything is constructed once
// at process start and injected; tests substitute fakes for the retriever
// and completer.
type Deps struct {
	Store      *store.Store
	Guardrails *guardrails.Engine
	Retriever  retrieval.Retriever
	Completer  completion.Completer
	Assembler  *history.Assembler
	Lock       *TurnLock
	TopK       int
	Logger     *zap.Logger
}

// Pipeline orchestrates turns. Safe for concurrent use; per-conversation
// ordering is enforced by the turn lock.
type Pipeline struct {
	store     *store.Store
	guard     *guardrails.Engine
	retriever retrieval.Retriever
	completer completion.Completer
	assembler *history.Assembler
	lock      *TurnLock
	topK      int
	logger    *zap.Logger
}

// New wires the pipeline from its dependencies.
func New(deps Deps) *Pipeline {
	topK := deps.TopK
	if topK <= 0 {
		topK = 10
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		store:     deps.Store,
		guard:     deps.Guardrails,
		retriever: deps.Retriever,
		completer: deps.Completer,
		assembler: deps.Assembler,
		lock:      deps.Lock,
		topK:      topK,
		logger:    logger,
	}
}

// Run executes one turn to a terminal state. With a nil sink the answer is
// generated synchronously and guardrails-validated before persistence. With
// a sink, deltas are forwarded as they arrive and the accumulated buffer is
// persisted verbatim on completion or failure.
func (p *Pipeline) Run(ctx context.Context, req TurnRequest, sink DeltaSink) (*TurnResult, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, ErrEmptyMessage
	}

	conv, messages, release, err := p.resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	defer release()

	ok, sanitized := p.guard.SanitizeUserText(message)
	if !ok {
		blocked, err := p.store.CreateMessage(ctx, conv.ID, models.RoleGuardrails, sanitized, message)
		if err != nil {
			return nil, fmt.Errorf("persist guardrails message: %w", err)
		}
		messages = append(messages, *blocked)
		p.logger.Info("turn blocked by guardrails",
			zap.Int64("conversation_id", conv.ID),
			zap.String("reason", sanitized),
		)
		return &TurnResult{
			State:          StateBlocked,
			ConversationID: conv.ID,
			Messages:       p.assembler.FilterMessages(messages),
		}, nil
	}

	snippets, err := p.retriever.Query(ctx, sanitized, p.topK)
	if err != nil {
		return nil, fmt.Errorf("retrieve context: %w", err)
	}

	augmented := prompts.AugmentedPrompt(sanitized, snippets)
	userMsg, err := p.store.CreateMessage(ctx, conv.ID, models.RoleUser, augmented, sanitized)
	if err != nil {
		return nil, fmt.Errorf("persist user message: %w", err)
	}
	messages = append(messages, *userMsg)

	if sink == nil {
		return p.completeSync(ctx, conv, messages)
	}
	return p.completeStream(ctx, conv, messages, sink)
}

// resolve loads or lazily creates the conversation, enforces ownership and
// deletion state, and takes the turn lock. On success the caller owns the
// returned release.
func (p *Pipeline) resolve(ctx context.Context, req TurnRequest) (*models.Conversation, []models.Message, func(), error) {
	if req.ConversationID > 0 {
		conv, err := p.store.GetConversation(ctx, req.ConversationID)
		switch {
		case err == nil:
			if conv.Owned() && conv.UserID != req.CallerID {
				return nil, nil, nil, ErrForbidden
			}
			if conv.IsDeleted {
				return nil, nil, nil, ErrConversationDeleted
			}
			release, err := p.lock.Acquire(ctx, conv.ID)
			if err != nil {
				return nil, nil, nil, err
			}
			messages, err := p.store.GetMessages(ctx, conv.ID)
			if err != nil {
				release()
				return nil, nil, nil, fmt.Errorf("load history: %w", err)
			}
			return conv, messages, release, nil
		case errors.Is(err, store.ErrNotFound):
			// Unknown id starts a fresh conversation.
		default:
			return nil, nil, nil, err
		}
	}

	conv, err := p.store.CreateConversation(ctx, req.CallerID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create conversation: %w", err)
	}
	system, err := p.store.CreateMessage(ctx, conv.ID, models.RoleSystem, prompts.SystemPrompt, "")
	if err != nil {
		return nil, nil, nil, fmt.Errorf("seed system message: %w", err)
	}
	release, err := p.lock.Acquire(ctx, conv.ID)
	if err != nil {
		return nil, nil, nil, err
	}
	return conv, []models.Message{*system}, release, nil
}

func (p *Pipeline) completeSync(ctx context.Context, conv *models.Conversation, messages []models.Message) (*TurnResult, error) {
	answer, err := p.completer.Generate(ctx, p.assembler.ModelInput(messages))
	if err != nil {
		return nil, fmt.Errorf("completion failed: %w", err)
	}

	validated := p.guard.ValidateOutput(answer)
	if _, err := p.store.CreateMessage(ctx, conv.ID, models.RoleAssistant, validated.Answer, ""); err != nil {
		return nil, fmt.Errorf("persist assistant message: %w", err)
	}

	reloaded, err := p.store.GetMessages(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("reload history: %w", err)
	}
	return &TurnResult{
		State:          StateDone,
		ConversationID: conv.ID,
		Messages:       p.assembler.FilterMessages(reloaded),
	}, nil
}

func (p *Pipeline) completeStream(ctx context.Context, conv *models.Conversation, messages []models.Message, sink DeltaSink) (*TurnResult, error) {
	stream, err := p.completer.Stream(ctx, p.assembler.ModelInput(messages))
	if err != nil {
		return nil, fmt.Errorf("completion failed: %w", err)
	}
	defer stream.Close()

	var buf strings.Builder
	var streamErr error
	for {
		delta, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			streamErr = err
			break
		}
		buf.WriteString(delta)
		if err := sink(delta); err != nil {
			streamErr = err
			break
		}
	}

	if streamErr != nil {
		// Best-effort flush of the partial answer; the request context may
		// already be gone when the client disconnected.
		if buf.Len() > 0 {
			flushCtx := context.WithoutCancel(ctx)
			if partial, err := p.store.CreateMessage(flushCtx, conv.ID, models.RoleAssistant, buf.String(), ""); err != nil {
				p.logger.Error("persist partial answer failed",
					zap.Int64("conversation_id", conv.ID),
					zap.Error(err),
				)
			} else {
				messages = append(messages, *partial)
			}
		}
		p.logger.Warn("completion stream failed",
			zap.Int64("conversation_id", conv.ID),
			zap.Error(streamErr),
		)
		return &TurnResult{
			State:          StateFailed,
			ConversationID: conv.ID,
			Messages:       p.assembler.FilterMessages(messages),
			Err:            streamErr,
		}, nil
	}

	if _, err := p.store.CreateMessage(ctx, conv.ID, models.RoleAssistant, buf.String(), ""); err != nil {
		return nil, fmt.Errorf("persist assistant message: %w", err)
	}
	reloaded, err := p.store.GetMessages(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("reload history: %w", err)
	}
	return &TurnResult{
		State:          StateDone,
		ConversationID: conv.ID,
		Messages:       p.assembler.FilterMessages(reloaded),
	}, nil
}

// History returns the client-visible projection of a conversation after an
// ownership check. Deleted conversations remain readable.
func (p *Pipeline) History(ctx context.Context, conversationID, callerID int64) ([]history.UserMessage, error) {
	conv, err := p.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Owned() && conv.UserID != callerID {
		return nil, ErrForbidden
	}
	messages, err := p.store.GetMessages(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return p.assembler.FilterMessages(messages), nil
}

// Delete soft-deletes a conversation. The flip is one-way and idempotent.
func (p *Pipeline) Delete(ctx context.Context, conversationID, callerID int64) error {
	conv, err := p.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.Owned() && conv.UserID != callerID {
		return ErrForbidden
	}
	if conv.IsDeleted {
		return nil
	}
	return p.store.MarkDeleted(ctx, conv.ID)
}

// Summarize produces a guardrails-validated summary of the conversation's
// visible transcript. The summary is returned, not persisted.
func (p *Pipeline) Summarize(ctx context.Context, conversationID, callerID int64) (string, error) {
	conv, err := p.store.GetConversation(ctx, conversationID)
	if err != nil {
		return "", err
	}
	if conv.Owned() && conv.UserID != callerID {
		return "", ErrForbidden
	}
	rows, err := p.store.GetMessages(ctx, conv.ID)
	if err != nil {
		return "", fmt.Errorf("load history: %w", err)
	}

	var transcript strings.Builder
	for _, msg := range rows {
		if msg.Role == models.RoleSystem {
			continue
		}
		content := msg.Content
		if msg.Role == models.RoleUser {
			content = msg.UserMessage
		}
		fmt.Fprintf(&transcript, "%s: %s\n\n", msg.Role, content)
	}

	prompt := prompts.SummaryPrompt(strings.TrimSpace(transcript.String()))
	raw, err := p.completer.Generate(ctx, []*schema.Message{schema.SystemMessage(prompt)})
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	return p.guard.ValidateOutput(raw).Answer, nil
}
