package chat

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pengxiaoo/caddie/internal/domain"
)

// Engine runs one conversation: pulls recent history, grounds the turn
// against stored answers, and calls the chat LLM.
type Engine struct {
	conversationID string
	history        HistoryRepo
	matcher        Matcher
	llm            ChatLLM
	logger         *zap.Logger
}

// NewEngine creates a conversation engine.
func NewEngine(conversationID string, history HistoryRepo, matcher Matcher, llm ChatLLM, logger *zap.Logger) *Engine {
	return &Engine{
		conversationID: conversationID,
		history:        history,
		matcher:        matcher,
		llm:            llm,
		logger:         logger,
	}
}

// ConversationID returns the id this engine is bound to.
func (e *Engine) ConversationID() string {
	return e.conversationID
}

// Chat answers one turn and persists both sides of it.
func (e *Engine) Chat(ctx context.Context, content string) (domain.Message, error) {
	msgs, userMsg, err := e.buildMessages(ctx, content)
	if err != nil {
		return domain.Message{}, err
	}

	raw, err := e.llm.GenerateChat(ctx, msgs)
	if err != nil {
		return domain.Message{}, fmt.Errorf("chat completion: %w", err)
	}

	reply := domain.NewMessage(e.conversationID, domain.RoleAssistant, domain.NormalizeAnswer(raw))
	if err := e.history.Append(ctx, e.conversationID, userMsg, reply); err != nil {
		e.logger.Warn("Failed to persist chat turn",
			zap.String("conversation_id", e.conversationID), zap.Error(err))
	}
	return reply, nil
}

// ChatStream answers one turn as a channel of text chunks, closed when the
// completion finishes. The full reply is persisted after the stream ends.
func (e *Engine) ChatStream(ctx context.Context, content string) (<-chan string, error) {
	msgs, userMsg, err := e.buildMessages(ctx, content)
	if err != nil {
		return nil, err
	}

	out := make(chan string)
	go func() {
		defer close(out)

		full, err := e.llm.GenerateChatStream(ctx, msgs, func(delta string) error {
			select {
			case out <- delta:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil {
			e.logger.Warn("Chat stream ended with error",
				zap.String("conversation_id", e.conversationID), zap.Error(err))
			if full == "" {
				return
			}
		}

		reply := domain.NewMessage(e.conversationID, domain.RoleAssistant, domain.NormalizeAnswer(full))
		if err := e.history.Append(ctx, e.conversationID, userMsg, reply); err != nil {
			e.logger.Warn("Failed to persist chat turn",
				zap.String("conversation_id", e.conversationID), zap.Error(err))
		}
	}()
	return out, nil
}

// buildMessages assembles the completion input: recent history, an optional
// grounding turn from a stored answer, and the user's message.
func (e *Engine) buildMessages(ctx context.Context, content string) ([]domain.Message, domain.Message, error) {
	if content == "" {
		return nil, domain.Message{}, domain.ErrEmptyQuestion
	}

	past, err := e.history.History(ctx, e.conversationID)
	if err != nil {
		return nil, domain.Message{}, fmt.Errorf("load history: %w", err)
	}

	msgs := make([]domain.Message, 0, len(past)+2)
	msgs = append(msgs, past...)

	if m, _, ok, err := e.matcher.MatchMeta(ctx, content); err != nil {
		e.logger.Warn("Grounding lookup failed", zap.Error(err))
	} else if ok {
		msgs = append(msgs, domain.Message{
			Role: domain.RoleSystem,
			Content: fmt.Sprintf("A stored answer for a similar question (%q): %s",
				m.Question, m.Answer),
		})
	}

	userMsg := domain.NewMessage(e.conversationID, domain.RoleUser, content)
	msgs = append(msgs, userMsg)
	return msgs, userMsg, nil
}
