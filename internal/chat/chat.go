// Package chat implements the retrieval-augmented chat turn: load recent
// history, retrieve relevant document chunks from the user's accessible
// workspaces, generate a grounded answer, and persist both sides of the
// exchange.
package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/simplechat/simplechat/internal/conversation"
	"github.com/simplechat/simplechat/internal/document"
	"github.com/simplechat/simplechat/internal/log"
	"github.com/simplechat/simplechat/internal/metrics"
)

const (
	// defaultTopK is how many document chunks ground a chat turn.
	defaultTopK = 5

	// defaultMaxHistory bounds how many prior messages are replayed to the model.
	defaultMaxHistory = 20

	// fallbackResponseMessage is returned when the model produces empty text.
	fallbackResponseMessage = "I apologize, but I couldn't generate a response. Please try rephrasing your question."

	titleGenerationTimeout = 5 * time.Second
	titleInputMaxRunes     = 500
	titleMaxRunes          = 80
)

const systemPrompt = `You are SimpleChat, an assistant that answers questions using the provided workspace documents.
Ground your answers in the context below when it is relevant. If the context does not contain the answer, say so rather than inventing one.
When you use a document, mention its file name.`

// History provides conversation message access.
type History interface {
	RecentHistory(ctx context.Context, conversationID uuid.UUID, limit int32) ([]conversation.Message, error)
	AppendMessages(ctx context.Context, conversationID uuid.UUID, messages []conversation.Message) error
}

// Retriever finds document chunks relevant to a query.
type Retriever interface {
	Search(ctx context.Context, query string, workspaceIDs []uuid.UUID, topK int32) ([]document.SearchHit, error)
}

// WorkspaceResolver lists the workspaces a user may read.
type WorkspaceResolver interface {
	AccessibleWorkspaces(ctx context.Context, userID string) ([]uuid.UUID, error)
}

// Source identifies a document chunk that grounded a response.
type Source struct {
	FileName   string  `json:"file_name"`
	Similarity float64 `json:"similarity"`
}

// Response is the result of one chat turn.
type Response struct {
	Text    string   `json:"text"`
	Sources []Source `json:"sources"`

	// RetrievalOnly is true when no model is configured and the response
	// contains only the retrieved context.
	RetrievalOnly bool `json:"retrieval_only"`
}

// Config contains the chat service dependencies. Genkit may be nil, in
// which case the service runs in retrieval-only mode.
type Config struct {
	Genkit     *genkit.Genkit
	ModelName  string
	History    History
	Retriever  Retriever
	Workspaces WorkspaceResolver
	Logger     log.Logger

	MaxHistory  int32
	TopK        int32
	Retry       RetryConfig   // zero value uses defaults
	RateLimiter *rate.Limiter // nil disables proactive limiting
}

// Service runs grounded chat turns. Stateless and safe for concurrent use.
type Service struct {
	g          *genkit.Genkit
	modelName  string
	history    History
	retriever  Retriever
	workspaces WorkspaceResolver
	logger     log.Logger

	maxHistory int32
	topK       int32
	retry      RetryConfig
	limiter    *rate.Limiter
}

// New creates the chat service.
func New(cfg Config) (*Service, error) {
	if cfg.History == nil {
		return nil, fmt.Errorf("history store is required")
	}
	if cfg.Retriever == nil {
		return nil, fmt.Errorf("retriever is required")
	}
	if cfg.Workspaces == nil {
		return nil, fmt.Errorf("workspace resolver is required")
	}
	if cfg.Genkit != nil && cfg.ModelName == "" {
		return nil, fmt.Errorf("model name is required when a model backend is configured")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	maxHistory := cfg.MaxHistory
	if maxHistory <= 0 {
		maxHistory = defaultMaxHistory
	}

	topK := cfg.TopK
	if topK <= 0 {
		topK = defaultTopK
	}

	retry := cfg.Retry
	if retry.MaxRetries == 0 {
		retry = DefaultRetryConfig()
	}

	return &Service{
		g:          cfg.Genkit,
		modelName:  cfg.ModelName,
		history:    cfg.History,
		retriever:  cfg.Retriever,
		workspaces: cfg.Workspaces,
		logger:     logger,
		maxHistory: maxHistory,
		topK:       topK,
		retry:      retry,
		limiter:    cfg.RateLimiter,
	}, nil
}

// Respond runs one chat turn for the given user and conversation.
func (s *Service) Respond(ctx context.Context, userID string, conversationID uuid.UUID, input string) (*Response, error) {
	if strings.TrimSpace(input) == "" {
		return nil, fmt.Errorf("message is empty")
	}

	workspaceIDs, err := s.workspaces.AccessibleWorkspaces(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolving workspaces: %w", err)
	}

	hits, err := s.retriever.Search(ctx, input, workspaceIDs, s.topK)
	if err != nil {
		return nil, fmt.Errorf("retrieving context: %w", err)
	}

	historyMessages, err := s.history.RecentHistory(ctx, conversationID, s.maxHistory)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}

	resp := &Response{Sources: sources(hits)}

	if s.g == nil {
		resp.Text = retrievalOnlyText(hits)
		resp.RetrievalOnly = true
	} else {
		text, err := s.generate(ctx, input, historyMessages, hits)
		if err != nil {
			return nil, err
		}
		resp.Text = text
	}

	turn := []conversation.Message{
		{Role: conversation.RoleUser, Content: input},
		{Role: conversation.RoleAssistant, Content: resp.Text},
	}
	if err := s.history.AppendMessages(ctx, conversationID, turn); err != nil {
		// Best-effort: the user already has the answer.
		s.logger.Warn("appending chat turn to history", "error", err, "conversation_id", conversationID)
	}

	metrics.ChatTurnsTotal.Inc()

	return resp, nil
}

// generate builds the grounded prompt and calls the model with retry.
func (s *Service) generate(ctx context.Context, input string, history []conversation.Message, hits []document.SearchHit) (string, error) {
	messages := make([]*ai.Message, 0, len(history)+1)
	for _, m := range history {
		switch m.Role {
		case conversation.RoleAssistant:
			messages = append(messages, ai.NewModelMessage(ai.NewTextPart(m.Content)))
		default:
			messages = append(messages, ai.NewUserMessage(ai.NewTextPart(m.Content)))
		}
	}
	messages = append(messages, ai.NewUserMessage(ai.NewTextPart(input)))

	system := systemPrompt
	if ctxBlock := contextBlock(hits); ctxBlock != "" {
		system += "\n\nContext:\n" + ctxBlock
	}

	resp, err := s.generateWithRetry(ctx, func(ctx context.Context) (*ai.ModelResponse, error) {
		return genkit.Generate(ctx, s.g,
			ai.WithModelName(s.modelName),
			ai.WithSystem(system),
			ai.WithMessages(messages...),
		)
	})
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		s.logger.Warn("model returned empty response")
		text = fallbackResponseMessage
	}

	return text, nil
}

// GenerateTitle produces a short conversation title from the first message.
// Best-effort: returns empty string on failure or in retrieval-only mode.
func (s *Service) GenerateTitle(ctx context.Context, userMessage string) string {
	if s.g == nil {
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, titleGenerationTimeout)
	defer cancel()

	inputRunes := []rune(userMessage)
	if len(inputRunes) > titleInputMaxRunes {
		userMessage = string(inputRunes[:titleInputMaxRunes]) + "..."
	}

	prompt := `Generate a concise title (max %d characters) for a chat conversation based on this first message.
The title should capture the main topic or intent.
Return ONLY the title text, no quotes, no explanations, no punctuation at the end.

Message: %s

Title:`

	response, err := genkit.Generate(ctx, s.g,
		ai.WithModelName(s.modelName),
		ai.WithPrompt(prompt, titleMaxRunes, userMessage),
	)
	if err != nil {
		s.logger.Debug("title generation failed", "error", err)
		return ""
	}

	title := strings.TrimSpace(response.Text())
	titleRunes := []rune(title)
	if len(titleRunes) > titleMaxRunes {
		title = string(titleRunes[:titleMaxRunes-3]) + "..."
	}

	return title
}

// contextBlock formats retrieved chunks for prompt injection.
func contextBlock(hits []document.SearchHit) string {
	if len(hits) == 0 {
		return ""
	}

	var sb strings.Builder
	for i, hit := range hits {
		fmt.Fprintf(&sb, "[%d] %s (similarity %.2f)\n%s\n\n", i+1, hit.FileName, hit.Similarity, hit.Content)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// retrievalOnlyText is the response body when no model is configured.
func retrievalOnlyText(hits []document.SearchHit) string {
	if len(hits) == 0 {
		return "No model is configured and no matching documents were found."
	}

	var sb strings.Builder
	sb.WriteString("No model is configured. The most relevant document passages are:\n\n")
	sb.WriteString(contextBlock(hits))
	return sb.String()
}

func sources(hits []document.SearchHit) []Source {
	if len(hits) == 0 {
		return nil
	}

	out := make([]Source, len(hits))
	for i, hit := range hits {
		out[i] = Source{FileName: hit.FileName, Similarity: hit.Similarity}
	}
	return out
}
