package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"leilaochat/internal/assistant"
	"leilaochat/internal/model"
	"leilaochat/internal/repository"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageEmpty         = errors.New("message content is empty")
)

// User-facing replies synthesized when the exchange with the provider
// does not produce a normal answer. Failures are recorded as ordinary
// assistant messages so the conversation keeps flowing.
const (
	replyEmpty       = "Desculpe, não consegui processar sua mensagem."
	replyNoMessage   = "Desculpe, não recebi resposta do assistente."
	replyRunFailed   = "Desculpe, ocorreu um erro ao processar sua mensagem."
	replyTimeout     = "Desculpe, a resposta está demorando muito. Tente novamente."
	replyUnexpected  = "Desculpe, ocorreu um erro inesperado."
	replyUnavailable = "Desculpe, estou temporariamente indisponível. Tente novamente mais tarde."
)

// AssistantClient is the slice of the provider API the orchestrator
// consumes. Satisfied by *assistant.Client; stubbed in tests.
type AssistantClient interface {
	CreateThread(ctx context.Context) (string, error)
	CreateMessage(ctx context.Context, threadID string, input assistant.MessageInput) (string, error)
	CreateRun(ctx context.Context, threadID, assistantID string) (assistant.Run, error)
	RetrieveRun(ctx context.Context, threadID, runID string) (assistant.Run, error)
	LatestAssistantText(ctx context.Context, threadID string) (string, error)
	RetrieveFile(ctx context.Context, fileID string) (*assistant.FileInfo, error)
}

// TurnEventPublisher emits turn outcome events for the usage pipeline.
type TurnEventPublisher interface {
	Publish(ctx context.Context, event model.UsageEvent) error
}

// HistoryCache caches a conversation's full message list.
type HistoryCache interface {
	GetHistory(ctx context.Context, conversationID uint) ([]model.Message, bool, error)
	SetHistory(ctx context.Context, conversationID uint, messages []model.Message) error
	DeleteHistory(ctx context.Context, conversationID uint) error
	MarkDirty(ctx context.Context, conversationID uint) error
	IsDirty(ctx context.Context, conversationID uint) (bool, error)
}

type ChatService struct {
	db               *gorm.DB
	conversationRepo *repository.ConversationRepository
	messageRepo      *repository.MessageRepository
	client           AssistantClient
	events           TurnEventPublisher
	historyCache     HistoryCache
	assistantID      string
	pollInterval     time.Duration
	runTimeout       time.Duration
}

type CreateConversationInput struct {
	UserID uint
	Title  string
}

type SendMessageInput struct {
	UserID         uint
	ConversationID uint
	Content        string
	Attachments    []AttachmentRef
}

type SendMessageResult struct {
	UserMessage      model.Message `json:"user_message"`
	AssistantMessage model.Message `json:"assistant_message"`
}

type ConversationDetail struct {
	model.Conversation
	Messages []model.Message `json:"messages"`
}

func NewChatService(
	db *gorm.DB,
	conversationRepo *repository.ConversationRepository,
	messageRepo *repository.MessageRepository,
	client AssistantClient,
	events TurnEventPublisher,
	historyCache HistoryCache,
	assistantID string,
	pollInterval time.Duration,
	runTimeout time.Duration,
) *ChatService {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if runTimeout <= 0 {
		runTimeout = 60 * time.Second
	}
	return &ChatService{
		db:               db,
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		client:           client,
		events:           events,
		historyCache:     historyCache,
		assistantID:      assistantID,
		pollInterval:     pollInterval,
		runTimeout:       runTimeout,
	}
}

func (s *ChatService) CreateConversation(input CreateConversationInput) (*model.Conversation, error) {
	if input.UserID == 0 {
		return nil, ErrInvalidInput
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = model.DefaultConversationTitle
	}

	conversation := &model.Conversation{
		UserID: input.UserID,
		Title:  title,
	}
	if err := s.conversationRepo.Create(conversation); err != nil {
		return nil, err
	}
	return conversation, nil
}

func (s *ChatService) ListConversations(userID uint, page, perPage int) ([]model.Conversation, int64, error) {
	if userID == 0 {
		return nil, 0, ErrInvalidInput
	}
	page, perPage = normalizePage(page, perPage, 20)
	return s.conversationRepo.ListByUserID(userID, page, perPage)
}

func (s *ChatService) GetConversation(userID, conversationID uint) (*ConversationDetail, error) {
	if userID == 0 || conversationID == 0 {
		return nil, ErrInvalidInput
	}
	conversation, err := s.conversationRepo.GetByIDAndUserID(conversationID, userID)
	if err != nil {
		return nil, err
	}
	if conversation == nil {
		return nil, ErrConversationNotFound
	}

	ctx := context.Background()
	if s.historyCache != nil {
		if dirty, dirtyErr := s.historyCache.IsDirty(ctx, conversationID); dirtyErr == nil && !dirty {
			if cached, hit, cacheErr := s.historyCache.GetHistory(ctx, conversationID); cacheErr == nil && hit {
				return &ConversationDetail{Conversation: *conversation, Messages: cached}, nil
			}
		}
	}

	messages, err := s.messageRepo.ListAllByConversationID(conversationID)
	if err != nil {
		return nil, err
	}
	if s.historyCache != nil {
		if dirty, dirtyErr := s.historyCache.IsDirty(ctx, conversationID); dirtyErr == nil && !dirty {
			_ = s.historyCache.SetHistory(ctx, conversationID, messages)
		}
	}
	return &ConversationDetail{Conversation: *conversation, Messages: messages}, nil
}

func (s *ChatService) ListMessages(userID, conversationID uint, page, perPage int) ([]model.Message, int64, error) {
	if userID == 0 || conversationID == 0 {
		return nil, 0, ErrInvalidInput
	}
	conversation, err := s.conversationRepo.GetByIDAndUserID(conversationID, userID)
	if err != nil {
		return nil, 0, err
	}
	if conversation == nil {
		return nil, 0, ErrConversationNotFound
	}
	page, perPage = normalizePage(page, perPage, 50)
	return s.messageRepo.ListByConversationID(conversationID, page, perPage)
}

func (s *ChatService) UpdateTitle(userID, conversationID uint, title string) (*model.Conversation, error) {
	title = strings.TrimSpace(title)
	if userID == 0 || conversationID == 0 || title == "" {
		return nil, ErrInvalidInput
	}
	conversation, err := s.conversationRepo.GetByIDAndUserID(conversationID, userID)
	if err != nil {
		return nil, err
	}
	if conversation == nil {
		return nil, ErrConversationNotFound
	}
	if err := s.conversationRepo.UpdateTitle(conversationID, title); err != nil {
		return nil, err
	}
	conversation.Title = title
	return conversation, nil
}

func (s *ChatService) DeleteConversation(userID, conversationID uint) error {
	if userID == 0 || conversationID == 0 {
		return ErrInvalidInput
	}
	conversation, err := s.conversationRepo.GetByIDAndUserID(conversationID, userID)
	if err != nil {
		return err
	}
	if conversation == nil {
		return ErrConversationNotFound
	}
	if err := s.messageRepo.DeleteByConversationID(conversationID); err != nil {
		return err
	}
	if err := s.conversationRepo.DeleteByIDAndUserID(conversationID, userID); err != nil {
		return err
	}
	if s.historyCache != nil {
		_ = s.historyCache.DeleteHistory(context.Background(), conversationID)
	}
	return nil
}

func (s *ChatService) DeleteAllConversations(userID uint) error {
	if userID == 0 {
		return ErrInvalidInput
	}
	ids, err := s.conversationRepo.ListIDsByUserID(userID)
	if err != nil {
		return err
	}
	if err := s.messageRepo.DeleteByConversationIDs(ids); err != nil {
		return err
	}
	if err := s.conversationRepo.DeleteByUserID(userID); err != nil {
		return err
	}
	if s.historyCache != nil {
		for _, id := range ids {
			_ = s.historyCache.DeleteHistory(context.Background(), id)
		}
	}
	return nil
}

// SendMessage runs one conversation turn: it persists the user message
// first so provider failures never lose input, exchanges the message
// with the provider thread, and commits the assistant reply together
// with the conversation metadata. Provider-side failures are absorbed
// into a synthesized assistant reply; only store failures surface.
func (s *ChatService) SendMessage(ctx context.Context, input SendMessageInput) (*SendMessageResult, error) {
	if input.UserID == 0 || input.ConversationID == 0 {
		return nil, ErrInvalidInput
	}
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, ErrMessageEmpty
	}

	conversation, err := s.conversationRepo.GetByIDAndUserID(input.ConversationID, input.UserID)
	if err != nil {
		return nil, err
	}
	if conversation == nil {
		return nil, ErrConversationNotFound
	}

	// A started turn runs to completion: a disconnecting client must not
	// cancel the in-flight run or the commit of its result. The run
	// timeout is the only bound on the exchange.
	ctx = context.WithoutCancel(ctx)

	if s.historyCache != nil {
		_ = s.historyCache.MarkDirty(ctx, conversation.ID)
		_ = s.historyCache.DeleteHistory(ctx, conversation.ID)
	}

	userMessage := &model.Message{
		ConversationID: conversation.ID,
		Role:           model.RoleUser,
		Content:        content,
		CreatedAt:      time.Now(),
	}
	if err := s.messageRepo.Create(userMessage); err != nil {
		return nil, err
	}

	started := time.Now()
	reply, outcome := s.exchange(ctx, conversation, content, input.Attachments)
	latency := time.Since(started)

	assistantMessage := &model.Message{
		ConversationID: conversation.ID,
		Role:           model.RoleAssistant,
		Content:        reply,
		CreatedAt:      time.Now(),
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		txMessages := repository.NewMessageRepository(tx)
		txConversations := repository.NewConversationRepository(tx)

		if err := txMessages.Create(assistantMessage); err != nil {
			return err
		}
		if err := txConversations.Touch(conversation.ID, time.Now()); err != nil {
			return err
		}

		if conversation.Title == model.DefaultConversationTitle {
			userCount, err := txMessages.CountByConversationAndRole(conversation.ID, model.RoleUser)
			if err != nil {
				return err
			}
			if userCount <= 1 {
				if err := txConversations.UpdateTitle(conversation.ID, DeriveTitle(content)); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.historyCache != nil {
		_ = s.historyCache.DeleteHistory(ctx, conversation.ID)
	}
	if s.events != nil {
		_ = s.events.Publish(ctx, model.UsageEvent{
			UserID:         input.UserID,
			ConversationID: conversation.ID,
			Outcome:        outcome,
			LatencyMs:      latency.Milliseconds(),
		})
	}

	return &SendMessageResult{
		UserMessage:      *userMessage,
		AssistantMessage: *assistantMessage,
	}, nil
}

// exchange drives the provider thread lifecycle for one turn and always
// produces a user-facing reply: every provider error maps to one of the
// synthesized texts, paired with the outcome label for the usage event.
func (s *ChatService) exchange(ctx context.Context, conversation *model.Conversation, content string, refs []AttachmentRef) (string, string) {
	threadID, err := s.ensureThread(ctx, conversation)
	if err != nil {
		return replyUnavailable, model.TurnOutcomeUnreachable
	}

	input := assistant.MessageInput{Blocks: s.buildBlocks(ctx, content, refs)}
	if _, err := s.client.CreateMessage(ctx, threadID, input); err != nil {
		return replyUnavailable, model.TurnOutcomeUnreachable
	}

	run, err := s.client.CreateRun(ctx, threadID, s.assistantID)
	if err != nil {
		return replyUnavailable, model.TurnOutcomeUnreachable
	}

	deadline := time.Now().Add(s.runTimeout)
	for run.Status == assistant.RunStatusQueued || run.Status == assistant.RunStatusInProgress {
		if !time.Now().Before(deadline) {
			return replyTimeout, model.TurnOutcomeTimeout
		}
		time.Sleep(s.pollInterval)
		run, err = s.client.RetrieveRun(ctx, threadID, run.ID)
		if err != nil {
			return replyUnavailable, model.TurnOutcomeUnreachable
		}
	}

	switch run.Status {
	case assistant.RunStatusCompleted:
		text, err := s.client.LatestAssistantText(ctx, threadID)
		if errors.Is(err, assistant.ErrNoMessage) {
			return replyNoMessage, model.TurnOutcomeCompleted
		}
		if err != nil {
			return replyUnavailable, model.TurnOutcomeUnreachable
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return replyEmpty, model.TurnOutcomeCompleted
		}
		return text, model.TurnOutcomeCompleted
	case assistant.RunStatusFailed:
		return replyRunFailed, model.TurnOutcomeFailed
	default:
		return replyUnexpected, model.TurnOutcomeFailed
	}
}

// ensureThread lazily creates the provider thread on the first turn. The
// thread id is claimed with a conditional write on the NULL column: when
// a concurrent turn wins the claim this call adopts the stored id and the
// locally created provider thread is abandoned.
func (s *ChatService) ensureThread(ctx context.Context, conversation *model.Conversation) (string, error) {
	if conversation.ThreadID != nil && *conversation.ThreadID != "" {
		return *conversation.ThreadID, nil
	}

	threadID, err := s.client.CreateThread(ctx)
	if err != nil {
		return "", err
	}

	claimed, err := s.conversationRepo.ClaimThreadID(conversation.ID, threadID)
	if err != nil {
		return "", err
	}
	if !claimed {
		current, err := s.conversationRepo.GetByID(conversation.ID)
		if err != nil {
			return "", err
		}
		if current == nil || current.ThreadID == nil {
			return "", ErrConversationNotFound
		}
		threadID = *current.ThreadID
	}

	conversation.ThreadID = &threadID
	return threadID, nil
}

// buildBlocks maps the turn text and attachment references onto content
// blocks. Files without any client metadata fall back to the provider's
// file record; files that still cannot be classified ride along as
// documents.
func (s *ChatService) buildBlocks(ctx context.Context, content string, refs []AttachmentRef) []assistant.ContentBlock {
	blocks := make([]assistant.ContentBlock, 0, len(refs)+1)
	blocks = append(blocks, assistant.TextBlock(content))

	for _, ref := range refs {
		if ref.FileID == "" {
			continue
		}

		filename, mimeType := ref.Filename, ref.MimeType
		if filename == "" && mimeType == "" {
			if info, err := s.client.RetrieveFile(ctx, ref.FileID); err == nil && info != nil {
				filename = info.Filename
			}
		}

		switch ClassifyAttachment(filename, mimeType) {
		case AttachmentImage:
			blocks = append(blocks, assistant.ImageBlock(ref.FileID))
		default:
			blocks = append(blocks, assistant.DocumentBlock(ref.FileID))
		}
	}
	return blocks
}

func normalizePage(page, perPage, defaultPerPage int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 || perPage > 100 {
		perPage = defaultPerPage
	}
	return page, perPage
}
