package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"leilaochat/internal/assistant"
	"leilaochat/internal/model"
	"leilaochat/internal/repository"
)

type stubAssistant struct {
	threadsCreated int
	messages       []assistant.MessageInput

	threadErr    error
	createMsgErr error
	createRunErr error

	createRunStatus string
	pollStatuses    []string
	pollIdx         int

	reply    string
	replyErr error
}

// Every stub call honors context cancellation the way the real HTTP
// client would.
func (s *stubAssistant) CreateThread(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.threadErr != nil {
		return "", s.threadErr
	}
	s.threadsCreated++
	return fmt.Sprintf("thread_%d", s.threadsCreated), nil
}

func (s *stubAssistant) CreateMessage(ctx context.Context, threadID string, input assistant.MessageInput) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.createMsgErr != nil {
		return "", s.createMsgErr
	}
	s.messages = append(s.messages, input)
	return "msg_1", nil
}

func (s *stubAssistant) CreateRun(ctx context.Context, threadID, assistantID string) (assistant.Run, error) {
	if err := ctx.Err(); err != nil {
		return assistant.Run{}, err
	}
	if s.createRunErr != nil {
		return assistant.Run{}, s.createRunErr
	}
	status := s.createRunStatus
	if status == "" {
		status = assistant.RunStatusCompleted
	}
	return assistant.Run{ID: "run_1", Status: status}, nil
}

func (s *stubAssistant) RetrieveRun(ctx context.Context, threadID, runID string) (assistant.Run, error) {
	if err := ctx.Err(); err != nil {
		return assistant.Run{}, err
	}
	if len(s.pollStatuses) == 0 {
		return assistant.Run{ID: runID, Status: assistant.RunStatusQueued}, nil
	}
	status := s.pollStatuses[s.pollIdx]
	if s.pollIdx < len(s.pollStatuses)-1 {
		s.pollIdx++
	}
	return assistant.Run{ID: runID, Status: status}, nil
}

func (s *stubAssistant) LatestAssistantText(ctx context.Context, threadID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.replyErr != nil {
		return "", s.replyErr
	}
	return s.reply, nil
}

func (s *stubAssistant) RetrieveFile(ctx context.Context, fileID string) (*assistant.FileInfo, error) {
	return &assistant.FileInfo{ID: fileID, Filename: "retrieved.png"}, nil
}

type stubPublisher struct {
	events []model.UsageEvent
}

func (p *stubPublisher) Publish(ctx context.Context, event model.UsageEvent) error {
	p.events = append(p.events, event)
	return nil
}

func newChatTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	// A named shared in-memory database keeps every pooled connection on
	// the same schema; the name scopes it to this test.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := db.AutoMigrate(&model.User{}, &model.Conversation{}, &model.Message{}, &model.UsageEvent{}); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	return db
}

func newChatFixture(t *testing.T, client AssistantClient) (*ChatService, *gorm.DB, *model.Conversation, *stubPublisher) {
	t.Helper()
	db := newChatTestDB(t)

	user := &model.User{Username: "joana", Email: "joana@example.com", PasswordHash: "x", Active: true}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("create user failed: %v", err)
	}
	conversation := &model.Conversation{UserID: user.ID, Title: model.DefaultConversationTitle}
	if err := db.Create(conversation).Error; err != nil {
		t.Fatalf("create conversation failed: %v", err)
	}

	events := &stubPublisher{}
	service := NewChatService(
		db,
		repository.NewConversationRepository(db),
		repository.NewMessageRepository(db),
		client,
		events,
		nil,
		"asst_test",
		time.Millisecond,
		50*time.Millisecond,
	)
	return service, db, conversation, events
}

func TestSendMessageSuccess(t *testing.T) {
	client := &stubAssistant{reply: "A capital do Brasil é Brasília."}
	service, db, conversation, events := newChatFixture(t, client)

	result, err := service.SendMessage(context.Background(), SendMessageInput{
		UserID:         conversation.UserID,
		ConversationID: conversation.ID,
		Content:        "Qual a capital do Brasil?",
	})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if result.UserMessage.Role != model.RoleUser || result.UserMessage.Content != "Qual a capital do Brasil?" {
		t.Fatalf("unexpected user message: %+v", result.UserMessage)
	}
	if result.AssistantMessage.Role != model.RoleAssistant || result.AssistantMessage.Content != client.reply {
		t.Fatalf("unexpected assistant message: %+v", result.AssistantMessage)
	}

	var stored []model.Message
	if err := db.Order("created_at ASC, id ASC").Find(&stored).Error; err != nil {
		t.Fatalf("load messages failed: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("expected 2 persisted messages, got %d", len(stored))
	}
	if stored[0].Role != model.RoleUser || stored[1].Role != model.RoleAssistant {
		t.Fatalf("messages persisted out of order: %s then %s", stored[0].Role, stored[1].Role)
	}

	var reloaded model.Conversation
	if err := db.First(&reloaded, conversation.ID).Error; err != nil {
		t.Fatalf("reload conversation failed: %v", err)
	}
	if reloaded.ThreadID == nil || *reloaded.ThreadID != "thread_1" {
		t.Fatalf("thread id not claimed: %+v", reloaded.ThreadID)
	}
	if reloaded.Title == model.DefaultConversationTitle {
		t.Fatalf("title was not derived on the first turn")
	}

	if len(events.events) != 1 || events.events[0].Outcome != model.TurnOutcomeCompleted {
		t.Fatalf("unexpected usage events: %+v", events.events)
	}
}

func TestSendMessageTimeoutSynthesizesReply(t *testing.T) {
	client := &stubAssistant{
		createRunStatus: assistant.RunStatusQueued,
		pollStatuses:    []string{assistant.RunStatusQueued},
	}
	service, db, conversation, events := newChatFixture(t, client)

	result, err := service.SendMessage(context.Background(), SendMessageInput{
		UserID:         conversation.UserID,
		ConversationID: conversation.ID,
		Content:        "Resuma este documento gigante",
	})
	if err != nil {
		t.Fatalf("timeout must not surface as an error: %v", err)
	}
	if result.AssistantMessage.Content != replyTimeout {
		t.Fatalf("expected timeout reply, got %q", result.AssistantMessage.Content)
	}

	var userCount int64
	if err := db.Model(&model.Message{}).Where("role = ?", model.RoleUser).Count(&userCount).Error; err != nil {
		t.Fatalf("count user messages failed: %v", err)
	}
	if userCount != 1 {
		t.Fatalf("user message must survive a timeout, found %d", userCount)
	}
	if len(events.events) != 1 || events.events[0].Outcome != model.TurnOutcomeTimeout {
		t.Fatalf("unexpected usage events: %+v", events.events)
	}
}

func TestSendMessageRunFailed(t *testing.T) {
	client := &stubAssistant{createRunStatus: assistant.RunStatusFailed}
	service, _, conversation, events := newChatFixture(t, client)

	result, err := service.SendMessage(context.Background(), SendMessageInput{
		UserID:         conversation.UserID,
		ConversationID: conversation.ID,
		Content:        "Explique a cláusula três",
	})
	if err != nil {
		t.Fatalf("run failure must not surface as an error: %v", err)
	}
	if result.AssistantMessage.Content != replyRunFailed {
		t.Fatalf("expected run failure reply, got %q", result.AssistantMessage.Content)
	}
	if len(events.events) != 1 || events.events[0].Outcome != model.TurnOutcomeFailed {
		t.Fatalf("unexpected usage events: %+v", events.events)
	}
}

func TestSendMessageProviderUnreachable(t *testing.T) {
	client := &stubAssistant{createRunErr: errors.New("connection refused")}
	service, db, conversation, events := newChatFixture(t, client)

	result, err := service.SendMessage(context.Background(), SendMessageInput{
		UserID:         conversation.UserID,
		ConversationID: conversation.ID,
		Content:        "Olá, tudo bem?",
	})
	if err != nil {
		t.Fatalf("provider error must not surface: %v", err)
	}
	if result.AssistantMessage.Content != replyUnavailable {
		t.Fatalf("expected unavailable reply, got %q", result.AssistantMessage.Content)
	}

	var total int64
	if err := db.Model(&model.Message{}).Count(&total).Error; err != nil {
		t.Fatalf("count messages failed: %v", err)
	}
	if total != 2 {
		t.Fatalf("both turn messages must be persisted, found %d", total)
	}
	if len(events.events) != 1 || events.events[0].Outcome != model.TurnOutcomeUnreachable {
		t.Fatalf("unexpected usage events: %+v", events.events)
	}
}

func TestSendMessageSurvivesClientDisconnect(t *testing.T) {
	client := &stubAssistant{reply: "resposta completa"}
	service, db, conversation, events := newChatFixture(t, client)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := service.SendMessage(ctx, SendMessageInput{
		UserID:         conversation.UserID,
		ConversationID: conversation.ID,
		Content:        "Qual o prazo de entrega?",
	})
	if err != nil {
		t.Fatalf("a disconnected caller must not fail the turn: %v", err)
	}
	if result.AssistantMessage.Content != client.reply {
		t.Fatalf("the real reply must be stored, got %q", result.AssistantMessage.Content)
	}

	var total int64
	if err := db.Model(&model.Message{}).Count(&total).Error; err != nil {
		t.Fatalf("count messages failed: %v", err)
	}
	if total != 2 {
		t.Fatalf("both turn messages must be persisted, found %d", total)
	}
	if len(events.events) != 1 || events.events[0].Outcome != model.TurnOutcomeCompleted {
		t.Fatalf("unexpected usage events: %+v", events.events)
	}
}

func TestSendMessageEmptyAssistantReply(t *testing.T) {
	client := &stubAssistant{reply: "   "}
	service, _, conversation, _ := newChatFixture(t, client)

	result, err := service.SendMessage(context.Background(), SendMessageInput{
		UserID:         conversation.UserID,
		ConversationID: conversation.ID,
		Content:        "Alguém aí?",
	})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if result.AssistantMessage.Content != replyEmpty {
		t.Fatalf("expected synthesized empty reply, got %q", result.AssistantMessage.Content)
	}
}

func TestSendMessageNoAssistantMessage(t *testing.T) {
	client := &stubAssistant{replyErr: assistant.ErrNoMessage}
	service, _, conversation, events := newChatFixture(t, client)

	result, err := service.SendMessage(context.Background(), SendMessageInput{
		UserID:         conversation.UserID,
		ConversationID: conversation.ID,
		Content:        "Está aí?",
	})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if result.AssistantMessage.Content != replyNoMessage {
		t.Fatalf("expected missing-reply fallback, got %q", result.AssistantMessage.Content)
	}
	if len(events.events) != 1 || events.events[0].Outcome != model.TurnOutcomeCompleted {
		t.Fatalf("unexpected usage events: %+v", events.events)
	}
}

func TestSendMessageForeignConversation(t *testing.T) {
	client := &stubAssistant{reply: "nunca"}
	service, db, conversation, _ := newChatFixture(t, client)

	_, err := service.SendMessage(context.Background(), SendMessageInput{
		UserID:         conversation.UserID + 100,
		ConversationID: conversation.ID,
		Content:        "mensagem de outro usuário",
	})
	if !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}

	var total int64
	if err := db.Model(&model.Message{}).Count(&total).Error; err != nil {
		t.Fatalf("count messages failed: %v", err)
	}
	if total != 0 {
		t.Fatalf("no message may be persisted for a foreign conversation, found %d", total)
	}
}

func TestSendMessageEmptyContent(t *testing.T) {
	service, _, conversation, _ := newChatFixture(t, &stubAssistant{})

	_, err := service.SendMessage(context.Background(), SendMessageInput{
		UserID:         conversation.UserID,
		ConversationID: conversation.ID,
		Content:        "   \n\t ",
	})
	if !errors.Is(err, ErrMessageEmpty) {
		t.Fatalf("expected ErrMessageEmpty, got %v", err)
	}
}

func TestSendMessageTitleDerivedOnlyOnce(t *testing.T) {
	client := &stubAssistant{reply: "resposta"}
	service, db, conversation, _ := newChatFixture(t, client)

	ctx := context.Background()
	input := SendMessageInput{
		UserID:         conversation.UserID,
		ConversationID: conversation.ID,
		Content:        "Analise o contrato de aluguel",
	}
	if _, err := service.SendMessage(ctx, input); err != nil {
		t.Fatalf("first turn failed: %v", err)
	}

	var afterFirst model.Conversation
	if err := db.First(&afterFirst, conversation.ID).Error; err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	derived := afterFirst.Title
	if derived == model.DefaultConversationTitle {
		t.Fatalf("first turn must derive a title")
	}

	input.Content = "Resuma tudo em uma frase"
	if _, err := service.SendMessage(ctx, input); err != nil {
		t.Fatalf("second turn failed: %v", err)
	}

	var afterSecond model.Conversation
	if err := db.First(&afterSecond, conversation.ID).Error; err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if afterSecond.Title != derived {
		t.Fatalf("title changed on a later turn: %q became %q", derived, afterSecond.Title)
	}
}

func TestSendMessageReusesExistingThread(t *testing.T) {
	client := &stubAssistant{reply: "de novo"}
	service, db, conversation, _ := newChatFixture(t, client)

	threadID := "thread_existing"
	if err := db.Model(&model.Conversation{}).Where("id = ?", conversation.ID).Update("thread_id", threadID).Error; err != nil {
		t.Fatalf("seed thread id failed: %v", err)
	}

	if _, err := service.SendMessage(context.Background(), SendMessageInput{
		UserID:         conversation.UserID,
		ConversationID: conversation.ID,
		Content:        "continuação da conversa",
	}); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if client.threadsCreated != 0 {
		t.Fatalf("no thread may be created when one exists, created %d", client.threadsCreated)
	}
}

func TestSendMessageAttachmentBlocks(t *testing.T) {
	client := &stubAssistant{reply: "analisado"}
	service, _, conversation, _ := newChatFixture(t, client)

	_, err := service.SendMessage(context.Background(), SendMessageInput{
		UserID:         conversation.UserID,
		ConversationID: conversation.ID,
		Content:        "Compare a foto com o edital",
		Attachments: []AttachmentRef{
			{FileID: "file_img", Filename: "foto.png"},
			{FileID: "file_doc", Filename: "edital.pdf", MimeType: "application/pdf"},
			{FileID: "file_meta"},
			{Filename: "sem-id.pdf"},
		},
	})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if len(client.messages) != 1 {
		t.Fatalf("expected one provider message, got %d", len(client.messages))
	}

	blocks := client.messages[0].Blocks
	if len(blocks) != 4 {
		t.Fatalf("expected text plus three classified blocks, got %d", len(blocks))
	}
	if blocks[0].Kind != assistant.BlockText || blocks[0].Text != "Compare a foto com o edital" {
		t.Fatalf("first block must carry the turn text: %+v", blocks[0])
	}
	if blocks[1].Kind != assistant.BlockImage || blocks[1].FileID != "file_img" {
		t.Fatalf("png attachment must be an image block: %+v", blocks[1])
	}
	if blocks[2].Kind != assistant.BlockDocument || blocks[2].FileID != "file_doc" {
		t.Fatalf("pdf attachment must be a document block: %+v", blocks[2])
	}
	// file_meta has no client metadata, so the provider record decides.
	if blocks[3].Kind != assistant.BlockImage || blocks[3].FileID != "file_meta" {
		t.Fatalf("metadata fallback must classify by provider filename: %+v", blocks[3])
	}
}

func TestClaimThreadIDLoserAdoptsWinner(t *testing.T) {
	db := newChatTestDB(t)
	repo := repository.NewConversationRepository(db)

	conversation := &model.Conversation{UserID: 1, Title: model.DefaultConversationTitle}
	if err := db.Create(conversation).Error; err != nil {
		t.Fatalf("create conversation failed: %v", err)
	}

	won, err := repo.ClaimThreadID(conversation.ID, "thread_a")
	if err != nil || !won {
		t.Fatalf("first claim must win: won=%v err=%v", won, err)
	}
	won, err = repo.ClaimThreadID(conversation.ID, "thread_b")
	if err != nil {
		t.Fatalf("second claim failed: %v", err)
	}
	if won {
		t.Fatalf("second claim must lose")
	}

	stored, err := repo.GetByID(conversation.ID)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if stored.ThreadID == nil || *stored.ThreadID != "thread_a" {
		t.Fatalf("stored thread id must be the winner's: %+v", stored.ThreadID)
	}
}
