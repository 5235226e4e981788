package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"leilaochat/internal/app"
	"leilaochat/internal/transport/http/middleware"
	"leilaochat/internal/transport/http/response"
)

type ChatHandler struct {
	chatService *app.ChatService
}

type CreateConversationRequest struct {
	Title string `json:"title" binding:"max=255"`
}

type UpdateConversationRequest struct {
	Title string `json:"title" binding:"required,max=255"`
}

type SendMessageRequest struct {
	Content       string             `json:"content" binding:"required"`
	FileIDs       []string           `json:"file_ids"`
	OriginalFiles []OriginalFileInfo `json:"original_files"`
}

// OriginalFileInfo is the client-declared metadata for an already
// uploaded file, aligned positionally with file_ids.
type OriginalFileInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

func NewChatHandler(chatService *app.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

func (h *ChatHandler) CreateConversation(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	// The body is optional: an empty POST creates a conversation with the
	// default title.
	var req CreateConversationRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
			return
		}
	}

	conversation, err := h.chatService.CreateConversation(app.CreateConversationInput{
		UserID: userID,
		Title:  req.Title,
	})
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "create conversation failed")
		}
		return
	}

	response.Created(c, gin.H{"conversation": conversation})
}

func (h *ChatHandler) ListConversations(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	page, perPage := pageParams(c, 20)
	conversations, total, err := h.chatService.ListConversations(userID, page, perPage)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list conversations failed")
		return
	}

	response.OK(c, gin.H{
		"conversations": conversations,
		"total":         total,
		"page":          page,
		"per_page":      perPage,
	})
}

func (h *ChatHandler) GetConversation(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	conversationID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	detail, err := h.chatService.GetConversation(userID, conversationID)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrConversationNotFound):
			response.Error(c, http.StatusNotFound, response.CodeConversationNotFound, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "get conversation failed")
		}
		return
	}

	response.OK(c, gin.H{"conversation": detail})
}

func (h *ChatHandler) UpdateConversation(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	conversationID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req UpdateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "title is required")
		return
	}

	conversation, err := h.chatService.UpdateTitle(userID, conversationID, req.Title)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrConversationNotFound):
			response.Error(c, http.StatusNotFound, response.CodeConversationNotFound, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "update conversation failed")
		}
		return
	}

	response.OK(c, gin.H{"conversation": conversation})
}

func (h *ChatHandler) DeleteConversation(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	conversationID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	if err := h.chatService.DeleteConversation(userID, conversationID); err != nil {
		switch {
		case errors.Is(err, app.ErrConversationNotFound):
			response.Error(c, http.StatusNotFound, response.CodeConversationNotFound, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "delete conversation failed")
		}
		return
	}

	response.NoContent(c)
}

func (h *ChatHandler) DeleteAllConversations(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	if err := h.chatService.DeleteAllConversations(userID); err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "delete conversations failed")
		return
	}
	response.NoContent(c)
}

func (h *ChatHandler) ListMessages(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	conversationID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	page, perPage := pageParams(c, 50)
	messages, total, err := h.chatService.ListMessages(userID, conversationID, page, perPage)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrConversationNotFound):
			response.Error(c, http.StatusNotFound, response.CodeConversationNotFound, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list messages failed")
		}
		return
	}

	response.OK(c, gin.H{
		"messages": messages,
		"total":    total,
		"page":     page,
		"per_page": perPage,
	})
}

func (h *ChatHandler) SendMessage(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	conversationID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "message content is required")
		return
	}

	result, err := h.chatService.SendMessage(c.Request.Context(), app.SendMessageInput{
		UserID:         userID,
		ConversationID: conversationID,
		Content:        req.Content,
		Attachments:    buildAttachmentRefs(req.FileIDs, req.OriginalFiles),
	})
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput), errors.Is(err, app.ErrMessageEmpty):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrConversationNotFound):
			response.Error(c, http.StatusNotFound, response.CodeConversationNotFound, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "send message failed")
		}
		return
	}

	response.OK(c, gin.H{
		"user_message":      result.UserMessage,
		"assistant_message": result.AssistantMessage,
	})
}

// buildAttachmentRefs zips file ids with the positionally aligned client
// metadata; ids beyond the metadata list carry empty metadata and are
// classified via the provider fallback.
func buildAttachmentRefs(fileIDs []string, originals []OriginalFileInfo) []app.AttachmentRef {
	refs := make([]app.AttachmentRef, 0, len(fileIDs))
	for i, fileID := range fileIDs {
		ref := app.AttachmentRef{FileID: fileID}
		if i < len(originals) {
			ref.Filename = originals[i].Name
			ref.MimeType = originals[i].Type
		}
		refs = append(refs, ref)
	}
	return refs
}

func getUserIDFromContext(c *gin.Context) (uint, bool) {
	userIDAny, exists := c.Get(middleware.ContextUserIDKey)
	if !exists {
		return 0, false
	}
	userID, ok := userIDAny.(uint)
	return userID, ok
}

func parseIDParam(c *gin.Context, name string) (uint, bool) {
	id64, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id64 == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid "+name)
		return 0, false
	}
	return uint(id64), true
}

func pageParams(c *gin.Context, defaultPerPage int) (int, int) {
	page := 1
	if raw := c.Query("page"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			page = parsed
		}
	}
	perPage := defaultPerPage
	if raw := c.Query("per_page"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 100 {
			perPage = parsed
		}
	}
	return page, perPage
}
