package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"leilaochat/internal/app"
	"leilaochat/internal/transport/http/response"
)

type AdminHandler struct {
	adminService *app.AdminService
}

type AdminCreateUserRequest struct {
	Username string `json:"username" binding:"required,min=3,max=64"`
	Email    string `json:"email" binding:"required,email,max=128"`
	Password string `json:"password" binding:"required,min=6,max=128"`
	IsAdmin  bool   `json:"is_admin"`
}

type AdminUpdateUserRequest struct {
	Username *string `json:"username"`
	Email    *string `json:"email"`
	Password *string `json:"password"`
	IsActive *bool   `json:"is_active"`
	IsAdmin  *bool   `json:"is_admin"`
}

func NewAdminHandler(adminService *app.AdminService) *AdminHandler {
	return &AdminHandler{adminService: adminService}
}

func (h *AdminHandler) Dashboard(c *gin.Context) {
	stats, err := h.adminService.Dashboard()
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "load dashboard failed")
		return
	}
	response.OK(c, stats)
}

func (h *AdminHandler) ListConversations(c *gin.Context) {
	page, perPage := pageParams(c, 20)

	var userID uint
	if raw := c.Query("user_id"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid user_id")
			return
		}
		userID = uint(parsed)
	}

	conversations, total, err := h.adminService.ListAllConversations(userID, page, perPage)
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

func (h *AdminHandler) DeleteConversation(c *gin.Context) {
	conversationID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	if err := h.adminService.DeleteConversation(conversationID); err != nil {
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

func (h *AdminHandler) ListUserConversations(c *gin.Context) {
	userID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	page, perPage := pageParams(c, 20)
	user, conversations, total, err := h.adminService.ListUserConversations(userID, page, perPage)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrUserNotFound):
			response.Error(c, http.StatusNotFound, response.CodeUserNotFound, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list user conversations failed")
		}
		return
	}

	response.OK(c, gin.H{
		"user":          user,
		"conversations": conversations,
		"total":         total,
		"page":          page,
		"per_page":      perPage,
	})
}

func (h *AdminHandler) ListUsers(c *gin.Context) {
	page, perPage := pageParams(c, 10)
	users, total, err := h.adminService.ListUsers(c.Query("search"), page, perPage)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list users failed")
		return
	}

	response.OK(c, gin.H{
		"users":    users,
		"total":    total,
		"page":     page,
		"per_page": perPage,
	})
}

func (h *AdminHandler) GetUser(c *gin.Context) {
	userID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	user, err := h.adminService.GetUser(userID)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrUserNotFound):
			response.Error(c, http.StatusNotFound, response.CodeUserNotFound, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "get user failed")
		}
		return
	}
	response.OK(c, gin.H{"user": user})
}

func (h *AdminHandler) CreateUser(c *gin.Context) {
	var req AdminCreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	user, err := h.adminService.CreateUser(app.CreateUserInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Admin:    req.IsAdmin,
	})
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrUsernameExists):
			response.Error(c, http.StatusBadRequest, response.CodeUsernameExists, err.Error())
		case errors.Is(err, app.ErrEmailExists):
			response.Error(c, http.StatusBadRequest, response.CodeEmailExists, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "create user failed")
		}
		return
	}

	response.Created(c, gin.H{"user": user})
}

func (h *AdminHandler) UpdateUser(c *gin.Context) {
	userID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req AdminUpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	user, err := h.adminService.UpdateUser(userID, app.UpdateUserInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Active:   req.IsActive,
		Admin:    req.IsAdmin,
	})
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrUserNotFound):
			response.Error(c, http.StatusNotFound, response.CodeUserNotFound, err.Error())
		case errors.Is(err, app.ErrUsernameExists):
			response.Error(c, http.StatusBadRequest, response.CodeUsernameExists, err.Error())
		case errors.Is(err, app.ErrEmailExists):
			response.Error(c, http.StatusBadRequest, response.CodeEmailExists, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "update user failed")
		}
		return
	}

	response.OK(c, gin.H{"user": user})
}

func (h *AdminHandler) DeleteUser(c *gin.Context) {
	userID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	if err := h.adminService.DeleteUser(userID); err != nil {
		switch {
		case errors.Is(err, app.ErrUserNotFound):
			response.Error(c, http.StatusNotFound, response.CodeUserNotFound, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "delete user failed")
		}
		return
	}
	response.NoContent(c)
}
