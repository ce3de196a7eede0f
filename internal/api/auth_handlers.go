package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"rollcall/internal/account"
	"rollcall/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type tokenResponse struct {
	auth.TokenPair
	User *account.User `json:"user,omitempty"`
}

func (h *handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBinding(c, err)
		return
	}
	tokens, user, err := h.accounts.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tokenResponse{TokenPair: tokens, User: &user})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

func (h *handler) refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBinding(c, err)
		return
	}
	tokens, err := h.accounts.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tokenResponse{TokenPair: tokens})
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *handler) logout(c *gin.Context) {
	var req logoutRequest
	// the body is optional
	_ = c.ShouldBindJSON(&req)
	if err := h.accounts.Logout(c.Request.Context(), subject(c), req.RefreshToken); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) me(c *gin.Context) {
	u, err := h.accounts.Get(c.Request.Context(), subject(c).Subject)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

type createUserRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Name     string `json:"name" binding:"required"`
	Role     string `json:"role" binding:"required,oneof=student delegate admin"`
	Password string `json:"password" binding:"required,min=8"`
}

func (h *handler) createUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBinding(c, err)
		return
	}
	u, err := h.accounts.CreateUser(c.Request.Context(), account.NewUser{
		Email:    req.Email,
		Name:     req.Name,
		Role:     req.Role,
		Password: req.Password,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

func (h *handler) listUsers(c *gin.Context) {
	role := c.Query("role")
	if role != "" && !account.ValidRole(role) {
		h.fail(c, account.ErrInvalidRole)
		return
	}
	users, err := h.accounts.List(c.Request.Context(), role)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}
