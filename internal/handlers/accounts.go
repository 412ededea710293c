package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/example/deepfake-detector/internal/apperror"
	"github.com/example/deepfake-detector/internal/service"
)

type registerRequest struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type changePasswordRequest struct {
	OldPassword     string `json:"old_password"`
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"confirm_password"`
}

type deleteAccountRequest struct {
	Password string `json:"password"`
}

// bindJSON decodes the body into dst; a malformed body is a validation error.
func bindJSON(c *gin.Context, op string, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		abortWith(c, apperror.New(apperror.ErrValidation, op, "Invalid JSON format", err))
		return false
	}
	return true
}

func (h *handler) register(c *gin.Context) {
	var req registerRequest
	if !bindJSON(c, "handlers.register", &req) {
		return
	}
	user, err := h.accounts.Register(c.Request.Context(), service.Registration{
		Username:        req.Username,
		Email:           req.Email,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
	})
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message":  "Registration successful",
		"user_id":  user.ID,
		"username": user.Username,
	})
}

func (h *handler) login(c *gin.Context) {
	var req loginRequest
	if !bindJSON(c, "handlers.login", &req) {
		return
	}
	session, err := h.accounts.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":    "Login successful",
		"user_id":    session.User.ID,
		"username":   session.User.Username,
		"email":      session.User.Email,
		"token":      session.Token,
		"expires_at": formatTime(session.ExpiresAt),
	})
}

// logout acknowledges the request. Tokens are stateless and expire on their own.
func (h *handler) logout(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Logout successful"})
}

func (h *handler) me(c *gin.Context) {
	user, ok := userID(c)
	if !ok {
		return
	}
	u, err := h.accounts.Me(c.Request.Context(), user)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, presentUser(u))
}

func (h *handler) changePassword(c *gin.Context) {
	user, ok := userID(c)
	if !ok {
		return
	}
	var req changePasswordRequest
	if !bindJSON(c, "handlers.change_password", &req) {
		return
	}
	err := h.accounts.ChangePassword(c.Request.Context(), user, service.PasswordChange{
		OldPassword:     req.OldPassword,
		NewPassword:     req.NewPassword,
		ConfirmPassword: req.ConfirmPassword,
	})
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Password changed successfully"})
}

func (h *handler) deleteAccount(c *gin.Context) {
	user, ok := userID(c)
	if !ok {
		return
	}
	var req deleteAccountRequest
	if !bindJSON(c, "handlers.delete_account", &req) {
		return
	}
	if err := h.accounts.DeleteAccount(c.Request.Context(), user, req.Password); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Account deleted successfully"})
}
