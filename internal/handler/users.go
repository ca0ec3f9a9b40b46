package handler

import (
	"log/slog"
	"net/http"

	"auth_session/internal/models"
	"auth_session/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
)

type roleRequest struct {
	UserID uuid.UUID `json:"user_id"`
	Role   string    `json:"role"`
}

// GET /user
func (h *Handler) GetMe(c *gin.Context) {
	claims, ok := claimsFrom(c)
	if !ok {
		newErrorResponse(c, models.ErrUnauthenticated)

		return
	}

	c.JSON(http.StatusOK, claims)
}

// GET /user/:idOrEmail
func (h *Handler) GetUser(c *gin.Context) {
	const op = "handler.GetUser"

	log := h.log.With(slog.String("op", op))

	user, err := h.users.Find(c.Request.Context(), c.Param("idOrEmail"))
	if err != nil {
		log.Debug("failed to find user", slog.Any("error", err))

		newErrorResponse(c, err)

		return
	}

	c.JSON(http.StatusOK, user)
}

// DELETE /user/:id
func (h *Handler) DeleteUser(c *gin.Context) {
	const op = "handler.DeleteUser"

	log := h.log.With(slog.String("op", op))

	id, err := uuid.FromString(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid user id")

		return
	}

	claims, ok := claimsFrom(c)
	if !ok {
		newErrorResponse(c, models.ErrUnauthenticated)

		return
	}

	caller := service.Principal{ID: claims.ID, Roles: claims.Roles}
	if err := h.users.Delete(c.Request.Context(), id, caller); err != nil {
		log.Info("failed to delete user", slog.String("user_id", id.String()), slog.Any("error", err))

		newErrorResponse(c, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{"id": id})
}

// GET /admin/users
func (h *Handler) GetAllUsers(c *gin.Context) {
	const op = "handler.GetAllUsers"

	log := h.log.With(slog.String("op", op))

	users, err := h.users.List(c.Request.Context())
	if err != nil {
		log.Error("failed to get all users", slog.Any("error", err))

		newErrorResponse(c, err)

		return
	}

	c.JSON(http.StatusOK, users)
}

// POST /admin/roles/assign
func (h *Handler) AssignRole(c *gin.Context) {
	const op = "handler.AssignRole"

	log := h.log.With(slog.String("op", op))

	req, role, ok := bindRole(c)
	if !ok {
		return
	}

	if err := h.users.AssignRole(c.Request.Context(), req.UserID, role); err != nil {
		log.Error("failed to assign role to user", slog.String("user_id", req.UserID.String()), slog.Any("error", err))

		newErrorResponse(c, err)

		return
	}

	log.Info("role assigned", slog.String("user_id", req.UserID.String()), slog.String("role", string(role)))

	c.JSON(http.StatusOK, gin.H{"message": "role assigned"})
}

// POST /admin/roles/remove
func (h *Handler) RemoveRole(c *gin.Context) {
	const op = "handler.RemoveRole"

	log := h.log.With(slog.String("op", op))

	req, role, ok := bindRole(c)
	if !ok {
		return
	}

	if err := h.users.RemoveRole(c.Request.Context(), req.UserID, role); err != nil {
		log.Error("failed to remove user role", slog.String("user_id", req.UserID.String()), slog.Any("error", err))

		newErrorResponse(c, err)

		return
	}

	log.Info("role removed", slog.String("user_id", req.UserID.String()), slog.String("role", string(role)))

	c.JSON(http.StatusOK, gin.H{"message": "role removed"})
}

func bindRole(c *gin.Context) (roleRequest, models.Role, bool) {
	var req roleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "wrong request format")

		return roleRequest{}, "", false
	}

	role, ok := models.ParseRole(req.Role)
	if !ok {
		badRequest(c, "unknown role")

		return roleRequest{}, "", false
	}

	return req, role, true
}
