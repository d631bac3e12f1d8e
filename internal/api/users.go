package api

import (
	"net/http"

	"isla-market/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func (h *Handler) getProfile(c *gin.Context) {
	c.JSON(http.StatusOK, currentUser(c))
}

func (h *Handler) updateProfile(c *gin.Context) {
	var patch models.ProfilePatch
	if !h.bindJSON(c, &patch) {
		return
	}

	user, err := h.users.UpdateProfile(c.Request.Context(), currentUser(c).ID, patch)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) listAddresses(c *gin.Context) {
	addrs, err := h.users.ListAddresses(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"addresses": addrs})
}

func (h *Handler) listUsers(c *gin.Context) {
	users, err := h.users.ListUsers(c.Request.Context(), queryInt(c, "page", 1), queryInt(c, "page_size", 50))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

type roleRequest struct {
	Role string `json:"role"`
}

func (h *Handler) setUserRole(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.badRequest(c, "invalid id", nil)
		return
	}
	var req roleRequest
	if !h.bindJSON(c, &req) {
		return
	}

	user, err := h.users.SetRole(c.Request.Context(), adminID(c), userID, req.Role)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}
