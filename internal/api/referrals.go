package api

import (
	"net/http"

	"isla-market/internal/models"
	"isla-market/internal/service"

	"github.com/gin-gonic/gin"
)

type linkRequest struct {
	ReferralCode string `json:"referral_code"`
}

func (h *Handler) createReferralLink(c *gin.Context) {
	var req linkRequest
	if !h.bindJSON(c, &req) {
		return
	}

	referral, err := h.referrals.CreateReferralLink(c.Request.Context(), currentUser(c).ID, req.ReferralCode)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "referral linked", "referral": referral})
}

func (h *Handler) referrerStatus(c *gin.Context) {
	status, err := h.referrals.CheckReferrerStatus(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *Handler) referrerStats(c *gin.Context) {
	stats, err := h.referrals.MyStats(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) validateReferralCode(c *gin.Context) {
	result, err := h.referrals.ValidateCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) referralRanking(c *gin.Context) {
	ranking, err := h.referrals.Ranking(c.Request.Context(), c.Query("sort_by"), queryInt(c, "limit", 0), false)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ranking)
}

func (h *Handler) listReferrers(c *gin.Context) {
	ranking, err := h.referrals.Ranking(c.Request.Context(), c.Query("sort_by"), queryInt(c, "limit", 100), true)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ranking)
}

func (h *Handler) createReferrer(c *gin.Context) {
	var in service.CreateReferrerInput
	if !h.bindJSON(c, &in) {
		return
	}

	referrer, err := h.referrals.CreateReferrer(c.Request.Context(), in)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, referrer)
}

func (h *Handler) updateReferrer(c *gin.Context) {
	id, ok := h.paramID(c, "id")
	if !ok {
		return
	}
	var patch models.ReferrerPatch
	if !h.bindJSON(c, &patch) {
		return
	}

	referrer, err := h.referrals.UpdateReferrer(c.Request.Context(), id, patch)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, referrer)
}
