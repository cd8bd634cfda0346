package api

import (
	"net/http"

	"sales-service/internal/service"

	"github.com/gin-gonic/gin"
)

func (h *Handler) createPayment(c *gin.Context) {
	var req service.PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	res, err := h.svc.Purchases.Pay(c.Request.Context(), currentUser(c), &req, c.GetHeader("Idempotency-Key"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) listPayments(c *gin.Context) {
	page, err := parsePage(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	records, err := h.svc.Purchases.ListPayments(c.Request.Context(), currentUser(c), page)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

func (h *Handler) createSubscription(c *gin.Context) {
	var req service.PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	res, err := h.svc.Purchases.Subscribe(c.Request.Context(), currentUser(c), &req, c.GetHeader("Idempotency-Key"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) listSubscriptions(c *gin.Context) {
	page, err := parsePage(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	subs, err := h.svc.Subscriptions.List(c.Request.Context(), currentUser(c), page)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, subs)
}

func (h *Handler) cancelSubscription(c *gin.Context) {
	id := c.Query("subscriptionID")
	if id == "" {
		badRequest(c, "subscriptionID is required", nil)
		return
	}

	sub, err := h.svc.Subscriptions.CancelOne(c.Request.Context(), id, currentUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (h *Handler) cancelAllSubscriptions(c *gin.Context) {
	n, err := h.svc.Subscriptions.CancelAll(c.Request.Context(), currentUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": n})
}

func (h *Handler) listHistory(c *gin.Context) {
	page, err := parsePage(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	entries, err := h.svc.History.List(c.Request.Context(), currentUser(c), page)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (h *Handler) deleteHistory(c *gin.Context) {
	if err := h.svc.History.Delete(c.Request.Context(), currentUser(c)); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// getBillingProfiles returns one profile when profileID is given, all of them otherwise
func (h *Handler) getBillingProfiles(c *gin.Context) {
	if id := c.Query("profileID"); id != "" {
		profile, err := h.svc.BillingProfiles.Get(c.Request.Context(), id, currentUser(c))
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, profile)
		return
	}

	profiles, err := h.svc.BillingProfiles.List(c.Request.Context(), currentUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profiles)
}

func (h *Handler) createBillingProfile(c *gin.Context) {
	var in service.BillingProfileInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	profile, err := h.svc.BillingProfiles.Create(c.Request.Context(), currentUser(c), in)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, profile)
}

func (h *Handler) updateBillingProfile(c *gin.Context) {
	var in service.BillingProfileInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	profile, err := h.svc.BillingProfiles.Update(c.Request.Context(), c.Query("profileID"), currentUser(c), in)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *Handler) deleteBillingProfile(c *gin.Context) {
	if err := h.svc.BillingProfiles.Delete(c.Request.Context(), c.Query("profileID"), currentUser(c)); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusOK)
}
