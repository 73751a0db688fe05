package handlers

import (
	"github.com/gin-gonic/gin"

	domain "github.com/ilyacantor/autonomos-platform-sub006/internal/domain/drift"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/http/response"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/review"
)

type ApprovalHandler struct {
	review *review.Service
}

func NewApprovalHandler(r *review.Service) *ApprovalHandler {
	return &ApprovalHandler{review: r}
}

// POST /approvals/:id/approve
// The body is optional; when present it may complete the proposal.
func (h *ApprovalHandler) Approve(c *gin.Context) {
	a, err := actor(c)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	id, err := paramID(c, "invalid_review_id")
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	var ov *review.Overrides
	var body review.Overrides
	present, err := optionalJSON(c, &body)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	if present {
		ov = &body
	}
	out, err := h.review.Approve(c.Request.Context(), a.TenantID, id, a.Subject, ov)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, out)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

// POST /approvals/:id/reject
func (h *ApprovalHandler) Reject(c *gin.Context) {
	a, err := actor(c)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	id, err := paramID(c, "invalid_review_id")
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	var req rejectRequest
	if _, err := optionalJSON(c, &req); err != nil {
		response.RespondErr(c, err)
		return
	}
	item, err := h.review.Reject(c.Request.Context(), a.TenantID, id, a.Subject, req.Reason)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"item": item})
}

// GET /api/approvals
func (h *ApprovalHandler) List(c *gin.Context) {
	a, err := actor(c)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	status := c.DefaultQuery("status", domain.ReviewStatusPending)
	items, err := h.review.List(c.Request.Context(), a.TenantID, status, queryLimit(c, 100))
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"items": items})
}

// GET /api/approvals/:id
func (h *ApprovalHandler) Get(c *gin.Context) {
	a, err := actor(c)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	id, err := paramID(c, "invalid_review_id")
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	item, err := h.review.Get(c.Request.Context(), a.TenantID, id)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"item": item})
}
