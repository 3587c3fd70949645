package httpapi

import (
	"net/http"

	"linkboost-controlplane/services/submission"

	"github.com/gin-gonic/gin"
)

type SubmissionHandler struct {
	submissions *submission.Service
}

func (h *SubmissionHandler) ListMine(c *gin.Context) {
	items, err := h.submissions.ListByVisitor(c.Request.Context(), userID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (h *SubmissionHandler) Get(c *gin.Context) {
	sub, err := h.submissions.GetForViewer(c.Request.Context(), c.Param("id"), userID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (h *SubmissionHandler) Approve(c *gin.Context) {
	done(c, h.submissions.OwnerApprove(c.Request.Context(), c.Param("id"), userID(c)))
}

type RejectRequest struct {
	Reason string `json:"reason"`
}

func (h *SubmissionHandler) Reject(c *gin.Context) {
	var req RejectRequest
	if !bind(c, &req) {
		return
	}
	done(c, h.submissions.OwnerReject(c.Request.Context(), c.Param("id"), userID(c), req.Reason))
}

type ReportRequest struct {
	Message string `json:"message"`
}

// Report is visitor-facing, so a report on a submission that is not
// REJECTED surfaces as an error instead of a no-op.
func (h *SubmissionHandler) Report(c *gin.Context) {
	var req ReportRequest
	if !bind(c, &req) {
		return
	}
	if err := h.submissions.Report(c.Request.Context(), c.Param("id"), userID(c), req.Message); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": "ok"})
}
