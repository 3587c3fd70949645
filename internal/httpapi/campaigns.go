package httpapi

import (
	"net/http"
	"time"

	"linkboost-controlplane/services/campaign"
	"linkboost-controlplane/services/setting"
	"linkboost-controlplane/services/submission"

	"github.com/gin-gonic/gin"
)

type CampaignHandler struct {
	campaigns   *campaign.Service
	submissions *submission.Service
	settings    setting.Provider
}

// CampaignView is a campaign with the task rules a visitor must follow.
type CampaignView struct {
	*campaign.Campaign
	VisitTimerSeconds int64 `json:"visit_timer_seconds"`
	ProofCount        int   `json:"proof_count"`
}

type CreateCampaignRequest struct {
	URL          string `json:"url" binding:"required"`
	TargetVisits int64  `json:"target_visits" binding:"required"`
}

func (h *CampaignHandler) Create(c *gin.Context) {
	var req CreateCampaignRequest
	if !bind(c, &req) {
		return
	}

	cmp, err := h.campaigns.CreateCampaign(c.Request.Context(), userID(c), req.URL, req.TargetVisits)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, cmp)
}

func (h *CampaignHandler) ListMine(c *gin.Context) {
	items, err := h.campaigns.ListByOwner(c.Request.Context(), userID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (h *CampaignHandler) Get(c *gin.Context) {
	cmp, err := h.campaigns.GetCampaign(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	snap, err := h.settings.Snapshot(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, CampaignView{
		Campaign:          cmp,
		VisitTimerSeconds: int64(snap.VisitTimer / time.Second),
		ProofCount:        snap.ProofCount,
	})
}

type SubmitProofRequest struct {
	ProofArtifacts []string `json:"proof_artifacts" binding:"required"`
}

func (h *CampaignHandler) Submit(c *gin.Context) {
	var req SubmitProofRequest
	if !bind(c, &req) {
		return
	}

	sub, err := h.submissions.SubmitProof(c.Request.Context(), c.Param("id"), userID(c), req.ProofArtifacts)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, sub)
}

func (h *CampaignHandler) ListSubmissions(c *gin.Context) {
	items, err := h.submissions.ListByCampaign(c.Request.Context(), c.Param("id"), userID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (h *CampaignHandler) ApproveAll(c *gin.Context) {
	n, err := h.submissions.ApproveAllPending(c.Request.Context(), c.Param("id"), userID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": "ok", "approved": n})
}
