package httpapi

import (
	"net/http"
	"strconv"

	"linkboost-controlplane/pkg/errutil"
	"linkboost-controlplane/services/campaign"
	"linkboost-controlplane/services/guild"
	"linkboost-controlplane/services/ledger"
	"linkboost-controlplane/services/payment"
	"linkboost-controlplane/services/setting"
	"linkboost-controlplane/services/submission"
	"linkboost-controlplane/services/task"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

var errSweeperUnavailable = errutil.ServiceUnavailable("sweeper is not wired in this process", nil)

type AdminHandler struct {
	campaigns   *campaign.Service
	submissions *submission.Service
	payments    *payment.Service
	guilds      *guild.Service
	ledger      *ledger.Service
	settings    *setting.Service
	sweeper     *task.Service
	dispatcher  *task.Dispatcher
}

func (h *AdminHandler) ListReported(c *gin.Context) {
	items, err := h.submissions.ListReported(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (h *AdminHandler) GetSubmission(c *gin.Context) {
	sub, err := h.submissions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

type ResolveRequest struct {
	Decision string `json:"decision" binding:"required"`
}

func (h *AdminHandler) Resolve(c *gin.Context) {
	var req ResolveRequest
	if !bind(c, &req) {
		return
	}
	decision, err := submission.ParseDecision(req.Decision)
	if err != nil {
		fail(c, err)
		return
	}
	done(c, h.submissions.AdminResolveReport(c.Request.Context(), c.Param("id"), decision))
}

type CampaignStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h *AdminHandler) SetCampaignStatus(c *gin.Context) {
	var req CampaignStatusRequest
	if !bind(c, &req) {
		return
	}
	done(c, h.campaigns.SetStatus(c.Request.Context(), c.Param("id"), campaign.CampaignStatus(req.Status)))
}

func (h *AdminHandler) DeleteCampaign(c *gin.Context) {
	done(c, h.campaigns.DeleteCampaign(c.Request.Context(), c.Param("id")))
}

func (h *AdminHandler) ListPendingTopUps(c *gin.Context) {
	items, err := h.payments.ListPending(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (h *AdminHandler) ApproveTopUp(c *gin.Context) {
	done(c, h.payments.AdminApproveTopUp(c.Request.Context(), c.Param("id")))
}

func (h *AdminHandler) RejectTopUp(c *gin.Context) {
	var req RejectRequest
	if !bind(c, &req) {
		return
	}
	done(c, h.payments.AdminRejectTopUp(c.Request.Context(), c.Param("id"), req.Reason))
}

type CreatePackageRequest struct {
	Name     string          `json:"name" binding:"required"`
	Diamonds int64           `json:"diamonds" binding:"required"`
	Price    decimal.Decimal `json:"price"`
}

func (h *AdminHandler) CreatePackage(c *gin.Context) {
	var req CreatePackageRequest
	if !bind(c, &req) {
		return
	}
	pkg, err := h.payments.CreatePackage(c.Request.Context(), req.Name, req.Diamonds, req.Price)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, pkg)
}

type CommissionRateRequest struct {
	Rate decimal.Decimal `json:"rate"`
}

func (h *AdminHandler) SetCommissionRate(c *gin.Context) {
	var req CommissionRateRequest
	if !bind(c, &req) {
		return
	}
	done(c, h.guilds.SetCommissionRate(c.Request.Context(), c.Param("id"), req.Rate))
}

func (h *AdminHandler) VerifyWallet(c *gin.Context) {
	ok, err := h.ledger.VerifyChain(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": c.Param("user_id"), "valid": ok})
}

func (h *AdminHandler) Settings(c *gin.Context) {
	snap, err := h.settings.All(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

type SettingRequest struct {
	Value string `json:"value"`
}

func (h *AdminHandler) SetSetting(c *gin.Context) {
	var req SettingRequest
	if !bind(c, &req) {
		return
	}
	done(c, h.settings.Set(c.Request.Context(), c.Param("key"), req.Value))
}

// TriggerSweep queues a sweep outside the schedule.
func (h *AdminHandler) TriggerSweep(c *gin.Context) {
	if h.dispatcher == nil {
		fail(c, errSweeperUnavailable)
		return
	}
	enqueued, err := h.dispatcher.Dispatch(c.Request.Context())
	if err != nil {
		fail(c, errutil.ServiceUnavailable("failed to queue sweep", err))
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"enqueued": enqueued})
}

func (h *AdminHandler) ListSweeps(c *gin.Context) {
	if h.sweeper == nil {
		fail(c, errSweeperUnavailable)
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	jobs, err := h.sweeper.RecentJobs(c.Request.Context(), limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": jobs})
}
