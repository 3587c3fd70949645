package httpapi

import (
	"linkboost-controlplane/pkg/config"
	"linkboost-controlplane/pkg/health"
	"linkboost-controlplane/pkg/metrics"
	"linkboost-controlplane/pkg/middleware"
	"linkboost-controlplane/services/campaign"
	"linkboost-controlplane/services/guild"
	"linkboost-controlplane/services/ledger"
	"linkboost-controlplane/services/notification"
	"linkboost-controlplane/services/payment"
	"linkboost-controlplane/services/setting"
	"linkboost-controlplane/services/submission"
	"linkboost-controlplane/services/task"

	"github.com/casbin/casbin/v2"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("httpapi",
	fx.Provide(
		middleware.NewEnforcer,
		NewRouter,
	),
)

type RouterParams struct {
	fx.In

	Config        *config.Config
	Health        health.HealthService
	Enforcer      *casbin.Enforcer
	Campaigns     *campaign.Service
	Submissions   *submission.Service
	Payments      *payment.Service
	Guilds        *guild.Service
	Ledger        *ledger.Service
	Notifications *notification.Service
	Settings      *setting.Service
	Sweeper       *task.Service    `optional:"true"`
	Dispatcher    *task.Dispatcher `optional:"true"`
}

// NewRouter builds the gin engine serving the public API, the payment
// inbound endpoints and the admin routes.
func NewRouter(p RouterParams) *gin.Engine {
	if p.Config.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery(), metrics.Middleware(p.Config.AppName), middleware.Error())

	r.GET("/healthz", p.Health.Liveness)
	r.GET("/readyz", p.Health.Readiness)
	r.GET("/metrics", metrics.Handler())

	inbound := &InboundHandler{
		payments:      p.Payments,
		webhookSecret: []byte(p.Config.Payment.WebhookSecret),
		smsToken:      p.Config.Payment.SMSToken,
	}
	r.POST("/v1/payments/webhook", inbound.Webhook)
	r.POST("/v1/payments/sms", inbound.SMS)

	campaigns := &CampaignHandler{campaigns: p.Campaigns, submissions: p.Submissions, settings: p.Settings}
	submissions := &SubmissionHandler{submissions: p.Submissions}
	topups := &TopUpHandler{payments: p.Payments}
	accounts := &AccountHandler{ledger: p.Ledger, notifications: p.Notifications, guilds: p.Guilds}
	admin := &AdminHandler{
		campaigns:   p.Campaigns,
		submissions: p.Submissions,
		payments:    p.Payments,
		guilds:      p.Guilds,
		ledger:      p.Ledger,
		settings:    p.Settings,
		sweeper:     p.Sweeper,
		dispatcher:  p.Dispatcher,
	}

	v1 := r.Group("/v1", middleware.Identity())
	{
		v1.POST("/campaigns", campaigns.Create)
		v1.GET("/campaigns", campaigns.ListMine)
		v1.GET("/campaigns/:id", campaigns.Get)
		v1.POST("/campaigns/:id/submissions", campaigns.Submit)
		v1.GET("/campaigns/:id/submissions", campaigns.ListSubmissions)
		v1.POST("/campaigns/:id/approve-all", campaigns.ApproveAll)

		v1.GET("/submissions", submissions.ListMine)
		v1.GET("/submissions/:id", submissions.Get)
		v1.POST("/submissions/:id/approve", submissions.Approve)
		v1.POST("/submissions/:id/reject", submissions.Reject)
		v1.POST("/submissions/:id/report", submissions.Report)

		v1.GET("/packages", topups.ListPackages)
		v1.POST("/topups", topups.Create)
		v1.GET("/topups", topups.ListMine)

		v1.GET("/wallet", accounts.Wallet)
		v1.GET("/wallet/entries", accounts.Entries)
		v1.GET("/notifications", accounts.Notifications)
		v1.POST("/guilds", accounts.CreateGuild)
		v1.GET("/guilds/:id", accounts.GetGuild)
	}

	adm := v1.Group("/admin", middleware.Authorize(p.Enforcer))
	{
		adm.GET("/submissions/reported", admin.ListReported)
		adm.GET("/submissions/:id", admin.GetSubmission)
		adm.POST("/submissions/:id/resolve", admin.Resolve)

		adm.PATCH("/campaigns/:id/status", admin.SetCampaignStatus)
		adm.DELETE("/campaigns/:id", admin.DeleteCampaign)

		adm.GET("/topups/pending", admin.ListPendingTopUps)
		adm.POST("/topups/:id/approve", admin.ApproveTopUp)
		adm.POST("/topups/:id/reject", admin.RejectTopUp)
		adm.POST("/packages", admin.CreatePackage)

		adm.PUT("/guilds/:id/commission-rate", admin.SetCommissionRate)
		adm.GET("/wallets/:user_id/verify", admin.VerifyWallet)

		adm.GET("/settings", admin.Settings)
		adm.PUT("/settings/:key", admin.SetSetting)

		adm.POST("/sweeps", admin.TriggerSweep)
		adm.GET("/sweeps", admin.ListSweeps)
	}

	return r
}
