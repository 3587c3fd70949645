package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"linkboost-controlplane/pkg/config"
	"linkboost-controlplane/pkg/health"
	"linkboost-controlplane/pkg/middleware"
	"linkboost-controlplane/services/campaign"
	"linkboost-controlplane/services/guild"
	"linkboost-controlplane/services/ledger"
	"linkboost-controlplane/services/notification"
	"linkboost-controlplane/services/payment"
	"linkboost-controlplane/services/setting"
	"linkboost-controlplane/services/submission"
	"linkboost-controlplane/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
	gin.SetMode(gin.TestMode)
}

const (
	webhookSecret = "whsec"
	smsToken      = "sms-token"
)

type fixture struct {
	router   *gin.Engine
	ledger   *ledger.Service
	payments *payment.Service
	pkg      *payment.Package
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t,
		&campaign.Campaign{}, &submission.Submission{},
		&payment.Package{}, &payment.TopUpRequest{},
		&guild.Guild{}, &guild.GuildMember{},
		&ledger.Wallet{}, &ledger.LedgerEntry{},
		&notification.Notification{}, &setting.Setting{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{AppName: "linkboost-test"}
	cfg.Payment.WebhookSecret = webhookSecret
	cfg.Payment.SMSToken = smsToken
	cfg.Reward.Coin = 5
	cfg.Reward.ProofCount = 1
	cfg.Reward.VisitTimerSeconds = 30
	cfg.Reward.AutoApproveMinutes = 2880
	cfg.Reward.DefaultCommissionRate = 5
	cfg.Reward.CampaignCostPerVisit = 1
	cfg.AccessControl.AdminRole = "admin"

	enforcer, err := middleware.NewEnforcer(cfg)
	require.NoError(t, err)

	seq := &testutil.SequenceStub{}
	purger := &testutil.PurgerSpy{}
	notifications := notification.NewService(notification.ServiceParams{DB: db, Node: node})
	settings := setting.NewService(setting.ServiceParams{DB: db, Config: cfg})
	ledgerSvc := ledger.NewService(ledger.ServiceParams{DB: db, Node: node, Sink: notifications})
	submissions := submission.NewService(submission.ServiceParams{
		DB: db, Node: node, Ledger: ledgerSvc, Settings: settings, Artifacts: purger, Sink: notifications,
	})
	campaigns := campaign.NewService(campaign.ServiceParams{
		DB: db, Node: node, Seq: seq, Ledger: ledgerSvc, Settings: settings, Artifacts: purger, Dependents: submissions,
	})
	guilds := guild.NewService(guild.ServiceParams{DB: db, Node: node, Ledger: ledgerSvc, Settings: settings})
	payments := payment.NewService(payment.ServiceParams{
		DB: db, Node: node, Seq: seq, Ledger: ledgerSvc, Guild: guilds, Sink: notifications,
	})

	pkg, err := payments.CreatePackage(context.Background(), "Starter", 100, decimal.NewFromInt(258))
	require.NoError(t, err)

	router := NewRouter(RouterParams{
		Config:        cfg,
		Health:        health.ProvideHealth(health.HealthParams{DB: db}),
		Enforcer:      enforcer,
		Campaigns:     campaigns,
		Submissions:   submissions,
		Payments:      payments,
		Guilds:        guilds,
		Ledger:        ledgerSvc,
		Notifications: notifications,
		Settings:      settings,
	})
	return &fixture{router: router, ledger: ledgerSvc, payments: payments, pkg: pkg}
}

type call struct {
	method  string
	path    string
	body    any
	user    string
	role    string
	headers map[string]string
}

func (f *fixture) do(t *testing.T, c call) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var raw []byte
	switch b := c.body.(type) {
	case nil:
	case []byte:
		raw = b
	default:
		var err error
		raw, err = json.Marshal(b)
		require.NoError(t, err)
	}

	req := httptest.NewRequest(c.method, c.path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if c.user != "" {
		req.Header.Set(middleware.HeaderUserID, c.user)
	}
	if c.role != "" {
		req.Header.Set(middleware.HeaderUserRole, c.role)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w, out
}

func signed(body []byte) map[string]string {
	return map[string]string{payment.SignatureHeader: payment.Sign([]byte(webhookSecret), body)}
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	w, out := f.do(t, call{method: http.MethodGet, path: "/healthz"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "healthy", out["status"])
}

func TestIdentityRequired(t *testing.T) {
	f := newFixture(t)
	w, _ := f.do(t, call{method: http.MethodGet, path: "/v1/wallet"})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	body := []byte(`{"transaction_id":"TX-1","status":"paid","amount":258}`)

	w, _ := f.do(t, call{method: http.MethodPost, path: "/v1/payments/webhook", body: body,
		headers: map[string]string{payment.SignatureHeader: "deadbeef"}})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWebhookCreditsOnce(t *testing.T) {
	f := newFixture(t)

	w, _ := f.do(t, call{method: http.MethodPost, path: "/v1/topups", user: "payer",
		body: gin.H{"package_id": f.pkg.PackageID, "channel": "bkash", "transaction_id": "tx-1"}})
	require.Equal(t, http.StatusCreated, w.Code)

	body := []byte(`{"transaction_id":"TX-1","status":"paid","amount":258}`)
	for _, want := range []string{"credited", "ignored"} {
		w, out := f.do(t, call{method: http.MethodPost, path: "/v1/payments/webhook", body: body, headers: signed(body)})
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, want, out["result"])
	}

	wallet, err := f.ledger.GetWallet(context.Background(), "payer")
	require.NoError(t, err)
	require.Equal(t, int64(100), wallet.Diamond)
}

func TestWebhookIgnoresNonFinalStatus(t *testing.T) {
	f := newFixture(t)
	body := []byte(`{"transaction_id":"TX-2","status":"processing","amount":258}`)

	w, out := f.do(t, call{method: http.MethodPost, path: "/v1/payments/webhook", body: body, headers: signed(body)})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "ignored", out["result"])
	require.Equal(t, payment.ReasonNotFinal, out["reason"])
}

func TestSMSInbound(t *testing.T) {
	f := newFixture(t)
	body := []byte(`{"sender":"+8801711000111","message":"hello","amount":258}`)

	w, _ := f.do(t, call{method: http.MethodPost, path: "/v1/payments/sms", body: body,
		headers: map[string]string{payment.SMSTokenHeader: "wrong"}})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w, out := f.do(t, call{method: http.MethodPost, path: "/v1/payments/sms", body: body,
		headers: map[string]string{payment.SMSTokenHeader: smsToken}})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, payment.ReasonUnparseable, out["reason"])

	body = []byte(`{"sender":"+8801711000111","message":"You have received Tk 258.00. TrxID 9ABC1DEF at 01/03/2026","amount":258}`)
	w, out = f.do(t, call{method: http.MethodPost, path: "/v1/payments/sms", body: body,
		headers: map[string]string{payment.SMSTokenHeader: smsToken}})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "ignored", out["result"])
	require.Equal(t, payment.ReasonNoMatch, out["reason"])
}

func TestSubmissionFlowOverHTTP(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ledger.Credit(ctx, "owner", ledger.Coin, decimal.NewFromInt(10), nil, "seed:owner"))

	w, out := f.do(t, call{method: http.MethodPost, path: "/v1/campaigns", user: "owner",
		body: gin.H{"url": "https://example.com", "target_visits": 5}})
	require.Equal(t, http.StatusCreated, w.Code)
	campaignID := out["campaign_id"].(string)

	w, out = f.do(t, call{method: http.MethodGet, path: "/v1/campaigns/" + campaignID, user: "visitor"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, campaignID, out["campaign_id"])
	require.EqualValues(t, 30, out["visit_timer_seconds"])
	require.EqualValues(t, 1, out["proof_count"])

	w, _ = f.do(t, call{method: http.MethodPost, path: "/v1/campaigns/" + campaignID + "/submissions", user: "owner",
		body: gin.H{"proof_artifacts": []string{"a.png"}}})
	require.Equal(t, http.StatusForbidden, w.Code)

	w, out = f.do(t, call{method: http.MethodPost, path: "/v1/campaigns/" + campaignID + "/submissions", user: "visitor",
		body: gin.H{"proof_artifacts": []string{"a.png"}}})
	require.Equal(t, http.StatusCreated, w.Code)
	submissionID := out["submission_id"].(string)

	for _, viewer := range []string{"visitor", "owner"} {
		w, out = f.do(t, call{method: http.MethodGet, path: "/v1/submissions/" + submissionID, user: viewer})
		require.Equal(t, http.StatusOK, w.Code, viewer)
		require.Equal(t, submissionID, out["submission_id"])
	}
	w, _ = f.do(t, call{method: http.MethodGet, path: "/v1/submissions/" + submissionID, user: "intruder"})
	require.Equal(t, http.StatusForbidden, w.Code)
	w, _ = f.do(t, call{method: http.MethodGet, path: "/v1/submissions/" + submissionID, user: "intruder", role: "admin"})
	require.Equal(t, http.StatusForbidden, w.Code)
	w, out = f.do(t, call{method: http.MethodGet, path: "/v1/admin/submissions/" + submissionID, user: "boss", role: "admin"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, submissionID, out["submission_id"])
	w, _ = f.do(t, call{method: http.MethodGet, path: "/v1/admin/submissions/" + submissionID, user: "intruder"})
	require.Equal(t, http.StatusForbidden, w.Code)

	w, _ = f.do(t, call{method: http.MethodPost, path: "/v1/submissions/" + submissionID + "/approve", user: "intruder"})
	require.Equal(t, http.StatusForbidden, w.Code)

	w, out = f.do(t, call{method: http.MethodPost, path: "/v1/submissions/" + submissionID + "/approve", user: "owner"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "ok", out["result"])

	w, out = f.do(t, call{method: http.MethodPost, path: "/v1/submissions/" + submissionID + "/approve", user: "owner"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "noop", out["result"])

	w, out = f.do(t, call{method: http.MethodGet, path: "/v1/wallet", user: "visitor"})
	require.Equal(t, http.StatusOK, w.Code)
	require.EqualValues(t, 5, out["coin"])

	w, _ = f.do(t, call{method: http.MethodPost, path: "/v1/submissions/" + submissionID + "/report", user: "visitor",
		body: gin.H{"message": "please"}})
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestAdminRoutesRequireRole(t *testing.T) {
	f := newFixture(t)

	w, _ := f.do(t, call{method: http.MethodGet, path: "/v1/admin/submissions/reported", user: "u1"})
	require.Equal(t, http.StatusForbidden, w.Code)

	w, out := f.do(t, call{method: http.MethodGet, path: "/v1/admin/submissions/reported", user: "boss", role: "Admin"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, out["data"])

	w, _ = f.do(t, call{method: http.MethodPost, path: "/v1/admin/submissions/missing/resolve", user: "boss", role: "admin",
		body: gin.H{"decision": "maybe"}})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = f.do(t, call{method: http.MethodPost, path: "/v1/admin/submissions/missing/resolve", user: "boss", role: "admin",
		body: gin.H{"decision": "owner_wins"}})
	require.Equal(t, http.StatusNotFound, w.Code)

	w, _ = f.do(t, call{method: http.MethodPost, path: "/v1/admin/sweeps", user: "boss", role: "admin"})
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAdminTopUpApprovalIsIdempotent(t *testing.T) {
	f := newFixture(t)
	req, err := f.payments.CreateTopUpRequest(context.Background(), payment.TopUpInput{
		UserID: "payer", PackageID: f.pkg.PackageID, TransactionID: "TX-9",
	})
	require.NoError(t, err)

	path := "/v1/admin/topups/" + req.RequestID + "/approve"
	w, out := f.do(t, call{method: http.MethodPost, path: path, user: "boss", role: "admin"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "ok", out["result"])

	w, out = f.do(t, call{method: http.MethodPost, path: path, user: "boss", role: "admin"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "noop", out["result"])
}
