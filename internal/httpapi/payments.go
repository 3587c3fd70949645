package httpapi

import (
	"errors"
	"io"
	"net/http"

	"linkboost-controlplane/pkg/errutil"
	"linkboost-controlplane/pkg/metrics"
	"linkboost-controlplane/services/payment"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"
)

const maxInboundBody = 64 << 10

// InboundHandler receives payment confirmations from the gateway and the SMS
// forwarder. Every well-formed, authenticated call answers 200 unless the
// store failed, so the sender only retries what can still succeed.
type InboundHandler struct {
	payments      *payment.Service
	webhookSecret []byte
	smsToken      string
}

func readBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxInboundBody))
	if err != nil {
		fail(c, errutil.BadRequest("unreadable body", err))
		return nil, false
	}
	return body, true
}

func (h *InboundHandler) Webhook(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}
	if !payment.VerifySignature(h.webhookSecret, body, c.GetHeader(payment.SignatureHeader)) {
		zap.L().Warn("webhook signature rejected", zap.String("client_ip", c.ClientIP()))
		fail(c, errutil.Unauthorized("invalid signature", nil))
		return
	}

	var p payment.WebhookPayload
	if err := binding.JSON.BindBody(body, &p); err != nil {
		fail(c, errutil.BadRequest("invalid payload", err))
		return
	}

	conf, ok := p.Confirmation(body)
	if !ok {
		h.drop(c, payment.SourceWebhook, payment.ReasonNotFinal)
		return
	}
	h.reconcile(c, conf)
}

func (h *InboundHandler) SMS(c *gin.Context) {
	if !payment.VerifyToken(h.smsToken, c.GetHeader(payment.SMSTokenHeader)) {
		zap.L().Warn("sms gateway token rejected", zap.String("client_ip", c.ClientIP()))
		fail(c, errutil.Unauthorized("invalid gateway token", nil))
		return
	}
	body, ok := readBody(c)
	if !ok {
		return
	}

	var p payment.SMSPayload
	if err := binding.JSON.BindBody(body, &p); err != nil {
		fail(c, errutil.BadRequest("invalid payload", err))
		return
	}

	conf, ok := p.Confirmation(body)
	if !ok {
		h.drop(c, payment.SourceSMS, payment.ReasonUnparseable)
		return
	}
	h.reconcile(c, conf)
}

func (h *InboundHandler) drop(c *gin.Context, source, reason string) {
	metrics.Default().Reconcile(source, string(payment.Ignored))
	zap.L().Info("confirmation dropped", zap.String("source", source), zap.String("reason", reason))
	c.JSON(http.StatusOK, payment.Ignore(reason))
}

func (h *InboundHandler) reconcile(c *gin.Context, conf payment.Confirmation) {
	res, err := h.payments.Reconcile(c.Request.Context(), conf)
	switch {
	case errors.Is(err, payment.ErrInvalidTransaction):
		c.JSON(http.StatusOK, payment.Ignore(payment.ReasonUnparseable))
	case err != nil:
		fail(c, err)
	default:
		c.JSON(http.StatusOK, res)
	}
}

type TopUpHandler struct {
	payments *payment.Service
}

func (h *TopUpHandler) ListPackages(c *gin.Context) {
	items, err := h.payments.ListPackages(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items})
}

type CreateTopUpRequest struct {
	PackageID     string `json:"package_id" binding:"required"`
	Channel       string `json:"channel"`
	Sender        string `json:"sender"`
	TransactionID string `json:"transaction_id" binding:"required"`
}

func (h *TopUpHandler) Create(c *gin.Context) {
	var req CreateTopUpRequest
	if !bind(c, &req) {
		return
	}

	topup, err := h.payments.CreateTopUpRequest(c.Request.Context(), payment.TopUpInput{
		UserID:        userID(c),
		PackageID:     req.PackageID,
		Channel:       req.Channel,
		Sender:        req.Sender,
		TransactionID: req.TransactionID,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, topup)
}

func (h *TopUpHandler) ListMine(c *gin.Context) {
	items, err := h.payments.ListRequests(c.Request.Context(), userID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items})
}
