package httpapi

import (
	"net/http"

	"linkboost-controlplane/pkg/db/pagination"
	"linkboost-controlplane/pkg/errutil"
	"linkboost-controlplane/services/guild"
	"linkboost-controlplane/services/ledger"
	"linkboost-controlplane/services/notification"

	"github.com/gin-gonic/gin"
)

type AccountHandler struct {
	ledger        *ledger.Service
	notifications *notification.Service
	guilds        *guild.Service
}

func bindPage(c *gin.Context) (pagination.Pagination, bool) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		fail(c, errutil.BadRequest("invalid pagination", err))
		return page, false
	}
	return page, true
}

func (h *AccountHandler) Wallet(c *gin.Context) {
	w, err := h.ledger.GetWallet(c.Request.Context(), userID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

func (h *AccountHandler) Entries(c *gin.Context) {
	page, ok := bindPage(c)
	if !ok {
		return
	}
	items, info, err := h.ledger.ListEntries(c.Request.Context(), userID(c), page)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items, "page_info": info})
}

func (h *AccountHandler) Notifications(c *gin.Context) {
	page, ok := bindPage(c)
	if !ok {
		return
	}
	items, info, err := h.notifications.List(c.Request.Context(), userID(c), page)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items, "page_info": info})
}

type CreateGuildRequest struct {
	Name string `json:"name" binding:"required"`
}

func (h *AccountHandler) CreateGuild(c *gin.Context) {
	var req CreateGuildRequest
	if !bind(c, &req) {
		return
	}
	g, err := h.guilds.CreateGuild(c.Request.Context(), req.Name, userID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, g)
}

func (h *AccountHandler) GetGuild(c *gin.Context) {
	g, err := h.guilds.GetGuild(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}
