package api

import (
	"net/http"
	"strings"

	apimodel "github.com/crowdpen/payd/api/model"
	"github.com/crowdpen/payd/internal/apierror"
	"github.com/crowdpen/payd/model"
	"github.com/gin-gonic/gin"
)

// actorHeader names the operator creating a payout in the audit trail.
const actorHeader = "X-Payd-Actor"

func (a Api) CreatePayout(c *gin.Context) {
	var newPayout apimodel.CreatePayout
	if err := c.ShouldBindJSON(&newPayout); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	if err := newPayout.ValidateCreatePayout(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	req, err := newPayout.ToPayoutRequest(strings.TrimSpace(c.GetHeader(actorHeader)))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	txn, err := a.payd.CreatePayout(c.Request.Context(), req)
	if err != nil {
		a.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"message": "payout created",
		"data": gin.H{
			"id":     txn.ID,
			"amount": txn.AmountCents,
			"status": txn.Status,
		},
	})
}

func (a Api) PreviewPayoutWindow(c *gin.Context) {
	recipientID, passed := c.Params.Get("recipient_id")
	if !passed || recipientID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "recipient_id is required. pass id in the route /:recipient_id"})
		return
	}

	preview, err := a.payd.PreviewPayoutWindow(c.Request.Context(), recipientID)
	if err != nil {
		a.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": preview})
}

func (a Api) SendPayoutReceipt(c *gin.Context) {
	id := c.Param("id")
	receipt, err := a.payd.SendPayoutReceipt(c.Request.Context(), id)
	if err != nil {
		a.respondError(c, err)
		return
	}

	message := "receipt " + receipt.Status
	if receipt.Status == model.ReceiptStatusSending {
		message = "receipt send in progress"
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": message, "data": receipt})
}

func (a Api) GetRecipientBalance(c *gin.Context) {
	id := c.Param("id")
	currency := strings.ToUpper(strings.TrimSpace(c.Query("currency")))
	if currency == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "currency query parameter is required"})
		return
	}

	balance, err := a.payd.GetRecipientBalance(c.Request.Context(), id, currency)
	if err != nil {
		a.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"recipient_id": id,
			"currency":     currency,
			"balance":      balance,
		},
	})
}

func (a Api) respondError(c *gin.Context, err error) {
	c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{
		"success": false,
		"message": apierror.PublicMessage(err, a.payd.Config().IsProduction()),
	})
}
