package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/crowdpen/payd"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// maxWebhookBody bounds the raw body read before authentication.
const maxWebhookBody = 1 << 20

func (a Api) CollectionWebhook(c *gin.Context) {
	body, ok := readWebhookBody(c)
	if !ok {
		return
	}
	res := a.payd.HandleCollectionWebhook(c.Request.Context(), c.Param("gateway"), body, c.Request.Header)
	respondWebhook(c, res)
}

func (a Api) TransferWebhook(c *gin.Context) {
	body, ok := readWebhookBody(c)
	if !ok {
		return
	}
	res := a.payd.HandleTransferWebhook(c.Request.Context(), c.Param("gateway"), body, c.Request.Header)
	respondWebhook(c, res)
}

// readWebhookBody reads the exact bytes the gateway signed.
func readWebhookBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		logrus.Warnf("webhook body for %s unreadable: %v", c.Param("gateway"), err)
		c.AbortWithStatusJSON(status, gin.H{"status": "error", "message": "invalid request body"})
		return nil, false
	}
	return body, true
}

func respondWebhook(c *gin.Context, res payd.WebhookResult) {
	c.JSON(res.HTTPStatus, gin.H{"status": res.ResponseStatus(), "message": res.Message})
}
