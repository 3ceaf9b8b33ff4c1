/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package api

import (
	"net/http"

	"github.com/crowdpen/payd"
	"github.com/crowdpen/payd/api/middleware"
	"github.com/crowdpen/payd/internal/metrics"
	"github.com/crowdpen/payd/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

type Api struct {
	payd    *payd.Payd
	router  *gin.Engine
	limiter ratelimit.Limiter
}

func (a Api) Router() *gin.Engine {
	router := a.router

	hooks := router.Group("/webhooks", middleware.WebhookRateLimitMiddleware(a.limiter))
	hooks.POST("/:gateway", a.CollectionWebhook)
	hooks.POST("/:gateway/transfers", a.TransferWebhook)

	conf := a.payd.Config()
	operator := router.Group("/", middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		operator.Use(middleware.SecretKeyAuthMiddleware())
	}
	operator.POST("/payouts", a.CreatePayout)
	operator.GET("/payouts/window/:recipient_id", a.PreviewPayoutWindow)
	operator.POST("/payouts/:id/receipt", a.SendPayoutReceipt)
	operator.GET("/recipients/:id/balance", a.GetRecipientBalance)

	return a.router
}

func NewAPI(p *payd.Payd) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf := p.Config()

	r := gin.New()
	r.Use(gin.Recovery(), gin.Logger())
	r.Use(otelgin.Middleware(conf.ProjectName))
	r.Use(metrics.MetricsMiddleware())

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})
	r.GET("/metrics", metrics.PrometheusHandler())

	return &Api{
		payd:    p,
		router:  r,
		limiter: ratelimit.New(conf.WebhookRateLimit, p.Redis()),
	}
}
