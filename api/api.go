/*
Copyright 2025 Docpipe Authors.

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
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/docpipehq/docpipe"
	"github.com/docpipehq/docpipe/api/middleware"
	"github.com/docpipehq/docpipe/config"
	"github.com/docpipehq/docpipe/internal/admission"
)

type Api struct {
	docpipe *docpipe.Docpipe
	router  *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	ctrl := a.docpipe.Admission()

	upload := middleware.AdmissionMiddleware(ctrl, admission.ClassUpload)
	processing := middleware.AdmissionMiddleware(ctrl, admission.ClassProcessing)
	read := middleware.AdmissionMiddleware(ctrl, admission.ClassRead)
	auth := middleware.AdmissionMiddleware(ctrl, admission.ClassAuth)

	router.POST("/documents", upload, a.UploadDocument)
	router.GET("/documents", read, a.GetAllDocuments)
	router.GET("/documents/:id", read, a.GetDocument)
	router.GET("/documents/:id/status", read, a.GetDocumentStatus)
	router.GET("/documents/:id/status/wait", read, a.WaitForDocumentStatus)
	router.POST("/documents/:id/process", processing, a.ProcessDocument)
	router.POST("/documents/:id/reprocess", processing, a.ReprocessDocument)
	router.POST("/documents/:id/callbacks", processing, a.RegisterCallback)

	router.POST("/webhooks", auth, a.CreateSubscription)
	router.GET("/webhooks", read, a.GetAllSubscriptions)
	router.GET("/webhooks/:id", read, a.GetSubscription)
	router.DELETE("/webhooks/:id", auth, a.DeleteSubscription)
	router.GET("/webhooks/:id/attempts", read, a.GetDeliveryAttempts)

	router.POST("/hooks", auth, a.RegisterHook)
	router.GET("/hooks", read, a.ListHooks)
	router.GET("/hooks/:id", read, a.GetHook)
	router.PUT("/hooks/:id", auth, a.UpdateHook)
	router.DELETE("/hooks/:id", auth, a.DeleteHook)

	router.GET("/breaker", a.GetBreakerStatus)
	router.POST("/breaker/reset", a.ResetBreaker)

	return a.router
}

func NewAPI(d *docpipe.Docpipe) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	r.Use(otelgin.Middleware("docpipe"))
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	return &Api{docpipe: d, router: r}
}
