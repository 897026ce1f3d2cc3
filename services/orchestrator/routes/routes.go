// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/AleutianAI/docsgpt/services/orchestrator/handlers"
	"github.com/AleutianAI/docsgpt/services/orchestrator/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes registers every HTTP route of the orchestrator.
//
// The query routes accept any method so that OPTIONS preflights and the
// 405 for other methods pass through the CORS middleware as well.
func SetupRoutes(router *gin.Engine, queryHandler handlers.QueryHandler, checks map[string]handlers.ReadinessCheck) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/ready", handlers.Readiness(checks))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api", middleware.CORSMiddleware(), middleware.RequestIDMiddleware())
	{
		api.Any("/query", queryHandler.HandleQuery)
		api.Any("/celo-gpt", queryHandler.HandleQuery)
	}
}
