// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers the /depgraph endpoints on rg.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Endpoints:
//
//	GET  /v1/depgraph/health - Health and publish counters
//	POST /v1/depgraph/files - List eligible files
//	POST /v1/depgraph/graph - Rebuild and wait for the result
//	GET  /v1/depgraph/graph - The published graph
//	GET  /v1/depgraph/neighborhood - Neighborhood of a focus file
//	GET  /v1/depgraph/ws - Websocket push channel
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	depgraph := rg.Group("/depgraph")
	{
		depgraph.GET("/health", handlers.HandleHealth)

		depgraph.POST("/files", handlers.HandleFiles)
		depgraph.POST("/graph", handlers.HandleRebuild)
		depgraph.GET("/graph", handlers.HandleGetGraph)
		depgraph.GET("/neighborhood", handlers.HandleNeighborhood)

		depgraph.GET("/ws", handlers.HandleWebSocket)
	}
}
