// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the orchestrator service.
//
// # Request Flow
//
//	Request
//	   │
//	   ▼
//	CORSMiddleware       (headers on every response, success or error)
//	   │
//	   ▼
//	RequestIDMiddleware  (X-Request-ID in, X-Request-ID out)
//	   │
//	   ▼
//	Handler (retrieves via GetRequestID)
//
// The query endpoint is called from browser pages on other origins, so CORS
// is permissive. There is no authentication.
package middleware

import (
	"regexp"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// =============================================================================
// CORS
// =============================================================================

// CORS header values sent on every response.
const (
	AllowOrigin  = "*"
	AllowHeaders = "authorization, x-client-info, apikey, content-type"
	AllowMethods = "POST, OPTIONS"
)

// CORSMiddleware sets permissive CORS headers before the handler runs, so
// they are present on success, error and preflight responses alike.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", AllowOrigin)
		h.Set("Access-Control-Allow-Headers", AllowHeaders)
		h.Set("Access-Control-Allow-Methods", AllowMethods)
		c.Next()
	}
}

// =============================================================================
// Request ID
// =============================================================================

const (
	// RequestIDHeader carries the request id in both directions.
	RequestIDHeader = "X-Request-ID"

	requestIDKey = "docsgpt.request_id"
)

var validRequestID = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// RequestIDMiddleware assigns every request an id. A well-formed incoming
// X-Request-ID is reused so traces can be joined across services; anything
// else is replaced with a fresh UUID.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if !validRequestID.MatchString(id) {
			id = uuid.New().String()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// GetRequestID returns the id assigned by RequestIDMiddleware, or "" when
// the middleware is not installed.
func GetRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}
