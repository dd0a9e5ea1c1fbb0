// Copyright 2025 the Conductor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gateway

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

const (
	ctxTenantID = "conductor.tenant_id"
	ctxActorID  = "conductor.actor_id"
)

// bearerAuth validates the HS256 bearer token and binds the caller's tenant
// and actor ids to the request. The token is identity only; authorization
// happens per operation against the tenant service.
func bearerAuth(secret []byte) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || raw == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}

			token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
				}
				return secret, nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid claims")
			}
			tenantID, _ := claims["tenant"].(string)
			actorID, _ := claims["sub"].(string)
			if tenantID == "" || actorID == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "token missing tenant or subject")
			}

			c.Set(ctxTenantID, tenantID)
			c.Set(ctxActorID, actorID)
			return next(c)
		}
	}
}

// headerAuth trusts X-Tenant-Id and X-Actor-Id headers. Debug-mode only,
// for local development without an identity provider.
func headerAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tenantID := c.Request().Header.Get("X-Tenant-Id")
			actorID := c.Request().Header.Get("X-Actor-Id")
			if tenantID == "" || actorID == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing identity headers")
			}
			c.Set(ctxTenantID, tenantID)
			c.Set(ctxActorID, actorID)
			return next(c)
		}
	}
}

func callerTenant(c echo.Context) string {
	tenantID, _ := c.Get(ctxTenantID).(string)
	return tenantID
}

func callerActor(c echo.Context) string {
	actorID, _ := c.Get(ctxActorID).(string)
	return actorID
}
