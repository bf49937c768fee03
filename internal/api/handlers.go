// Copyright 2024 AI SA Assistant Project
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

package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/your-org/str-analyzer/internal/analysis"
	"github.com/your-org/str-analyzer/internal/calculator"
	"github.com/your-org/str-analyzer/internal/chat"
	"github.com/your-org/str-analyzer/internal/export"
	"github.com/your-org/str-analyzer/internal/resilience"
	"github.com/your-org/str-analyzer/internal/session"
)

const idempotencyHeader = "Idempotency-Key"

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type renameRequest struct {
	Title string `json:"title"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type logoutAllResponse struct {
	Message string `json:"message"`
	Revoked int    `json:"revoked"`
}

type sessionView struct {
	*session.Session
	Current bool `json:"current"`
}

func createRegisterHandler(deps *Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req credentials
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, deps, badRequest(err))
			return
		}

		if _, err := deps.Auth.Register(c.Request.Context(), req.Email, req.Password); err != nil {
			writeError(c, deps, err)
			return
		}
		c.JSON(http.StatusCreated, messageResponse{Message: "User created successfully"})
	}
}

func createLoginHandler(deps *Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req credentials
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, deps, badRequest(err))
			return
		}

		token, err := deps.Auth.Login(c.Request.Context(), req.Email, req.Password, session.Metadata{
			UserAgent: c.Request.UserAgent(),
			ClientIP:  c.ClientIP(),
		})
		if err != nil {
			writeError(c, deps, err)
			return
		}
		c.JSON(http.StatusOK, token)
	}
}

func createLogoutHandler(deps *Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := deps.Auth.Logout(c.Request.Context(), identity(c)); err != nil {
			writeError(c, deps, err)
			return
		}
		c.JSON(http.StatusOK, messageResponse{Message: "Logged out successfully"})
	}
}

func createLogoutAllHandler(deps *Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := deps.Auth.LogoutAll(c.Request.Context(), identity(c))
		if err != nil {
			writeError(c, deps, err)
			return
		}
		c.JSON(http.StatusOK, logoutAllResponse{Message: "Logged out of all sessions", Revoked: n})
	}
}

func createListSessionsHandler(deps *Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := identity(c)
		sessions, err := deps.Auth.Sessions(c.Request.Context(), id)
		if err != nil {
			writeError(c, deps, err)
			return
		}

		views := make([]sessionView, 0, len(sessions))
		for _, sess := range sessions {
			views = append(views, sessionView{Session: sess, Current: sess.ID == id.SessionID})
		}
		c.JSON(http.StatusOK, views)
	}
}

func createMeHandler(deps *Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := deps.Auth.CurrentUser(c.Request.Context(), identity(c))
		if err != nil {
			writeError(c, deps, err)
			return
		}
		c.JSON(http.StatusOK, user)
	}
}

func createCalculateHandler(deps *Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		var form calculator.PropertyForm
		if err := c.ShouldBindJSON(&form); err != nil {
			writeError(c, deps, badRequest(err))
			return
		}

		calc, err := analysis.Calculate(form)
		if err != nil {
			writeError(c, deps, err)
			return
		}
		c.JSON(http.StatusOK, calc)
	}
}

func createChatHandler(deps *Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req chat.RelayRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, deps, badRequest(err))
			return
		}
		req.IdempotencyKey = c.GetHeader(idempotencyHeader)

		resp, err := deps.Chats.Relay(c.Request.Context(), identity(c).UserID, req)
		if err != nil {
			writeError(c, deps, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

func createListChatsHandler(deps *Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		all, err := boolQuery(c, "all")
		if err != nil {
			writeError(c, deps, err)
			return
		}

		chats, err := deps.Chats.List(c.Request.Context(), identity(c).UserID, all)
		if err != nil {
			writeError(c, deps, err)
			return
		}
		c.JSON(http.StatusOK, chats)
	}
}

func createCreateChatHandler(deps *Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		created, err := deps.Chats.Create(c.Request.Context(), identity(c).UserID)
		if err != nil {
			writeError(c, deps, err)
			return
		}
		c.JSON(http.StatusCreated, created)
	}
}

func createRenameChatHandler(deps *Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req renameRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, deps, badRequest(err))
			return
		}

		renamed, err := deps.Chats.Rename(c.Request.Context(), identity(c).UserID, c.Param("id"), req.Title)
		if err != nil {
			writeError(c, deps, err)
			return
		}
		c.JSON(http.StatusOK, renamed)
	}
}

func createDeleteChatHandler(deps *Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := deps.Chats.Delete(c.Request.Context(), identity(c).UserID, c.Param("id")); err != nil {
			writeError(c, deps, err)
			return
		}
		noContent(c)
	}
}

func createMessagesHandler(deps *Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		includeHidden, err := boolQuery(c, "includeHidden")
		if err != nil {
			writeError(c, deps, err)
			return
		}

		messages, err := deps.Chats.Messages(c.Request.Context(), identity(c).UserID, c.Query("chatId"), includeHidden)
		if err != nil {
			writeError(c, deps, err)
			return
		}
		c.JSON(http.StatusOK, messages)
	}
}

func createExportChatHandler(deps *Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		userID, chatID := identity(c).UserID, c.Param("id")

		found, err := deps.Chats.Get(ctx, userID, chatID)
		if err != nil {
			writeError(c, deps, err)
			return
		}
		messages, err := deps.Chats.Messages(ctx, userID, chatID, false)
		if err != nil {
			writeError(c, deps, err)
			return
		}

		var buf bytes.Buffer
		if err := export.Transcript(&buf, found.Title, messages, deps.Export); err != nil {
			writeError(c, deps, resilience.NewInternalError("Failed to export chat", err))
			return
		}
		sendPDF(c, export.TranscriptFilename(chatID), buf.Bytes())
	}
}

func createAnalyzeHandler(deps *Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		var form calculator.PropertyForm
		if err := c.ShouldBindJSON(&form); err != nil {
			writeError(c, deps, badRequest(err))
			return
		}

		result, err := deps.Analyses.Run(c.Request.Context(), identity(c).UserID, c.Param("id"),
			c.GetHeader(idempotencyHeader), form)
		if err != nil {
			writeError(c, deps, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func createGetAnalysisHandler(deps *Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		data, err := deps.Analyses.Get(c.Request.Context(), identity(c).UserID, c.Param("chatId"))
		if err != nil {
			writeError(c, deps, err)
			return
		}
		if data == nil {
			data = []byte("null")
		}
		c.Data(http.StatusOK, "application/json; charset=utf-8", data)
	}
}

func createSaveAnalysisHandler(deps *Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := c.GetRawData()
		if err != nil {
			writeError(c, deps, badRequest(err))
			return
		}

		saved, err := deps.Analyses.Save(c.Request.Context(), identity(c).UserID, c.Param("chatId"), body)
		if err != nil {
			writeError(c, deps, err)
			return
		}
		c.Data(http.StatusOK, "application/json; charset=utf-8", saved)
	}
}

func createExportAnalysisHandler(deps *Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		chatID := c.Param("chatId")
		record, err := deps.Analyses.Record(c.Request.Context(), identity(c).UserID, chatID)
		if err != nil {
			writeError(c, deps, err)
			return
		}

		var buf bytes.Buffer
		if err := export.Report(&buf, *record, deps.Export); err != nil {
			writeError(c, deps, resilience.NewInternalError("Failed to export analysis", err))
			return
		}
		sendPDF(c, export.ReportFilename(chatID), buf.Bytes())
	}
}

func sendPDF(c *gin.Context, filename string, data []byte) {
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "application/pdf", data)
}

func boolQuery(c *gin.Context, name string) (bool, error) {
	raw := c.Query(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, resilience.NewValidationError("Invalid query parameter", map[string]string{name: "Must be true or false"})
	}
	return v, nil
}
