// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package mockserver

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-openapi/strfmt"
	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/Pactoria/internal/api"
	"github.com/AleutianAI/Pactoria/internal/realtime"
	"github.com/AleutianAI/Pactoria/internal/telemetry"
)

// Request bodies carry binding tags; gin validates them with validator/v10.

type loginBody struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type createBody struct {
	Title        string       `json:"title" binding:"required,min=3,max=200"`
	ContractType string       `json:"contract_type" binding:"required"`
	PlainEnglish string       `json:"plain_english_input"`
	ClientName   string       `json:"client_name"`
	SupplierName string       `json:"supplier_name"`
	Value        float64      `json:"contract_value" binding:"gte=0"`
	Currency     string       `json:"currency" binding:"omitempty,len=3"`
	StartDate    *strfmt.Date `json:"start_date"`
	EndDate      *strfmt.Date `json:"end_date"`
	TemplateID   string       `json:"template_id"`
}

type bulkStatusBody struct {
	ContractIDs []string           `json:"contract_ids" binding:"required,min=1,max=100"`
	Status      api.ContractStatus `json:"status" binding:"required"`
}

type bulkDeleteBody struct {
	ContractIDs []string `json:"contract_ids" binding:"required,min=1,max=100"`
}

type inviteBody struct {
	Email    string `json:"email" binding:"required,email"`
	FullName string `json:"full_name" binding:"required"`
	Role     string `json:"role" binding:"required,oneof=admin manager viewer"`
}

// =============================================================================
// Error bodies
// =============================================================================

func abortDetail(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": detail})
}

// abortBinding converts a binding error into a 422 with the list form of
// detail.
func abortBinding(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"detail": []api.FieldError{{
			Loc:  api.Loc{"body"},
			Msg:  "Invalid request body",
			Type: "value_error.jsondecode",
		}}})
		return
	}

	items := make([]api.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		items = append(items, api.FieldError{
			Loc:  api.Loc{"body", jsonName(fe.Field())},
			Msg:  fieldMessage(fe),
			Type: "value_error." + fe.Tag(),
		})
	}
	c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"detail": items})
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "field required"
	case "email":
		return "value is not a valid email address"
	case "min":
		return "ensure this value has at least " + fe.Param() + " characters"
	case "max":
		return "ensure this value has at most " + fe.Param() + " characters"
	case "oneof":
		return "value is not one of: " + fe.Param()
	default:
		return "invalid value"
	}
}

// jsonName maps a Go field name to its snake_case JSON key.
func jsonName(field string) string {
	var b strings.Builder
	for i, r := range field {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && (field[i-1] < 'A' || field[i-1] > 'Z') {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

func currentUser(c *gin.Context) string {
	return c.GetString(userKey)
}

// =============================================================================
// Auth
// =============================================================================

func (s *Server) handleLogin(c *gin.Context) {
	var body loginBody
	if err := c.ShouldBindJSON(&body); err != nil {
		abortBinding(c, err)
		return
	}
	user, ok := s.store.authenticate(body.Email, body.Password)
	if !ok {
		abortDetail(c, http.StatusUnauthorized, "Incorrect email or password")
		return
	}
	token, err := s.IssueToken(string(user.Email))
	if err != nil {
		s.logger.Error("issue token failed", "error", err)
		abortDetail(c, http.StatusInternalServerError, "Could not issue token")
		return
	}
	s.logger.Info("login", "user", user.ID)
	c.JSON(http.StatusOK, api.TokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int(s.tokenTTL.Seconds()),
		User:        user,
	})
}

func (s *Server) handleMe(c *gin.Context) {
	user, ok := s.store.user(currentUser(c))
	if !ok {
		abortDetail(c, http.StatusUnauthorized, "Could not validate credentials")
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *Server) handleWebSocket(c *gin.Context) {
	email, err := s.verifyToken(extractBearerToken(c))
	if err != nil {
		abortDetail(c, http.StatusUnauthorized, "Could not validate credentials")
		return
	}
	// The upgrade request bypasses otelgin's span once hijacked.
	ctx := telemetry.ExtractContext(c.Request.Context(), c.Request.Header)
	s.logger.Debug("websocket upgrade", "user", email, "trace_id", telemetry.TraceID(ctx))
	s.hub.serve(c, email)
}

// =============================================================================
// Contracts
// =============================================================================

func (s *Server) handleListContracts(c *gin.Context) {
	page, _ := strconv.Atoi(c.Query("page"))
	size, _ := strconv.Atoi(c.Query("size"))
	c.JSON(http.StatusOK, s.store.listContracts(api.ListParams{
		Page:         page,
		Size:         size,
		Status:       api.ContractStatus(c.Query("status")),
		ContractType: c.Query("contract_type"),
		Search:       c.Query("search"),
	}))
}

func (s *Server) handleGetContract(c *gin.Context) {
	contract, ok := s.store.getContract(c.Param("id"))
	if !ok {
		abortDetail(c, http.StatusNotFound, "Contract not found")
		return
	}
	c.JSON(http.StatusOK, contract)
}

func (s *Server) handleCreateContract(c *gin.Context) {
	var body createBody
	if err := c.ShouldBindJSON(&body); err != nil {
		abortBinding(c, err)
		return
	}
	user, _ := s.store.user(currentUser(c))
	contract := s.store.createContract(api.ContractCreate{
		Title:        body.Title,
		ContractType: body.ContractType,
		PlainEnglish: body.PlainEnglish,
		ClientName:   body.ClientName,
		SupplierName: body.SupplierName,
		Value:        body.Value,
		Currency:     body.Currency,
		StartDate:    body.StartDate,
		EndDate:      body.EndDate,
		TemplateID:   body.TemplateID,
	}, user.ID, s.clock.Now())

	s.publish(realtime.TypeContractCreated, contract)
	c.JSON(http.StatusCreated, contract)
}

func (s *Server) handleUpdateContract(c *gin.Context) {
	var body api.ContractUpdate
	if err := c.ShouldBindJSON(&body); err != nil {
		abortBinding(c, err)
		return
	}
	if body.Status != nil && !body.Status.Valid() {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"detail": []api.FieldError{{
			Loc: api.Loc{"body", "status"}, Msg: "invalid contract status", Type: "value_error.enum",
		}}})
		return
	}
	contract, ok := s.store.updateContract(c.Param("id"), body, s.clock.Now())
	if !ok {
		abortDetail(c, http.StatusNotFound, "Contract not found")
		return
	}
	s.publish(realtime.TypeContractUpdated, contract)
	c.JSON(http.StatusOK, contract)
}

func (s *Server) handleDeleteContract(c *gin.Context) {
	id := c.Param("id")
	if !s.store.deleteContract(id) {
		abortDetail(c, http.StatusNotFound, "Contract not found")
		return
	}
	s.publish(realtime.TypeContractDeleted, gin.H{"id": id})
	c.Status(http.StatusNoContent)
}

func (s *Server) handleBulkStatus(c *gin.Context) {
	var body bulkStatusBody
	if err := c.ShouldBindJSON(&body); err != nil {
		abortBinding(c, err)
		return
	}
	if !body.Status.Valid() {
		abortDetail(c, http.StatusBadRequest, "Invalid status: "+string(body.Status))
		return
	}

	var res api.BulkResult
	now := s.clock.Now()
	for _, id := range body.ContractIDs {
		status := body.Status
		contract, ok := s.store.updateContract(id, api.ContractUpdate{Status: &status}, now)
		if !ok {
			res.FailedCount++
			res.FailedIDs = append(res.FailedIDs, id)
			res.Errors = append(res.Errors, api.BulkError{ID: id, Error: "Contract not found"})
			continue
		}
		res.SuccessCount++
		s.publish(realtime.TypeContractUpdated, contract)
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleBulkDelete(c *gin.Context) {
	var body bulkDeleteBody
	if err := c.ShouldBindJSON(&body); err != nil {
		abortBinding(c, err)
		return
	}

	var res api.BulkResult
	for _, id := range body.ContractIDs {
		if !s.store.deleteContract(id) {
			res.FailedCount++
			res.FailedIDs = append(res.FailedIDs, id)
			res.Errors = append(res.Errors, api.BulkError{ID: id, Error: "Contract not found"})
			continue
		}
		res.SuccessCount++
		s.publish(realtime.TypeContractDeleted, gin.H{"id": id})
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) publish(typ string, payload any) {
	msg, err := realtime.NewMessage(typ, TopicContracts, payload)
	if err != nil {
		s.logger.Error("encode realtime event failed", "type", typ, "error", err)
		return
	}
	s.hub.Broadcast(TopicContracts, msg)
}

// =============================================================================
// Templates, analytics, notifications, team
// =============================================================================

func (s *Server) handleListTemplates(c *gin.Context) {
	c.JSON(http.StatusOK, s.store.listTemplates(c.Query("category")))
}

func (s *Server) handleGetTemplate(c *gin.Context) {
	t, ok := s.store.template(c.Param("id"))
	if !ok {
		abortDetail(c, http.StatusNotFound, "Template not found")
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) handleDashboard(c *gin.Context) {
	c.JSON(http.StatusOK, s.store.dashboard(s.clock.Now()))
}

func (s *Server) handleListNotifications(c *gin.Context) {
	unread, _ := strconv.ParseBool(c.Query("unread_only"))
	c.JSON(http.StatusOK, s.store.listNotifications(unread))
}

func (s *Server) handleMarkRead(c *gin.Context) {
	if !s.store.markRead(c.Param("id")) {
		abortDetail(c, http.StatusNotFound, "Notification not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Notification marked as read"})
}

func (s *Server) handleListTeam(c *gin.Context) {
	c.JSON(http.StatusOK, s.store.listTeam())
}

func (s *Server) handleInvite(c *gin.Context) {
	var body inviteBody
	if err := c.ShouldBindJSON(&body); err != nil {
		abortBinding(c, err)
		return
	}
	m, ok := s.store.invite(api.InviteRequest{
		Email:    strfmt.Email(body.Email),
		FullName: body.FullName,
		Role:     body.Role,
	}, s.clock.Now())
	if !ok {
		abortDetail(c, http.StatusConflict, "User already a team member")
		return
	}
	c.JSON(http.StatusCreated, m)
}
