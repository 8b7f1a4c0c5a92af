// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"github.com/go-openapi/strfmt"
)

// =============================================================================
// Auth
// =============================================================================

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    strfmt.Email `json:"email"`
	Password string       `json:"password"`
}

// User is the authenticated account.
type User struct {
	ID          string          `json:"id"`
	Email       strfmt.Email    `json:"email"`
	FullName    string          `json:"full_name"`
	Role        string          `json:"role"`
	CompanyID   string          `json:"company_id,omitempty"`
	IsActive    bool            `json:"is_active"`
	CreatedAt   strfmt.DateTime `json:"created_at"`
	LastLoginAt strfmt.DateTime `json:"last_login_at,omitzero"`
}

// TokenResponse is returned by a successful login.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	User        User   `json:"user"`
}

// =============================================================================
// Contracts
// =============================================================================

// ContractStatus is the lifecycle state of a contract.
type ContractStatus string

const (
	StatusDraft      ContractStatus = "draft"
	StatusActive     ContractStatus = "active"
	StatusCompleted  ContractStatus = "completed"
	StatusExpired    ContractStatus = "expired"
	StatusTerminated ContractStatus = "terminated"
)

// Valid reports whether s is a known status.
func (s ContractStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusActive, StatusCompleted, StatusExpired, StatusTerminated:
		return true
	}
	return false
}

// Contract is a contract record.
type Contract struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	ContractType string          `json:"contract_type"`
	Status       ContractStatus  `json:"status"`
	ClientName   string          `json:"client_name,omitempty"`
	SupplierName string          `json:"supplier_name,omitempty"`
	Value        float64         `json:"contract_value,omitempty"`
	Currency     string          `json:"currency,omitempty"`
	StartDate    *strfmt.Date    `json:"start_date,omitempty"`
	EndDate      *strfmt.Date    `json:"end_date,omitempty"`
	Content      string          `json:"content,omitempty"`
	TemplateID   string          `json:"template_id,omitempty"`
	Version      int             `json:"version"`
	CreatedBy    string          `json:"created_by,omitempty"`
	CreatedAt    strfmt.DateTime `json:"created_at"`
	UpdatedAt    strfmt.DateTime `json:"updated_at,omitzero"`
}

// ContractCreate is the body of POST /contracts.
type ContractCreate struct {
	Title        string       `json:"title"`
	ContractType string       `json:"contract_type"`
	PlainEnglish string       `json:"plain_english_input,omitempty"`
	ClientName   string       `json:"client_name,omitempty"`
	SupplierName string       `json:"supplier_name,omitempty"`
	Value        float64      `json:"contract_value,omitempty"`
	Currency     string       `json:"currency,omitempty"`
	StartDate    *strfmt.Date `json:"start_date,omitempty"`
	EndDate      *strfmt.Date `json:"end_date,omitempty"`
	TemplateID   string       `json:"template_id,omitempty"`
}

// ContractUpdate is the body of PUT /contracts/{id}. Nil fields are left
// unchanged.
type ContractUpdate struct {
	Title        *string         `json:"title,omitempty"`
	Status       *ContractStatus `json:"status,omitempty"`
	ClientName   *string         `json:"client_name,omitempty"`
	SupplierName *string         `json:"supplier_name,omitempty"`
	Value        *float64        `json:"contract_value,omitempty"`
	Content      *string         `json:"content,omitempty"`
	StartDate    *strfmt.Date    `json:"start_date,omitempty"`
	EndDate      *strfmt.Date    `json:"end_date,omitempty"`
}

// Apply returns c with every non-nil field of u applied.
func (u ContractUpdate) Apply(c Contract) Contract {
	if u.Title != nil {
		c.Title = *u.Title
	}
	if u.Status != nil {
		c.Status = *u.Status
	}
	if u.ClientName != nil {
		c.ClientName = *u.ClientName
	}
	if u.SupplierName != nil {
		c.SupplierName = *u.SupplierName
	}
	if u.Value != nil {
		c.Value = *u.Value
	}
	if u.Content != nil {
		c.Content = *u.Content
	}
	if u.StartDate != nil {
		c.StartDate = u.StartDate
	}
	if u.EndDate != nil {
		c.EndDate = u.EndDate
	}
	return c
}

// ListParams filters GET /contracts.
type ListParams struct {
	Page         int
	Size         int
	Status       ContractStatus
	ContractType string
	Search       string
}

// ContractList is one page of contracts.
type ContractList struct {
	Contracts []Contract `json:"contracts"`
	Total     int        `json:"total"`
	Page      int        `json:"page"`
	Size      int        `json:"size"`
	Pages     int        `json:"pages"`
}

// =============================================================================
// Bulk
// =============================================================================

// BulkStatusRequest is the body of POST /bulk/contracts/status.
type BulkStatusRequest struct {
	ContractIDs []string       `json:"contract_ids"`
	Status      ContractStatus `json:"status"`
}

// BulkDeleteRequest is the body of POST /bulk/contracts/delete.
type BulkDeleteRequest struct {
	ContractIDs []string `json:"contract_ids"`
}

// BulkError describes one failed item of a bulk operation.
type BulkError struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// BulkResult summarizes a bulk operation.
type BulkResult struct {
	SuccessCount int         `json:"success_count"`
	FailedCount  int         `json:"failed_count"`
	FailedIDs    []string    `json:"failed_ids,omitempty"`
	Errors       []BulkError `json:"errors,omitempty"`
}

// =============================================================================
// Templates, analytics, notifications, team
// =============================================================================

// Template is a contract template.
type Template struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Category      string          `json:"category"`
	ContractType  string          `json:"contract_type"`
	Description   string          `json:"description,omitempty"`
	Content       string          `json:"template_content,omitempty"`
	ComplianceFor []string        `json:"compliance_features,omitempty"`
	Version       string          `json:"version,omitempty"`
	IsActive      bool            `json:"is_active"`
	CreatedAt     strfmt.DateTime `json:"created_at"`
}

// Dashboard is the analytics summary.
type Dashboard struct {
	TotalContracts    int                `json:"total_contracts"`
	ActiveContracts   int                `json:"active_contracts"`
	DraftContracts    int                `json:"draft_contracts"`
	ExpiredContracts  int                `json:"expired_contracts"`
	TotalValue        float64            `json:"total_contract_value"`
	AverageCompliance float64            `json:"average_compliance_score"`
	HighRiskContracts int                `json:"high_risk_contracts"`
	ByStatus          map[string]int     `json:"contracts_by_status,omitempty"`
	ByType            map[string]int     `json:"contracts_by_type,omitempty"`
	ValueByCurrency   map[string]float64 `json:"value_by_currency,omitempty"`
	RecentActivity    []Notification     `json:"recent_activity,omitempty"`
	GeneratedAt       strfmt.DateTime    `json:"generated_at,omitzero"`
}

// Notification is an in-app notification.
type Notification struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Priority  string          `json:"priority,omitempty"`
	Read      bool            `json:"read"`
	CreatedAt strfmt.DateTime `json:"created_at"`
}

// NotificationList is the body of GET /notifications.
type NotificationList struct {
	Notifications []Notification `json:"notifications"`
	Total         int            `json:"total"`
	UnreadCount   int            `json:"unread_count"`
}

// TeamMember is a member of the caller's company.
type TeamMember struct {
	ID         string          `json:"id"`
	FullName   string          `json:"full_name"`
	Email      strfmt.Email    `json:"email"`
	Role       string          `json:"role"`
	IsActive   bool            `json:"is_active"`
	JoinedAt   strfmt.DateTime `json:"joined_at"`
	LastActive strfmt.DateTime `json:"last_active,omitzero"`
}

// InviteRequest is the body of POST /team/invite.
type InviteRequest struct {
	Email    strfmt.Email `json:"email"`
	FullName string       `json:"full_name"`
	Role     string       `json:"role"`
}
