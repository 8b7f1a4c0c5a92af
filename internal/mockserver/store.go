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
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"

	"github.com/AleutianAI/Pactoria/internal/api"
)

// DemoEmail and DemoPassword log in to the seeded account.
const (
	DemoEmail    = "demo@pactoria.com"
	DemoPassword = "Demo123!"
)

type account struct {
	user     api.User
	password string
}

// store is the in-memory backend state.
type store struct {
	mu            sync.RWMutex
	accounts      map[string]*account
	contracts     map[string]api.Contract
	order         []string
	templates     []api.Template
	notifications []api.Notification
	team          []api.TeamMember
}

func newStore(now time.Time) *store {
	ts := strfmt.DateTime(now.UTC())
	s := &store{
		accounts:  make(map[string]*account),
		contracts: make(map[string]api.Contract),
	}

	demo := api.User{
		ID:        "user-demo",
		Email:     DemoEmail,
		FullName:  "Demo User",
		Role:      "admin",
		CompanyID: "company-demo",
		IsActive:  true,
		CreatedAt: ts,
	}
	s.accounts[DemoEmail] = &account{user: demo, password: DemoPassword}

	s.templates = []api.Template{
		{ID: "tpl-nda", Name: "Mutual NDA", Category: "confidentiality", ContractType: "nda",
			Description: "Two-way non-disclosure agreement", Version: "1.0", IsActive: true, CreatedAt: ts},
		{ID: "tpl-service", Name: "Service Agreement", Category: "services", ContractType: "service_agreement",
			Description: "Professional services engagement", Version: "1.2", IsActive: true, CreatedAt: ts},
		{ID: "tpl-employment", Name: "Employment Contract", Category: "employment", ContractType: "employment",
			Description: "Full-time employment terms", Version: "2.0", IsActive: true, CreatedAt: ts},
	}

	for _, c := range []api.Contract{
		{Title: "Acme NDA", ContractType: "nda", Status: api.StatusActive, ClientName: "Acme Ltd",
			Value: 0, Currency: "GBP", TemplateID: "tpl-nda"},
		{Title: "Website Build", ContractType: "service_agreement", Status: api.StatusDraft, ClientName: "Globex",
			Value: 25000, Currency: "GBP", TemplateID: "tpl-service"},
	} {
		c.ID = uuid.NewString()
		c.Version = 1
		c.CreatedBy = demo.ID
		c.CreatedAt = ts
		s.contracts[c.ID] = c
		s.order = append(s.order, c.ID)
	}

	s.notifications = []api.Notification{
		{ID: uuid.NewString(), Type: "deadline", Title: "Contract expiring", Message: "Acme NDA expires in 30 days",
			Priority: "high", CreatedAt: ts},
		{ID: uuid.NewString(), Type: "system", Title: "Welcome", Message: "Your workspace is ready",
			Priority: "low", Read: true, CreatedAt: ts},
	}

	s.team = []api.TeamMember{
		{ID: demo.ID, FullName: demo.FullName, Email: demo.Email, Role: "admin", IsActive: true, JoinedAt: ts},
	}
	return s
}

func (s *store) authenticate(email, password string) (api.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[strings.ToLower(email)]
	if !ok || a.password != password {
		return api.User{}, false
	}
	return a.user, true
}

func (s *store) user(email string) (api.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[email]
	if !ok {
		return api.User{}, false
	}
	return a.user, true
}

func (s *store) listContracts(p api.ListParams) api.ContractList {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]api.Contract, 0, len(s.order))
	for _, id := range s.order {
		c := s.contracts[id]
		if p.Status != "" && c.Status != p.Status {
			continue
		}
		if p.ContractType != "" && c.ContractType != p.ContractType {
			continue
		}
		if p.Search != "" && !strings.Contains(strings.ToLower(c.Title), strings.ToLower(p.Search)) {
			continue
		}
		matched = append(matched, c)
	}

	page, size := p.Page, p.Size
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}
	start := min((page-1)*size, len(matched))
	end := min(start+size, len(matched))

	pages := (len(matched) + size - 1) / size
	return api.ContractList{
		Contracts: slices.Clone(matched[start:end]),
		Total:     len(matched),
		Page:      page,
		Size:      size,
		Pages:     pages,
	}
}

func (s *store) getContract(id string) (api.Contract, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contracts[id]
	return c, ok
}

func (s *store) createContract(in api.ContractCreate, userID string, now time.Time) api.Contract {
	c := api.Contract{
		ID:           uuid.NewString(),
		Title:        in.Title,
		ContractType: in.ContractType,
		Status:       api.StatusDraft,
		ClientName:   in.ClientName,
		SupplierName: in.SupplierName,
		Value:        in.Value,
		Currency:     in.Currency,
		StartDate:    in.StartDate,
		EndDate:      in.EndDate,
		TemplateID:   in.TemplateID,
		Content:      in.PlainEnglish,
		Version:      1,
		CreatedBy:    userID,
		CreatedAt:    strfmt.DateTime(now.UTC()),
	}
	if c.Currency == "" {
		c.Currency = "GBP"
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.contracts[c.ID] = c
	s.order = append([]string{c.ID}, s.order...)
	return c
}

func (s *store) updateContract(id string, u api.ContractUpdate, now time.Time) (api.Contract, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contracts[id]
	if !ok {
		return api.Contract{}, false
	}
	c = u.Apply(c)
	c.Version++
	c.UpdatedAt = strfmt.DateTime(now.UTC())
	s.contracts[id] = c
	return c, true
}

func (s *store) deleteContract(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contracts[id]; !ok {
		return false
	}
	delete(s.contracts, id)
	s.order = slices.DeleteFunc(s.order, func(x string) bool { return x == id })
	return true
}

func (s *store) dashboard(now time.Time) api.Dashboard {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d := api.Dashboard{
		ByStatus:        map[string]int{},
		ByType:          map[string]int{},
		ValueByCurrency: map[string]float64{},
		GeneratedAt:     strfmt.DateTime(now.UTC()),
	}
	for _, c := range s.contracts {
		d.TotalContracts++
		d.TotalValue += c.Value
		d.ByStatus[string(c.Status)]++
		d.ByType[c.ContractType]++
		d.ValueByCurrency[c.Currency] += c.Value
		switch c.Status {
		case api.StatusActive:
			d.ActiveContracts++
		case api.StatusDraft:
			d.DraftContracts++
		case api.StatusExpired:
			d.ExpiredContracts++
		}
	}
	d.RecentActivity = slices.Clone(s.notifications[:min(5, len(s.notifications))])
	return d
}

func (s *store) listNotifications(unreadOnly bool) api.NotificationList {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := api.NotificationList{Notifications: []api.Notification{}}
	for _, n := range s.notifications {
		if !n.Read {
			out.UnreadCount++
		}
		if unreadOnly && n.Read {
			continue
		}
		out.Notifications = append(out.Notifications, n)
	}
	out.Total = len(out.Notifications)
	return out
}

func (s *store) markRead(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.notifications {
		if s.notifications[i].ID == id {
			s.notifications[i].Read = true
			return true
		}
	}
	return false
}

func (s *store) listTeam() []api.TeamMember {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.team)
}

func (s *store) invite(in api.InviteRequest, now time.Time) (api.TeamMember, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.team {
		if strings.EqualFold(string(m.Email), string(in.Email)) {
			return api.TeamMember{}, false
		}
	}
	m := api.TeamMember{
		ID:       uuid.NewString(),
		FullName: in.FullName,
		Email:    in.Email,
		Role:     in.Role,
		JoinedAt: strfmt.DateTime(now.UTC()),
	}
	s.team = append(s.team, m)
	return m, true
}

func (s *store) template(id string) (api.Template, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.templates {
		if t.ID == id {
			return t, true
		}
	}
	return api.Template{}, false
}

func (s *store) listTemplates(category string) []api.Template {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]api.Template, 0, len(s.templates))
	for _, t := range s.templates {
		if category == "" || t.Category == category {
			out = append(out, t)
		}
	}
	return out
}
