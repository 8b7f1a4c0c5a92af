// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package drafts

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/AleutianAI/Pactoria/internal/api"
)

// Step is a page of the contract creation wizard.
type Step int

const (
	StepTemplate Step = iota + 1
	StepDetails
	StepTerms
	StepReview
)

func (s Step) String() string {
	switch s {
	case StepTemplate:
		return "template"
	case StepDetails:
		return "details"
	case StepTerms:
		return "terms"
	case StepReview:
		return "review"
	default:
		return fmt.Sprintf("step(%d)", int(s))
	}
}

// dateLayout is the wire form of StartDate and EndDate.
const dateLayout = "2006-01-02"

// Party is one signatory of a draft contract.
type Party struct {
	Name  string `json:"name" validate:"required"`
	Role  string `json:"role" validate:"required,oneof=client supplier other"`
	Email string `json:"email,omitempty" validate:"omitempty,email"`
}

// Draft is an unfinished contract from the creation wizard.
type Draft struct {
	ID   string `json:"id"`
	Step Step   `json:"step"`

	TemplateID   string `json:"template_id,omitempty"`
	ContractType string `json:"contract_type" validate:"required"`

	Title        string  `json:"title" validate:"required,min=3,max=200"`
	PlainEnglish string  `json:"plain_english_input,omitempty" validate:"max=5000"`
	Parties      []Party `json:"parties" validate:"required,min=1,dive"`

	Value     float64 `json:"contract_value" validate:"gte=0"`
	Currency  string  `json:"currency" validate:"required,len=3,uppercase"`
	StartDate string  `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate   string  `json:"end_date,omitempty" validate:"omitempty,datetime=2006-01-02"`

	UpdatedAt time.Time `json:"updated_at"`
}

// New returns an empty draft on the first step.
func New() Draft {
	return Draft{ID: uuid.NewString(), Step: StepTemplate, Currency: "GBP"}
}

// Contract converts a complete draft into a create request. Parties with
// the client and supplier roles fill ClientName and SupplierName.
func (d Draft) Contract() (api.ContractCreate, error) {
	if errs := Validate(d, StepReview); len(errs) > 0 {
		return api.ContractCreate{}, errs
	}
	out := api.ContractCreate{
		Title:        d.Title,
		ContractType: d.ContractType,
		PlainEnglish: d.PlainEnglish,
		Value:        d.Value,
		Currency:     d.Currency,
		TemplateID:   d.TemplateID,
	}
	for _, p := range d.Parties {
		switch p.Role {
		case "client":
			if out.ClientName == "" {
				out.ClientName = p.Name
			}
		case "supplier":
			if out.SupplierName == "" {
				out.SupplierName = p.Name
			}
		}
	}
	out.StartDate = parseDate(d.StartDate)
	out.EndDate = parseDate(d.EndDate)
	return out, nil
}

func parseDate(s string) *strfmt.Date {
	if s == "" {
		return nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil
	}
	d := strfmt.Date(t)
	return &d
}

// =============================================================================
// Validation
// =============================================================================

// FieldError is one failed rule, addressed by JSON path.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// FieldErrors is the result of Validate. It implements error so a
// non-empty list can be returned directly.
type FieldErrors []FieldError

func (e FieldErrors) Error() string {
	parts := make([]string, len(e))
	for i, fe := range e {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return strings.Join(parts, "; ")
}

// stepFields lists the fields each wizard page is responsible for.
// StepReview validates everything. Parties are checked separately on
// StepDetails because partial validation does not descend into slices.
var stepFields = map[Step][]string{
	StepTemplate: {"ContractType"},
	StepDetails:  {"Title", "PlainEnglish"},
	StepTerms:    {"Value", "Currency", "StartDate", "EndDate"},
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the fields owned by step. An unknown step validates
// nothing.
func Validate(d Draft, step Step) FieldErrors {
	var err error
	switch step {
	case StepReview:
		err = validate.Struct(d)
	default:
		fields, ok := stepFields[step]
		if !ok {
			return nil
		}
		err = validate.StructPartial(d, fields...)
	}

	out := collect("", err)
	if step == StepDetails {
		out = append(out, validateParties(d.Parties)...)
	}

	if step == StepTerms || step == StepReview {
		if fe, bad := checkDateOrder(d); bad {
			out = append(out, fe)
		}
	}
	return out
}

func validateParties(parties []Party) FieldErrors {
	if len(parties) == 0 {
		return FieldErrors{{Field: "parties", Message: "needs at least 1"}}
	}
	var out FieldErrors
	for i, p := range parties {
		out = append(out, collect(fmt.Sprintf("parties[%d].", i), validate.Struct(p))...)
	}
	return out
}

func collect(prefix string, err error) FieldErrors {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(FieldErrors, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{Field: prefix + fieldPath(fe), Message: message(fe)})
	}
	return out
}

func checkDateOrder(d Draft) (FieldError, bool) {
	if d.StartDate == "" || d.EndDate == "" {
		return FieldError{}, false
	}
	start, err1 := time.Parse(dateLayout, d.StartDate)
	end, err2 := time.Parse(dateLayout, d.EndDate)
	if err1 != nil || err2 != nil || end.After(start) {
		return FieldError{}, false
	}
	return FieldError{Field: "end_date", Message: "must be after the start date"}, true
}

// fieldPath drops the struct name from the namespace: "Draft.parties[0].name"
// becomes "parties[0].name".
func fieldPath(fe validator.FieldError) string {
	_, path, ok := strings.Cut(fe.Namespace(), ".")
	if !ok {
		return fe.Field()
	}
	return path
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		if fe.Kind() == reflect.Slice {
			return "needs at least " + fe.Param()
		}
		return "must be at least " + fe.Param() + " characters"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "len":
		return "must be exactly " + fe.Param() + " characters"
	case "gte":
		return "must be " + fe.Param() + " or more"
	case "email":
		return "is not a valid email address"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "uppercase":
		return "must be upper case"
	case "datetime":
		return "must be a date in YYYY-MM-DD form"
	default:
		return "failed " + fe.Tag()
	}
}
