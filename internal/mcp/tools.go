package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/forest6511/passvault/pkg/security"
	"github.com/forest6511/passvault/pkg/vault"
)

// RecordSearchInput represents input for record_search tool.
type RecordSearchInput struct {
	Query    string `json:"query,omitempty"`
	Category string `json:"category,omitempty"`
}

// RecordSearchOutput represents output for record_search tool.
type RecordSearchOutput struct {
	Records []RecordInfo `json:"records"`
}

// RecordInfo represents metadata for a record (no password).
type RecordInfo struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Website      string `json:"website,omitempty"`
	Username     string `json:"username,omitempty"`
	Category     string `json:"category"`
	HasPassword  bool   `json:"has_password"`
	HasNotes     bool   `json:"has_notes"`
	CreatedAt    string `json:"created_at"`
	LastModified string `json:"last_modified"`
}

// RecordGetMaskedInput represents input for record_get_masked tool.
type RecordGetMaskedInput struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// RecordGetMaskedOutput represents output for record_get_masked tool.
type RecordGetMaskedOutput struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	MaskedPassword string `json:"masked_password"`
	PasswordLength int    `json:"password_length"`
	Strength       string `json:"strength"`
}

// CategoryListInput represents input for category_list tool.
type CategoryListInput struct{}

// CategoryListOutput represents output for category_list tool.
type CategoryListOutput struct {
	Categories []CategoryInfo `json:"categories"`
}

// CategoryInfo is a category and its record count.
type CategoryInfo struct {
	Name      string `json:"name"`
	Records   int    `json:"records"`
	Protected bool   `json:"protected"`
}

// SecurityReportInput represents input for security_report tool.
type SecurityReportInput struct {
	IncludeNames bool `json:"include_names,omitempty"`
	Limit        int  `json:"limit,omitempty"`
}

// SecurityReportOutput represents output for security_report tool.
type SecurityReportOutput struct {
	Overall     int                      `json:"overall"`
	Components  security.ScoreComponents `json:"components"`
	Counts      security.StrengthCounts  `json:"counts"`
	Issues      []security.SecurityIssue `json:"issues"`
	Suggestions []string                 `json:"suggestions"`
	Limited     bool                     `json:"limited"`
}

// handleRecordSearch handles the record_search tool call.
func (s *Server) handleRecordSearch(_ context.Context, _ *mcp.CallToolRequest, input RecordSearchInput) (*mcp.CallToolResult, RecordSearchOutput, error) {
	records, err := s.session.Search(input.Query, input.Category)
	if err != nil {
		return nil, RecordSearchOutput{}, fmt.Errorf("failed to search records: %w", err)
	}

	output := RecordSearchOutput{
		Records: make([]RecordInfo, 0, len(records)),
	}
	for i := range records {
		output.Records = append(output.Records, toRecordInfo(&records[i]))
	}
	return nil, output, nil
}

func toRecordInfo(r *vault.CredentialRecord) RecordInfo {
	return RecordInfo{
		ID:           r.ID,
		Name:         r.Name,
		Website:      r.Website,
		Username:     r.Username,
		Category:     r.Category,
		HasPassword:  r.Password != "",
		HasNotes:     r.Notes != "",
		CreatedAt:    r.CreatedDate.Format(time.RFC3339),
		LastModified: r.LastModified.Format(time.RFC3339),
	}
}

// handleRecordGetMasked handles the record_get_masked tool call.
func (s *Server) handleRecordGetMasked(_ context.Context, _ *mcp.CallToolRequest, input RecordGetMaskedInput) (*mcp.CallToolResult, RecordGetMaskedOutput, error) {
	rec, err := s.findRecord(input)
	if err != nil {
		return nil, RecordGetMaskedOutput{}, err
	}

	return nil, RecordGetMaskedOutput{
		ID:             rec.ID,
		Name:           rec.Name,
		MaskedPassword: maskValue(rec.Password),
		PasswordLength: len([]rune(rec.Password)),
		Strength:       security.Strength(rec.Password).String(),
	}, nil
}

// findRecord selects by id when given, otherwise by exact, case-insensitive
// name. An ambiguous name is an error.
func (s *Server) findRecord(input RecordGetMaskedInput) (*vault.CredentialRecord, error) {
	if input.ID != "" {
		rec, ok, err := s.session.Record(input.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("record '%s' not found", input.ID)
		}
		return rec, nil
	}

	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, errors.New("id or name is required")
	}
	records, err := s.session.Records()
	if err != nil {
		return nil, err
	}
	var found []vault.CredentialRecord
	for _, r := range records {
		if strings.EqualFold(r.Name, name) {
			found = append(found, r)
		}
	}
	switch len(found) {
	case 0:
		return nil, fmt.Errorf("record '%s' not found", name)
	case 1:
		return &found[0], nil
	default:
		return nil, fmt.Errorf("name '%s' matches %d records; use the id", name, len(found))
	}
}

// maskValue keeps the last few characters of value and stars out the rest.
func maskValue(value string) string {
	runes := []rune(value)
	length := len(runes)
	if length == 0 {
		return ""
	}

	switch {
	case length <= 4:
		return strings.Repeat("*", length)
	case length <= 8:
		return strings.Repeat("*", length-2) + string(runes[length-2:])
	default:
		return strings.Repeat("*", length-4) + string(runes[length-4:])
	}
}

// handleCategoryList handles the category_list tool call.
func (s *Server) handleCategoryList(_ context.Context, _ *mcp.CallToolRequest, _ CategoryListInput) (*mcp.CallToolResult, CategoryListOutput, error) {
	categories, err := s.session.Categories()
	if err != nil {
		return nil, CategoryListOutput{}, fmt.Errorf("failed to list categories: %w", err)
	}
	records, err := s.session.Records()
	if err != nil {
		return nil, CategoryListOutput{}, fmt.Errorf("failed to list records: %w", err)
	}

	counts := make(map[string]int, len(categories))
	for _, r := range records {
		counts[r.Category]++
	}

	output := CategoryListOutput{
		Categories: make([]CategoryInfo, 0, len(categories)),
	}
	for _, c := range categories {
		output.Categories = append(output.Categories, CategoryInfo{
			Name:      c,
			Records:   counts[c],
			Protected: c == vault.FallbackCategory,
		})
	}
	return nil, output, nil
}

// handleSecurityReport handles the security_report tool call.
func (s *Server) handleSecurityReport(_ context.Context, _ *mcp.CallToolRequest, input SecurityReportInput) (*mcp.CallToolResult, SecurityReportOutput, error) {
	if input.Limit < 0 {
		return nil, SecurityReportOutput{}, errors.New("limit must not be negative")
	}
	records, err := s.session.Records()
	if err != nil {
		return nil, SecurityReportOutput{}, fmt.Errorf("failed to list records: %w", err)
	}

	report := s.calc.Report(records, security.Options{
		IncludeNames: input.IncludeNames,
		Limit:        input.Limit,
	})
	return nil, SecurityReportOutput{
		Overall:     report.Overall,
		Components:  report.Components,
		Counts:      report.Counts,
		Issues:      report.Issues,
		Suggestions: report.Suggestions,
		Limited:     report.Limited,
	}, nil
}
