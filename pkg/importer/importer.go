// Package importer reads exports from other password managers into vault
// records. It supports Bitwarden JSON, LastPass CSV and 1Password CSV.
//
// Parsing is pure: a Parser turns bytes into an ImportResult. Apply then
// writes the result into an unlocked session, creating any category the
// export refers to that the vault does not have yet.
package importer

import (
	"context"
	"fmt"
	"html"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/forest6511/passvault/pkg/vault"
)

// Source represents the source password manager format.
type Source string

const (
	Source1Password Source = "1password"
	SourceBitwarden Source = "bitwarden"
	SourceLastPass  Source = "lastpass"
)

// ImportResult contains the results of a parse.
type ImportResult struct {
	// Records are ready to pass to Session.AddRecord, in export order.
	Records []vault.RecordInput

	// Warnings are non-fatal issues encountered during parsing.
	Warnings []string

	// Skipped are items that were left out, with reasons.
	Skipped []SkippedItem
}

// SkippedItem represents an item that was skipped during import.
type SkippedItem struct {
	OriginalName string
	Reason       string
}

// Parser is the interface for export format parsers.
type Parser interface {
	Parse(data []byte) (*ImportResult, error)
	Source() Source
}

// GetParser returns a parser for the given source.
func GetParser(source Source) (Parser, error) {
	switch source {
	case Source1Password:
		return &OnePasswordParser{}, nil
	case SourceBitwarden:
		return &BitwardenParser{}, nil
	case SourceLastPass:
		return &LastPassParser{}, nil
	default:
		return nil, fmt.Errorf("importer: unsupported import source: %s", source)
	}
}

// ValidSources returns a list of valid source names.
func ValidSources() []string {
	return []string{
		string(Source1Password),
		string(SourceBitwarden),
		string(SourceLastPass),
	}
}

func newResult() *ImportResult {
	return &ImportResult{
		Records:  make([]vault.RecordInput, 0),
		Warnings: make([]string, 0),
		Skipped:  make([]SkippedItem, 0),
	}
}

// builder accumulates records while keeping fallback names numbered.
type builder struct {
	result  *ImportResult
	counter int
}

func newBuilder() *builder {
	return &builder{result: newResult(), counter: 1}
}

// add turns one parsed item into a record, or skips it when it carries
// neither a username nor a password.
func (b *builder) add(name string, in vault.RecordInput) {
	if in.Username == "" && in.Password == "" {
		b.skip(name, "no username or password")
		return
	}

	in.Name = CleanName(name)
	if in.Name == "" {
		in.Name = FallbackName(in.Website, b.counter)
		if extractHostname(in.Website) == "" {
			b.counter++
		}
	}
	in.Category = CategoryName(in.Category)
	b.result.Records = append(b.result.Records, in)
}

func (b *builder) skip(name, reason string) {
	b.result.Skipped = append(b.result.Skipped, SkippedItem{OriginalName: name, Reason: reason})
}

func (b *builder) warn(format string, args ...any) {
	b.result.Warnings = append(b.result.Warnings, fmt.Sprintf(format, args...))
}

// CleanName trims a record name and normalises it to Unicode NFC.
func CleanName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// CategoryName maps a folder, grouping or tag to a category name. Nested
// groups keep only their last segment; names the vault would reject map to
// the fallback category.
func CategoryName(folder string) string {
	folder = strings.TrimSpace(folder)
	if i := strings.LastIndexAny(folder, `\/`); i >= 0 {
		folder = folder[i+1:]
	}
	name, err := vault.CleanCategoryName(norm.NFC.String(folder))
	if err != nil {
		return vault.FallbackCategory
	}
	return name
}

// FallbackName names an item that has none: the URL host when there is one,
// otherwise "Imported item N".
func FallbackName(url string, counter int) string {
	if host := extractHostname(url); host != "" {
		return host
	}
	return fmt.Sprintf("Imported item %d", counter)
}

// extractHostname extracts the hostname from a URL.
func extractHostname(urlStr string) string {
	urlStr = strings.TrimSpace(urlStr)
	if i := strings.Index(urlStr, "://"); i >= 0 {
		urlStr = urlStr[i+3:]
	}
	if i := strings.IndexAny(urlStr, "/?#"); i >= 0 {
		urlStr = urlStr[:i]
	}
	if i := strings.LastIndex(urlStr, "@"); i >= 0 {
		urlStr = urlStr[i+1:]
	}
	if i := strings.Index(urlStr, ":"); i >= 0 {
		urlStr = urlStr[:i]
	}
	return strings.TrimPrefix(strings.ToLower(urlStr), "www.")
}

// DecodeHTMLEntities decodes the HTML entities LastPass writes into exports.
func DecodeHTMLEntities(s string) string {
	return html.UnescapeString(s)
}

// appendNote adds a labelled line to notes.
func appendNote(notes, label, value string) string {
	if value == "" {
		return notes
	}
	line := label + ": " + value
	if notes == "" {
		return line
	}
	return notes + "\n" + line
}

// ApplyResult reports what Apply wrote.
type ApplyResult struct {
	Added             int
	CategoriesCreated []string
}

// Apply adds every record in res to s, creating missing categories first.
// It stops at the first error; records added before it stay in the vault.
func Apply(ctx context.Context, s *vault.Session, res *ImportResult) (*ApplyResult, error) {
	existing, err := s.Categories()
	if err != nil {
		return nil, err
	}
	have := make(map[string]bool, len(existing))
	for _, c := range existing {
		have[c] = true
	}

	out := &ApplyResult{}
	for _, in := range res.Records {
		if in.Category != "" && !have[in.Category] {
			if err := s.AddCategory(ctx, in.Category); err != nil {
				return out, fmt.Errorf("importer: failed to create category %q: %w", in.Category, err)
			}
			have[in.Category] = true
			out.CategoriesCreated = append(out.CategoriesCreated, in.Category)
		}
	}

	// The vault lists newest first, so adding in reverse leaves the
	// imported records in export order.
	for i := len(res.Records) - 1; i >= 0; i-- {
		if _, err := s.AddRecord(ctx, res.Records[i]); err != nil {
			return out, fmt.Errorf("importer: failed to add %q: %w", res.Records[i].Name, err)
		}
		out.Added++
	}
	return out, nil
}
