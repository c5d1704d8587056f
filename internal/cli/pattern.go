// Package cli provides shared utilities for CLI commands.
package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/forest6511/passvault/pkg/vault"
)

// ErrNoMatch is returned when a selector matches no record.
var ErrNoMatch = errors.New("no matching record")

// HasGlob reports whether pattern contains glob characters (*?[).
func HasGlob(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[")
}

// MatchNames expands a case-insensitive glob pattern against names.
// Without glob characters it performs exact (case-insensitive) matching.
func MatchNames(pattern string, names []string) ([]string, error) {
	lower := strings.ToLower(pattern)
	if _, err := filepath.Match(lower, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern '%s': %w", pattern, err)
	}

	var matches []string
	for _, name := range names {
		ok, err := matchName(lower, name)
		if err != nil {
			return nil, err
		}
		if ok {
			matches = append(matches, name)
		}
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: '%s'", ErrNoMatch, pattern)
	}
	return matches, nil
}

func matchName(lowerPattern, name string) (bool, error) {
	if !HasGlob(lowerPattern) {
		return strings.ToLower(name) == lowerPattern, nil
	}
	return filepath.Match(lowerPattern, strings.ToLower(name))
}

// SelectRecords resolves selectors to records. A selector equal to a record
// id selects that record; otherwise it is matched against record names as
// in MatchNames. The result holds each record once, in order of first match.
func SelectRecords(selectors []string, records []vault.CredentialRecord) ([]vault.CredentialRecord, error) {
	seen := make(map[string]bool)
	var result []vault.CredentialRecord

	add := func(r vault.CredentialRecord) {
		if !seen[r.ID] {
			seen[r.ID] = true
			result = append(result, r)
		}
	}

	for _, sel := range selectors {
		if r, ok := findByID(sel, records); ok {
			add(r)
			continue
		}

		lower := strings.ToLower(sel)
		if _, err := filepath.Match(lower, ""); err != nil {
			return nil, fmt.Errorf("invalid pattern '%s': %w", sel, err)
		}
		found := false
		for _, r := range records {
			ok, err := matchName(lower, r.Name)
			if err != nil {
				return nil, err
			}
			if ok {
				add(r)
				found = true
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: '%s'", ErrNoMatch, sel)
		}
	}
	return result, nil
}

// SelectOne resolves a selector that must identify exactly one record.
func SelectOne(selector string, records []vault.CredentialRecord) (vault.CredentialRecord, error) {
	matches, err := SelectRecords([]string{selector}, records)
	if err != nil {
		return vault.CredentialRecord{}, err
	}
	if len(matches) > 1 {
		return vault.CredentialRecord{}, fmt.Errorf("'%s' matches %d records; use the record id", selector, len(matches))
	}
	return matches[0], nil
}

func findByID(id string, records []vault.CredentialRecord) (vault.CredentialRecord, bool) {
	for _, r := range records {
		if r.ID == id {
			return r, true
		}
	}
	return vault.CredentialRecord{}, false
}

// RecordNames returns the sorted, de-duplicated names of records.
func RecordNames(records []vault.CredentialRecord) []string {
	set := make(map[string]bool, len(records))
	for _, r := range records {
		set[r.Name] = true
	}
	return MapKeys(set)
}

// MapKeys extracts keys from a map and returns them sorted.
func MapKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
