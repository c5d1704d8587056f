package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/forest6511/passvault/pkg/vault"
)

// DuplicateGroup is a set of records sharing one password.
type DuplicateGroup struct {
	// RecordIDs is empty unless names were requested.
	RecordIDs []string `json:"record_ids,omitempty"`
	Names     []string `json:"names,omitempty"`
	Count     int      `json:"count"`
}

// FindDuplicates groups records whose passwords are equal after trimming and
// Unicode NFC normalisation. Groups are sorted by size, largest first.
//
// Values are compared through HMAC-SHA256 under the calculator's
// session-local key, which is never persisted.
func (c *Calculator) FindDuplicates(records []vault.CredentialRecord, includeNames bool) []DuplicateGroup {
	byHash := make(map[string][]int)
	var order []string
	for i := range records {
		value := normalizeValue(records[i].Password)
		if value == "" {
			continue
		}
		h := c.valueHash(value)
		if _, seen := byHash[h]; !seen {
			order = append(order, h)
		}
		byHash[h] = append(byHash[h], i)
	}

	var groups []DuplicateGroup
	for _, h := range order {
		idx := byHash[h]
		if len(idx) < 2 {
			continue
		}
		g := DuplicateGroup{Count: len(idx)}
		if includeNames {
			for _, i := range idx {
				g.RecordIDs = append(g.RecordIDs, records[i].ID)
				g.Names = append(g.Names, records[i].Name)
			}
		}
		groups = append(groups, g)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Count > groups[j].Count
	})
	return groups
}

func (c *Calculator) valueHash(value string) string {
	h := hmac.New(sha256.New, c.hmacKey)
	h.Write([]byte(value))
	return hex.EncodeToString(h.Sum(nil))
}

// normalizeValue trims surrounding whitespace and applies NFC so that
// visually identical passwords typed on different systems compare equal.
func normalizeValue(value string) string {
	return norm.NFC.String(strings.TrimSpace(value))
}
