package importer

import (
	"strings"

	"github.com/forest6511/passvault/pkg/vault"
)

// OnePasswordParser parses 1Password CSV export files:
// Title,Website,Username,Password,OTPAuth,Favorite,Archived,Tags,Notes
type OnePasswordParser struct{}

const (
	op1ColTitle    = "title"
	op1ColWebsite  = "website"
	op1ColURL      = "url"
	op1ColUsername = "username"
	op1ColPassword = "password"
	op1ColOTPAuth  = "otpauth"
	op1ColArchived = "archived"
	op1ColTags     = "tags"
	op1ColNotes    = "notes"
)

// Source returns the source type for this parser.
func (p *OnePasswordParser) Source() Source {
	return Source1Password
}

// Parse parses 1Password CSV data. Archived items are skipped and the first
// tag becomes the category.
func (p *OnePasswordParser) Parse(data []byte) (*ImportResult, error) {
	b := newBuilder()
	normalize := func(col string) string { return strings.ToLower(strings.TrimSpace(col)) }

	err := readCSV(data, b, normalize, op1ColTitle, func(row csvRow) {
		get := func(col string) string { return strings.TrimSpace(row.get(col)) }

		title := get(op1ColTitle)
		if strings.EqualFold(get(op1ColArchived), "true") {
			b.skip(title, "archived")
			return
		}

		website := get(op1ColWebsite)
		if website == "" {
			website = get(op1ColURL)
		}

		in := vault.RecordInput{
			Website:  website,
			Username: get(op1ColUsername),
			Password: get(op1ColPassword),
			Notes:    get(op1ColNotes),
			Category: firstTag(get(op1ColTags)),
		}
		in.Notes = appendNote(in.Notes, "TOTP", get(op1ColOTPAuth))
		b.add(title, in)
	})
	if err != nil {
		return nil, err
	}
	return b.result, nil
}

func firstTag(tags string) string {
	for _, t := range strings.Split(tags, ",") {
		if t = strings.TrimSpace(t); t != "" {
			return t
		}
	}
	return ""
}
