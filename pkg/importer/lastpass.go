package importer

import (
	"strings"

	"github.com/forest6511/passvault/pkg/vault"
)

// LastPassParser parses LastPass CSV export files:
// url,username,password,totp,extra,name,grouping,fav
type LastPassParser struct{}

const (
	lpColURL      = "url"
	lpColUsername = "username"
	lpColPassword = "password"
	lpColTOTP     = "totp"
	lpColExtra    = "extra"
	lpColName     = "name"
	lpColGrouping = "grouping"

	// lpSecureNoteURL marks secure notes in LastPass exports.
	lpSecureNoteURL = "http://sn"
)

// Source returns the source type for this parser.
func (p *LastPassParser) Source() Source {
	return SourceLastPass
}

// Parse parses LastPass CSV data.
func (p *LastPassParser) Parse(data []byte) (*ImportResult, error) {
	b := newBuilder()
	err := readCSV(data, b, strings.ToLower, lpColName, func(row csvRow) {
		get := func(col string) string {
			return DecodeHTMLEntities(strings.TrimSpace(row.get(col)))
		}

		name := get(lpColName)
		url := get(lpColURL)
		if url == lpSecureNoteURL {
			b.skip(name, "secure notes are not imported")
			return
		}

		in := vault.RecordInput{
			Website:  url,
			Username: get(lpColUsername),
			Password: get(lpColPassword),
			Notes:    get(lpColExtra),
			Category: get(lpColGrouping),
		}
		in.Notes = appendNote(in.Notes, "TOTP", get(lpColTOTP))
		b.add(name, in)
	})
	if err != nil {
		return nil, err
	}
	return b.result, nil
}
