package importer

import (
	"encoding/json"
	"fmt"

	"github.com/forest6511/passvault/pkg/vault"
)

// BitwardenParser parses Bitwarden JSON export files. Only login items
// (type 1) become records; notes, cards and identities are skipped.
type BitwardenParser struct{}

// Bitwarden item types.
const (
	bitwardenTypeLogin      = 1
	bitwardenTypeSecureNote = 2
	bitwardenTypeCard       = 3
	bitwardenTypeIdentity   = 4
)

// Bitwarden custom field types.
const (
	bitwardenFieldText   = 0
	bitwardenFieldHidden = 1
)

type bitwardenExport struct {
	Encrypted bool              `json:"encrypted"`
	Items     []bitwardenItem   `json:"items"`
	Folders   []bitwardenFolder `json:"folders"`
}

type bitwardenFolder struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type bitwardenItem struct {
	Type     int                    `json:"type"`
	Name     string                 `json:"name"`
	Notes    string                 `json:"notes"`
	FolderID *string                `json:"folderId"`
	Login    *bitwardenLogin        `json:"login"`
	Fields   []bitwardenCustomField `json:"fields"`
}

type bitwardenLogin struct {
	URIs     []bitwardenURI `json:"uris"`
	Username string         `json:"username"`
	Password string         `json:"password"`
	TOTP     string         `json:"totp"`
}

type bitwardenURI struct {
	URI string `json:"uri"`
}

type bitwardenCustomField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	Type  int    `json:"type"`
}

// Source returns the source type for this parser.
func (p *BitwardenParser) Source() Source {
	return SourceBitwarden
}

// Parse parses Bitwarden JSON data.
func (p *BitwardenParser) Parse(data []byte) (*ImportResult, error) {
	var export bitwardenExport
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, fmt.Errorf("importer: failed to parse Bitwarden JSON: %w", err)
	}
	if export.Encrypted {
		return nil, fmt.Errorf("importer: encrypted Bitwarden exports are not supported, export as unencrypted JSON")
	}

	folders := make(map[string]string, len(export.Folders))
	for _, f := range export.Folders {
		folders[f.ID] = f.Name
	}

	b := newBuilder()
	for i := range export.Items {
		item := &export.Items[i]
		switch item.Type {
		case bitwardenTypeLogin:
			p.addLogin(b, item, folders)
		case bitwardenTypeSecureNote:
			b.skip(item.Name, "secure notes are not imported")
		case bitwardenTypeCard:
			b.skip(item.Name, "cards are not imported")
		case bitwardenTypeIdentity:
			b.skip(item.Name, "identities are not imported")
		default:
			b.warn("item %d (%s): unsupported item type: %d", i+1, item.Name, item.Type)
		}
	}
	return b.result, nil
}

func (p *BitwardenParser) addLogin(b *builder, item *bitwardenItem, folders map[string]string) {
	if item.Login == nil {
		b.skip(item.Name, "no username or password")
		return
	}
	login := item.Login

	in := vault.RecordInput{
		Username: login.Username,
		Password: login.Password,
		Notes:    item.Notes,
	}
	if item.FolderID != nil {
		in.Category = folders[*item.FolderID]
	}

	for i, u := range login.URIs {
		if u.URI == "" {
			continue
		}
		if in.Website == "" {
			in.Website = u.URI
			continue
		}
		in.Notes = appendNote(in.Notes, fmt.Sprintf("URL %d", i+1), u.URI)
	}
	in.Notes = appendNote(in.Notes, "TOTP", login.TOTP)

	for _, cf := range item.Fields {
		switch cf.Type {
		case bitwardenFieldText, bitwardenFieldHidden:
			in.Notes = appendNote(in.Notes, CleanName(cf.Name), cf.Value)
		}
	}

	b.add(item.Name, in)
}
