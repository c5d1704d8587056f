package vault

import (
	"strings"
	"time"
)

// CredentialRecord is one stored login.
type CredentialRecord struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Website      string    `json:"website"`
	Username     string    `json:"username"`
	Password     string    `json:"password"`
	Notes        string    `json:"notes"`
	Category     string    `json:"category"`
	CreatedDate  time.Time `json:"createdDate"`
	LastModified time.Time `json:"lastModified"`
}

// RecordInput holds the user-supplied fields of a new record. An empty
// Category selects the fallback category.
type RecordInput struct {
	Name     string
	Website  string
	Username string
	Password string
	Notes    string
	Category string
}

// RecordPatch is a partial update. Nil fields are left unchanged.
type RecordPatch struct {
	Name     *string
	Website  *string
	Username *string
	Password *string
	Notes    *string
	Category *string
}

// IsEmpty reports whether the patch changes nothing.
func (p RecordPatch) IsEmpty() bool {
	return p.Name == nil && p.Website == nil && p.Username == nil &&
		p.Password == nil && p.Notes == nil && p.Category == nil
}

// AllCategories disables category filtering in Search.
const AllCategories = "All"

// vaultData is the plaintext that gets encrypted into the encryptedData slot.
type vaultData struct {
	Passwords  []CredentialRecord `json:"passwords"`
	Categories []string           `json:"categories"`
}

func newVaultData() *vaultData {
	return &vaultData{
		Passwords:  []CredentialRecord{},
		Categories: DefaultCategories(),
	}
}

func (d *vaultData) clone() *vaultData {
	out := &vaultData{
		Passwords:  make([]CredentialRecord, len(d.Passwords)),
		Categories: make([]string, len(d.Categories)),
	}
	copy(out.Passwords, d.Passwords)
	copy(out.Categories, d.Categories)
	return out
}

func (d *vaultData) indexOf(id string) int {
	for i := range d.Passwords {
		if d.Passwords[i].ID == id {
			return i
		}
	}
	return -1
}

func (d *vaultData) hasCategory(name string) bool {
	for _, c := range d.Categories {
		if c == name {
			return true
		}
	}
	return false
}

// normalize repairs a decoded vault so every invariant holds: slices are
// non-nil, the fallback category exists, categories are unique and every
// record points at a known category.
func (d *vaultData) normalize() {
	if d.Passwords == nil {
		d.Passwords = []CredentialRecord{}
	}

	seen := make(map[string]bool, len(d.Categories)+1)
	cats := make([]string, 0, len(d.Categories)+1)
	for _, c := range d.Categories {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		cats = append(cats, c)
	}
	if !seen[FallbackCategory] {
		cats = append(cats, FallbackCategory)
		seen[FallbackCategory] = true
	}
	d.Categories = cats

	for i := range d.Passwords {
		if !seen[d.Passwords[i].Category] {
			d.Passwords[i].Category = FallbackCategory
		}
	}
}

// matches reports whether r matches a lower-cased query and category filter.
func (r *CredentialRecord) matches(lowerQuery, category string) bool {
	if category != "" && category != AllCategories && r.Category != category {
		return false
	}
	if lowerQuery == "" {
		return true
	}
	for _, field := range []string{r.Name, r.Website, r.Username, r.Category} {
		if strings.Contains(strings.ToLower(field), lowerQuery) {
			return true
		}
	}
	return false
}

func (r *CredentialRecord) apply(p RecordPatch) {
	if p.Name != nil {
		r.Name = strings.TrimSpace(*p.Name)
	}
	if p.Website != nil {
		r.Website = strings.TrimSpace(*p.Website)
	}
	if p.Username != nil {
		r.Username = *p.Username
	}
	if p.Password != nil {
		r.Password = *p.Password
	}
	if p.Notes != nil {
		r.Notes = *p.Notes
	}
}
