package vault

import "strings"

// FallbackCategory receives the records of a deleted category. It can never
// be deleted itself.
const FallbackCategory = "Other"

var defaultCategories = []string{
	"Personal",
	"Work",
	"Banking",
	"Social Media",
	"Shopping",
	FallbackCategory,
}

// DefaultCategories returns the categories a new vault starts with.
func DefaultCategories() []string {
	out := make([]string, len(defaultCategories))
	copy(out, defaultCategories)
	return out
}

// CleanCategoryName trims name and rejects names that cannot be stored.
// "All" is reserved for the search filter.
func CleanCategoryName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, AllCategories) {
		return "", ErrCategoryNameInvalid
	}
	return name, nil
}

// resolveCategory maps an input category to a stored one: empty selects the
// fallback, anything else must already exist.
func (d *vaultData) resolveCategory(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return FallbackCategory, nil
	}
	if !d.hasCategory(name) {
		return "", ErrCategoryNotFound
	}
	return name, nil
}
