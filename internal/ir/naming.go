package ir

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	identPattern      = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)
	entityNamePattern = regexp.MustCompile(`^[A-Z][A-Za-z0-9]*$`)
	codePattern       = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
)

// maxIdentLen is PostgreSQL's NAMEDATALEN - 1.
const maxIdentLen = 63

// IsIdentifier reports whether s can be emitted unquoted as a PostgreSQL
// identifier: lower snake case, at most 63 bytes.
func IsIdentifier(s string) bool {
	return len(s) <= maxIdentLen && identPattern.MatchString(s)
}

// IsEntityName reports whether s is a valid entity name (PascalCase).
func IsEntityName(s string) bool {
	return entityNamePattern.MatchString(s)
}

// IsErrorCode reports whether s is a valid result code (lower snake case).
func IsErrorCode(s string) bool {
	return codePattern.MatchString(s)
}

// SnakeCase converts an entity name to its lower snake case form.
// "SalesOrder" -> "sales_order", "Contact" -> "contact".
func SnakeCase(name string) string {
	var b strings.Builder
	runes := []rune(name)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// reservedFields are columns every entity table carries; declaring them is an error.
var reservedFields = map[string]bool{
	"id":         true,
	"tenant_id":  true,
	"created_at": true,
	"created_by": true,
	"updated_at": true,
	"updated_by": true,
	"deleted_at": true,
	"deleted_by": true,
}

// IsReservedField reports whether name collides with a generated column.
func IsReservedField(name string) bool {
	return reservedFields[name] || strings.HasPrefix(name, "pk_") || strings.HasPrefix(name, "fk_")
}
