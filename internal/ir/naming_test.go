package ir

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSnakeCase(t *testing.T) {
	tests := map[string]string{
		"Contact":      "contact",
		"SalesOrder":   "sales_order",
		"HTTPEndpoint": "http_endpoint",
		"Item2":        "item2",
	}
	for in, want := range tests {
		assert.Equal(t, want, SnakeCase(in), in)
	}
}

func TestIsIdentifier(t *testing.T) {
	assert.True(t, IsIdentifier("qualify_lead"))
	assert.True(t, IsIdentifier("_x1"))
	assert.False(t, IsIdentifier("Qualify"))
	assert.False(t, IsIdentifier("drop table"))
	assert.False(t, IsIdentifier("1abc"))
	assert.False(t, IsIdentifier(strings.Repeat("a", 64)))
}

func TestIsReservedField(t *testing.T) {
	assert.True(t, IsReservedField("id"))
	assert.True(t, IsReservedField("pk_contact"))
	assert.True(t, IsReservedField("deleted_by"))
	assert.False(t, IsReservedField("email"))
}
