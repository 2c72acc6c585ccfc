// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `
#Widget: {
	name:  string
	count: int & >=0
}
`

type widget struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestParseAndDecode(t *testing.T) {
	result, err := ParseAndDecode[widget](
		[]byte(testSchema),
		[]byte(`name: "gear", count: 3`),
		"#Widget",
		WithFilename("widget.cue"),
	)
	require.NoError(t, err)
	assert.Equal(t, "gear", result.Value.Name)
	assert.Equal(t, 3, result.Value.Count)
}

func TestParseAndDecodeSchemaViolation(t *testing.T) {
	_, err := ParseAndDecode[widget](
		[]byte(testSchema),
		[]byte(`name: "gear", count: -1`),
		"#Widget",
		WithFilename("widget.cue"),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "widget.cue")
	assert.Contains(t, err.Error(), "count")
}

func TestParseAndDecodeMissingField(t *testing.T) {
	_, err := ParseAndDecode[widget](
		[]byte(testSchema),
		[]byte(`name: "gear"`),
		"#Widget",
	)
	require.Error(t, err)
}

func TestParseAndDecodeOptionalField(t *testing.T) {
	const optionalSchema = `
#Widget: {
	name:   string
	count?: int & >=0
}
`
	// An absent optional field decodes to the zero value.
	result, err := ParseAndDecode[widget](
		[]byte(optionalSchema),
		[]byte(`name: "gear"`),
		"#Widget",
	)
	require.NoError(t, err)
	assert.Equal(t, "gear", result.Value.Name)
	assert.Zero(t, result.Value.Count)
}

func TestParseAndDecodeSizeLimit(t *testing.T) {
	_, err := ParseAndDecode[widget](
		[]byte(testSchema),
		[]byte(`name: "gear", count: 3`),
		"#Widget",
		WithMaxFileSize(4),
		WithFilename("widget.cue"),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds maximum")
}

func TestFormatPath(t *testing.T) {
	tests := []struct {
		path []string
		want string
	}{
		{nil, ""},
		{[]string{"name"}, "name"},
		{[]string{"binaries", "0", "name"}, "binaries[0].name"},
		{[]string{"merge", "2"}, "merge[2]"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatPath(tt.path))
	}
}

func TestFormatErrorNonCUE(t *testing.T) {
	err := FormatError(errors.New("boom"), "widget.cue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "widget.cue")
	assert.Contains(t, err.Error(), "boom")
}
