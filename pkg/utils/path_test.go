package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitPath(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{name: "root", input: "/", want: nil},
		{name: "empty", input: "", want: nil},
		{name: "single", input: "/README.TXT", want: []string{"README.TXT"}},
		{name: "nested", input: "/DOCS/A.TXT", want: []string{"DOCS", "A.TXT"}},
		{name: "relative", input: "DOCS/A.TXT", want: []string{"DOCS", "A.TXT"}},
		{name: "duplicate slashes", input: "//DOCS///A.TXT", want: []string{"DOCS", "A.TXT"}},
		{name: "dot", input: "/./DOCS/.", want: []string{"DOCS"}},
		{name: "traversal collapsed", input: "/DOCS/../A.TXT", want: []string{"A.TXT"}},
		{name: "traversal above root", input: "/../../A.TXT", want: []string{"A.TXT"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitPath(tt.input))
		})
	}
}

func TestSplitParent(t *testing.T) {
	dir, name, err := SplitParent("/DOCS/A.TXT")
	require.NoError(t, err)
	assert.Equal(t, "/DOCS", dir)
	assert.Equal(t, "A.TXT", name)

	dir, name, err = SplitParent("B.TXT")
	require.NoError(t, err)
	assert.Equal(t, "/", dir)
	assert.Equal(t, "B.TXT", name)

	_, _, err = SplitParent("/")
	assert.Error(t, err)
}
