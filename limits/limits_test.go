package limits

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/snapkeep/types"
)

func TestResolveLimit(t *testing.T) {
	overrides := map[string]int{"abc123": 2}

	assert.Equal(t, 2, ResolveLimit("abc123", overrides, 4))
	assert.Equal(t, 4, ResolveLimit("xyz789", overrides, 4))
	assert.Equal(t, 4, ResolveLimit("abc12", overrides, 4), "match must be exact")
	assert.Equal(t, 4, ResolveLimit("abc123", nil, 4))
}

func TestParseOverrides(t *testing.T) {
	input := strings.Join([]string{
		"# production boxes",
		"abc123:2",
		"",
		"  def456 : 7  ",
		"no-separator-here",
		":5",
		"abc123:9",
		"zero:0",
	}, "\n")

	got, err := ParseOverrides(strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"abc123": 2, "def456": 7, "zero": 0}, got.Limits)
	assert.Equal(t, []int{5, 6}, got.Skipped)
	assert.Equal(t, []int{7}, got.Duplicates)
}

func TestParseOverrides_MalformedValueIsConfigError(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not a number", "abc123:two"},
		{"negative", "abc123:-1"},
		{"empty value", "abc123:"},
		{"float", "abc123:1.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseOverrides(strings.NewReader("ok:1\n" + tt.input))
			require.Error(t, err)
			assert.True(t, errors.Is(err, types.ErrConfig))
			assert.Contains(t, err.Error(), "line 2")
		})
	}
}

func TestParseOverrides_Deterministic(t *testing.T) {
	input := "a:1\nb:2\na:3\nb:4\n"
	first, err := ParseOverrides(strings.NewReader(input))
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		again, err := ParseOverrides(strings.NewReader(input))
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, 1, first.Limits["a"])
	assert.Equal(t, 2, first.Limits["b"])
}

func TestLoadOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "limits")
	require.NoError(t, os.WriteFile(path, []byte("abc123:2\n"), 0o600))

	got, err := LoadOverrides(path)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Limits["abc123"])

	empty, err := LoadOverrides("")
	require.NoError(t, err)
	assert.Empty(t, empty.Limits)

	_, err = LoadOverrides(filepath.Join(dir, "missing"))
	assert.True(t, types.IsFatal(err))
}

func TestResolver(t *testing.T) {
	r, err := NewResolver(4, map[string]int{"abc123": 2})
	require.NoError(t, err)

	assert.Equal(t, 2, r.Limit("abc123"))
	assert.Equal(t, 4, r.Limit("xyz789"))
	assert.True(t, r.Overridden("abc123"))
	assert.False(t, r.Overridden("xyz789"))
	assert.Equal(t, 4, r.Default())
}

func TestNewResolver_Validation(t *testing.T) {
	_, err := NewResolver(-1, nil)
	assert.True(t, errors.Is(err, types.ErrConfig))

	_, err = NewResolver(4, map[string]int{"bad": -3})
	assert.True(t, errors.Is(err, types.ErrConfig))
}

func TestMerge_FirstSourceWins(t *testing.T) {
	fromFile := map[string]int{"a": 1}
	fromConfig := map[string]int{"a": 5, "b": 2}

	assert.Equal(t, map[string]int{"a": 1, "b": 2}, Merge(fromFile, fromConfig))
}
