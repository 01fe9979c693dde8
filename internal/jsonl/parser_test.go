package jsonl

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "transcript.jsonl")
	var content string
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCountLines_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.jsonl")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	n, err := CountLines(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), n)
}

func TestCountLines_Multiple(t *testing.T) {
	path := writeTemp(t, `{"type":"user"}`, `{"type":"assistant"}`, `{"type":"tool_use"}`)

	n, err := CountLines(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), n)
}

func TestReadPage_Basic(t *testing.T) {
	path := writeTemp(t, `{"line":0}`, `{"line":1}`, `{"line":2}`, `{"line":3}`, `{"line":4}`)

	page, err := ReadPage(path, 0, 3)
	require.NoError(t, err)
	assert.Len(t, page.Lines, 3)
	assert.Equal(t, uint32(5), page.TotalLines)
	assert.True(t, page.HasMore)
	assert.Equal(t, uint32(3), page.NextOffset)
	assert.Equal(t, uint32(0), page.Lines[0].LineNumber)
	assert.Equal(t, uint32(2), page.Lines[2].LineNumber)
}

func TestReadPage_Offset(t *testing.T) {
	path := writeTemp(t, `{"line":0}`, `{"line":1}`, `{"line":2}`, `{"line":3}`)

	page, err := ReadPage(path, 2, 10)
	require.NoError(t, err)
	assert.Len(t, page.Lines, 2)
	assert.False(t, page.HasMore)
}

func TestReadPage_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.jsonl")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	page, err := ReadPage(path, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, page.Lines)
	assert.Equal(t, uint32(0), page.TotalLines)
}

func TestReadPage_SkipsBlankLines(t *testing.T) {
	path := writeTemp(t, `{"line":0}`, ``, `{"line":2}`)

	page, err := ReadPage(path, 0, 10)
	require.NoError(t, err)
	assert.Len(t, page.Lines, 2)
}

func TestReadReverse_Basic(t *testing.T) {
	path := writeTemp(t, `{"line":0}`, `{"line":1}`, `{"line":2}`)

	lines, err := ReadReverse(path, 2)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, uint32(2), lines[0].LineNumber)
	assert.Equal(t, uint32(1), lines[1].LineNumber)
}

func TestReadReverse_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.jsonl")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	lines, err := ReadReverse(path, 10)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestReadPage_NoTrailingNewline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "no_trailing.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"line":0}`+"\n"+`{"line":1}`), 0o644))

	n, err := CountLines(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), n)

	page, err := ReadPage(path, 0, 10)
	require.NoError(t, err)
	assert.Len(t, page.Lines, 2)
	assert.Equal(t, uint32(1), page.Lines[1].LineNumber)
}
