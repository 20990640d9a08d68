package procedures

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadTranscript(t *testing.T) {
	file := filepath.Join(t.TempDir(), "walkthrough.txt")
	require.NoError(t, os.WriteFile(file, []byte("  close the valve\n"), 0o600))

	got, err := readTranscript([]string{"pump-a", "open the lid"}, "")
	require.NoError(t, err)
	assert.Equal(t, "open the lid", got)

	got, err = readTranscript([]string{"pump-a"}, file)
	require.NoError(t, err)
	assert.Equal(t, "close the valve", got)

	_, err = readTranscript([]string{"pump-a", "x"}, file)
	require.Error(t, err)

	_, err = readTranscript([]string{"pump-a"}, "")
	require.Error(t, err)

	_, err = readTranscript([]string{"pump-a"}, filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
}
