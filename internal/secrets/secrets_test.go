package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandString(t *testing.T) {
	t.Setenv("COUGHDETECT_TEST_TOKEN", "secret123")

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "empty", input: "", want: ""},
		{name: "literal", input: "literal-value", want: "literal-value"},
		{name: "variable", input: "${COUGHDETECT_TEST_TOKEN}", want: "secret123"},
		{name: "embedded", input: "Bearer ${COUGHDETECT_TEST_TOKEN}!", want: "Bearer secret123!"},
		{name: "fallback unused", input: "${COUGHDETECT_TEST_TOKEN:-other}", want: "secret123"},
		{name: "fallback used", input: "${COUGHDETECT_TEST_UNSET:-other}", want: "other"},
		{name: "empty fallback", input: "${COUGHDETECT_TEST_UNSET:-}", want: ""},
		{name: "missing", input: "${COUGHDETECT_TEST_UNSET}", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExpandString(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "COUGHDETECT_TEST_UNSET")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write := func(name, content string, perm os.FileMode) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), perm))
		return path
	}

	got, err := ReadFile(write("ok", "hunter2\n", 0o600))
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got)

	// permissive files are read with a warning
	got, err = ReadFile(write("loose", " spaced \r\n", 0o644))
	require.NoError(t, err)
	assert.Equal(t, " spaced ", got)

	_, err = ReadFile(write("empty", "\n", 0o600))
	require.Error(t, err)

	_, err = ReadFile(write("big", string(make([]byte, maxSecretFileSize+1)), 0o600))
	require.Error(t, err)

	_, err = ReadFile(filepath.Join(dir, "missing"))
	require.Error(t, err)

	_, err = ReadFile(dir)
	require.Error(t, err)

	_, err = ReadFile("")
	require.Error(t, err)
}

func TestResolve(t *testing.T) {
	t.Setenv("COUGHDETECT_TEST_PASSWORD", "from-env")

	path := filepath.Join(t.TempDir(), "password")
	require.NoError(t, os.WriteFile(path, []byte("from-file\n"), 0o600))

	got, err := Resolve(path, "${COUGHDETECT_TEST_PASSWORD}")
	require.NoError(t, err)
	assert.Equal(t, "from-file", got, "file wins over value")

	got, err = Resolve("", "${COUGHDETECT_TEST_PASSWORD}")
	require.NoError(t, err)
	assert.Equal(t, "from-env", got)

	got, err = Resolve("", "")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = Resolve(filepath.Join(t.TempDir(), "missing"), "literal")
	require.Error(t, err)
}
