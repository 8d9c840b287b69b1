package env

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetStringFromFile_PrefersSecretFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "turn_secret")
	assert.NoError(t, os.WriteFile(path, []byte("from-file\n"), 0o600))

	t.Setenv("TURN_SECRET", "from-env")
	t.Setenv("TURN_SECRET_FILE", path)

	assert.Equal(t, "from-file", GetStringFromFile("TURN_SECRET", "default"))
}

func TestGetStringFromFile_FallsBackToEnv(t *testing.T) {
	t.Setenv("TURN_SECRET", "from-env")
	t.Setenv("TURN_SECRET_FILE", "/does/not/exist")

	assert.Equal(t, "from-env", GetStringFromFile("TURN_SECRET", "default"))
}

func TestGetDuration(t *testing.T) {
	t.Setenv("CALL_MAX_DURATION", "90m")
	t.Setenv("BROKEN", "ninety")

	assert.Equal(t, 90*time.Minute, GetDuration("CALL_MAX_DURATION", time.Hour))
	assert.Equal(t, time.Hour, GetDuration("BROKEN", time.Hour))
}

func TestGetStringSlice(t *testing.T) {
	t.Setenv("TURN_HOSTS", " turn1.example.com, ,turn2.example.com ")
	t.Setenv("EMPTY_LIST", " , ")

	assert.Equal(t, []string{"turn1.example.com", "turn2.example.com"}, GetStringSlice("TURN_HOSTS", nil))
	assert.Equal(t, []string{"x"}, GetStringSlice("EMPTY_LIST", []string{"x"}))
}
