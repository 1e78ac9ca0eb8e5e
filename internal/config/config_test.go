package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/and161185/consulta/internal/errs"
)

// chdirTemp keeps a stray .env in the package directory from leaking in.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestLoadClient_Defaults(t *testing.T) {
	chdirTemp(t)
	for _, k := range []string{"CONSULTA_API_URL", "CONSULTA_ENV", "CONSULTA_STORAGE", "CONSULTA_TIMEOUT", "CONSULTA_REDIS_DB"} {
		t.Setenv(k, "")
	}
	c, err := LoadClient("/tmp/consulta")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", c.APIURL)
	assert.Equal(t, EnvDevelopment, c.Env)
	assert.Equal(t, StorageFile, c.Storage)
	assert.Equal(t, "/tmp/consulta", c.StorageDir)
	assert.Equal(t, 10*time.Second, c.Timeout)
	require.NoError(t, Validate(c))
}

func TestLoadClient_EnvOverrides(t *testing.T) {
	chdirTemp(t)
	t.Setenv("CONSULTA_API_URL", "https://api.example.com")
	t.Setenv("CONSULTA_STORAGE", "redis")
	t.Setenv("CONSULTA_REDIS_ADDR", "localhost:6379")
	t.Setenv("CONSULTA_REDIS_DB", "3")
	t.Setenv("CONSULTA_TIMEOUT", "2s")

	c, err := LoadClient("")
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com", c.APIURL)
	assert.Equal(t, 3, c.RedisDB)
	assert.Equal(t, 2*time.Second, c.Timeout)
	require.NoError(t, Validate(c))
}

func TestLoadClient_DotEnv(t *testing.T) {
	dir := chdirTemp(t)
	t.Setenv("CONSULTA_ENV", "")
	os.Unsetenv("CONSULTA_ENV")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("CONSULTA_ENV=staging\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("CONSULTA_ENV") })

	c, err := LoadClient("/x")
	require.NoError(t, err)
	assert.Equal(t, EnvStaging, c.Env)
}

func TestLoadClient_BadNumbers(t *testing.T) {
	chdirTemp(t)
	t.Setenv("CONSULTA_TIMEOUT", "soon")
	_, err := LoadClient("/x")
	require.ErrorIs(t, err, errs.ErrValidation)

	t.Setenv("CONSULTA_TIMEOUT", "")
	t.Setenv("CONSULTA_REDIS_DB", "two")
	_, err = LoadClient("/x")
	require.ErrorIs(t, err, errs.ErrValidation)
}

func TestValidate_Client(t *testing.T) {
	ok := Client{APIURL: "http://x.test", Env: EnvProduction, LogLevel: "info", Storage: StorageNone, Timeout: time.Second}
	require.NoError(t, Validate(ok))

	bad := ok
	bad.Storage = "cookie"
	require.ErrorIs(t, Validate(bad), errs.ErrValidation)

	bad = ok
	bad.Storage = StorageRedis
	require.ErrorIs(t, Validate(bad), errs.ErrValidation, "redis needs an address")

	bad = ok
	bad.APIURL = "::"
	require.ErrorIs(t, Validate(bad), errs.ErrValidation)

	bad = ok
	bad.RoutesFile = "/definitely/missing/routes.yaml"
	require.ErrorIs(t, Validate(bad), errs.ErrValidation)
}

func TestLoadServer(t *testing.T) {
	chdirTemp(t)
	t.Setenv("CONSULTA_IDP_JWT_KEY", "0123456789abcdef0123")
	t.Setenv("CONSULTA_IDP_CORS_ORIGINS", "http://a.test, ,http://b.test")
	t.Setenv("CONSULTA_IDP_ACCESS_TTL", "30m")

	s, err := LoadServer()
	require.NoError(t, err)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, s.CORSOrigins)
	assert.Equal(t, 30*time.Minute, s.AccessTTL)
	assert.Equal(t, 20, s.LoginRate)
	require.NoError(t, Validate(s))

	s.JWTKey = "short"
	require.ErrorIs(t, Validate(s), errs.ErrValidation)
}
