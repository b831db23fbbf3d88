package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/levipshemish/jewgo-app-sub003/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, "app:\n  app_env: dev\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Fatalf("addr default esperado :8080, obtuvo %q", cfg.Server.Addr)
	}
	if cfg.Storage.Driver != "postgres" {
		t.Fatalf("driver default esperado postgres, obtuvo %q", cfg.Storage.Driver)
	}
	if cfg.Tokens.AccessTTL != "15m" || cfg.Tokens.RefreshTTL != "720h" {
		t.Fatalf("TTLs default inesperados: %q %q", cfg.Tokens.AccessTTL, cfg.Tokens.RefreshTTL)
	}
	if cfg.Keys.RotationInterval != "168h" {
		t.Fatalf("rotación default esperada 168h, obtuvo %q", cfg.Keys.RotationInterval)
	}
	if cfg.MagicLink.TTL != "20m" {
		t.Fatalf("magic link TTL default esperado 20m, obtuvo %q", cfg.MagicLink.TTL)
	}
	if len(cfg.OAuth.Google.Scopes) != 3 {
		t.Fatalf("scopes default esperados, obtuvo %v", cfg.OAuth.Google.Scopes)
	}
	if got := config.Duration(cfg.Tokens.AccessTTL); got != 15*time.Minute {
		t.Fatalf("Duration: %v", got)
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	t.Setenv("TOKEN_ISSUER", "https://env.test")
	t.Setenv("SERVER_ADDR", ":9999")
	t.Setenv("STORAGE_DRIVER", "memory")

	cfg, err := config.Load(writeConfig(t, `
tokens:
  issuer: "https://yaml.test"
server:
  addr: ":8080"
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Tokens.Issuer != "https://env.test" {
		t.Fatalf("env debió pisar yaml: %q", cfg.Tokens.Issuer)
	}
	if cfg.Server.Addr != ":9999" || cfg.Storage.Driver != "memory" {
		t.Fatalf("overrides no aplicados: %q %q", cfg.Server.Addr, cfg.Storage.Driver)
	}
}

func TestLoad_ProdNeverEchoesLinks(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, `
app:
  app_env: prod
magic_link:
  debug_echo_links: true
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MagicLink.DebugEchoLinks {
		t.Fatal("en prod debug_echo_links debió forzarse a false")
	}
}

func TestLoad_RejectsBadDuration(t *testing.T) {
	if _, err := config.Load(writeConfig(t, "tokens:\n  access_ttl: \"quince minutos\"\n")); err == nil {
		t.Fatal("duración inválida debió rechazarse")
	}
}

func TestLoadFromEnv_NoYAMLNeeded(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "memory")
	cfg, err := config.LoadFromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.Driver != "memory" || cfg.Server.Addr != ":8080" {
		t.Fatalf("config de env inesperada: %+v", cfg)
	}
}
