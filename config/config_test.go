package config

import (
	"os"
	"path/filepath"
	"roguestock-notifier/pkg/notifier"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
)

// isolateEnv pins the variables a developer shell might carry.
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"ENV", "PORT", "CATALOG_PATH", "ITEM_LIMIT",
		"POLL_INTERVAL", "POLL_FETCH_TIMEOUT",
		"AUDIT_PATH", "AUDIT_BUCKET", "AUDIT_OBJECT", "AUDIT_CREDENTIALS_FILE",
		"MESSENGER_PAGE_TOKEN", "MESSENGER_VERIFY_TOKEN", "MESSENGER_APP_SECRET", "MESSENGER_API_URL",
		"TELEGRAM_TOKEN", "DISPATCH_WORKERS", "DISPATCH_QUEUE_SIZE", "DISPATCH_RATE_PER_SEC",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	t.Setenv("TIME_ZONE", "UTC")
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	isolateEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), validator.New())
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if cfg.Env != EnvLocal || cfg.Port != "8080" || cfg.ItemLimit != 4 {
		t.Errorf("Load() = env %q port %q limit %d", cfg.Env, cfg.Port, cfg.ItemLimit)
	}
	if cfg.Poll.Interval != 10*time.Second || cfg.Poll.FetchTimeout != 8*time.Second {
		t.Errorf("poll timing = %v / %v", cfg.Poll.Interval, cfg.Poll.FetchTimeout)
	}
	if cfg.Dispatch.Workers != 2 || cfg.Dispatch.QueueSize != 256 || cfg.Dispatch.RatePerSec != 5 {
		t.Errorf("dispatch = %+v", cfg.Dispatch)
	}
	if cfg.Audit.Path != "./data/stock-log.txt" {
		t.Errorf("local audit path = %q", cfg.Audit.Path)
	}
	loc, err := cfg.Location()
	if err != nil || loc != time.UTC {
		t.Errorf("Location() = %v, %v", loc, err)
	}
}

func TestLoadFileWithEnvOverride(t *testing.T) {
	isolateEnv(t)
	path := writeFile(t, "config.yaml", `
env: prod
port: "9090"
item_limit: 6
poll:
  interval: 30s
audit:
  bucket: stock-audit
messenger:
  page_token: file-token
  verify_token: hush
`)
	t.Setenv("MESSENGER_PAGE_TOKEN", "env-token")

	cfg, err := Load(path, validator.New())
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if cfg.Env != EnvProd || cfg.Port != "9090" || cfg.ItemLimit != 6 {
		t.Errorf("Load() = env %q port %q limit %d", cfg.Env, cfg.Port, cfg.ItemLimit)
	}
	if cfg.Poll.Interval != 30*time.Second {
		t.Errorf("poll interval = %v, want 30s", cfg.Poll.Interval)
	}
	if cfg.Messenger.PageToken != "env-token" || cfg.Messenger.VerifyToken != "hush" {
		t.Errorf("messenger = %+v", cfg.Messenger)
	}
	if cfg.Audit.Bucket != "stock-audit" || cfg.Audit.Object != "stock-log.txt" || cfg.Audit.Path != "" {
		t.Errorf("audit = %+v", cfg.Audit)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown env", map[string]string{"ENV": "staging"}},
		{"zero limit", map[string]string{"ITEM_LIMIT": "0"}},
		{"sub-second interval", map[string]string{"POLL_INTERVAL": "100ms"}},
		{"bad API URL", map[string]string{"MESSENGER_API_URL": "not a url"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolateEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load("", validator.New()); err == nil {
				t.Error("Load() succeeded, want validation error")
			}
		})
	}
}

const catalogYAML = `
noise:
  - Gift Card
items:
  ohio:
    name: Ohio Power Bar
    link: https://shop.example/ohio
    type: single
  plates:
    name: Bumper Plates
    link: https://shop.example/plates
    type: multi
    noise: [Sample Plate]
    subscribers: ["1001", "1002"]
`

func TestLoadCatalog(t *testing.T) {
	c, err := LoadCatalog(writeFile(t, "catalog.yaml", catalogYAML), validator.New())
	if err != nil {
		t.Fatalf("LoadCatalog() = %v", err)
	}
	if len(c.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(c.Items))
	}

	ohio, plates := c.Items[0], c.Items[1]
	if ohio.Key != "ohio" || ohio.Shape != notifier.ShapeSingle || ohio.ProductName != "Ohio Power Bar" {
		t.Errorf("ohio = %+v", ohio)
	}
	if plates.Shape != notifier.ShapeMulti || strings.Join(plates.Noise, ",") != "Gift Card,Sample Plate" {
		t.Errorf("plates = %+v", plates)
	}
	if got := c.Subscribers["plates"]; len(got) != 2 || got[0] != "1001" {
		t.Errorf("plates subscribers = %v", got)
	}
	if _, ok := c.Subscribers["ohio"]; ok {
		t.Error("ohio should have no preloaded subscribers")
	}
}

func TestLoadCatalogInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no items", "noise: []\n"},
		{"bad type", "items:\n  ohio:\n    name: Ohio\n    link: https://shop.example/ohio\n    type: bundle\n"},
		{"missing link", "items:\n  ohio:\n    name: Ohio\n    type: single\n"},
		{"relative link", "items:\n  ohio:\n    name: Ohio\n    link: /ohio\n    type: single\n"},
		{"uppercase key", "items:\n  Ohio:\n    name: Ohio\n    link: https://shop.example/ohio\n    type: single\n"},
		{"reserved key", "items:\n  help:\n    name: Help\n    link: https://shop.example/help\n    type: single\n"},
		{"empty subscriber", "items:\n  ohio:\n    name: Ohio\n    link: https://shop.example/ohio\n    type: single\n    subscribers: [\"\"]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadCatalog(writeFile(t, "catalog.yaml", tt.yaml), validator.New()); err == nil {
				t.Error("LoadCatalog() succeeded, want error")
			}
		})
	}
}
