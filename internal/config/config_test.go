package config

import (
	"strings"
	"testing"
	"time"
)

func TestFromYAMLValid(t *testing.T) {
	cfg, err := FromYAML([]byte(`
host:
  id: host-1
  name: Test Host
defaults:
  timezone: Europe/Lisbon
  checkout_time: "10:00"
sync:
  window_days: 30
  allow_empty_feed: true
auth:
  jwt_secret: sekret
  share_token_ttl_days: 14
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Host.ID != "host-1" || cfg.Defaults.Timezone != "Europe/Lisbon" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.WindowDays() != 30 {
		t.Fatalf("window days %d", cfg.WindowDays())
	}
	if !cfg.Sync.AllowEmptyFeed {
		t.Fatalf("allow_empty_feed not parsed")
	}
	if cfg.Timezone().String() != "Europe/Lisbon" {
		t.Fatalf("timezone %s", cfg.Timezone())
	}
}

func TestFromYAMLRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"missing host id": `
defaults:
  timezone: UTC
`,
		"bad timezone": `
host:
  id: host-1
defaults:
  timezone: Mars/Olympus
`,
		"bad checkout time": `
host:
  id: host-1
defaults:
  checkout_time: "25:99"
`,
		"webhook without url": `
host:
  id: host-1
webhooks:
  - secret: s
`,
	}
	for name, yml := range cases {
		if _, err := FromYAML([]byte(yml)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestDefaults(t *testing.T) {
	cfg := Default("host-1")
	if cfg.Host.ID != "host-1" {
		t.Fatalf("host id %q", cfg.Host.ID)
	}
	if cfg.WindowDays() != 90 {
		t.Fatalf("default window %d", cfg.WindowDays())
	}
	if cfg.FeedTimeout() != 30*time.Second {
		t.Fatalf("default feed timeout %s", cfg.FeedTimeout())
	}
	if cfg.Defaults.CheckoutTime != "11:00" {
		t.Fatalf("default checkout time %q", cfg.Defaults.CheckoutTime)
	}
	if cfg.Sync.AllowEmptyFeed {
		t.Fatalf("empty-feed guard must default on")
	}
}

func TestGenerateDefaultRoundTrips(t *testing.T) {
	raw := GenerateDefault("host-xyz")
	if !strings.Contains(raw, "host-xyz") {
		t.Fatalf("host id missing from generated config")
	}
	if _, err := FromYAML([]byte(raw)); err != nil {
		t.Fatalf("generated config must validate: %v", err)
	}
}
