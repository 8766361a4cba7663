package config

import "testing"

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PARLEY_LISTEN_ADDR", "")
	t.Setenv("PARLEY_DB_URL", "postgres://localhost/parley")
	t.Setenv("PARLEY_TLS_CERT", "")
	t.Setenv("PARLEY_TLS_KEY", "")

	cfg := LoadFromEnv()
	if cfg.ListenAddr != ":8080" {
		t.Errorf("default listen addr = %q, want :8080", cfg.ListenAddr)
	}
	if cfg.DBURL != "postgres://localhost/parley" {
		t.Errorf("db url = %q", cfg.DBURL)
	}

	t.Setenv("PARLEY_LISTEN_ADDR", ":9999")
	if cfg := LoadFromEnv(); cfg.ListenAddr != ":9999" {
		t.Errorf("listen addr = %q, want :9999", cfg.ListenAddr)
	}
}

func TestValidate(t *testing.T) {
	base := Config{ListenAddr: ":8080", DBURL: "postgres://localhost/parley"}
	if err := base.Validate(); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}

	cases := []struct {
		name string
		cfg  Config
	}{
		{"missing listen addr", Config{DBURL: base.DBURL}},
		{"missing db url", Config{ListenAddr: base.ListenAddr}},
		{"cert without key", Config{ListenAddr: base.ListenAddr, DBURL: base.DBURL, TLSCertPath: "cert.pem"}},
		{"key without cert", Config{ListenAddr: base.ListenAddr, DBURL: base.DBURL, TLSKeyPath: "key.pem"}},
	}
	for _, tc := range cases {
		if err := tc.cfg.Validate(); err == nil {
			t.Errorf("%s: Validate() = nil, want error", tc.name)
		}
	}

	tls := base
	tls.TLSCertPath = "cert.pem"
	tls.TLSKeyPath = "key.pem"
	if err := tls.Validate(); err != nil {
		t.Errorf("Validate() with full tls pair error = %v, want nil", err)
	}
}
