package config

import "testing"

func TestParseArgsFullTLS(t *testing.T) {
	cfg, err := ParseArgs([]string{"8080", "8443", "log.txt", "lock.txt", "www", "cgi.sh", "key.pem", "cert.pem"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.TLSEnabled || cfg.HTTPSPort != 8443 || cfg.KeyFile != "key.pem" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestParseArgsHTTPOnly(t *testing.T) {
	cfg, err := ParseArgs([]string{"8080", "log.txt", "lock.txt", "www", "cgi.sh"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.TLSEnabled || cfg.HTTPPort != 8080 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestParseArgsBadArity(t *testing.T) {
	if _, err := ParseArgs([]string{"8080"}); err == nil {
		t.Fatalf("expected error for wrong arity")
	}
}

func TestParseArgsBadPort(t *testing.T) {
	if _, err := ParseArgs([]string{"not-a-port", "log.txt", "lock.txt", "www", "cgi.sh"}); err == nil {
		t.Fatalf("expected error for bad port")
	}
}
