package config

import "testing"

func TestDefaultServerConfigIsValid(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.RootFolder = "/tmp/mcastxfer-send"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default server config to be valid, got: %v", err)
	}
}

func TestServerConfigRejectsBadEncoding(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.PassphraseEncoding = "latin1"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unsupported passphrase encoding")
	}
}

func TestServerConfigRejectsTinyMTU(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.Mtu = 10
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for MTU below the valid range")
	}
}

func TestDefaultClientConfigRequiresRootFolder(t *testing.T) {
	cfg := DefaultClientConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when RootFolder is empty")
	}
	cfg.RootFolder = "/tmp/mcastxfer-recv"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected config to be valid once RootFolder is set, got: %v", err)
	}
}

func TestClientConfigRejectsOutOfRangeTTL(t *testing.T) {
	cfg := DefaultClientConfig()
	cfg.RootFolder = "/tmp/mcastxfer-recv"
	cfg.Ttl = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for TTL of 0")
	}
}
