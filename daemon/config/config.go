// Package config holds the daemon's external configuration surface,
// grounded on the teacher's daemon/config/config.go shape: a plain struct
// of defaults, with CLI flag parsing left to cmd/* rather than pulled in
// here.
package config

import (
	"fmt"
	"time"

	"github.com/quantarax/mcastxfer/internal/errs"
	"github.com/quantarax/mcastxfer/internal/validation"
)

// ServerConfig configures a sending daemon.
type ServerConfig struct {
	Mtu                      int
	IPv6                     bool
	MaxConnectionsPerSession int
	MaxSessions              int
	MulticastAddress         string
	MulticastStartPort       int
	MulticastBurstLength     int
	MulticastTTL             int
	RootFolder               string
	InterfaceName            string
	Passphrase               string
	PassphraseEncoding       string
	FECEnabled               bool
	ReadTimeout              time.Duration
	IdleSessionGrace         time.Duration
	AdminAddress             string
}

// DefaultServerConfig returns the sending daemon's default configuration.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Mtu:                      1500,
		IPv6:                     false,
		MaxConnectionsPerSession: 64,
		MaxSessions:              4,
		MulticastAddress:         "239.1.1.1",
		MulticastStartPort:       30000,
		MulticastBurstLength:     64,
		MulticastTTL:             1,
		InterfaceName:            "",
		PassphraseEncoding:       "utf16le",
		FECEnabled:               false,
		ReadTimeout:              10 * time.Minute,
		IdleSessionGrace:         60 * time.Second,
		AdminAddress:             "127.0.0.1:9090",
	}
}

// Validate checks a ServerConfig for internally consistent values.
func (c *ServerConfig) Validate() error {
	if err := validation.ValidateAddr(c.AdminAddress); err != nil {
		return fmtConfigErr(err)
	}
	if err := validation.ValidateRangeInt(c.Mtu, 256, 65535); err != nil {
		return fmtConfigErr(err)
	}
	if err := validation.ValidateRangeInt(c.MaxConnectionsPerSession, 1, 65536); err != nil {
		return fmtConfigErr(err)
	}
	if err := validation.ValidateRangeInt(c.MaxSessions, 1, 1024); err != nil {
		return fmtConfigErr(err)
	}
	if c.PassphraseEncoding != "utf16le" && c.PassphraseEncoding != "utf8" {
		return errs.ErrConfigInvalid
	}
	return nil
}

// ClientConfig configures a receiving daemon.
type ClientConfig struct {
	Passphrase           string
	PassphraseEncoding   string
	MulticastBufferSize  int
	ReadTimeout          time.Duration
	Ttl                  int
	RootFolder           string
	PacketUpdateInterval time.Duration
	InterfaceName        string
}

// DefaultClientConfig returns the receiving daemon's default configuration.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		PassphraseEncoding:   "utf16le",
		MulticastBufferSize:  2 << 20,
		ReadTimeout:          10 * time.Minute,
		Ttl:                  8,
		PacketUpdateInterval: time.Second,
	}
}

// Validate checks a ClientConfig for internally consistent values.
func (c *ClientConfig) Validate() error {
	if err := validation.ValidateStringNonEmpty(c.RootFolder); err != nil {
		return fmtConfigErr(err)
	}
	if c.PassphraseEncoding != "utf16le" && c.PassphraseEncoding != "utf8" {
		return errs.ErrConfigInvalid
	}
	if err := validation.ValidateRangeInt(c.Ttl, 1, 255); err != nil {
		return fmtConfigErr(err)
	}
	return nil
}

func fmtConfigErr(err error) error {
	return fmt.Errorf("%w: %v", errs.ErrConfigInvalid, err)
}
