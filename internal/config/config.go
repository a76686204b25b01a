// Package config parses the positional command-line arguments into a
// Config, per the external interface's CLI contract (§6 "CLI
// Arguments"). Two arities are accepted: the full eight-argument form
// with TLS enabled, and a five-argument HTTP-only form for
// environments with no certificate.
package config

import (
	"fmt"
	"strconv"
)

// Config is the fully resolved server configuration.
type Config struct {
	HTTPPort      int
	HTTPSPort     int
	LogPath       string
	LockPath      string
	DocRoot       string
	CGIScriptPath string
	KeyFile       string
	CertFile      string
	TLSEnabled    bool
}

const usage = "usage: liso <http_port> <https_port> <log_file> <lock_file> <www_folder> <cgi_script> <private_key_file> <certificate_file>\n" +
	"   or: liso <http_port> <log_file> <lock_file> <www_folder> <cgi_script>"

// ParseArgs parses args (excluding the program name) into a Config.
func ParseArgs(args []string) (*Config, error) {
	switch len(args) {
	case 8:
		return parseFull(args)
	case 5:
		return parseHTTPOnly(args)
	default:
		return nil, fmt.Errorf("%s", usage)
	}
}

func parseFull(args []string) (*Config, error) {
	httpPort, err := parsePort(args[0])
	if err != nil {
		return nil, err
	}
	httpsPort, err := parsePort(args[1])
	if err != nil {
		return nil, err
	}
	return &Config{
		HTTPPort:      httpPort,
		HTTPSPort:     httpsPort,
		LogPath:       args[2],
		LockPath:      args[3],
		DocRoot:       args[4],
		CGIScriptPath: args[5],
		KeyFile:       args[6],
		CertFile:      args[7],
		TLSEnabled:    true,
	}, nil
}

func parseHTTPOnly(args []string) (*Config, error) {
	httpPort, err := parsePort(args[0])
	if err != nil {
		return nil, err
	}
	return &Config{
		HTTPPort:      httpPort,
		LogPath:       args[1],
		LockPath:      args[2],
		DocRoot:       args[3],
		CGIScriptPath: args[4],
		TLSEnabled:    false,
	}, nil
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("config: invalid port %q", s)
	}
	return port, nil
}
