package cmdutil

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"
)

// Environment variables naming the server endpoint.
const (
	EnvServerHost = "server15440"
	EnvServerPort = "serverport15440"
)

// DefaultPort is used when EnvServerPort isn't set.
const DefaultPort = 15440

// ServerPort returns the port from EnvServerPort, or DefaultPort.
func ServerPort() (int, error) {
	v := os.Getenv(EnvServerPort)
	if v == "" {
		return DefaultPort, nil
	}
	port, err := strconv.ParseUint(v, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", EnvServerPort, v, err)
	}
	return int(port), nil
}

// ServerAddr returns the address clients connect to by default, built from
// EnvServerHost and EnvServerPort.
func ServerAddr() (string, error) {
	host := os.Getenv(EnvServerHost)
	if host == "" {
		host = "127.0.0.1"
	}
	port, err := ServerPort()
	if err != nil {
		return "", err
	}
	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}

// ServerConfig configures rfod. It can be loaded from YAML; command line
// flags take precedence over the file.
type ServerConfig struct {
	LogLevel       LogLevel      `yaml:"log_level"`
	ListenAddr     string        `yaml:"listen_addr"`
	GRPCListenAddr string        `yaml:"grpc_listen_addr,omitempty"`
	HTTPListenAddr string        `yaml:"http_listen_addr,omitempty"`
	Root           string        `yaml:"root"`
	IdleTimeout    time.Duration `yaml:"idle_timeout,omitempty"`
	MaxConnections int           `yaml:"max_connections"`
}

// DefaultServerConfig returns the default ServerConfig. The listen port
// comes from the environment.
func DefaultServerConfig() (ServerConfig, error) {
	port, err := ServerPort()
	if err != nil {
		return ServerConfig{}, err
	}
	return ServerConfig{
		ListenAddr:     fmt.Sprintf("tcp://0.0.0.0:%d", port),
		HTTPListenAddr: "tcp://127.0.0.1:8080",
		Root:           "/",
		MaxConnections: 64,
	}, nil
}

// LoadServerConfig reads the YAML file at path into cfg. Fields missing
// from the file are left untouched. Unknown fields are an error.
func LoadServerConfig(path string, cfg *ServerConfig) error {
	path, err := homedir.Expand(path)
	if err != nil {
		return err
	}
	bb, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(bb))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

// Validate checks that cfg is usable, expanding ~ in Root.
func (cfg *ServerConfig) Validate() error {
	if cfg.ListenAddr == "" {
		return fmt.Errorf("listen address must be set")
	}
	if cfg.MaxConnections < 0 {
		return fmt.Errorf("max connections must not be negative")
	}
	if cfg.IdleTimeout < 0 {
		return fmt.Errorf("idle timeout must not be negative")
	}

	root, err := homedir.Expand(cfg.Root)
	if err != nil {
		return fmt.Errorf("invalid root: %w", err)
	}
	if fi, err := os.Stat(root); err != nil {
		return fmt.Errorf("invalid root: %w", err)
	} else if !fi.IsDir() {
		return fmt.Errorf("invalid root: %s is not a directory", root)
	}
	cfg.Root = root
	return nil
}

// Listen opens a listener for addr. addr is a URL such as tcp://0.0.0.0:80
// or unix://~/rfod.sock; a bare host:port listens on TCP.
func Listen(addr string) (net.Listener, error) {
	network, address, err := ParseAddr(addr)
	if err != nil {
		return nil, err
	}
	lis, err := net.Listen(network, address)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s listener %s: %w", network, address, err)
	}
	return lis, nil
}

// ParseAddr splits a listen or dial URL into a network and an address.
func ParseAddr(addr string) (network, address string, err error) {
	if !strings.Contains(addr, "://") {
		return "tcp", addr, nil
	}

	u, err := url.Parse(addr)
	if err != nil {
		return "", "", fmt.Errorf("cannot parse addr %q as url: %w", addr, err)
	}
	switch u.Scheme {
	case "tcp", "tcp4", "tcp6", "unix":
	default:
		return "", "", fmt.Errorf("unsupported scheme %q in addr %q", u.Scheme, addr)
	}

	address, err = homedir.Expand(u.Host + u.Path)
	if err != nil {
		return "", "", fmt.Errorf("invalid addr: %w", err)
	}
	return u.Scheme, address, nil
}
