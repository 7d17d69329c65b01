package cmdutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-kit/log/level"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestServerAddr(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		t.Setenv(EnvServerHost, "")
		t.Setenv(EnvServerPort, "")

		addr, err := ServerAddr()
		require.NoError(t, err)
		require.Equal(t, "127.0.0.1:15440", addr)
	})

	t.Run("from environment", func(t *testing.T) {
		t.Setenv(EnvServerHost, "10.0.0.5")
		t.Setenv(EnvServerPort, "9000")

		addr, err := ServerAddr()
		require.NoError(t, err)
		require.Equal(t, "10.0.0.5:9000", addr)
	})

	t.Run("invalid port", func(t *testing.T) {
		t.Setenv(EnvServerPort, "99999")

		_, err := ServerAddr()
		require.Error(t, err)
	})
}

func TestDefaultServerConfig(t *testing.T) {
	t.Setenv(EnvServerPort, "12345")

	cfg, err := DefaultServerConfig()
	require.NoError(t, err)
	require.Equal(t, "tcp://0.0.0.0:12345", cfg.ListenAddr)
	require.Equal(t, "/", cfg.Root)
}

func TestLoadServerConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rfod.yaml")

	contents := `
log_level: debug
listen_addr: unix:///tmp/rfod.sock
root: ` + dir + `
idle_timeout: 30s
max_connections: 4
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))

	cfg := ServerConfig{GRPCListenAddr: "tcp://0.0.0.0:9095"}
	require.NoError(t, LoadServerConfig(path, &cfg))
	require.NoError(t, cfg.Validate())

	require.Equal(t, "debug", cfg.LogLevel.String())
	require.Equal(t, "unix:///tmp/rfod.sock", cfg.ListenAddr)
	require.Equal(t, "tcp://0.0.0.0:9095", cfg.GRPCListenAddr, "fields missing from the file should be kept")
	require.Equal(t, dir, cfg.Root)
	require.Equal(t, 30*time.Second, cfg.IdleTimeout)
	require.Equal(t, 4, cfg.MaxConnections)
}

func TestLoadServerConfig_Invalid(t *testing.T) {
	tt := map[string]string{
		"unknown field": "listen_adress: tcp://0.0.0.0:1\n",
		"bad log level": "log_level: loud\n",
		"bad duration":  "idle_timeout: soon\n",
	}

	for name, contents := range tt {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "rfod.yaml")
			require.NoError(t, os.WriteFile(path, []byte(contents), 0644))

			var cfg ServerConfig
			require.Error(t, LoadServerConfig(path, &cfg))
		})
	}
}

func TestLoadServerConfig_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rfod.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	cfg := ServerConfig{Root: "/srv"}
	require.NoError(t, LoadServerConfig(path, &cfg))
	require.Equal(t, "/srv", cfg.Root)
}

func TestServerConfig_Validate(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0644))

	tt := map[string]ServerConfig{
		"no listen addr":   {Root: "/"},
		"negative limit":   {ListenAddr: ":0", Root: "/", MaxConnections: -1},
		"negative timeout": {ListenAddr: ":0", Root: "/", IdleTimeout: -time.Second},
		"missing root":     {ListenAddr: ":0", Root: filepath.Join(file, "nope")},
		"root isn't a dir": {ListenAddr: ":0", Root: file},
	}
	for name, cfg := range tt {
		t.Run(name, func(t *testing.T) {
			require.Error(t, cfg.Validate())
		})
	}
}

func TestLogLevel_YAML(t *testing.T) {
	var v struct {
		Level LogLevel `yaml:"level"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("level: warn"), &v))
	require.Equal(t, "warn", v.Level.String())

	out, err := yaml.Marshal(v)
	require.NoError(t, err)
	require.Equal(t, "level: warn\n", string(out))

	var zero LogLevel
	require.Equal(t, "info", zero.String())
	require.NotNil(t, zero.FilterOption())
	require.Error(t, zero.Set("verbose"))
	require.NoError(t, zero.Set("ERROR"))
	require.Equal(t, level.ErrorValue().String(), zero.String())
}

func TestParseAddr(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	tt := []struct {
		in      string
		network string
		address string
	}{
		{"127.0.0.1:15440", "tcp", "127.0.0.1:15440"},
		{"tcp://0.0.0.0:15440", "tcp", "0.0.0.0:15440"},
		{"unix:///tmp/rfod.sock", "unix", "/tmp/rfod.sock"},
		{"unix://~/rfod.sock", "unix", filepath.Join(home, "rfod.sock")},
	}
	for _, tc := range tt {
		network, address, err := ParseAddr(tc.in)
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.network, network, tc.in)
		require.Equal(t, tc.address, address, tc.in)
	}

	_, _, err = ParseAddr("http://example.com")
	require.Error(t, err)
}

func TestListen(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "rfod.sock")

	lis, err := Listen("unix://" + sock)
	require.NoError(t, err)
	defer lis.Close()
	require.Equal(t, sock, lis.Addr().String())

	tcp, err := Listen("tcp://127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, tcp.Close())
}
