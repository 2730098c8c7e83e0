package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	v := New()
	v.Set("config", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Broker.Port)
	assert.Equal(t, 54*time.Second, cfg.Broker.PingPeriod)
	assert.Equal(t, "ws://localhost:9000", cfg.Peer.BrokerURL)
	assert.Equal(t, 5, cfg.Peer.ReconnectAttempts)
	assert.Equal(t, "replace", cfg.Peer.IncomingConnection)
	assert.Equal(t, "reject", cfg.Peer.IncomingCall)
	assert.Equal(t, DefaultICEServers, cfg.Peer.ICEServers)
}

func TestLoadFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "peer.yaml")
	body := `
mode: debug
broker:
  port: 9100
peer:
  broker_url: ws://broker.example:9100
  reconnect_attempts: 2
  ice_servers:
    - urls: ["stun:stun.example.org:3478"]
`
	require.NoError(t, os.WriteFile(file, []byte(body), 0o600))

	v := New()
	v.Set("config", file)
	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Mode)
	assert.Equal(t, 9100, cfg.Broker.Port)
	assert.Equal(t, "ws://broker.example:9100", cfg.Peer.BrokerURL)
	assert.Equal(t, 2, cfg.Peer.ReconnectAttempts)
	require.Len(t, cfg.Peer.ICEServers, 1)
	assert.Equal(t, []string{"stun:stun.example.org:3478"}, cfg.Peer.ICEServers[0].URLs)
}
