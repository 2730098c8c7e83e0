package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode   string       `mapstructure:"mode"`
	Broker BrokerConfig `mapstructure:"broker"`
	Peer   PeerConfig   `mapstructure:"peer"`
}

// BrokerConfig drives cmd/server.
type BrokerConfig struct {
	Port        int           `mapstructure:"port"`
	Key         string        `mapstructure:"key"`
	ReadLimit   int64         `mapstructure:"read_limit"`
	PingPeriod  time.Duration `mapstructure:"ping_period"`
	Secret      string        `mapstructure:"secret"`
	RateLimit   int           `mapstructure:"rate_limit"`
	RateWindow  time.Duration `mapstructure:"rate_window"`
	SendBuffer  int           `mapstructure:"send_buffer"`
	AliveWindow time.Duration `mapstructure:"alive_window"`
}

// PeerConfig drives cmd/peer.
type PeerConfig struct {
	BrokerURL          string        `mapstructure:"broker_url"`
	Key                string        `mapstructure:"key"`
	ID                 string        `mapstructure:"id"`
	ICEServers         []ICEServer   `mapstructure:"ice_servers"`
	Heartbeat          time.Duration `mapstructure:"heartbeat"`
	ReconnectAttempts  int           `mapstructure:"reconnect_attempts"`
	IncomingConnection string        `mapstructure:"incoming_connection"`
	IncomingCall       string        `mapstructure:"incoming_call"`
	HostBridge         string        `mapstructure:"host_bridge"`
	RecordDir          string        `mapstructure:"record_dir"`
	Color              bool          `mapstructure:"color"`
}

type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

// DefaultICEServers is the STUN/TURN list used when the config names none.
var DefaultICEServers = []ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302"}},
	{URLs: []string{"stun:stun1.l.google.com:19302"}},
	{URLs: []string{"stun:stun2.l.google.com:19302"}},
	{URLs: []string{"turn:numb.viagenie.ca"}, Username: "webrtc@live.com", Credential: "muazkh"},
}

// New returns a viper instance with every default set and the environment bound.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("PEERLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", "release")

	v.SetDefault("broker.port", 9000)
	v.SetDefault("broker.key", "peerline")
	v.SetDefault("broker.read_limit", 65536)
	v.SetDefault("broker.ping_period", "54s")
	v.SetDefault("broker.secret", "peerline-dev-secret")
	v.SetDefault("broker.rate_limit", 200)
	v.SetDefault("broker.rate_window", "1s")
	v.SetDefault("broker.send_buffer", 64)
	v.SetDefault("broker.alive_window", "60s")

	v.SetDefault("peer.broker_url", "ws://localhost:9000")
	v.SetDefault("peer.key", "peerline")
	v.SetDefault("peer.heartbeat", "5s")
	v.SetDefault("peer.reconnect_attempts", 5)
	v.SetDefault("peer.incoming_connection", "replace")
	v.SetDefault("peer.incoming_call", "reject")
	v.SetDefault("peer.color", true)
	return v
}

// Load reads config/config.<CONFIG_ENV>.yaml on top of the defaults in v.
// A nil v means New().
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		v = New()
	}

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	if explicit := v.GetString("config"); explicit != "" {
		fileName = explicit
	}

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if len(cfg.Peer.ICEServers) == 0 {
		cfg.Peer.ICEServers = DefaultICEServers
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("broker_port", cfg.Broker.Port).Str("broker_url", cfg.Peer.BrokerURL).Msg("config ready")
	return &cfg, nil
}
