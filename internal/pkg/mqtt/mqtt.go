package mqtt

import (
	"time"

	paho_mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/anicoll/froeling-integration/internal/pkg/config"
)

const (
	manufacturer   = "Froeling"
	deviceModel    = "Froeling Connect"
	publishTimeout = 10 * time.Second
	connectWait    = 5 * time.Second
	retryInterval  = 10 * time.Second
)

type Service struct {
	client          paho_mqtt.Client
	discoveryPrefix string
	statePrefix     string
	logger          *zap.Logger
}

func New(client paho_mqtt.Client, cfg config.MqttConfig) *Service {
	return &Service{
		client:          client,
		discoveryPrefix: cfg.DiscoveryPrefix,
		statePrefix:     cfg.StatePrefix,
		logger:          zap.L(),
	}
}

// NewClient builds a paho client for the configured broker, e.g. tcp://host:1883.
func NewClient(cfg config.MqttConfig) paho_mqtt.Client {
	opts := paho_mqtt.NewClientOptions()
	opts.AddBroker(cfg.Host).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(retryInterval)
	opts.SetConnectTimeout(10 * time.Second)
	opts.OnConnectionLost = func(_ paho_mqtt.Client, err error) {
		zap.L().Warn("mqtt connection lost", zap.Error(err))
	}
	return paho_mqtt.NewClient(opts)
}

// Connect starts the broker connection. A broker that is not reachable within
// connectWait is not an error: the client keeps retrying in the background and
// failed publishes are retried with the next snapshot. A refused connection is.
func (s *Service) Connect() error {
	token := s.client.Connect()
	if !token.WaitTimeout(connectWait) {
		s.logger.Warn("mqtt broker not reachable yet, retrying in background", zap.Duration("waited", connectWait))
		return nil
	}
	return token.Error()
}

func (s *Service) Close() error {
	s.client.Disconnect(250)
	return nil
}
