package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/timfallmk/nowplaying-matrix-daemon/internal/config"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/logging"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/payload"
)

const disconnectQuiesceMs = 250

// MQTTSubscriber receives status messages published to a broker topic. It is
// push-only and reconnects on its own after a dropped connection.
type MQTTSubscriber struct {
	newClient func(*mqtt.ClientOptions) mqtt.Client
	client    mqtt.Client
	handler   Handler
	logger    *logging.Logger
	cfg       config.MQTTConfig
	timeout   time.Duration
	mu        sync.Mutex
	connected atomic.Bool
}

func NewMQTTSubscriber(cfg config.MQTTConfig, timeout time.Duration, logger *logging.Logger) *MQTTSubscriber {
	if logger == nil {
		logger = logging.Discard()
	}

	if cfg.ClientID == "" {
		cfg.ClientID = "nowplaying-matrix-" + uuid.NewString()[:8]
	}

	return &MQTTSubscriber{
		newClient: mqtt.NewClient,
		logger:    logger.WithComponent("provider-mqtt"),
		cfg:       cfg,
		timeout:   timeout,
	}
}

func (s *MQTTSubscriber) Name() string {
	return "mqtt"
}

func (s *MQTTSubscriber) Connected() bool {
	return s.connected.Load()
}

// Subscribe connects to the broker and delivers every message on the topic to
// h. The subscription is renewed after each reconnect.
func (s *MQTTSubscriber) Subscribe(ctx context.Context, h Handler) error {
	s.mu.Lock()
	if s.client != nil {
		s.mu.Unlock()

		return errors.New("mqtt subscriber already started")
	}

	s.handler = h
	s.client = s.newClient(s.options())
	client := s.client
	s.mu.Unlock()

	token := client.Connect()

	var err error

	select {
	case <-token.Done():
		err = token.Error()
	case <-ctx.Done():
		client.Disconnect(0)
		err = ctx.Err()
	}

	if err != nil {
		// Forget the client so a later Subscribe can try again.
		s.mu.Lock()
		s.client = nil
		s.mu.Unlock()

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return unavailable(fmt.Errorf("failed to connect to %s: %w", s.cfg.Broker, err))
	}

	return nil
}

func (s *MQTTSubscriber) options() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().
		AddBroker(s.cfg.Broker).
		SetClientID(s.cfg.ClientID).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(s.onConnectionLost)

	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
	}

	if s.cfg.KeepAlive > 0 {
		opts.SetKeepAlive(s.cfg.KeepAlive)
	}

	if s.timeout > 0 {
		opts.SetConnectTimeout(s.timeout)
	}

	return opts
}

func (s *MQTTSubscriber) onConnect(client mqtt.Client) {
	s.connected.Store(true)
	s.logger.Info("Connected to broker", "broker", s.cfg.Broker, "topic", s.cfg.Topic)

	token := client.Subscribe(s.cfg.Topic, s.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		s.handleMessage(msg.Payload())
	})

	go func() {
		<-token.Done()

		if err := token.Error(); err != nil {
			s.logger.Error("Failed to subscribe", "topic", s.cfg.Topic, "error", err)
		}
	}()
}

func (s *MQTTSubscriber) onConnectionLost(_ mqtt.Client, err error) {
	s.connected.Store(false)
	s.logger.Warn("Connection to broker lost", "error", err)
	s.deliver(payload.Status{}, unavailable(err))
}

func (s *MQTTSubscriber) handleMessage(data []byte) {
	status, err := payload.Parse(data)
	if err != nil {
		s.logger.Debug("Dropping malformed message", "error", err, "bytes", len(data))
	}

	s.deliver(status, err)
}

func (s *MQTTSubscriber) deliver(status payload.Status, err error) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()

	if h != nil {
		h(status, err)
	}
}

func (s *MQTTSubscriber) Close() error {
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.mu.Unlock()

	s.connected.Store(false)

	if client != nil && client.IsConnectionOpen() {
		client.Unsubscribe(s.cfg.Topic).WaitTimeout(time.Second)
		client.Disconnect(disconnectQuiesceMs)
	}

	return nil
}
