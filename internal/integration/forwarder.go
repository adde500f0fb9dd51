package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/remotecast/remotecast-server/internal/config"
	"github.com/remotecast/remotecast-server/internal/models"
)

// ForwarderService relays security events to external systems: an HTTP
// webhook and an MQTT topic. Only warning and error level events are
// forwarded; INFO traffic stays in the audit store.
type ForwarderService struct {
	cfg config.IntegrationConfig
	nc  *nats.Conn

	httpClient *http.Client

	mqttMu     sync.Mutex
	mqttClient mqtt.Client
}

// NewForwarderService creates a forwarder service
func NewForwarderService(cfg config.IntegrationConfig, nc *nats.Conn) *ForwarderService {
	return &ForwarderService{
		cfg: cfg,
		nc:  nc,
		httpClient: &http.Client{
			Timeout: cfg.WebhookTimeout,
		},
	}
}

// Start subscribes to security events and blocks until the context is
// cancelled
func (s *ForwarderService) Start(ctx context.Context) error {
	sub, err := s.nc.Subscribe(securitySubjectPrefix+".>", s.handleSecurityEvent)
	if err != nil {
		return fmt.Errorf("subscribe to security events: %w", err)
	}

	if s.cfg.MQTT.Broker != "" {
		if err := s.connectMQTT(); err != nil {
			log.Error().Err(err).Msg("Failed to connect MQTT client")
		}
	}

	log.Info().
		Bool("webhook", s.cfg.WebhookURL != "").
		Bool("mqtt", s.cfg.MQTT.Broker != "").
		Msg("Integration forwarder service started")

	<-ctx.Done()

	sub.Unsubscribe()
	s.closeMQTT()

	return ctx.Err()
}

// handleSecurityEvent fans one event out to the configured targets
func (s *ForwarderService) handleSecurityEvent(msg *nats.Msg) {
	var event models.AuditEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		log.Error().Err(err).Msg("Failed to unmarshal security event")
		return
	}

	if event.Level != models.AuditLevelWarning && event.Level != models.AuditLevelError {
		return
	}

	if s.cfg.WebhookURL != "" {
		go s.forwardToWebhook(event)
	}

	if s.cfg.MQTT.Broker != "" {
		go s.forwardToMQTT(event)
	}
}

// forwardToWebhook posts the event to the configured HTTP endpoint
func (s *ForwarderService) forwardToWebhook(event models.AuditEvent) {
	payload := map[string]interface{}{
		"type":        event.Type,
		"level":       event.Level,
		"userId":      event.UserID,
		"deviceId":    event.DeviceID,
		"sessionId":   event.SessionID,
		"remoteAddr":  event.RemoteAddr,
		"result":      event.Result,
		"description": event.Description,
		"details":     event.Details,
		"timestamp":   time.Now(),
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal webhook payload")
		return
	}

	req, err := http.NewRequest("POST", s.cfg.WebhookURL, bytes.NewBuffer(jsonData))
	if err != nil {
		log.Error().Err(err).Msg("Failed to create webhook request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		log.Error().
			Err(err).
			Str("endpoint", s.cfg.WebhookURL).
			Msg("Failed to forward event to webhook")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		log.Error().
			Int("status", resp.StatusCode).
			Str("endpoint", s.cfg.WebhookURL).
			Msg("Webhook forward failed")
	} else {
		log.Debug().
			Str("type", string(event.Type)).
			Str("endpoint", s.cfg.WebhookURL).
			Msg("Event forwarded to webhook")
	}
}

// forwardToMQTT publishes the event to the configured topic
func (s *ForwarderService) forwardToMQTT(event models.AuditEvent) {
	client := s.getMQTTClient()
	if client == nil {
		return
	}

	jsonData, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal MQTT payload")
		return
	}

	topic := fmt.Sprintf("%s/%s", s.cfg.MQTT.Topic, event.Type)
	token := client.Publish(topic, 1, false, jsonData)
	if token.WaitTimeout(5 * time.Second) {
		if err := token.Error(); err != nil {
			log.Error().
				Err(err).
				Str("topic", topic).
				Msg("Failed to publish to MQTT")
		} else {
			log.Debug().
				Str("type", string(event.Type)).
				Str("topic", topic).
				Msg("Event forwarded to MQTT")
		}
	} else {
		log.Error().
			Str("topic", topic).
			Msg("MQTT publish timeout")
	}
}

func (s *ForwarderService) getMQTTClient() mqtt.Client {
	s.mqttMu.Lock()
	defer s.mqttMu.Unlock()

	if s.mqttClient != nil && s.mqttClient.IsConnected() {
		return s.mqttClient
	}
	return nil
}

func (s *ForwarderService) connectMQTT() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.cfg.MQTT.Broker)

	clientID := s.cfg.MQTT.ClientID
	if clientID == "" {
		clientID = "remotecast-forwarder"
	}
	opts.SetClientID(clientID)

	if s.cfg.MQTT.Username != "" {
		opts.SetUsername(s.cfg.MQTT.Username)
		opts.SetPassword(s.cfg.MQTT.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetKeepAlive(30 * time.Second)

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Str("broker", s.cfg.MQTT.Broker).Msg("MQTT client connected")
	})

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Error().Err(err).Msg("MQTT connection lost")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()

	if token.WaitTimeout(10*time.Second) && token.Error() == nil {
		s.mqttMu.Lock()
		s.mqttClient = client
		s.mqttMu.Unlock()
		return nil
	}

	return fmt.Errorf("connect mqtt broker: %w", token.Error())
}

func (s *ForwarderService) closeMQTT() {
	s.mqttMu.Lock()
	defer s.mqttMu.Unlock()

	if s.mqttClient != nil && s.mqttClient.IsConnected() {
		s.mqttClient.Disconnect(250)
		log.Info().Msg("MQTT client disconnected")
	}
	s.mqttClient = nil
}
