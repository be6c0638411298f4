package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/config"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/entities"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/metrics"
	"github.com/sirupsen/logrus"
)

var (
	ErrNotConnected     = errors.New("mqtt: client not connected")
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	ErrPublishFailed    = errors.New("mqtt: publish failed")
	ErrQueueFull        = errors.New("mqtt: publish queue full")
)

const (
	queueSize         = 256
	disconnectQuiesce = 1000 // milliseconds
)

type job struct {
	topic   string
	payload []byte
}

// Publisher mirrors entity state onto retained MQTT topics.
// Sinks enqueue without blocking; a single worker drains the queue.
type Publisher struct {
	client  pahomqtt.Client
	cfg     config.MQTTConfig
	logger  *logrus.Logger
	metrics metrics.MetricsCollector

	queue    chan job
	stopOnce sync.Once
	done     chan struct{}
}

// Connect dials the broker described by cfg and returns a publisher.
// collector may be nil.
func Connect(cfg config.MQTTConfig, logger *logrus.Logger, collector metrics.MetricsCollector) (*Publisher, error) {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(cfg.Timeout)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetWill(StatusTopic(cfg.TopicPrefix), "offline", cfg.QoS, true)

	opts.SetOnConnectHandler(func(c pahomqtt.Client) {
		logger.WithField("broker", cfg.Broker).Info("MQTT connected")
		c.Publish(StatusTopic(cfg.TopicPrefix), cfg.QoS, true, "online")
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		logger.WithError(err).Warn("MQTT connection lost")
	})

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.Timeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, cfg.Timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return NewPublisher(client, cfg, logger, collector), nil
}

// NewPublisher wraps an existing paho client
func NewPublisher(client pahomqtt.Client, cfg config.MQTTConfig, logger *logrus.Logger, collector metrics.MetricsCollector) *Publisher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Publisher{
		client:  client,
		cfg:     cfg,
		logger:  logger,
		metrics: collector,
		queue:   make(chan job, queueSize),
		done:    make(chan struct{}),
	}
}

// Run drains the publish queue until ctx is cancelled or Close is called
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case j := <-p.queue:
			if err := p.publish(j.topic, j.payload); err != nil {
				p.logger.WithError(err).WithField("topic", j.topic).Warn("Failed to publish entity state")
			}
		case <-ctx.Done():
			return
		case <-p.done:
			return
		}
	}
}

func (p *Publisher) publish(topic string, payload []byte) (err error) {
	defer func() {
		if p.metrics != nil {
			p.metrics.RecordStatePublish(err == nil)
		}
	}()

	if !p.client.IsConnected() {
		return ErrNotConnected
	}

	token := p.client.Publish(topic, p.cfg.QoS, p.cfg.Retain, payload)
	if !token.WaitTimeout(p.cfg.Timeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, p.cfg.Timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// Enqueue schedules a state publish for an entity of entryID
func (p *Publisher) Enqueue(entryID string, state entities.State) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal entity state: %w", err)
	}

	select {
	case p.queue <- job{topic: StateTopic(p.cfg.TopicPrefix, entryID, state.EntityID), payload: payload}:
		return nil
	default:
		if p.metrics != nil {
			p.metrics.RecordStatePublish(false)
		}
		return ErrQueueFull
	}
}

// Sink binds the publisher to one config entry
func (p *Publisher) Sink(entryID string) entities.Sink {
	return entities.SinkFunc(func(state entities.State) {
		if err := p.Enqueue(entryID, state); err != nil {
			p.logger.WithError(err).WithFields(logrus.Fields{
				"entry_id":  entryID,
				"entity_id": state.EntityID,
			}).Warn("Dropped MQTT state update")
		}
	})
}

// Close stops the worker, marks the bridge offline and disconnects
func (p *Publisher) Close() {
	p.stopOnce.Do(func() {
		close(p.done)
		if p.client.IsConnected() {
			token := p.client.Publish(StatusTopic(p.cfg.TopicPrefix), p.cfg.QoS, true, "offline")
			token.WaitTimeout(p.cfg.Timeout)
		}
		p.client.Disconnect(disconnectQuiesce)
	})
}

// StateTopic returns <prefix>/<entry>/<entity>/state
func StateTopic(prefix, entryID, entityID string) string {
	return fmt.Sprintf("%s/%s/%s/state", strings.TrimSuffix(prefix, "/"), segment(entryID), segment(entityID))
}

// StatusTopic carries the bridge availability (online/offline)
func StatusTopic(prefix string) string {
	return strings.TrimSuffix(prefix, "/") + "/status"
}

// segment strips characters that would change the topic structure
func segment(s string) string {
	return strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(s)
}
