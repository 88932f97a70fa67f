/* Copyright 2026 The Orca Authors
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package rpc

import (
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// MQTTConfig configures the broker session.
type MQTTConfig struct {
	// Broker is the URL, e.g. "tcp://localhost:1883".
	Broker string `yaml:"broker"`

	// ClientID identifies this process's session.
	ClientID string `yaml:"clientID"`

	// TopicPrefix prefixes every actor topic; identity "broker-1"
	// listens on "<prefix>/broker-1".
	TopicPrefix string `yaml:"topicPrefix"`

	// QoS for publishes and subscriptions.
	QoS byte `yaml:"qos"`

	KeepAlive time.Duration `yaml:"keepAlive"`

	// Quiesce is the disconnect grace in milliseconds.
	Quiesce uint `yaml:"quiesce"`
}

// MQTT carries envelopes over an MQTT broker, one topic per actor
// identity.  Actors in different processes share a negotiation by
// sharing a broker.
type MQTT struct {
	cfg    MQTTConfig
	client mqtt.Client
	logger zerolog.Logger

	mu       sync.Mutex
	handlers map[string]Handler
}

var _ Transport = (*MQTT)(nil)

// NewMQTT connects to the broker.
func NewMQTT(cfg MQTTConfig, logger zerolog.Logger) (*MQTT, error) {
	if cfg.QoS == 0 {
		cfg.QoS = 1
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = 60 * time.Second
	}
	if cfg.Quiesce == 0 {
		cfg.Quiesce = 100
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "orca"
	}

	t := &MQTT{
		cfg:      cfg,
		handlers: map[string]Handler{},
		logger:   logger.With().Str("transport", "mqtt").Logger(),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetKeepAlive(cfg.KeepAlive)
	opts.SetPingTimeout(10 * time.Second)
	opts.AutoReconnect = true
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		t.logger.Warn().Err(err).Msg("broker connection lost")
	}
	opts.DefaultPublishHandler = func(_ mqtt.Client, msg mqtt.Message) {
		t.inbound(msg)
	}

	t.client = mqtt.NewClient(opts)
	if token := t.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Broker, token.Error())
	}
	t.logger.Info().Str("broker", cfg.Broker).Msg("connected")
	return t, nil
}

func (t *MQTT) topic(identity string) string {
	return t.cfg.TopicPrefix + "/" + identity
}

// identityOf is the inverse of topic.
func (t *MQTT) identityOf(topic string) string {
	prefix := t.cfg.TopicPrefix + "/"
	if len(topic) > len(prefix) && topic[:len(prefix)] == prefix {
		return topic[len(prefix):]
	}
	return topic
}

func (t *MQTT) inbound(msg mqtt.Message) {
	env, err := Decode(msg.Payload())
	if err != nil {
		t.logger.Warn().Err(err).Str("topic", msg.Topic()).Msg("dropping bad payload")
		return
	}
	identity := t.identityOf(msg.Topic())
	t.mu.Lock()
	h, have := t.handlers[identity]
	t.mu.Unlock()
	if !have {
		t.logger.Warn().Str("identity", identity).Msg("no handler for inbound envelope")
		return
	}
	h(env)
}

func (t *MQTT) Subscribe(identity string, h Handler) error {
	t.mu.Lock()
	if _, have := t.handlers[identity]; have {
		t.mu.Unlock()
		return fmt.Errorf("identity %q already subscribed", identity)
	}
	t.handlers[identity] = h
	t.mu.Unlock()

	topic := t.topic(identity)
	if token := t.client.Subscribe(topic, t.cfg.QoS, nil); token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", topic, token.Error())
	}
	t.logger.Debug().Str("topic", topic).Msg("subscribed")
	return nil
}

func (t *MQTT) Send(env Envelope) error {
	payload, err := env.Encode()
	if err != nil {
		return err
	}
	token := t.client.Publish(t.topic(env.To), t.cfg.QoS, false, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %q: %w", env.To, err)
	}
	return nil
}

func (t *MQTT) Close() error {
	t.client.Disconnect(t.cfg.Quiesce)
	return nil
}
