package actuator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher is the subset of mqtt.Client used for dispatch.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTDispatcher publishes device actions to a per-hub MQTT topic.
type MQTTDispatcher struct {
	client Publisher
	prefix string
	qos    byte
}

// NewMQTTDispatcher constructs a dispatcher publishing to {prefix}/{hubId}/actions.
func NewMQTTDispatcher(client Publisher, prefix string) (*MQTTDispatcher, error) {
	if client == nil {
		return nil, errors.New("actuator: nil mqtt client")
	}
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		prefix = "hubs"
	}
	return &MQTTDispatcher{client: client, prefix: prefix, qos: 1}, nil
}

// Topic returns the topic actions for hubID are published to.
func (d *MQTTDispatcher) Topic(hubID string) string {
	return d.prefix + "/" + hubID + "/actions"
}

// Dispatch publishes the action and waits for the broker ack until ctx expires.
func (d *MQTTDispatcher) Dispatch(ctx context.Context, action DeviceAction) error {
	if err := action.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(action)
	if err != nil {
		return err
	}
	token := d.client.Publish(d.Topic(action.HubID), d.qos, false, payload)

	wait := DefaultTimeout
	if deadline, ok := ctx.Deadline(); ok {
		wait = time.Until(deadline)
	}
	if !token.WaitTimeout(wait) {
		return fmt.Errorf("actuator: mqtt publish to %s timed out", d.Topic(action.HubID))
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("actuator: mqtt publish: %w", err)
	}
	return nil
}

// ConnectMQTT connects a paho client to broker.
func ConnectMQTT(broker, clientID string, timeout time.Duration) (mqtt.Client, error) {
	if broker == "" {
		return nil, errors.New("actuator: empty mqtt broker")
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(timeout)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("actuator: mqtt connect to %s timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("actuator: mqtt connect: %w", err)
	}
	return client, nil
}
