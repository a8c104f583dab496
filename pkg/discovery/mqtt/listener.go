// Package mqtt receives Tuya BLE advertisements relayed through an MQTT broker by Bluetooth
// proxies.
//
// Each proxy publishes one JSON message per advertisement to <prefix>/<proxy>/advertisement:
//
//	{"address": "DC:23:4D:00:11:22", "name": "TY", "rssi": -62,
//	 "service_data": {"0000a201-0000-1000-8000-00805f9b34fb": "0011..."}}
//
// Service data values are hex encoded.
package mqtt

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/tuyable/credential-cache/internal/log"
	"github.com/tuyable/credential-cache/pkg/credentials"
	"github.com/tuyable/credential-cache/pkg/discovery"
)

const (
	DefaultTopicPrefix = "tuya-ble"

	connectTimeout    = 10 * time.Second
	disconnectQuiesce = 1000 // milliseconds
)

// Config holds MQTT listener configuration.
type Config struct {
	Broker      string `yaml:"broker"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	ClientID    string `yaml:"client_id"`
}

// Listener is a [discovery.Source] fed by an MQTT broker.
type Listener struct {
	client pahomqtt.Client
	prefix string
}

var _ discovery.Source = (*Listener)(nil)

// NewListener connects to the broker in cfg.
func NewListener(cfg Config) (*Listener, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt: no broker configured")
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = DefaultTopicPrefix
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "tuya-ble-creds"
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectTimeout(connectTimeout).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			log.Warning("MQTT connection lost: %s", err)
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	log.Info("Connected to MQTT broker %s", cfg.Broker)
	return &Listener{client: client, prefix: cfg.TopicPrefix}, nil
}

// Topic returns the subscription filter for advertisements.
func (l *Listener) Topic() string {
	return subscriptionTopic(l.prefix)
}

func subscriptionTopic(prefix string) string {
	return strings.TrimSuffix(prefix, "/") + "/+/advertisement"
}

// Run subscribes to relayed advertisements and reports those carrying Tuya service data until ctx
// is canceled.
func (l *Listener) Run(ctx context.Context, found func(discovery.Advertisement)) error {
	topic := l.Topic()
	token := l.client.Subscribe(topic, 0, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		adv, ok, err := decodeAdvertisement(msg.Topic(), msg.Payload())
		if err != nil {
			log.Debug("Ignoring message on %s: %s", msg.Topic(), err)
			return
		}
		if ok && ctx.Err() == nil {
			found(adv)
		}
	})
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("mqtt subscribe timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", topic, err)
	}
	log.Debug("Subscribed to %s", topic)

	<-ctx.Done()
	l.client.Unsubscribe(topic).WaitTimeout(connectTimeout)
	return ctx.Err()
}

// Close disconnects from the broker.
func (l *Listener) Close() {
	l.client.Disconnect(disconnectQuiesce)
}

type relayedAdvertisement struct {
	Address     string            `json:"address"`
	Name        string            `json:"name"`
	RSSI        int16             `json:"rssi"`
	ServiceData map[string]string `json:"service_data"`
}

// decodeAdvertisement parses a relayed advertisement. It returns false without an error if the
// advertisement is valid but not from a Tuya device.
func decodeAdvertisement(topic string, payload []byte) (discovery.Advertisement, bool, error) {
	var relayed relayedAdvertisement
	if err := json.Unmarshal(payload, &relayed); err != nil {
		return discovery.Advertisement{}, false, err
	}
	raw, err := credentials.AddressBytes(relayed.Address)
	if err != nil {
		return discovery.Advertisement{}, false, err
	}
	address, _ := credentials.NormalizeAddress(raw)

	for uuid, data := range relayed.ServiceData {
		if !discovery.IsTuyaService(uuid) {
			continue
		}
		serviceData, err := hex.DecodeString(data)
		if err != nil {
			return discovery.Advertisement{}, false, fmt.Errorf("service data: %w", err)
		}
		return discovery.Advertisement{
			Address:     address,
			LocalName:   relayed.Name,
			RSSI:        relayed.RSSI,
			ServiceData: serviceData,
			Source:      proxyName(topic),
		}, true, nil
	}
	return discovery.Advertisement{}, false, nil
}

// proxyName extracts the proxy from <prefix>/<proxy>/advertisement.
func proxyName(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 {
		return topic
	}
	return parts[len(parts)-2]
}
