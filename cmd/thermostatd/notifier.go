package main

import (
	"context"
	"errors"

	"github.com/nerrad567/thermostat-core/internal/availability"
	"github.com/nerrad567/thermostat-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/thermostat-core/internal/objects"
	"github.com/nerrad567/thermostat-core/internal/sharing"
	"github.com/nerrad567/thermostat-core/internal/store"
)

var (
	_ store.Notifier         = (*mqttNotifier)(nil)
	_ availability.Publisher = (*mqttNotifier)(nil)
	_ publisher              = (*mqtt.Client)(nil)
)

// publisher is the part of *mqtt.Client the notifier uses.
type publisher interface {
	Topics() mqtt.Topics
	PublishJSON(topic string, v any) error
	Clear(topic string) error
}

// mqttNotifier publishes store changes and availability transitions as
// retained MQTT messages. It implements store.Notifier and
// availability.Publisher.
type mqttNotifier struct {
	pub    publisher
	topics mqtt.Topics
}

func newMQTTNotifier(pub publisher) *mqttNotifier {
	return &mqttNotifier{pub: pub, topics: pub.Topics()}
}

type objectMessage struct {
	Serial    string `json:"serial"`
	Key       string `json:"object_key"`
	Value     string `json:"value"`
	Revision  int64  `json:"object_revision"`
	UpdatedAt int64  `json:"object_timestamp"`
}

type ownerMessage struct {
	Serial string `json:"serial"`
	UserID string `json:"user_id"`
}

type sharesMessage struct {
	Serial string          `json:"serial"`
	Shares []sharing.Share `json:"shares"`
}

type availabilityMessage struct {
	Serial   string `json:"serial"`
	Online   bool   `json:"online"`
	LastSeen int64  `json:"last_seen"`
}

func (n *mqttNotifier) ObjectChanged(_ context.Context, obj objects.Object) error {
	return n.pub.PublishJSON(n.topics.Object(obj.Serial, obj.Key), objectMessage{
		Serial:    obj.Serial,
		Key:       obj.Key,
		Value:     obj.Value,
		Revision:  obj.Revision,
		UpdatedAt: obj.UpdatedAt,
	})
}

// OwnerChanged publishes the new owner, or clears the topic when the
// device was released.
func (n *mqttNotifier) OwnerChanged(_ context.Context, serial, userID string) error {
	if userID == "" {
		return n.pub.Clear(n.topics.Owner(serial))
	}
	return n.pub.PublishJSON(n.topics.Owner(serial), ownerMessage{Serial: serial, UserID: userID})
}

func (n *mqttNotifier) SharesChanged(_ context.Context, serial string, shares []sharing.Share) error {
	if shares == nil {
		shares = []sharing.Share{}
	}
	return n.pub.PublishJSON(n.topics.Shares(serial), sharesMessage{Serial: serial, Shares: shares})
}

// DeviceRemoved clears every retained topic of the device. It keeps going
// after a failure and returns all errors joined.
func (n *mqttNotifier) DeviceRemoved(_ context.Context, serial string, objectKeys []string) error {
	topics := make([]string, 0, len(objectKeys)+3)
	for _, key := range objectKeys {
		topics = append(topics, n.topics.Object(serial, key))
	}
	topics = append(topics, n.topics.Owner(serial), n.topics.Shares(serial), n.topics.Availability(serial))

	var errs []error
	for _, topic := range topics {
		if err := n.pub.Clear(topic); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (n *mqttNotifier) AvailabilityChanged(_ context.Context, serial string, online bool, lastSeen int64) error {
	return n.pub.PublishJSON(n.topics.Availability(serial), availabilityMessage{
		Serial:   serial,
		Online:   online,
		LastSeen: lastSeen,
	})
}
