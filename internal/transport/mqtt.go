// Package transport carries frames between nodes over MQTT. Everything is
// QoS 0, fire-and-forget. The fusion layer tolerates lost and duplicated
// frames, so the transport does not pretend to guarantee more than the
// radio link did.
package transport

import (
	"log"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Handler receives each inbound frame's payload.
type Handler func(frame []byte)

// Bus is a best-effort broadcast channel between nodes.
type Bus interface {
	// Send broadcasts a binary frame on the node's send topic.
	Send(frame []byte) error
	// Publish places an arbitrary payload on another topic (status JSON).
	Publish(topic string, payload []byte) error
	Close()
}

// MQTTBus implements Bus over a shared broker.
type MQTTBus struct {
	client    mqtt.Client
	sendTopic string
}

// ConnectMQTT connects to the broker, subscribes to subTopic (when given)
// with the handler, and returns a bus that sends on sendTopic.
func ConnectMQTT(broker, clientID, subTopic, sendTopic string, h Handler) (*MQTTBus, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	log.Printf("transport: connected to MQTT broker at %s", broker)

	if subTopic != "" && h != nil {
		token := client.Subscribe(subTopic, 0, func(_ mqtt.Client, msg mqtt.Message) {
			h(msg.Payload())
		})
		token.Wait()
		if token.Error() != nil {
			client.Disconnect(250)
			return nil, token.Error()
		}
		log.Printf("transport: subscribed to %s", subTopic)
	}

	return &MQTTBus{client: client, sendTopic: sendTopic}, nil
}

func (b *MQTTBus) Send(frame []byte) error {
	token := b.client.Publish(b.sendTopic, 0, false, frame)
	token.Wait()
	return token.Error()
}

func (b *MQTTBus) Publish(topic string, payload []byte) error {
	token := b.client.Publish(topic, 0, true, payload)
	token.Wait()
	return token.Error()
}

func (b *MQTTBus) Close() {
	b.client.Disconnect(250)
}
