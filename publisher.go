package canmon

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

const publishTimeout = 2 * time.Second

// publishedMessage is the wire shape of one decoded message on MQTT.
type publishedMessage struct {
	Interface   string    `json:"interface"`
	CobId       uint32    `json:"cob_id"`
	Type        string    `json:"type"`
	Node        int16     `json:"node"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	Degraded    bool      `json:"degraded,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Publisher streams decoded messages to an MQTT broker, one JSON document
// per message. Publishing is fire and forget, a slow broker never stalls
// the consumer loop.
type Publisher struct {
	client mqtt.Client
	topic  string
}

func NewPublisher(broker, clientId, topic string) (*Publisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientId).
		SetAutoReconnect(true).
		SetConnectRetry(true)
	opts.OnConnect = func(mqtt.Client) {
		log.Infof("[MQTT] connected to %v", broker)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warnf("[MQTT] connection lost : %v", err)
	}
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(publishTimeout) {
		return nil, fmt.Errorf("mqtt connect to %v timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, err
	}
	return &Publisher{client: client, topic: topic}, nil
}

// Publish sends one decoded message. Encoding errors are returned,
// delivery is asynchronous at QoS 0.
func (pub *Publisher) Publish(msg *Message) error {
	payload, err := json.Marshal(publishedMessage{
		Interface:   msg.Interface,
		CobId:       msg.ID,
		Type:        msg.Type.String(),
		Node:        msg.Node,
		Description: msg.Description,
		Status:      msg.Status(time.Now()).String(),
		Degraded:    msg.Degraded,
		Timestamp:   msg.Timestamp,
	})
	if err != nil {
		return err
	}
	pub.client.Publish(pub.topic, 0, false, payload)
	return nil
}

func (pub *Publisher) Close() {
	pub.client.Disconnect(uint(publishTimeout.Milliseconds()))
}
