package mqttbus

import (
	"context"
	"log"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Handler processes one inbound message.
type Handler func(topic string, message mqtt.Message) error

// ISubscriber is the consume surface components depend on.
type ISubscriber interface {
	SetHandler(h Handler)
	Listen(ctx context.Context)
}

// Subscriber subscribes to one topic filter and dispatches messages to
// the injected handler. Listen blocks until the context is cancelled.
type Subscriber struct {
	client  mqtt.Client
	topic   string
	qos     byte
	handler Handler
}

func NewSubscriber(client mqtt.Client, topic string, qos byte, handler Handler) *Subscriber {
	return &Subscriber{client: client, topic: topic, qos: qos, handler: handler}
}

func (s *Subscriber) SetHandler(h Handler) {
	s.handler = h
}

func (s *Subscriber) Listen(ctx context.Context) {
	token := s.client.Subscribe(s.topic, s.qos, func(_ mqtt.Client, msg mqtt.Message) {
		if s.handler == nil {
			log.Printf("mqttbus: no handler set for topic %s", s.topic)
			return
		}
		if err := s.handler(s.topic, msg); err != nil {
			log.Printf("mqttbus: handler error on %s: %v", s.topic, err)
		}
	})
	if token.Wait() && token.Error() != nil {
		log.Printf("mqttbus: subscribe to %s failed: %v", s.topic, token.Error())
		return
	}
	log.Printf("mqttbus: subscribed to %s", s.topic)

	<-ctx.Done()

	unsub := s.client.Unsubscribe(s.topic)
	unsub.Wait()
}
