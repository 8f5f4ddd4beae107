package mqttingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Subscriber connects to the broker and feeds reader messages to a Handler.
type Subscriber struct {
	client  mqtt.Client
	handler *Handler
	log     *slog.Logger
	timeout time.Duration
}

// NewSubscriber prepares a client for broker (e.g. tcp://localhost:1883). The handler's
// replies are published through the same client.
func NewSubscriber(broker, clientID string, svc Services, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Subscriber{log: logger, timeout: 10 * time.Second}
	s.handler = NewHandler(svc, s.publish, logger)

	opts := mqtt.NewClientOptions().AddBroker(broker).SetClientID(clientID)
	opts = opts.SetOrderMatters(false).
		SetAutoReconnect(true).
		SetCleanSession(false).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(s.subscribe).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("mqtt: connection lost", "error", err)
		})
	s.client = mqtt.NewClient(opts)
	return s
}

// Run connects and blocks until ctx is done.
func (s *Subscriber) Run(ctx context.Context) error {
	token := s.client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt connect: %w", err)
		}
	case <-ctx.Done():
		s.client.Disconnect(250)
		return nil
	}
	<-ctx.Done()
	s.client.Disconnect(250)
	s.log.Info("mqtt: disconnected")
	return nil
}

// subscribe runs on every (re)connect.
func (s *Subscriber) subscribe(c mqtt.Client) {
	filters := make(map[string]byte, len(Subscriptions))
	for _, f := range Subscriptions {
		filters[f] = 1
	}
	token := c.SubscribeMultiple(filters, s.onMessage)
	token.Wait()
	if err := token.Error(); err != nil {
		s.log.Error("mqtt: subscribe failed", "error", err)
		return
	}
	s.log.Info("mqtt: subscribed", "filters", Subscriptions)
}

func (s *Subscriber) onMessage(_ mqtt.Client, msg mqtt.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	s.handler.Handle(ctx, msg.Topic(), msg.Payload())
}

func (s *Subscriber) publish(topic string, payload []byte) error {
	token := s.client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(s.timeout) {
		return fmt.Errorf("publish %s: timed out", topic)
	}
	return token.Error()
}
