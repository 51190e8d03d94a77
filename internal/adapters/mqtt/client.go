// Package mqtt publishes drive commands to the robot's control bus.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// Commands are replaced every tick, so fire-and-forget is enough.
	qosAtMostOnce byte = 0

	disconnectQuiesceMs = 250
	defaultWaitTimeout  = time.Second
)

var ErrTimeout = errors.New("mqtt operation timed out")

type Options struct {
	Broker         string
	ClientID       string
	ConnectTimeout time.Duration

	// WaitTimeout bounds each publish so a stalled broker cannot hold up the
	// control loop.
	WaitTimeout time.Duration
	Retry       bool
}

// Client is a long-lived publisher with automatic reconnect.
type Client struct {
	client paho.Client
	wait   time.Duration
	logger zerolog.Logger
}

func newClientOptions(broker, clientID string, connectTimeout time.Duration) *paho.ClientOptions {
	opts := paho.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	if connectTimeout > 0 {
		opts.SetConnectTimeout(connectTimeout)
	}
	return opts
}

// Dial connects to the broker. With Retry set, a broker that is down at
// startup is retried in the background and Dial returns once ConnectTimeout
// has passed; otherwise the first attempt must succeed.
func Dial(o Options) (*Client, error) {
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = defaultWaitTimeout
	}
	logger := log.With().Str("module", "mqtt").Str("broker", o.Broker).Logger()

	opts := newClientOptions(o.Broker, o.ClientID, o.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(5 * time.Second)
	opts.SetConnectRetry(o.Retry)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Warn().Err(err).Msg("connection lost")
	})
	opts.SetOnConnectHandler(func(paho.Client) {
		logger.Info().Msg("connected")
	})

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeoutOr(o.ConnectTimeout)) {
		if o.Retry {
			logger.Warn().Msg("broker not reachable yet, retrying in background")
			return &Client{client: client, wait: o.WaitTimeout, logger: logger}, nil
		}
		client.Disconnect(0)
		return nil, fmt.Errorf("connect %s: %w", o.Broker, ErrTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect %s: %w", o.Broker, err)
	}
	return &Client{client: client, wait: o.WaitTimeout, logger: logger}, nil
}

// Publish implements control.Publisher.
func (c *Client) Publish(topic string, payload []byte) error {
	token := c.client.Publish(topic, qosAtMostOnce, false, payload)
	if !token.WaitTimeout(c.wait) {
		return fmt.Errorf("publish %s: %w", topic, ErrTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (c *Client) Close() {
	c.client.Disconnect(disconnectQuiesceMs)
	c.logger.Info().Msg("disconnected")
}

func connectTimeoutOr(d time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return 30 * time.Second
}

// Prober answers "can this broker be reached" with a throwaway connection.
type Prober struct {
	ClientID string
}

// Probe dials broker once, bounded by ctx, and disconnects. topic is only
// logged; the probe does not subscribe or publish.
func (p Prober) Probe(ctx context.Context, broker, topic string) error {
	logger := log.With().Str("module", "mqtt").Str("broker", broker).Str("topic", topic).Logger()

	timeout := 3 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if timeout <= 0 {
		return fmt.Errorf("probe %s: %w", broker, context.DeadlineExceeded)
	}

	clientID := p.ClientID
	if clientID == "" {
		clientID = "rover-probe"
	}
	opts := newClientOptions(broker, fmt.Sprintf("%s-%d", clientID, time.Now().UnixNano()), timeout)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	client := paho.NewClient(opts)

	token := client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		client.Disconnect(0)
		return fmt.Errorf("probe %s: %w", broker, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("probe %s: %w", broker, err)
	}
	client.Disconnect(disconnectQuiesceMs)
	logger.Debug().Msg("probe connected")
	return nil
}
