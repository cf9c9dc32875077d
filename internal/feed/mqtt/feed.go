// Package mqtt subscribes to a broker topic carrying holding snapshots and
// hands the latest one to the scene.
package mqtt

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"holding-parade/server/internal/scene"
	"holding-parade/server/internal/telemetry"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultKeepAlive         = 60 * time.Second
	defaultDisconnectQuiesce = 500 // milliseconds
	maxQoS                   = 2
)

// ErrConnectionFailed marks a broker that could not be reached in time.
var ErrConnectionFailed = errors.New("mqtt: connection failed")

type Options struct {
	Broker         string
	Topic          string
	ClientID       string
	Username       string
	Password       string
	QoS            byte
	ConnectTimeout time.Duration
}

// SnapshotSink receives decoded snapshots one at a time.
type SnapshotSink func(ctx context.Context, snapshot []scene.Descriptor)

// Feed keeps only the newest undelivered snapshot, so a slow sink never
// backs up the broker connection.
type Feed struct {
	opts   Options
	sink   SnapshotSink
	logger telemetry.Logger

	client pahomqtt.Client
	latest chan []scene.Descriptor
	mu     sync.Mutex
}

func New(opts Options, sink SnapshotSink, logger telemetry.Logger) *Feed {
	if logger == nil {
		logger = telemetry.Discard()
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	if opts.QoS > maxQoS {
		opts.QoS = 1
	}
	return &Feed{
		opts:   opts,
		sink:   sink,
		logger: logger,
		latest: make(chan []scene.Descriptor, 1),
	}
}

// Run connects, subscribes and delivers snapshots until ctx is done.
func (f *Feed) Run(ctx context.Context) error {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(f.opts.Broker)
	opts.SetClientID(f.opts.ClientID)
	if f.opts.Username != "" {
		opts.SetUsername(f.opts.Username)
		opts.SetPassword(f.opts.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(f.opts.ConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)
	opts.SetOrderMatters(false)
	opts.SetOnConnectHandler(func(c pahomqtt.Client) {
		// Clean sessions drop subscriptions, so subscribe on every connect.
		token := c.Subscribe(f.opts.Topic, f.opts.QoS, func(_ pahomqtt.Client, msg pahomqtt.Message) {
			f.Deliver(msg.Payload())
		})
		if token.WaitTimeout(f.opts.ConnectTimeout) && token.Error() != nil {
			f.logger.Printf("[feed] subscribe %s failed: %v", f.opts.Topic, token.Error())
			return
		}
		f.logger.Printf("[feed] subscribed to %s on %s", f.opts.Topic, f.opts.Broker)
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		f.logger.Printf("[feed] connection lost: %v", err)
	})

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(f.opts.ConnectTimeout) {
		client.Disconnect(0)
		return errors.Mark(errors.Newf("connect %s: timeout after %s", f.opts.Broker, f.opts.ConnectTimeout), ErrConnectionFailed)
	}
	if err := token.Error(); err != nil {
		return errors.Mark(errors.Wrapf(err, "connect %s", f.opts.Broker), ErrConnectionFailed)
	}
	f.mu.Lock()
	f.client = client
	f.mu.Unlock()

	f.Pump(ctx)
	client.Disconnect(defaultDisconnectQuiesce)
	return nil
}

// Deliver decodes payload and parks it as the newest snapshot. Undecodable
// payloads are logged and dropped.
func (f *Feed) Deliver(payload []byte) {
	snapshot, err := scene.DecodeSnapshot(payload)
	if err != nil {
		f.logger.Printf("[feed] dropping malformed snapshot: %v", err)
		return
	}
	for {
		select {
		case f.latest <- snapshot:
			return
		default:
		}
		select {
		case <-f.latest:
		default:
		}
	}
}

// Pump hands parked snapshots to the sink until ctx is done.
func (f *Feed) Pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case snapshot := <-f.latest:
			if f.sink != nil {
				f.sink(ctx, snapshot)
			}
		}
	}
}

// Connected reports whether the broker connection is up.
func (f *Feed) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.client != nil && f.client.IsConnected()
}
