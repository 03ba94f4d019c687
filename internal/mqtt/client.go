package mqtt

import (
	"os"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/AaronLay10/SentientDrill/internal/logger"
)

// Transport is the subset of the broker client used by the intake and
// publisher.
type Transport interface {
	Subscribe(topic string, handler paho.MessageHandler) error
	Publish(topic string, payload []byte) error
	IsConnected() bool
}

// Options configures a Client.
type Options struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	QoS       byte
}

// Client wraps the Paho MQTT client.
type Client struct {
	client paho.Client
	opts   Options
	log    *logger.Logger
	mu     sync.Mutex

	hookMu    sync.RWMutex
	onConnect []func()
	onLost    []func(error)
}

// BrokerURL returns the MQTT broker URL from env or default.
func BrokerURL() string {
	if url := os.Getenv("MQTT_URL"); url != "" {
		return url
	}
	return "tcp://localhost:1883"
}

// NewClient creates a new MQTT client but does not connect.
func NewClient(o Options, log *logger.Logger) *Client {
	if o.BrokerURL == "" {
		o.BrokerURL = BrokerURL()
	}
	if o.ClientID == "" {
		o.ClientID = "drilld"
	}
	if o.QoS > 2 {
		o.QoS = 1
	}
	if log == nil {
		log = logger.Nop()
	}

	c := &Client{opts: o, log: log.With("component", "mqtt")}

	opts := paho.NewClientOptions().
		AddBroker(o.BrokerURL).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second).
		SetOnConnectHandler(func(paho.Client) { c.fireConnect() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) { c.fireLost(err) })
	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}

	c.client = paho.NewClient(opts)
	return c
}

// OnConnect registers fn to run after every successful (re)connect.
func (c *Client) OnConnect(fn func()) {
	c.hookMu.Lock()
	c.onConnect = append(c.onConnect, fn)
	c.hookMu.Unlock()
}

// OnConnectionLost registers fn to run when the broker connection drops.
func (c *Client) OnConnectionLost(fn func(error)) {
	c.hookMu.Lock()
	c.onLost = append(c.onLost, fn)
	c.hookMu.Unlock()
}

func (c *Client) fireConnect() {
	c.hookMu.RLock()
	hooks := append([]func(){}, c.onConnect...)
	c.hookMu.RUnlock()
	c.log.Info("connected", "broker", c.opts.BrokerURL)
	for _, fn := range hooks {
		go fn()
	}
}

func (c *Client) fireLost(err error) {
	c.hookMu.RLock()
	hooks := append([]func(error){}, c.onLost...)
	c.hookMu.RUnlock()
	c.log.Warn("connection lost", "broker", c.opts.BrokerURL, "error", err)
	for _, fn := range hooks {
		fn(err)
	}
}

// Connect attempts to connect to the broker.
// Returns an error if connection fails, but does not block indefinitely.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	token := c.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return &ConnectTimeoutError{Broker: c.opts.BrokerURL}
	}
	return token.Error()
}

// Subscribe subscribes to a topic with the given handler.
func (c *Client) Subscribe(topic string, handler paho.MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	token := c.client.Subscribe(topic, c.opts.QoS, handler)
	if !token.WaitTimeout(10 * time.Second) {
		return &TimeoutError{Op: "subscribe", Topic: topic}
	}
	return token.Error()
}

// Publish sends payload to topic without retaining it.
func (c *Client) Publish(topic string, payload []byte) error {
	token := c.client.Publish(topic, c.opts.QoS, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return &TimeoutError{Op: "publish", Topic: topic}
	}
	return token.Error()
}

// Disconnect cleanly disconnects from the broker.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.client.Disconnect(1000)
}

// IsConnected returns true if the client is connected.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// ConnectTimeoutError indicates connection timed out.
type ConnectTimeoutError struct {
	Broker string
}

func (e *ConnectTimeoutError) Error() string {
	return "mqtt connect timeout: " + e.Broker
}

// TimeoutError indicates a subscribe or publish was not acknowledged in time.
type TimeoutError struct {
	Op    string
	Topic string
}

func (e *TimeoutError) Error() string {
	return "mqtt " + e.Op + " timeout: " + e.Topic
}
