// Package bus connects the localizer to the MQTT message bus: laser
// scans and initial-pose requests in, pose estimates and particle
// clouds out. Incoming messages are queued most-recent-wins and
// drained once per cycle; the bus never preempts a running cycle.
package bus

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/banshee-data/mcl.localizer/internal/frames"
	"github.com/banshee-data/mcl.localizer/internal/geo"
	"github.com/banshee-data/mcl.localizer/internal/mcl"
)

// Config names the broker and the topics the client uses.
type Config struct {
	Broker           string
	ClientID         string
	ScanTopic        string
	InitialPoseTopic string // empty disables the subscription
	TransformTopic   string // empty disables the subscription
	PoseTopic        string
	ParticlesTopic   string
	MapFrame         string
}

// Client wraps the MQTT connection and the per-cycle mailboxes.
type Client struct {
	cfg       Config
	client    mqtt.Client
	sessionID string

	mu          sync.Mutex
	latestScan  *mcl.LaserScan
	latestPose  *geo.Transform2
	frameSink   frames.Broadcaster
	scansOK     uint64
	scansBroken uint64
}

// Connect dials the broker and subscribes to the configured topics.
func Connect(cfg Config) (*Client, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("no MQTT broker configured")
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetOrderMatters(false)

	c := NewWithClient(cfg, nil)
	opts.SetOnConnectHandler(func(mc mqtt.Client) {
		log.Printf("bus: connected to %s", cfg.Broker)
		if err := c.subscribe(); err != nil {
			log.Printf("bus: subscribe failed: %v", err)
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("bus: connection lost: %v", err)
	})

	c.client = mqtt.NewClient(opts)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connecting to broker %s: %w", cfg.Broker, token.Error())
	}
	return c, nil
}

// NewWithClient wraps an existing MQTT client. Used by tests; the
// caller is responsible for connecting and subscribing.
func NewWithClient(cfg Config, client mqtt.Client) *Client {
	return &Client{
		cfg:       cfg,
		client:    client,
		sessionID: uuid.NewString(),
	}
}

// SessionID identifies this process run on all published messages.
func (c *Client) SessionID() string { return c.sessionID }

// SetFrameSink routes incoming transform messages into the given frame
// tree. Transforms arriving before a sink is set are dropped.
func (c *Client) SetFrameSink(sink frames.Broadcaster) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frameSink = sink
}

func (c *Client) subscribe() error {
	if token := c.client.Subscribe(c.cfg.ScanTopic, 0, c.onScan); token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribing to %s: %w", c.cfg.ScanTopic, token.Error())
	}
	if c.cfg.InitialPoseTopic != "" {
		if token := c.client.Subscribe(c.cfg.InitialPoseTopic, 0, c.onInitialPose); token.Wait() && token.Error() != nil {
			return fmt.Errorf("subscribing to %s: %w", c.cfg.InitialPoseTopic, token.Error())
		}
	}
	if c.cfg.TransformTopic != "" {
		if token := c.client.Subscribe(c.cfg.TransformTopic, 0, c.onTransform); token.Wait() && token.Error() != nil {
			return fmt.Errorf("subscribing to %s: %w", c.cfg.TransformTopic, token.Error())
		}
	}
	return nil
}

func (c *Client) onScan(_ mqtt.Client, msg mqtt.Message) {
	var m ScanMessage
	if err := json.Unmarshal(msg.Payload(), &m); err != nil {
		c.mu.Lock()
		c.scansBroken++
		c.mu.Unlock()
		log.Printf("bus: dropping malformed scan on %s: %v", msg.Topic(), err)
		return
	}

	c.mu.Lock()
	c.latestScan = m.ToLaserScan()
	c.scansOK++
	c.mu.Unlock()
}

func (c *Client) onInitialPose(_ mqtt.Client, msg mqtt.Message) {
	var m SetPoseMessage
	if err := json.Unmarshal(msg.Payload(), &m); err != nil {
		log.Printf("bus: dropping malformed initial pose on %s: %v", msg.Topic(), err)
		return
	}

	pose := m.Pose()
	c.mu.Lock()
	c.latestPose = &pose
	c.mu.Unlock()
}

func (c *Client) onTransform(_ mqtt.Client, msg mqtt.Message) {
	var m TransformMessage
	if err := json.Unmarshal(msg.Payload(), &m); err != nil {
		log.Printf("bus: dropping malformed transform on %s: %v", msg.Topic(), err)
		return
	}

	c.mu.Lock()
	sink := c.frameSink
	c.mu.Unlock()
	if sink == nil {
		return
	}
	if err := sink.Broadcast(m.Relation()); err != nil {
		log.Printf("bus: rejecting transform %s -> %s: %v", m.Parent, m.Child, err)
	}
}

// TakeScan drains the latest queued scan, if any. Older scans that
// arrived since the previous drain are already discarded.
func (c *Client) TakeScan() (*mcl.LaserScan, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	scan := c.latestScan
	c.latestScan = nil
	return scan, scan != nil
}

// TakeInitialPose drains the latest queued re-initialisation request.
func (c *Client) TakeInitialPose() (geo.Transform2, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.latestPose == nil {
		return geo.Transform2{}, false
	}
	pose := *c.latestPose
	c.latestPose = nil
	return pose, true
}

// ScanCounts reports accepted and rejected scan message totals.
func (c *Client) ScanCounts() (ok, broken uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scansOK, c.scansBroken
}

// PublishPose emits the cycle's mean pose estimate.
func (c *Client) PublishPose(res *mcl.CycleResult, stamp time.Time) error {
	msg := PoseMessage{
		SessionID:      c.sessionID,
		StampUnixNanos: stamp.UnixNano(),
		Frame:          c.cfg.MapFrame,
		X:              res.MeanPose.T.X,
		Y:              res.MeanPose.T.Y,
		Yaw:            res.MeanPose.Angle(),
		HasCorrection:  res.HasCorrection,
	}
	if res.HasCorrection {
		msg.CorrectionX = res.MapToOdom.T.X
		msg.CorrectionY = res.MapToOdom.T.Y
		msg.CorrectionYaw = res.MapToOdom.Angle()
	}
	return c.publishJSON(c.cfg.PoseTopic, msg)
}

// PublishParticles emits the weighted population for visualization.
func (c *Client) PublishParticles(samples []mcl.Sample, stamp time.Time) error {
	msg := ParticlesMessage{
		SessionID:      c.sessionID,
		StampUnixNanos: stamp.UnixNano(),
		Frame:          c.cfg.MapFrame,
		Particles:      make([]ParticleMessage, len(samples)),
	}
	for i, s := range samples {
		msg.Particles[i] = ParticleMessage{
			X:      s.Pose.T.X,
			Y:      s.Pose.T.Y,
			Yaw:    s.Pose.Angle(),
			Weight: s.Weight,
		}
	}
	return c.publishJSON(c.cfg.ParticlesTopic, msg)
}

func (c *Client) publishJSON(topic string, v any) error {
	if topic == "" {
		return nil
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding message for %s: %w", topic, err)
	}
	if token := c.client.Publish(topic, 0, false, payload); token.Wait() && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// Disconnect closes the connection, allowing in-flight work to finish.
func (c *Client) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(250)
	}
}
