// Package mqttobs implements loop.ObservationGatherer over MQTT sensor
// topics. Five subtopics under a configured prefix each carry one
// integer-valued field of inference.Observation; the gatherer caches
// the latest value received per field and returns the cached snapshot
// on Gather, never blocking on network I/O inside Gather itself.
package mqttobs

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/wuweilabs/cogkernel/internal/inference"
)

// fields lists the five observation subtopics, in Observation
// declaration order.
var fields = []string{"energy", "phi", "tool", "coherence", "task"}

// Config configures the MQTT connection and topic prefix.
type Config struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	// Topic is the prefix under which each field publishes on
	// Topic+"/"+field, e.g. "cogkernel/observation/energy".
	Topic string
}

// Gatherer is a loop.ObservationGatherer backed by MQTT. The zero value
// is not usable; construct with New.
type Gatherer struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	latest inference.Observation
	seen   map[string]bool

	cm *autopaho.ConnectionManager
}

// New constructs a Gatherer. Call Start to connect and begin updating
// the cached observation.
func New(cfg Config, logger *slog.Logger) *Gatherer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gatherer{cfg: cfg, logger: logger, seen: make(map[string]bool, len(fields))}
}

// Start connects to the MQTT broker and subscribes to all five field
// subtopics. It blocks until ctx is canceled; run it in a goroutine.
func (g *Gatherer) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(g.cfg.BrokerURL)
	if err != nil {
		return fmt.Errorf("mqttobs: parse broker URL: %w", err)
	}

	clientID := g.cfg.ClientID
	if clientID == "" {
		clientID = "cogkernel-mqttobs"
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: g.cfg.Username,
		ConnectPassword: []byte(g.cfg.Password),
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			g.logger.Info("mqttobs connected to broker", "broker", g.cfg.BrokerURL)
			subCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if _, err := cm.Subscribe(subCtx, &paho.Subscribe{
				Subscriptions: []paho.SubscribeOptions{{Topic: g.cfg.Topic + "/+", QoS: 0}},
			}); err != nil {
				g.logger.Warn("mqttobs subscribe failed", "error", err)
			}
		},
		OnConnectError: func(err error) {
			g.logger.Warn("mqttobs connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: clientID,
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqttobs: connect: %w", err)
	}
	g.cm = cm

	cm.AddOnPublishReceived(func(pr autopaho.PublishReceived) (bool, error) {
		g.handle(pr.Packet.Topic, pr.Packet.Payload)
		return true, nil
	})

	<-ctx.Done()
	return nil
}

// handle parses one received publish message and updates the cached
// observation field it names, clamping out-of-domain values rather
// than rejecting the whole update — a single bad sensor reading should
// not stall the other four fields.
func (g *Gatherer) handle(topic string, payload []byte) {
	field := strings.TrimPrefix(topic, g.cfg.Topic+"/")
	if field == topic {
		return // not one of ours
	}

	n, err := strconv.Atoi(strings.TrimSpace(string(payload)))
	if err != nil {
		g.logger.Warn("mqttobs: non-integer payload", "topic", topic, "payload", string(payload))
		return
	}

	if n < 0 {
		n = 0
	} else if n > inference.ObservationDomainMax {
		n = inference.ObservationDomainMax
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.setField(field, n)
	g.seen[field] = true
}

func (g *Gatherer) setField(field string, n int) {
	switch field {
	case "energy":
		g.latest.Energy = n
	case "phi":
		g.latest.Phi = n
	case "tool":
		g.latest.Tool = n
	case "coherence":
		g.latest.Coherence = n
	case "task":
		g.latest.Task = n
	}
}

// Gather implements loop.ObservationGatherer. It returns the most
// recently cached value per field (zero for fields never received) and
// never itself blocks on MQTT I/O.
func (g *Gatherer) Gather() (inference.Observation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.latest, nil
}

// FieldsReceived reports which of the five observation fields have
// received at least one MQTT message so far.
func (g *Gatherer) FieldsReceived() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var got []string
	for _, f := range fields {
		if g.seen[f] {
			got = append(got, f)
		}
	}
	return got
}
