// Package mqtt implements the publish-only event exporter (§4.13): it
// mirrors the same pose/command/lifecycle events the application callbacks
// receive onto an MQTT broker, as a sink rather than as a transport.Transport
// — it never originates session traffic and has no Receive side. A publish
// failure is logged and dropped, never surfaced to the session or supervisor
// (§7).
package mqtt

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/telepose/posehost/pkg/codec"
	"github.com/telepose/posehost/pkg/session"
)

// Config configures the exporter's broker connection and topic layout.
type Config struct {
	Broker         string        `yaml:"broker" json:"broker"`
	ClientID       string        `yaml:"client_id" json:"client_id"`
	Username       string        `yaml:"username" json:"username"`
	Password       string        `yaml:"password" json:"password"`
	TopicPrefix    string        `yaml:"topic_prefix" json:"topic_prefix"`
	QOS            int           `yaml:"qos" json:"qos"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
}

// DefaultConfig returns sensible exporter defaults (QoS 0: pose-rate
// traffic, dropping stale samples under backlog is acceptable).
func DefaultConfig() Config {
	return Config{
		Broker:         "tcp://localhost:1883",
		ClientID:       "posehostd-exporter",
		TopicPrefix:    "posehost",
		QOS:            0,
		ConnectTimeout: 10 * time.Second,
	}
}

// Exporter publishes router events to MQTT. It is not a transport.Transport:
// it has no Receive and never participates in session state.
type Exporter struct {
	cfg    Config
	client mqtt.Client
	log    *slog.Logger
}

// New connects to the broker and returns a ready Exporter.
func New(cfg Config, log *slog.Logger) (*Exporter, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "posehost"
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("exporter: connect to %s timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("exporter: connect to %s: %w", cfg.Broker, err)
	}

	return &Exporter{cfg: cfg, client: client, log: log}, nil
}

// Close disconnects from the broker.
func (e *Exporter) Close() error {
	e.client.Disconnect(250)
	return nil
}

type poseEvent struct {
	Remote        string  `json:"remote"`
	Seq           uint16  `json:"seq"`
	TsUs          uint64  `json:"ts_us"`
	X             float32 `json:"x"`
	Y             float32 `json:"y"`
	Z             float32 `json:"z"`
	Qx            float32 `json:"qx"`
	Qy            float32 `json:"qy"`
	Qz            float32 `json:"qz"`
	Qw            float32 `json:"qw"`
	MovementStart bool    `json:"movement_start"`
}

type commandEvent struct {
	Remote  string `json:"remote"`
	CmdType uint8  `json:"cmd_type"`
	Value   uint8  `json:"value"`
}

type lifecycleEvent struct {
	Remote string `json:"remote"`
	Event  string `json:"event"`
	Reason string `json:"reason,omitempty"`
}

// PublishPose mirrors an on_pose event to "<prefix>/pose".
func (e *Exporter) PublishPose(remote string, p codec.Pose) {
	e.publish("pose", poseEvent{
		Remote: remote, Seq: p.Seq, TsUs: p.TsUs,
		X: p.X, Y: p.Y, Z: p.Z,
		Qx: p.Qx, Qy: p.Qy, Qz: p.Qz, Qw: p.Qw,
		MovementStart: p.MovementStart,
	})
}

// PublishCommand mirrors an on_command event to "<prefix>/command".
func (e *Exporter) PublishCommand(remote string, c codec.Cmd) {
	e.publish("command", commandEvent{Remote: remote, CmdType: c.CmdType, Value: c.Value})
}

// PublishLifecycle mirrors connect/authenticate/disconnect events to
// "<prefix>/lifecycle".
func (e *Exporter) PublishLifecycle(remote, event string, reason *session.CloseReason) {
	ev := lifecycleEvent{Remote: remote, Event: event}
	if reason != nil {
		ev.Reason = reason.String()
	}
	e.publish("lifecycle", ev)
}

func (e *Exporter) publish(subtopic string, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		e.log.Warn("exporter: marshal failed", "error", err)
		return
	}
	topic := e.cfg.TopicPrefix + "/" + subtopic
	token := e.client.Publish(topic, byte(e.cfg.QOS), false, payload)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			e.log.Warn("exporter: publish failed", "topic", topic, "error", err)
		}
	}()
}
