package zmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	zmq "github.com/pebbe/zmq4"

	"netmon/pkg/plugin"
)

// ZMQOutput publishes each point as a two-frame message: the measurement
// name (usable as a SUB filter) followed by the JSON encoded point.
type ZMQOutput struct {
	name   string
	mu     sync.Mutex
	socket *zmq.Socket
}

func init() {
	plugin.RegisterOutput("zmq", New)
}

func New(cfg plugin.OutputConfig) (plugin.Output, error) {
	sock, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return nil, err
	}
	if err := sock.Bind(cfg.Listen); err != nil {
		sock.Close()
		return nil, fmt.Errorf("bind %s: %w", cfg.Listen, err)
	}
	name := cfg.Name
	if name == "" {
		name = "zmq"
	}
	return &ZMQOutput{name: name, socket: sock}, nil
}

func (o *ZMQOutput) Name() string { return o.name }
func (o *ZMQOutput) Start() error { return nil }

func (o *ZMQOutput) Write(_ context.Context, p plugin.Point) error {
	topic, payload, err := encode(p)
	if err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, err := o.socket.SendMessage(topic, payload); err != nil {
		return fmt.Errorf("zmq publish: %w", err)
	}
	return nil
}

func (o *ZMQOutput) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.socket.Close()
}

func encode(p plugin.Point) (string, []byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", nil, fmt.Errorf("encode point: %w", err)
	}
	return p.Measurement, b, nil
}
