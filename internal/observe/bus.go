package observe

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/katia/pkg/bus"
)

// instrumentedBus counts transport failures on the wrapped bus.
type instrumentedBus struct {
	bus.Bus
	m *Metrics
}

// InstrumentBus wraps b so that publish and poll failures are counted in
// [Metrics.BusErrors]. Empty polls and cancellations are not failures. A
// wrapped [bus.Provisioner] keeps provisioning.
func InstrumentBus(b bus.Bus, m *Metrics) bus.Bus {
	ib := instrumentedBus{Bus: b, m: m}
	if p, ok := b.(bus.Provisioner); ok {
		return provisioningBus{instrumentedBus: ib, p: p}
	}
	return ib
}

func (b instrumentedBus) Publish(ctx context.Context, topic string, env bus.Envelope) error {
	err := b.Bus.Publish(ctx, topic, env)
	if err != nil && ctx.Err() == nil {
		b.m.RecordBusError(ctx, "publish", topic)
	}
	return err
}

func (b instrumentedBus) Poll(ctx context.Context, topic string, timeout time.Duration) (bus.Envelope, error) {
	env, err := b.Bus.Poll(ctx, topic, timeout)
	if err != nil && !errors.Is(err, bus.ErrEmpty) && ctx.Err() == nil {
		b.m.RecordBusError(ctx, "poll", topic)
	}
	return env, err
}

type provisioningBus struct {
	instrumentedBus
	p bus.Provisioner
}

func (b provisioningBus) Provision(ctx context.Context, topics ...string) error {
	return b.p.Provision(ctx, topics...)
}
