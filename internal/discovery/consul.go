package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	consul "github.com/hashicorp/consul/api"

	"aolcore/internal/config"
	"aolcore/pkg/logging"
)

const defaultWatchWait = 5 * time.Minute

// Consul implements Provider against a Consul-compatible HTTP API.
type Consul struct {
	client     *consul.Client
	datacenter string
	watchWait  time.Duration
}

// NewConsul connects to the provider named in the discovery configuration.
func NewConsul(cfg config.DiscoveryConfig) (*Consul, error) {
	cc := consul.DefaultConfig()
	if cfg.Address != "" {
		cc.Address = cfg.Address
	}
	if cfg.Datacenter != "" {
		cc.Datacenter = cfg.Datacenter
	}

	client, err := consul.NewClient(cc)
	if err != nil {
		return nil, fmt.Errorf("creating discovery client: %w", err)
	}

	watchWait := cfg.WatchWait.Std()
	if watchWait <= 0 {
		watchWait = defaultWatchWait
	}
	return &Consul{
		client:     client,
		datacenter: cfg.Datacenter,
		watchWait:  watchWait,
	}, nil
}

// Register announces the instance with an HTTP check.
func (c *Consul) Register(ctx context.Context, inst Instance, check CheckSpec) error {
	reg := &consul.AgentServiceRegistration{
		ID:      inst.ServiceID,
		Name:    inst.Name,
		Address: inst.Host,
		Port:    inst.Port,
		Tags:    inst.Tags,
		Meta:    inst.Meta,
	}
	if check.HTTP != "" {
		reg.Check = &consul.AgentServiceCheck{
			HTTP:     check.HTTP,
			Interval: check.Interval.String(),
			Timeout:  check.Timeout.String(),
		}
		if check.DeregisterAfter > 0 {
			reg.Check.DeregisterCriticalServiceAfter = check.DeregisterAfter.String()
		}
	}

	opts := consul.ServiceRegisterOpts{}.WithContext(ctx)
	if err := c.client.Agent().ServiceRegisterOpts(reg, opts); err != nil {
		return fmt.Errorf("registering %s with discovery: %w", inst.ServiceID, err)
	}
	logging.Debug("Discovery", "Registered %s (%s) with discovery provider", inst.ServiceID, inst.Name)
	return nil
}

// Deregister removes the instance from the provider.
func (c *Consul) Deregister(ctx context.Context, serviceID string) error {
	q := (&consul.QueryOptions{Datacenter: c.datacenter}).WithContext(ctx)
	if err := c.client.Agent().ServiceDeregisterOpts(serviceID, q); err != nil {
		return fmt.Errorf("deregistering %s from discovery: %w", serviceID, err)
	}
	logging.Debug("Discovery", "Deregistered %s from discovery provider", serviceID)
	return nil
}

// Service lists the provider's view of a logical service.
func (c *Consul) Service(ctx context.Context, name string, passingOnly bool) ([]Instance, error) {
	q := (&consul.QueryOptions{Datacenter: c.datacenter}).WithContext(ctx)
	entries, _, err := c.client.Health().Service(name, "", passingOnly, q)
	if err != nil {
		return nil, fmt.Errorf("querying discovery for %s: %w", name, err)
	}
	return convertEntries(entries), nil
}

// KVGet reads one key from the provider's KV store.
func (c *Consul) KVGet(ctx context.Context, key string) ([]byte, bool, error) {
	q := (&consul.QueryOptions{Datacenter: c.datacenter}).WithContext(ctx)
	pair, _, err := c.client.KV().Get(key, q)
	if err != nil {
		return nil, false, fmt.Errorf("reading discovery key %s: %w", key, err)
	}
	if pair == nil {
		return nil, false, nil
	}
	return pair.Value, true, nil
}

// KVPut writes one key to the provider's KV store.
func (c *Consul) KVPut(ctx context.Context, key string, value []byte) error {
	w := (&consul.WriteOptions{Datacenter: c.datacenter}).WithContext(ctx)
	if _, err := c.client.KV().Put(&consul.KVPair{Key: key, Value: value}, w); err != nil {
		return fmt.Errorf("writing discovery key %s: %w", key, err)
	}
	return nil
}

// Watch runs a blocking-query loop until ctx is cancelled, invoking fn with
// the full membership whenever the provider's index advances. Transient
// query errors back off exponentially and the loop resumes.
func (c *Consul) Watch(ctx context.Context, name string, passingOnly bool, fn func([]Instance)) error {
	retry := backoff.NewExponentialBackOff()
	retry.MaxElapsedTime = 0

	var index uint64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		q := (&consul.QueryOptions{
			Datacenter: c.datacenter,
			WaitIndex:  index,
			WaitTime:   c.watchWait,
		}).WithContext(ctx)

		entries, meta, err := c.client.Health().Service(name, "", passingOnly, q)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			wait := retry.NextBackOff()
			logging.Warn("Discovery", "Watch on %s failed, retrying in %s: %v", name, wait, err)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		retry.Reset()

		// A lower index means the provider restarted; restart the query
		// from scratch.
		if meta.LastIndex < index {
			index = 0
			continue
		}
		if meta.LastIndex == index {
			continue
		}
		index = meta.LastIndex
		fn(convertEntries(entries))
	}
}

func convertEntries(entries []*consul.ServiceEntry) []Instance {
	out := make([]Instance, 0, len(entries))
	for _, entry := range entries {
		if entry.Service == nil {
			continue
		}
		host := entry.Service.Address
		if host == "" && entry.Node != nil {
			host = entry.Node.Address
		}
		out = append(out, Instance{
			ServiceID: entry.Service.ID,
			Name:      entry.Service.Service,
			Host:      host,
			Port:      entry.Service.Port,
			Tags:      entry.Service.Tags,
			Meta:      entry.Service.Meta,
		})
	}
	return out
}
