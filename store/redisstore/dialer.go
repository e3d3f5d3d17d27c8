package redisstore

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/MrEthical07/goRegistry/store"
	"github.com/redis/go-redis/v9"
)

var errNoEndpoints = errors.New("redisstore: no endpoints configured")

// Dialer opens Redis-backed clients. One endpoint yields a standalone client;
// several yield a cluster client, following redis.NewUniversalClient.
type Dialer struct {
	// Options, when set, adjusts the universal options before connecting.
	Options func(*redis.UniversalOptions)
	// ClientOptions are applied to every client produced by Dial.
	ClientOptions []Option
}

// Dial connects, verifies the server answers PING and loads the index
// documents already present in the bucket.
func (d Dialer) Dial(ctx context.Context, settings store.Settings) (store.Client, error) {
	addrs, err := addresses(settings.Endpoints)
	if err != nil {
		return nil, err
	}

	opts := &redis.UniversalOptions{
		Addrs:      addrs,
		Username:   settings.Username,
		Password:   settings.Password,
		MaxRetries: 1,
	}
	if d.Options != nil {
		d.Options(opts)
	}

	rdb := redis.NewUniversalClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, store.Transport(err)
	}

	client, err := NewClient(rdb, settings.Bucket, d.ClientOptions...)
	if err != nil {
		_ = rdb.Close()
		return nil, err
	}
	if err := client.refreshViews(ctx); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return client, nil
}

// addresses accepts bare host:port pairs or redis:// style URIs.
func addresses(endpoints []string) ([]string, error) {
	out := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		ep = strings.TrimSpace(ep)
		if ep == "" {
			continue
		}
		if strings.Contains(ep, "://") {
			u, err := url.Parse(ep)
			if err != nil {
				return nil, err
			}
			ep = u.Host
		}
		out = append(out, ep)
	}
	if len(out) == 0 {
		return nil, errNoEndpoints
	}
	return out, nil
}
