package mongostore

import (
	"context"
	"errors"
	"strings"

	"github.com/MrEthical07/goRegistry/store"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DefaultDatabase is used when Settings.Database is empty.
const DefaultDatabase = "goregistry"

var errNoEndpoints = errors.New("mongostore: no endpoints configured")

// Dialer opens MongoDB-backed clients.
type Dialer struct {
	// Options, when set, adjusts the driver options before connecting.
	Options func(*options.ClientOptions)
	// ClientOptions are applied to every client produced by Dial.
	ClientOptions []Option
}

// Dial connects, pings the primary, ensures collection indexes and loads
// the index documents already stored for the bucket.
func (d Dialer) Dial(ctx context.Context, settings store.Settings) (store.Client, error) {
	uri, err := connectionURI(settings.Endpoints)
	if err != nil {
		return nil, err
	}

	opts := options.Client().ApplyURI(uri)
	if settings.Username != "" {
		opts.SetAuth(options.Credential{Username: settings.Username, Password: settings.Password})
	}
	if d.Options != nil {
		d.Options(opts)
	}

	mc, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, store.Transport(err)
	}
	if err := mc.Ping(ctx, nil); err != nil {
		_ = mc.Disconnect(context.Background())
		return nil, store.Transport(err)
	}

	database := settings.Database
	if database == "" {
		database = DefaultDatabase
	}
	client, err := NewClient(mc, database, settings.Bucket, d.ClientOptions...)
	if err != nil {
		_ = mc.Disconnect(context.Background())
		return nil, err
	}
	if err := client.EnsureIndexes(ctx); err != nil {
		_ = mc.Disconnect(context.Background())
		return nil, err
	}
	if err := client.refreshViews(ctx); err != nil {
		_ = mc.Disconnect(context.Background())
		return nil, err
	}
	return client, nil
}

// connectionURI accepts a single mongodb:// URI or a list of host:port seeds.
func connectionURI(endpoints []string) (string, error) {
	hosts := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		ep = strings.TrimSpace(ep)
		if ep == "" {
			continue
		}
		if strings.HasPrefix(ep, "mongodb://") || strings.HasPrefix(ep, "mongodb+srv://") {
			return ep, nil
		}
		hosts = append(hosts, ep)
	}
	if len(hosts) == 0 {
		return "", errNoEndpoints
	}
	return "mongodb://" + strings.Join(hosts, ","), nil
}
