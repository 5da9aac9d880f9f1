package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"frostchat/internal/domain"
	"frostchat/internal/relay"
	"frostchat/internal/services/channel"
	"frostchat/internal/services/exchange"
	"frostchat/internal/services/identity"
	"frostchat/internal/store"
)

// Wire bundles the stores, relay group and services for the CLI.
type Wire struct {
	Cache    *store.KeyCache
	Keys     domain.SessionKeyStore
	Records  *store.HTTP
	Relay    *relay.Group
	Identity *identity.Service
	Exchange *exchange.Service
	Channel  *channel.Service
	Log      *slog.Logger

	endpoints []*relay.Endpoint
}

// NewWire unlocks the cache and constructs the dependency graph from cfg.
// A wrong passphrase surfaces as domain.ErrCacheIntegrity before anything
// touches the network.
func NewWire(ctx context.Context, cfg Config, log *slog.Logger) (*Wire, error) {
	cache, err := store.OpenKeyCache(cfg.Home, cfg.Passphrase)
	if err != nil {
		return nil, err
	}

	httpClient := cfg.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	records := store.NewHTTP(cfg.StoreURL, httpClient)

	// Dial every configured relay; a subset being down is the normal case
	// the endpoint group exists for. Zero live endpoints still works, the
	// durable fallback path carries the handshake alone.
	var endpoints []*relay.Endpoint
	var broadcasts []domain.Broadcast
	for _, u := range cfg.RelayURLs {
		ep, err := relay.Dial(ctx, u, log)
		if err != nil {
			log.Warn("relay endpoint unreachable", "url", u, "error", err)
			continue
		}
		endpoints = append(endpoints, ep)
		broadcasts = append(broadcasts, ep)
	}
	group := relay.NewGroup(broadcasts...)

	exch := exchange.New(records, records, records, group, cache, nil, log)
	w := &Wire{
		Cache:     cache,
		Keys:      records,
		Records:   records,
		Relay:     group,
		Identity:  identity.New(cache, records, log),
		Exchange:  exch,
		Channel:   channel.New(cache, exch, log),
		Log:       log,
		endpoints: endpoints,
	}
	return w, nil
}

// Close tears down the relay connections and drops the unlocked master key.
func (w *Wire) Close() error {
	var firstErr error
	for _, ep := range w.endpoints {
		if err := ep.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close relay: %w", err)
		}
	}
	w.Cache.Close()
	return firstErr
}
