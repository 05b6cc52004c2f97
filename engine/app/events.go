package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/compozy/ragpipe/engine/infra/pubsub"
	"github.com/compozy/ragpipe/pkg/logger"
)

const publishTimeout = 2 * time.Second

// ChangeKind names what happened to the collection.
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeDeleted ChangeKind = "deleted"
	ChangeReset   ChangeKind = "reset"
)

// ChangeEvent is published on the collection channel after every write so
// other processes drop their cached retrievals.
type ChangeEvent struct {
	Kind       ChangeKind `json:"kind"`
	Collection string     `json:"collection"`
	Hash       string     `json:"hash,omitempty"`
	Origin     string     `json:"origin"`
	At         time.Time  `json:"at"`
}

// ChangeChannel is the pub/sub channel for a collection.
func ChangeChannel(collection string) string {
	return "ragpipe:" + collection + ":changes"
}

type changeFeed struct {
	provider   pubsub.Provider
	collection string
	origin     string
	onRemote   func(ChangeEvent)

	ctx    context.Context
	cancel context.CancelFunc
	sub    pubsub.Subscription
	wg     sync.WaitGroup
}

func newChangeFeed(provider pubsub.Provider, collection string, onRemote func(ChangeEvent)) *changeFeed {
	return &changeFeed{
		provider:   provider,
		collection: collection,
		origin:     ksuid.New().String(),
		onRemote:   onRemote,
	}
}

// start subscribes and dispatches events from other processes until close.
func (f *changeFeed) start(ctx context.Context) error {
	f.ctx, f.cancel = context.WithCancel(context.WithoutCancel(ctx))
	sub, err := f.provider.Subscribe(f.ctx, ChangeChannel(f.collection))
	if err != nil {
		f.cancel()
		return err
	}
	f.sub = sub
	f.wg.Add(1)
	go f.loop(logger.FromContext(ctx))
	return nil
}

func (f *changeFeed) loop(log logger.Logger) {
	defer f.wg.Done()
	for msg := range f.sub.Messages() {
		var ev ChangeEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			log.Warn("Ignoring malformed change event", "channel", msg.Channel, "error", err)
			continue
		}
		if ev.Origin == f.origin {
			continue
		}
		log.Debug("Collection changed in another process", "kind", ev.Kind, "hash", ev.Hash)
		f.onRemote(ev)
	}
}

func (f *changeFeed) publish(kind ChangeKind, hash string) error {
	payload, err := json.Marshal(ChangeEvent{
		Kind:       kind,
		Collection: f.collection,
		Hash:       hash,
		Origin:     f.origin,
		At:         time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(f.ctx, publishTimeout)
	defer cancel()
	return f.provider.Publish(ctx, ChangeChannel(f.collection), payload)
}

func (f *changeFeed) close() error {
	if f.cancel == nil {
		return nil
	}
	f.cancel()
	var err error
	if f.sub != nil {
		err = f.sub.Close()
	}
	f.wg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) setupChangeFeed(ctx context.Context) error {
	if a.Cache == nil || a.Cache.Redis == nil {
		return nil
	}
	provider, err := pubsub.NewRedisProvider(a.Cache.Redis.Client())
	if err != nil {
		return err
	}
	feed := newChangeFeed(provider, a.Config.Vector.Collection, func(ChangeEvent) {
		a.Index.Resync()
		a.Retriever.InvalidateCache()
	})
	if err := feed.start(ctx); err != nil {
		return err
	}
	a.feed = feed
	a.cleanups = append(a.cleanups, func(context.Context) error { return feed.close() })
	return nil
}

// changed drops local cached retrievals and tells other processes.
func (a *App) changed(kind ChangeKind, hash string) {
	a.Retriever.InvalidateCache()
	if a.feed == nil {
		return
	}
	if err := a.feed.publish(kind, hash); err != nil {
		logger.FromContext(a.feed.ctx).Warn("Failed to publish change event", "kind", kind, "error", err)
	}
}
