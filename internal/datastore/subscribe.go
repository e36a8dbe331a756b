package datastore

import (
	"context"

	"github.com/tphakala/coughdetect/internal/errors"
	"github.com/tphakala/coughdetect/internal/logger"
)

// Subscribe returns a channel that receives the newest records, ordered by
// timestamp descending, once immediately and again after every change. A
// slow reader only ever sees the latest snapshot. The channel is closed when
// ctx is done or the store is closed.
func (ds *DataStore) Subscribe(ctx context.Context) (<-chan []EventRecord, error) {
	if ds.DB == nil {
		return nil, errors.Newf("database connection is not initialized").
			Component("datastore").
			Category(errors.CategoryState).
			Build()
	}

	snapshot, err := ds.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	ch := make(chan []EventRecord, 1)
	ch <- snapshot

	ds.subMu.Lock()
	if ds.subs == nil {
		ds.subs = make(map[uint64]chan []EventRecord)
	}
	id := ds.nextSubID
	ds.nextSubID++
	ds.subs[id] = ch
	count := len(ds.subs)
	done := ds.done
	ds.subMu.Unlock()

	ds.metrics.UpdateSubscribers(count)

	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		ds.unsubscribe(id)
	}()

	return ch, nil
}

func (ds *DataStore) unsubscribe(id uint64) {
	ds.subMu.Lock()
	ch, ok := ds.subs[id]
	if ok {
		delete(ds.subs, id)
		close(ch)
	}
	count := len(ds.subs)
	ds.subMu.Unlock()

	if ok {
		ds.metrics.UpdateSubscribers(count)
	}
}

func (ds *DataStore) closeSubscribers() {
	ds.closeOnce.Do(func() {
		if ds.done != nil {
			close(ds.done)
		}
	})

	ds.subMu.Lock()
	for id, ch := range ds.subs {
		delete(ds.subs, id)
		close(ch)
	}
	ds.subMu.Unlock()
	ds.metrics.UpdateSubscribers(0)
}

func (ds *DataStore) snapshot(ctx context.Context) ([]EventRecord, error) {
	var records []EventRecord
	err := ds.db(ctx).Order("timestamp DESC").Limit(ds.SnapshotLimit).Find(&records).Error
	if err != nil {
		return nil, dbError("snapshot", err)
	}
	return records, nil
}

// publish sends a fresh snapshot to every subscriber without blocking
func (ds *DataStore) publish(ctx context.Context) {
	ds.subMu.Lock()
	defer ds.subMu.Unlock()
	if len(ds.subs) == 0 {
		return
	}

	snapshot, err := ds.snapshot(context.WithoutCancel(ctx))
	if err != nil {
		GetLogger().Warn("failed to build subscriber snapshot", logger.Error(err))
		return
	}

	for _, ch := range ds.subs {
		select {
		case ch <- snapshot:
			ds.metrics.RecordNotification("delivered")
			continue
		default:
		}
		// Replace the stale snapshot the reader has not consumed yet.
		select {
		case <-ch:
			ds.metrics.RecordNotification("dropped")
		default:
		}
		select {
		case ch <- snapshot:
			ds.metrics.RecordNotification("delivered")
		default:
			ds.metrics.RecordNotification("dropped")
		}
	}
}
