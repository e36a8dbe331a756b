package analysis

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tphakala/coughdetect/internal/conf"
	"github.com/tphakala/coughdetect/internal/datastore"
	"github.com/tphakala/coughdetect/internal/errors"
	"github.com/tphakala/coughdetect/internal/logger"
	"github.com/tphakala/coughdetect/internal/myaudio"
	"github.com/tphakala/coughdetect/internal/observability/metrics"
)

// RecordStore receives finalized records.
type RecordStore interface {
	Insert(ctx context.Context, record *datastore.EventRecord) (uint, error)
}

// QuotaEnforcer keeps the clip directory within its byte budget.
type QuotaEnforcer interface {
	Enforce(ctx context.Context, dir string, maxBytes int64) (int64, error)
}

// Enricher produces the extension payload of a record.
type Enricher interface {
	Process(ctx context.Context, record *datastore.EventRecord) string
}

// Publisher is notified of every persisted record.
type Publisher interface {
	Publish(ctx context.Context, record *datastore.EventRecord) error
}

// ErrRecorderClosed is returned by Submit after Close.
var ErrRecorderClosed = errors.NewStd("recorder closed")

// Recorder persists finalized events on a worker goroutine: quota
// enforcement, WAV clip, enrichment and insert, in that order.
type Recorder struct {
	settings  conf.Provider
	store     RecordStore
	quota     QuotaEnforcer
	enricher  Enricher
	publisher Publisher
	metrics   *metrics.DetectionMetrics
	audio     *metrics.AudioMetrics

	queue     chan *AudioEvent
	closing   chan struct{}
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
}

// NewRecorder creates a recorder. quota, enricher and publisher may be nil.
// The queue length is read from the detection settings.
func NewRecorder(settings conf.Provider, store RecordStore, quota QuotaEnforcer, enricher Enricher) *Recorder {
	size := conf.DefaultQueueSize
	if s := settings.Settings(); s != nil && s.Detection.QueueSize > 0 {
		size = s.Detection.QueueSize
	}
	return &Recorder{
		settings: settings,
		store:    store,
		quota:    quota,
		enricher: enricher,
		queue:    make(chan *AudioEvent, size),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// SetPublisher attaches a publisher. Call before Start.
func (r *Recorder) SetPublisher(p Publisher) {
	r.publisher = p
}

// SetMetrics attaches optional metrics. Call before Start.
func (r *Recorder) SetMetrics(detection *metrics.DetectionMetrics, audio *metrics.AudioMetrics) {
	r.metrics = detection
	r.audio = audio
}

// Start launches the persistence worker. Events still queued when ctx is
// cancelled are persisted before the worker exits.
func (r *Recorder) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		go r.run(ctx)
	})
}

// Submit queues an event for persistence. When the queue is full it waits
// for space rather than dropping the event.
func (r *Recorder) Submit(ctx context.Context, event *AudioEvent) error {
	if event == nil {
		return nil
	}

	select {
	case <-r.closing:
		return ErrRecorderClosed
	default:
	}

	select {
	case r.queue <- event:
		return nil
	default:
	}

	GetLogger().Warn("persistence queue full, waiting for the worker",
		logger.Int("capacity", cap(r.queue)))
	select {
	case r.queue <- event:
		return nil
	case <-r.closing:
		return ErrRecorderClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events and waits for the queued ones to be
// persisted. The worker must have been started.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		close(r.closing)
	})
	<-r.done
}

func (r *Recorder) run(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case event := <-r.queue:
			r.persist(ctx, event)
		case <-r.closing:
			r.drain(ctx)
			return
		case <-ctx.Done():
			r.drain(ctx)
			return
		}
	}
}

// drain persists whatever is left in the queue
func (r *Recorder) drain(ctx context.Context) {
	// network plugins must not be cut short by the shutdown itself
	ctx = context.WithoutCancel(ctx)
	for {
		select {
		case event := <-r.queue:
			r.persist(ctx, event)
		default:
			return
		}
	}
}

func (r *Recorder) persist(ctx context.Context, event *AudioEvent) {
	if _, err := r.Persist(ctx, event); err != nil {
		GetLogger().Error("failed to persist detection event",
			logger.String("kind", event.Kind.String()),
			logger.Time("start", event.Start),
			logger.Error(err))
	}
}

// Persist runs the finalization steps for one event synchronously. Events
// shorter than the configured minimum duration are discarded and a nil
// record is returned. A clip write failure yields a record with an empty
// audio path.
func (r *Recorder) Persist(ctx context.Context, event *AudioEvent) (*datastore.EventRecord, error) {
	settings := r.settings.Settings()
	log := GetLogger()

	if minDur := settings.Detection.MinEventDuration; minDur > 0 && event.Duration() < minDur {
		log.Debug("discarding short event",
			logger.Duration("duration", event.Duration()),
			logger.Duration("min_duration", minDur))
		r.metrics.RecordEventPersisted(metrics.StatusSkipped)
		return nil, nil
	}

	dir := settings.ClipDir()
	if r.quota != nil {
		reclaimed, err := r.quota.Enforce(ctx, dir, settings.QuotaBytes())
		switch {
		case err != nil:
			log.Warn("clip quota enforcement failed", logger.String("dir", dir), logger.Error(err))
		case reclaimed > 0:
			log.Info("clip quota enforced",
				logger.String("dir", dir),
				logger.Int64("reclaimed_bytes", reclaimed))
		}
	}

	record := &datastore.EventRecord{
		Timestamp:     event.Start,
		AudioFilePath: r.writeClip(dir, event),
		DurationMs:    event.Duration().Milliseconds(),
		Confidence:    event.Confidence,
		Amplitude:     event.Amplitude,
		EventType:     datastore.ParseEventType(event.Kind.String()),
		Extensions:    "{}",
	}

	if r.enricher != nil {
		record.Extensions = r.enricher.Process(ctx, record)
	}

	id, err := r.store.Insert(ctx, record)
	if err != nil {
		log.Warn("event insert failed, retrying once", logger.Error(err))
		id, err = r.store.Insert(ctx, record)
	}
	if err != nil {
		r.metrics.RecordEventPersisted(metrics.StatusError)
		clip := record.AudioFilePath
		r.removeOrphanClip(record)
		if !errors.Is(err, errors.ErrPersistence) {
			err = fmt.Errorf("%w: insert event record: %w", errors.ErrPersistence, err)
		}
		return record, errors.New(err).
			Component("analysis").
			Category(errors.CategoryDatabase).
			Context("audio_file", clip).
			Build()
	}
	record.ID = id
	r.metrics.RecordEventPersisted(metrics.StatusSuccess)

	log.Info("detection event recorded",
		logger.Int64("id", int64(id)),
		logger.String("kind", string(record.EventType)),
		logger.Float64("confidence", record.Confidence),
		logger.Int64("duration_ms", record.DurationMs),
		logger.String("audio_file", record.AudioFilePath))

	if r.publisher != nil {
		if err := r.publisher.Publish(ctx, record); err != nil {
			log.Warn("failed to publish detection event", logger.Int64("id", int64(id)), logger.Error(err))
		}
	}
	return record, nil
}

// removeOrphanClip deletes the clip of a record that could not be stored
// and clears its path.
func (r *Recorder) removeOrphanClip(record *datastore.EventRecord) {
	if record.AudioFilePath == "" {
		return
	}
	if err := os.Remove(record.AudioFilePath); err != nil && !os.IsNotExist(err) {
		GetLogger().Warn("failed to remove clip of unsaved event",
			logger.String("audio_file", record.AudioFilePath),
			logger.Error(err))
		return
	}
	record.AudioFilePath = ""
}

// writeClip writes the event audio and returns its path, or "" when the
// clip could not be written.
func (r *Recorder) writeClip(dir string, event *AudioEvent) string {
	start := time.Now()
	path := filepath.Join(dir, ClipName(event.Start))

	err := os.MkdirAll(dir, 0o755)
	if err == nil {
		err = myaudio.WriteWAV(path, event.Samples)
	}
	if err != nil {
		r.audio.RecordClipWrite(metrics.StatusError, time.Since(start).Seconds())
		wrapped := errors.New(fmt.Errorf("%w: write clip: %w", errors.ErrPersistence, err)).
			Component("analysis").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
		GetLogger().Error("failed to write event clip, recording without audio", logger.Error(wrapped))
		return ""
	}

	r.audio.RecordClipWrite(metrics.StatusSuccess, time.Since(start).Seconds())
	return path
}

// ClipName returns the clip file name for an event starting at t, e.g.
// cough_20240320_102000_123.wav.
func ClipName(t time.Time) string {
	return fmt.Sprintf("cough_%s_%03d.wav", t.Format("20060102_150405"), t.Nanosecond()/int(time.Millisecond))
}
