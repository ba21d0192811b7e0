package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hilthontt/pokersync/internal/domain"
	"github.com/hilthontt/pokersync/internal/infrastructure/cache"
	"github.com/hilthontt/pokersync/internal/infrastructure/logging"
	"github.com/hilthontt/pokersync/internal/infrastructure/metrics"
	"github.com/hilthontt/pokersync/internal/infrastructure/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// RoomCache is the slice of the cache the store needs. Keys are room codes.
type RoomCache interface {
	Get(key string) (*domain.Room, bool)
	Set(key string, value *domain.Room, expiration time.Duration)
	Delete(key string)
}

type StoreOptions struct {
	TTL         time.Duration
	Invalidator cache.Invalidator
	Metrics     *metrics.Metrics
	Logger      logging.Logger
	Clock       func() time.Time
}

// minGenerationRetention bounds how long a write marker is kept when the
// cache TTL is shorter. A lookup that takes longer than the retention may
// fill the cache with what it read.
const minGenerationRetention = time.Minute

// generation marks the last write that touched a room code.
type generation struct {
	seq     uint64
	touched time.Time
}

// RoomStore is the cache-aside room repository. The cache is populated only
// from storage hits and successful writes, and is evicted before deletes.
//
// Every committed write stamps its room code with a sequence number. A
// storage read only fills the cache when no write to that code committed
// after the read started, and a write-through only stores its document
// when no other write to the code committed in between. Otherwise the entry
// is evicted and the next lookup reads storage again.
type RoomStore struct {
	storage     domain.RoomStorage
	cache       RoomCache
	ttl         time.Duration
	invalidator cache.Invalidator
	metrics     *metrics.Metrics
	logger      logging.Logger
	tracer      trace.Tracer
	now         func() time.Time

	mu        sync.Mutex
	seq       uint64
	written   map[string]generation
	retention time.Duration
	lastPrune time.Time
}

var _ domain.RoomRepository = (*RoomStore)(nil)

func NewRoomStore(storage domain.RoomStorage, roomCache RoomCache, opts StoreOptions) *RoomStore {
	if opts.Invalidator == nil {
		opts.Invalidator = cache.NewNopInvalidator()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &RoomStore{
		storage:     storage,
		cache:       roomCache,
		ttl:         opts.TTL,
		invalidator: opts.Invalidator,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		tracer:      tracing.GetTracer("pokersync/repository"),
		now:         opts.Clock,
		written:     make(map[string]generation),
		retention:   max(opts.TTL, minGenerationRetention),
	}
}

// snapshot returns the sequence a read or write starts from.
func (s *RoomStore) snapshot() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// fill caches a document read from storage unless a write to the same code
// committed after since.
func (s *RoomStore) fill(room *domain.Room, since uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.written[room.RoomCode].seq > since {
		return false
	}
	s.cache.Set(room.RoomCode, room.Clone(), s.ttl)
	return true
}

// commit records a write to roomCode. The written document is cached when
// no other write to the code committed after since; a nil room or a
// conflicting write evicts the entry instead.
func (s *RoomStore) commit(roomCode string, room *domain.Room, since uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conflict := s.written[roomCode].seq > since
	now := s.now()

	s.seq++
	s.written[roomCode] = generation{seq: s.seq, touched: now}

	if room == nil || conflict {
		s.cache.Delete(roomCode)
	} else {
		s.cache.Set(roomCode, room.Clone(), s.ttl)
	}

	s.pruneLocked(now)
}

// pruneLocked forgets write markers older than the retention window.
func (s *RoomStore) pruneLocked(now time.Time) {
	if now.Sub(s.lastPrune) < minGenerationRetention {
		return
	}
	s.lastPrune = now

	for code, g := range s.written {
		if now.Sub(g.touched) > s.retention {
			delete(s.written, code)
		}
	}
}

func (s *RoomStore) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "RoomStore."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil && !errors.Is(err, domain.ErrRoomNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *RoomStore) observe(op string, err error, start time.Time) {
	if s.metrics == nil {
		return
	}
	if errors.Is(err, domain.ErrRoomNotFound) {
		err = nil
	}
	s.metrics.ObserveStore(op, err, time.Since(start))
}

func (s *RoomStore) Lookup(ctx context.Context, roomCode string) (room *domain.Room, err error) {
	ctx, span := s.startSpan(ctx, "Lookup", attribute.String("room.code", roomCode))
	defer func() { endSpan(span, err) }()

	if cached, ok := s.cache.Get(roomCode); ok {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		if s.metrics != nil {
			s.metrics.CacheHit()
		}
		return cached.Clone(), nil
	}

	span.SetAttributes(attribute.Bool("cache.hit", false))
	if s.metrics != nil {
		s.metrics.CacheMiss()
	}

	since := s.snapshot()

	start := time.Now()
	room, err = s.storage.FindOne(ctx, domain.RoomFilter{RoomCode: roomCode})
	s.observe("findOne", err, start)
	if err != nil {
		return nil, err
	}

	if !s.fill(room, since) {
		span.SetAttributes(attribute.Bool("cache.stale_read", true))
	}
	return room, nil
}

func (s *RoomStore) Create(ctx context.Context, room *domain.Room) (created *domain.Room, err error) {
	ctx, span := s.startSpan(ctx, "Create", attribute.String("room.code", room.RoomCode))
	defer func() { endSpan(span, err) }()

	since := s.snapshot()

	start := time.Now()
	id, err := s.storage.InsertOne(ctx, room)
	s.observe("insertOne", err, start)
	if err != nil {
		return nil, err
	}

	created = room.Clone()
	created.ID = id
	s.commit(created.RoomCode, created, since)

	s.logger.Info(logging.Room, logging.Insert, "room created", map[logging.ExtraKey]any{
		logging.RoomCode: created.RoomCode,
	})
	return created, nil
}

func (s *RoomStore) UpdateByID(ctx context.Context, id string, update domain.Update) (room *domain.Room, err error) {
	ctx, span := s.startSpan(ctx, "UpdateByID", attribute.String("room.id", id))
	defer func() { endSpan(span, err) }()

	update = update.Clone()
	update.Set("lastUpdated", s.now().UTC())

	since := s.snapshot()

	start := time.Now()
	room, err = s.storage.FindAndModify(ctx, domain.RoomFilter{ID: id}, update)
	s.observe("findAndModify", err, start)
	if err != nil {
		return nil, err
	}

	s.commit(room.RoomCode, room, since)
	s.publishInvalidation(ctx, room.RoomCode)
	return room, nil
}

func (s *RoomStore) DeleteByRoomCode(ctx context.Context, roomCode string) (err error) {
	ctx, span := s.startSpan(ctx, "DeleteByRoomCode", attribute.String("room.code", roomCode))
	defer func() { endSpan(span, err) }()

	s.cache.Delete(roomCode)
	s.publishInvalidation(ctx, roomCode)

	start := time.Now()
	n, err := s.storage.DeleteOne(ctx, domain.RoomFilter{RoomCode: roomCode})
	s.observe("deleteOne", err, start)
	s.commit(roomCode, nil, 0)
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrRoomNotFound
	}

	s.logger.Info(logging.Room, logging.Delete, "room deleted", map[logging.ExtraKey]any{
		logging.RoomCode: roomCode,
	})
	return nil
}

// Invalidate drops a cached room after another instance changed it.
func (s *RoomStore) Invalidate(roomCode string) {
	s.commit(roomCode, nil, 0)
	s.logger.Debug(logging.Cache, logging.Invalidation, "room evicted by peer", map[logging.ExtraKey]any{
		logging.RoomCode: roomCode,
	})
}

func (s *RoomStore) publishInvalidation(ctx context.Context, roomCode string) {
	if err := s.invalidator.Publish(ctx, roomCode); err != nil {
		s.logger.Warn(logging.Redis, logging.Invalidation, "failed to publish invalidation", map[logging.ExtraKey]any{
			logging.RoomCode:     roomCode,
			logging.ErrorMessage: err.Error(),
		})
	}
}
