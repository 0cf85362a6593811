package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/npezzotti/go-roomcast/internal/stats"
	"github.com/npezzotti/go-roomcast/internal/types"
)

var ErrShuttingDown = errors.New("broadcaster is shutting down")

const (
	DefaultStaleThreshold  = 5 * time.Minute
	DefaultSweepInterval   = 5 * time.Minute
	DefaultIdleRoomTimeout = 30 * time.Second
)

type Options struct {
	StaleThreshold  time.Duration
	SweepInterval   time.Duration
	IdleRoomTimeout time.Duration
	// StaleByJoin measures staleness from join time instead of last activity.
	StaleByJoin bool
	Debug       bool
}

func DefaultOptions() Options {
	return Options{
		StaleThreshold:  DefaultStaleThreshold,
		SweepInterval:   DefaultSweepInterval,
		IdleRoomTimeout: DefaultIdleRoomTimeout,
	}
}

// Broadcaster is the registry of rooms keyed by project id. Rooms are
// created on first use and remove themselves once idle.
type Broadcaster struct {
	log      *log.Logger
	stats    stats.StatsProvider
	opts     Options
	roomsMap sync.Map
	numRooms atomic.Int64
	numConns atomic.Int64
	stopped  atomic.Bool
}

func NewBroadcaster(logger *log.Logger, su stats.StatsProvider, opts Options) (*Broadcaster, error) {
	if opts.StaleThreshold <= 0 {
		return nil, fmt.Errorf("stale threshold must be positive")
	}
	if opts.SweepInterval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive")
	}
	if opts.IdleRoomTimeout <= 0 {
		return nil, fmt.Errorf("idle room timeout must be positive")
	}

	su.RegisterMetric(stats.NumActiveRooms)
	su.RegisterMetric(stats.NumActiveConnections)
	su.RegisterMetric(stats.NumBroadcasts)
	su.RegisterMetric(stats.NumStaleEvictions)

	return &Broadcaster{
		log:   logger,
		stats: su,
		opts:  opts,
	}, nil
}

// Connect attaches c to the room for projectId, creating the room if needed.
func (b *Broadcaster) Connect(projectId string, c *Client) error {
	for {
		r, err := b.getOrCreateRoom(projectId)
		if err != nil {
			return err
		}

		c.room = r
		if r.connect(c) {
			return nil
		}
	}
}

// Broadcast relays req to every connection in the room except those
// belonging to req.ExcludeUserId and returns the number of recipients.
func (b *Broadcaster) Broadcast(ctx context.Context, projectId string, req types.BroadcastRequest) (int, error) {
	for {
		r, err := b.getOrCreateRoom(projectId)
		if err != nil {
			return 0, err
		}

		breq := &broadcastReq{
			envelope:      NewEnvelope(req.EventType, req.Payload),
			excludeUserId: req.ExcludeUserId,
			result:        make(chan broadcastResult, 1),
		}

		select {
		case r.broadcastChan <- breq:
			select {
			case res := <-breq.result:
				return res.recipients, res.err
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		case <-r.done:
			// room unloaded while we were sending, retry against a new one
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// RoomStats reports the live state of a room without creating it.
func (b *Broadcaster) RoomStats(ctx context.Context, projectId string) (types.RoomStats, error) {
	empty := types.RoomStats{ProjectId: projectId, Users: []string{}}

	r, ok := b.getRoom(projectId)
	if !ok {
		return empty, nil
	}

	reply := make(chan types.RoomStats, 1)
	select {
	case r.statsChan <- reply:
		return <-reply, nil
	case <-r.done:
		return empty, nil
	case <-ctx.Done():
		return empty, ctx.Err()
	}
}

// Stats returns the number of loaded rooms and open connections.
func (b *Broadcaster) Stats() (rooms, connections int) {
	return int(b.numRooms.Load()), int(b.numConns.Load())
}

func (b *Broadcaster) Shutdown(ctx context.Context) error {
	b.log.Println("shutting down rooms")
	b.stopped.Store(true)

	var rooms []*Room
	b.roomsMap.Range(func(_, v any) bool {
		rooms = append(rooms, v.(*Room))
		return true
	})

	for _, r := range rooms {
		r.stop()
	}

	for _, r := range rooms {
		select {
		case <-r.done:
		case <-ctx.Done():
			return fmt.Errorf("wait for room %q: %w", r.projectId, ctx.Err())
		}
	}

	return nil
}

func (b *Broadcaster) getRoom(projectId string) (*Room, bool) {
	v, ok := b.roomsMap.Load(projectId)
	if !ok {
		return nil, false
	}

	return v.(*Room), true
}

func (b *Broadcaster) getOrCreateRoom(projectId string) (*Room, error) {
	if b.stopped.Load() {
		return nil, ErrShuttingDown
	}

	if r, ok := b.getRoom(projectId); ok {
		return r, nil
	}

	r := newRoom(projectId, b)
	v, loaded := b.roomsMap.LoadOrStore(projectId, r)
	if loaded {
		r.killTimer.Stop()
		r.sweepTimer.Stop()
		return v.(*Room), nil
	}

	b.numRooms.Add(1)
	b.stats.Incr(stats.NumActiveRooms)
	go r.start()

	if b.stopped.Load() {
		r.stop()
		return nil, ErrShuttingDown
	}

	return r, nil
}

func (b *Broadcaster) removeRoom(r *Room) {
	if b.roomsMap.CompareAndDelete(r.projectId, r) {
		b.log.Printf("removing room %q", r.projectId)
		b.numRooms.Add(-1)
		b.stats.Decr(stats.NumActiveRooms)
	}
}

func (b *Broadcaster) connAdded() {
	b.numConns.Add(1)
	b.stats.Incr(stats.NumActiveConnections)
}

func (b *Broadcaster) connRemoved() {
	b.numConns.Add(-1)
	b.stats.Decr(stats.NumActiveConnections)
}
