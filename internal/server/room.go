package server

import (
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/npezzotti/go-roomcast/internal/stats"
	"github.com/npezzotti/go-roomcast/internal/types"
)

type broadcastReq struct {
	envelope      *types.Envelope
	excludeUserId string
	result        chan broadcastResult
}

type broadcastResult struct {
	recipients int
	err        error
}

// Room owns the connection table for one project. Every handler runs on
// the room's own goroutine, so the table needs no locking.
type Room struct {
	projectId      string
	bc             *Broadcaster
	opts           Options
	log            *log.Logger
	stats          stats.StatsProvider
	clients        map[string]*Client
	connectChan    chan *Client
	disconnectChan chan string
	clientMsgChan  chan *ClientMessage
	broadcastChan  chan *broadcastReq
	statsChan      chan chan types.RoomStats
	lastTimestamp  int64
	// killTimer unloads the room once it has been empty for IdleRoomTimeout
	killTimer  *time.Timer
	sweepTimer *time.Timer
	exit       chan struct{}
	exitOnce   sync.Once
	done       chan struct{}
}

func newRoom(projectId string, bc *Broadcaster) *Room {
	return &Room{
		projectId:      projectId,
		bc:             bc,
		opts:           bc.opts,
		log:            bc.log,
		stats:          bc.stats,
		clients:        make(map[string]*Client),
		connectChan:    make(chan *Client),
		disconnectChan: make(chan string),
		clientMsgChan:  make(chan *ClientMessage),
		broadcastChan:  make(chan *broadcastReq),
		statsChan:      make(chan chan types.RoomStats),
		killTimer:      time.NewTimer(bc.opts.IdleRoomTimeout),
		sweepTimer:     time.NewTimer(bc.opts.SweepInterval),
		exit:           make(chan struct{}),
		done:           make(chan struct{}),
	}
}

func (r *Room) start() {
	r.log.Printf("starting room %q", r.projectId)
	defer func() {
		r.killTimer.Stop()
		r.sweepTimer.Stop()
		close(r.done)
	}()

	for {
		select {
		case c := <-r.connectChan:
			r.handleConnect(c)
		case id := <-r.disconnectChan:
			r.handleDisconnect(id)
		case msg := <-r.clientMsgChan:
			r.handleClientMessage(msg.client.id, msg.raw)
		case req := <-r.broadcastChan:
			n, err := r.handleBroadcast(req.envelope, req.excludeUserId)
			req.result <- broadcastResult{recipients: n, err: err}
		case reply := <-r.statsChan:
			reply <- r.roomStats()
		case <-r.sweepTimer.C:
			r.sweepStaleConnections()
			r.sweepTimer.Reset(r.opts.StaleThreshold)
		case <-r.killTimer.C:
			if r.handleRoomTimeout() {
				return
			}
		case <-r.exit:
			r.handleRoomExit()
			return
		}
	}
}

func (r *Room) stop() {
	r.exitOnce.Do(func() { close(r.exit) })
}

func (r *Room) connect(c *Client) bool {
	select {
	case r.connectChan <- c:
		return true
	case <-r.done:
		return false
	}
}

func (r *Room) disconnect(id string) {
	select {
	case r.disconnectChan <- id:
	case <-r.done:
	}
}

func (r *Room) clientMessage(msg *ClientMessage) bool {
	select {
	case r.clientMsgChan <- msg:
		return true
	case <-r.done:
		return false
	}
}

func (r *Room) handleConnect(c *Client) {
	r.killTimer.Stop()

	c.joinedAt = time.Now()
	_, existing := r.clients[c.id]
	r.clients[c.id] = c
	if !existing {
		r.bc.connAdded()
		r.log.Printf("added connection %q (user %q) to room %q", c.id, c.user.Id, r.projectId)

		if c.user.Id != "" {
			r.broadcast(PresenceEnvelope(types.EventUserJoined, r.projectId, c.user), func(other *Client) bool {
				return other.id == c.id
			})
		}
	}

	r.sendTo(c, ConnectedEnvelope(r.projectId, c.id, len(r.clients)))
}

func (r *Room) handleDisconnect(id string) {
	c, ok := r.clients[id]
	if !ok {
		r.debugf("connection %q not found in room %q", id, r.projectId)
		return
	}

	r.removeClient(c)
	r.log.Printf("removed connection %q from room %q", id, r.projectId)

	if c.user.Id != "" {
		r.broadcast(PresenceEnvelope(types.EventUserLeft, r.projectId, c.user), nil)
	}
}

func (r *Room) handleClientMessage(id string, raw []byte) {
	c, ok := r.clients[id]
	if !ok {
		r.debugf("dropping message from unknown connection %q in room %q", id, r.projectId)
		return
	}

	env, err := parseEnvelope(raw)
	if err != nil {
		r.log.Printf("error parsing message from %q: %v", id, err)
		return
	}

	switch env.Type {
	case types.EventPing:
		r.sendTo(c, PongEnvelope())
	default:
		r.debugf("ignoring %q message from %q in room %q", env.Type, id, r.projectId)
	}
}

func (r *Room) handleBroadcast(env *types.Envelope, excludeUserId string) (int, error) {
	excluded := make(map[string]struct{})
	if excludeUserId != "" {
		for id, c := range r.clients {
			if c.user.Id == excludeUserId {
				excluded[id] = struct{}{}
			}
		}
	}

	n, err := r.broadcast(env, func(c *Client) bool {
		_, skip := excluded[c.id]
		return skip
	})
	if err != nil {
		return 0, err
	}

	r.stats.Incr(stats.NumBroadcasts)
	r.log.Printf("relayed %q to %d connections in room %q (%d excluded)", env.Type, n, r.projectId, len(excluded))
	return n, nil
}

func (r *Room) sweepStaleConnections() {
	now := time.Now()
	for _, c := range r.clients {
		if !r.isStale(c, now) {
			continue
		}

		r.log.Printf("evicting stale connection %q from room %q", c.id, r.projectId)
		r.removeClient(c)
		c.stopClient()
		r.stats.Incr(stats.NumStaleEvictions)
	}
}

func (r *Room) isStale(c *Client, now time.Time) bool {
	since := c.lastActivity()
	if r.opts.StaleByJoin {
		since = c.joinedAt
	}

	return now.Sub(since) > r.opts.StaleThreshold
}

func (r *Room) handleRoomTimeout() bool {
	if len(r.clients) > 0 {
		return false
	}

	r.log.Printf("room %q timed out", r.projectId)
	r.bc.removeRoom(r)
	return true
}

func (r *Room) handleRoomExit() {
	r.log.Printf("room %q is exiting", r.projectId)
	for _, c := range r.clients {
		r.removeClient(c)
		c.stopClient()
	}

	r.bc.removeRoom(r)
}

func (r *Room) removeClient(c *Client) {
	delete(r.clients, c.id)
	r.bc.connRemoved()

	if len(r.clients) == 0 {
		r.debugf("no connections in %q, starting kill timer", r.projectId)
		r.killTimer.Reset(r.opts.IdleRoomTimeout)
	}
}

// broadcast serializes env once and queues it for every client skip does
// not reject. It returns the number of clients the message was queued for.
func (r *Room) broadcast(env *types.Envelope, skip func(*Client) bool) (int, error) {
	env.Timestamp = r.timestamp()
	data, err := serializeEnvelope(env)
	if err != nil {
		return 0, fmt.Errorf("serialize envelope: %w", err)
	}

	sent := 0
	for _, c := range r.clients {
		if skip != nil && skip(c) {
			continue
		}

		if c.queueMessage(data) {
			sent++
		}
	}

	return sent, nil
}

func (r *Room) sendTo(c *Client, env *types.Envelope) {
	env.Timestamp = r.timestamp()
	data, err := serializeEnvelope(env)
	if err != nil {
		r.log.Printf("serialize %q envelope: %v", env.Type, err)
		return
	}

	c.queueMessage(data)
}

// timestamp never goes backwards within a room.
func (r *Room) timestamp() int64 {
	now := Now()
	if now < r.lastTimestamp {
		now = r.lastTimestamp
	}
	r.lastTimestamp = now

	return now
}

func (r *Room) roomStats() types.RoomStats {
	users := make([]string, 0, len(r.clients))
	for _, c := range r.clients {
		if c.user.Id != "" && !slices.Contains(users, c.user.Id) {
			users = append(users, c.user.Id)
		}
	}
	slices.Sort(users)

	return types.RoomStats{
		ProjectId:   r.projectId,
		Connections: len(r.clients),
		Users:       users,
	}
}

func (r *Room) debugf(format string, args ...any) {
	if r.opts.Debug {
		r.log.Printf("debug: "+format, args...)
	}
}
