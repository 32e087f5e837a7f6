// Package dispatch runs the signaling loop of one client connection.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"example.com/vision_relay/pkg/media"
	"example.com/vision_relay/pkg/room"
	"example.com/vision_relay/pkg/signal"
	"github.com/pion/webrtc/v4"
)

// State is the role lifecycle of a connection
type State int

const (
	StateUnassigned State = iota
	StateBroadcaster
	StateViewer
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateBroadcaster:
		return "broadcaster"
	case StateViewer:
		return "viewer"
	case StateRejected:
		return "rejected"
	default:
		return "unassigned"
	}
}

// PeerFactory creates the peer connection for a newly classified client
type PeerFactory func() (media.Peer, error)

type Config struct {
	Registry *room.Registry
	Room     string
	Client   string
	Channel  signal.Channel
	NewPeer  PeerFactory
	Logger   *slog.Logger
}

// Dispatcher classifies a connection's messages and drives its room session.
// All of its state is owned by the Serve goroutine.
type Dispatcher struct {
	registry *room.Registry
	roomName string
	clientID string
	ch       signal.Channel
	newPeer  PeerFactory
	base     *slog.Logger
	logger   *slog.Logger

	state   State
	session *room.Session
	room    *room.Room

	waiters sync.WaitGroup
}

func New(cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: cfg.Registry,
		roomName: cfg.Room,
		clientID: cfg.Client,
		ch:       cfg.Channel,
		newPeer:  cfg.NewPeer,
		base:     logger,
		logger:   logger.With("room", cfg.Room, "client", cfg.Client),
	}
}

// State reports the connection's role. Only meaningful once Serve has returned
// or from the Serve goroutine itself.
func (d *Dispatcher) State() State { return d.state }

// Serve processes messages in arrival order until the channel closes or ctx
// is done, then tears the client's session down. A closed channel is a
// normal exit and returns nil.
func (d *Dispatcher) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		d.teardown()
	}()

	d.logger.Info("Client connected")
	for {
		msg, err := d.ch.Receive(ctx)
		if err != nil {
			if signal.IsClosed(err) {
				return nil
			}
			return err
		}
		d.logger.Debug("Received message", "type", msg.Kind())
		d.handle(ctx, msg)
	}
}

func (d *Dispatcher) handle(ctx context.Context, msg signal.Message) {
	switch m := msg.(type) {
	case signal.Offer:
		d.handleOffer(ctx, m)
	case signal.JoinAsViewer:
		d.handleJoinAsViewer()
	case signal.Answer:
		d.handleAnswer(m)
	case signal.Candidate:
		d.handleCandidate(m)
	case signal.DetectionResult, signal.Error, signal.Unknown:
		d.logger.Warn("Unsupported message", "type", msg.Kind())
		d.sendError(ReasonUnsupported)
	}
}

// claimRole reports whether the connection may still pick a role
func (d *Dispatcher) claimRole(kind signal.Kind) bool {
	if d.state == StateUnassigned {
		return true
	}
	d.logger.Warn("Dropped role message",
		"error", WrapError(string(kind), ErrProtocol, "role already "+d.state.String()))
	return false
}

func (d *Dispatcher) handleOffer(ctx context.Context, msg signal.Offer) {
	if !d.claimRole(msg.Kind()) {
		return
	}

	peer, err := d.newPeer()
	if err != nil {
		d.logger.Error("Failed to create peer connection", "error", err)
		d.sendError(ReasonPeerUnavailable)
		return
	}

	session := room.NewSession(d.clientID, room.RoleBroadcaster, d.ch, peer, d.base.With("room", d.roomName))
	r, err := d.registry.Join(d.roomName, func(r *room.Room) error {
		return r.AttachBroadcaster(session)
	})
	if err != nil {
		peer.Close()
		d.rejectJoin(err)
		return
	}
	d.state, d.session, d.room = StateBroadcaster, session, r

	d.waiters.Add(1)
	go d.awaitTrack(ctx, r, session)

	if err := d.answer(peer, msg.SDP); err != nil {
		// the broadcaster keeps its slot until it disconnects
		d.logger.Warn("Broadcaster negotiation failed", "error", err)
		d.sendError(ReasonNegotiation)
		return
	}
	d.logger.Info("Answered broadcaster offer")
}

func (d *Dispatcher) answer(peer media.Peer, offer webrtc.SessionDescription) error {
	if err := peer.SetRemoteDescription(offer); err != nil {
		return WrapError("set remote description", ErrNegotiation, err.Error())
	}
	answer, err := peer.CreateAnswer()
	if err != nil {
		return WrapError("create answer", ErrNegotiation, err.Error())
	}
	if err := peer.SetLocalDescription(answer); err != nil {
		return WrapError("set local description", ErrNegotiation, err.Error())
	}
	if local := peer.LocalDescription(); local != nil {
		answer = *local
	}
	if err := d.ch.Send(signal.Answer{SDP: answer}); err != nil {
		return NewError("send answer", err)
	}
	return nil
}

func (d *Dispatcher) awaitTrack(ctx context.Context, r *room.Room, session *room.Session) {
	defer d.waiters.Done()

	track, err := session.Peer().AwaitTrack(ctx)
	if err != nil {
		d.logger.Debug("Stopped waiting for broadcaster track", "error", err)
		return
	}
	if err := r.OnTrackAvailable(session, track); err != nil {
		d.logger.Warn("Broadcaster track not used", "error", err)
	}
}

func (d *Dispatcher) handleJoinAsViewer() {
	if !d.claimRole(signal.KindJoinAsViewer) {
		return
	}

	peer, err := d.newPeer()
	if err != nil {
		d.logger.Error("Failed to create peer connection", "error", err)
		d.sendError(ReasonPeerUnavailable)
		return
	}

	session := room.NewSession(d.clientID, room.RoleViewer, d.ch, peer, d.base.With("room", d.roomName))
	r, err := d.registry.Join(d.roomName, func(r *room.Room) error {
		return r.AttachViewer(session)
	})
	if err != nil {
		peer.Close()
		d.rejectJoin(err)
		return
	}
	d.state, d.session, d.room = StateViewer, session, r
}

func (d *Dispatcher) rejectJoin(err error) {
	switch {
	case errors.Is(err, room.ErrRoomBusy):
		d.logger.Warn("Rejected broadcaster, room already has one")
		d.state = StateRejected
		d.sendError(ReasonRoomBusy)
	case errors.Is(err, room.ErrDuplicateViewer):
		d.logger.Warn("Rejected viewer with duplicate id")
		d.state = StateRejected
		d.sendError(ReasonDuplicateViewer)
	default:
		d.logger.Error("Failed to join room", "error", err)
		d.sendError(ReasonRoomUnavailable)
	}
}

func (d *Dispatcher) handleAnswer(msg signal.Answer) {
	if d.state != StateViewer || !d.session.TakePendingOffer() {
		d.logger.Warn("Dropped answer without a pending offer",
			"error", NewError("answer", ErrProtocol), "state", d.state.String())
		return
	}
	if err := d.session.Peer().SetRemoteDescription(msg.SDP); err != nil {
		d.logger.Warn("Viewer negotiation failed",
			"error", WrapError("set remote description", ErrNegotiation, err.Error()))
		d.sendError(ReasonNegotiation)
		return
	}
	d.logger.Info("Viewer answer applied")
}

func (d *Dispatcher) handleCandidate(msg signal.Candidate) {
	init, err := signal.ParseCandidate(msg.Raw)
	switch {
	case errors.Is(err, signal.ErrEmptyCandidate):
		d.logger.Debug("End of remote candidates")
		return
	case err != nil:
		d.logger.Warn("Ignored malformed candidate", "error", err)
		return
	}

	if d.session == nil {
		d.logger.Warn("Dropped candidate", "error", NewError("candidate", ErrNoPeer))
		return
	}
	if err := d.session.Peer().AddICECandidate(init); err != nil {
		d.logger.Warn("Failed to add ICE candidate", "error", err)
	}
}

func (d *Dispatcher) sendError(reason string) {
	if err := d.ch.Send(signal.Error{Reason: reason}); err != nil {
		d.logger.Debug("Failed to send error", "reason", reason, "error", err)
	}
}

// teardown runs on every exit from Serve. It releases the session through
// its room, lets the registry reclaim an empty room and closes the channel.
func (d *Dispatcher) teardown() {
	switch d.state {
	case StateBroadcaster:
		d.room.DetachBroadcaster(d.session)
	case StateViewer:
		d.room.DetachViewer(d.session)
	}
	if d.room != nil {
		d.registry.RemoveIfEmpty(d.room.Name())
	}
	d.ch.Close()
	d.waiters.Wait()
	d.logger.Info("Client disconnected", "role", d.state.String())
}
