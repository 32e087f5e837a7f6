package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"example.com/vision_relay/pkg/fanout"
	"example.com/vision_relay/pkg/media"
	"example.com/vision_relay/pkg/signal"
	"github.com/pion/webrtc/v4"
)

var (
	ErrRoomBusy         = errors.New("room busy")
	ErrDuplicateViewer  = errors.New("duplicate viewer")
	ErrRoomRetired      = errors.New("room retired")
	ErrStaleBroadcaster = errors.New("not the room's broadcaster")
	ErrTrackAlreadySet  = errors.New("shared track already set")
)

// SharedTrack is the broadcaster's track as every viewer receives it
type SharedTrack interface {
	Local() webrtc.TrackLocal
	RequestKeyframe() error
	Stop()
}

// TrackWrapper turns the broadcaster's inbound track into a SharedTrack.
// subscribers lists the channels that should receive detection results.
type TrackWrapper func(track media.Track, subscribers func() []signal.Channel) (SharedTrack, error)

// State is the top-level state of a Room
type State int

const (
	StateEmpty State = iota
	StateBroadcastingIdle
	StateBroadcastingLive
)

func (s State) String() string {
	switch s {
	case StateBroadcastingIdle:
		return "broadcasting_idle"
	case StateBroadcastingLive:
		return "broadcasting_live"
	default:
		return "empty"
	}
}

// Info is a point-in-time view of a Room
type Info struct {
	Name        string `json:"name"`
	State       string `json:"state"`
	Broadcaster string `json:"broadcaster,omitempty"`
	Viewers     int    `json:"viewers"`
	Live        bool   `json:"live"`
}

// Room holds one broadcaster, its viewers and the shared track.
// Sessions are keyed by id; teardown goes Room -> Session -> resources.
type Room struct {
	name   string
	wrap   TrackWrapper
	logger *slog.Logger

	mu          sync.Mutex
	broadcaster *Session
	viewers     map[string]*Session
	subscribers map[string]signal.Channel
	track       SharedTrack
	retired     bool // once set the room never accepts sessions again
}

func newRoom(name string, wrap TrackWrapper, logger *slog.Logger) *Room {
	return &Room{
		name:        name,
		wrap:        wrap,
		logger:      logger.With("room", name),
		viewers:     make(map[string]*Session),
		subscribers: make(map[string]signal.Channel),
	}
}

func (r *Room) Name() string { return r.name }

func (r *Room) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stateLocked()
}

func (r *Room) stateLocked() State {
	switch {
	case r.broadcaster == nil:
		return StateEmpty
	case r.track == nil:
		return StateBroadcastingIdle
	default:
		return StateBroadcastingLive
	}
}

// Info returns a snapshot of the room
func (r *Room) Info() Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	info := Info{
		Name:    r.name,
		State:   r.stateLocked().String(),
		Viewers: len(r.viewers),
		Live:    r.track != nil,
	}
	if r.broadcaster != nil {
		info.Broadcaster = r.broadcaster.ID()
	}
	return info
}

// AttachBroadcaster installs s as the room's broadcaster
func (r *Room) AttachBroadcaster(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.retired {
		return ErrRoomRetired
	}
	if r.broadcaster != nil {
		return ErrRoomBusy
	}
	r.broadcaster = s
	r.logger.Info("Broadcaster attached", "client", s.ID())
	return nil
}

// OnTrackAvailable wraps the broadcaster's track, stores it as the shared
// track and subscribes every viewer registered so far. Viewers attaching
// later subscribe themselves in AttachViewer.
func (r *Room) OnTrackAvailable(s *Session, track media.Track) error {
	r.mu.Lock()
	err := r.checkTrackLocked(s)
	r.mu.Unlock()
	if err != nil {
		return err
	}

	// Wrapping starts goroutines; keep it out of the lock
	shared, err := r.wrap(track, r.DetectionSubscribers)
	if err != nil {
		return fmt.Errorf("wrap track: %w", err)
	}

	r.mu.Lock()
	if err := r.checkTrackLocked(s); err != nil {
		r.mu.Unlock()
		shared.Stop()
		return err
	}
	r.track = shared
	viewers := r.viewerListLocked()
	r.mu.Unlock()

	r.logger.Info("Shared track live", "track", track.ID(), "waiting_viewers", len(viewers))
	r.subscribeAll(viewers, shared)
	return nil
}

func (r *Room) checkTrackLocked(s *Session) error {
	if r.broadcaster != s {
		return ErrStaleBroadcaster
	}
	if r.track != nil {
		return ErrTrackAlreadySet
	}
	return nil
}

func (r *Room) subscribeAll(viewers []*Session, shared SharedTrack) {
	errs := fanout.Each(context.Background(), viewers, func(_ context.Context, v *Session) error {
		return v.Subscribe(shared)
	})
	for i, err := range errs {
		if err != nil {
			r.logger.Warn("Failed to subscribe viewer", "client", viewers[i].ID(), "error", err)
		}
	}
}

// AttachViewer registers s. If the shared track is already live the viewer
// is subscribed immediately; otherwise OnTrackAvailable will do it.
func (r *Room) AttachViewer(s *Session) error {
	r.mu.Lock()
	if r.retired {
		r.mu.Unlock()
		return ErrRoomRetired
	}
	if _, exists := r.viewers[s.ID()]; exists {
		r.mu.Unlock()
		return ErrDuplicateViewer
	}
	r.viewers[s.ID()] = s
	r.subscribers[s.ID()] = s.Channel()
	track := r.track
	r.mu.Unlock()

	if track == nil {
		r.logger.Info("Viewer waiting for broadcaster", "client", s.ID())
		return nil
	}
	r.subscribeAll([]*Session{s}, track)
	return nil
}

// DetachBroadcaster tears the room down if s is its broadcaster: every
// viewer is closed and the room is retired so the name maps to a fresh room.
func (r *Room) DetachBroadcaster(s *Session) bool {
	r.mu.Lock()
	if r.broadcaster != s {
		r.mu.Unlock()
		s.Close()
		return false
	}
	viewers := r.viewerListLocked()
	track := r.track
	r.broadcaster = nil
	r.track = nil
	r.viewers = make(map[string]*Session)
	r.subscribers = make(map[string]signal.Channel)
	r.retired = true
	r.mu.Unlock()

	if track != nil {
		track.Stop()
	}
	s.Close()
	fanout.Each(context.Background(), viewers, func(_ context.Context, v *Session) error {
		v.Close()
		return nil
	})

	r.logger.Info("Broadcaster left, room closed", "client", s.ID(), "closed_viewers", len(viewers))
	return true
}

// DetachViewer removes s from the room and closes it
func (r *Room) DetachViewer(s *Session) bool {
	r.mu.Lock()
	removed := r.viewers[s.ID()] == s
	if removed {
		delete(r.viewers, s.ID())
		delete(r.subscribers, s.ID())
	}
	r.mu.Unlock()

	s.Close()
	if removed {
		r.logger.Info("Viewer left", "client", s.ID())
	}
	return removed
}

// DetectionSubscribers returns the channels of every registered viewer
func (r *Room) DetectionSubscribers() []signal.Channel {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]signal.Channel, 0, len(r.subscribers))
	for _, ch := range r.subscribers {
		out = append(out, ch)
	}
	return out
}

// Viewer returns the viewer session with the given id
func (r *Room) Viewer(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.viewers[id]
	return s, ok
}

func (r *Room) viewerListLocked() []*Session {
	out := make([]*Session, 0, len(r.viewers))
	for _, v := range r.viewers {
		out = append(out, v)
	}
	return out
}

// retireIfEmpty marks an empty room retired and reports whether it is retired
func (r *Room) retireIfEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.broadcaster == nil && len(r.viewers) == 0 {
		r.retired = true
	}
	return r.retired
}

func (r *Room) isRetired() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.retired
}
