package room

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// maxJoinAttempts bounds Join's retries against rooms retired under it
const maxJoinAttempts = 8

// Registry maps room names to live Rooms. It creates a room on first use
// and forgets it once it is empty.
//
// Lock order is registry before room; rooms never call back into the registry.
type Registry struct {
	mu     sync.Mutex
	rooms  map[string]*Room
	wrap   TrackWrapper
	logger *slog.Logger
}

// NewRegistry creates an empty registry. wrap is used by every room to
// relay its broadcaster's track.
func NewRegistry(wrap TrackWrapper, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		rooms:  make(map[string]*Room),
		wrap:   wrap,
		logger: logger,
	}
}

// Resolve returns the live room for name, creating it if needed. A retired
// room under that name is replaced by a fresh one.
func (reg *Registry) Resolve(name string) *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if room, ok := reg.rooms[name]; ok && !room.isRetired() {
		return room
	}

	room := newRoom(name, reg.wrap, reg.logger)
	reg.rooms[name] = room
	reg.logger.Debug("Room created", "room", name)
	return room
}

// Lookup returns the room registered under name without creating one
func (reg *Registry) Lookup(name string) (*Room, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	room, ok := reg.rooms[name]
	return room, ok
}

// RemoveIfEmpty deletes the room under name if it has no broadcaster and
// no viewers. The removed room is retired so late holders retry elsewhere.
func (reg *Registry) RemoveIfEmpty(name string) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room, ok := reg.rooms[name]
	if !ok || !room.retireIfEmpty() {
		return false
	}
	delete(reg.rooms, name)
	reg.logger.Info("Room removed", "room", name)
	return true
}

// Join resolves name and runs attach on the room, retrying on a fresh room
// if the one it got was retired in between.
func (reg *Registry) Join(name string, attach func(*Room) error) (*Room, error) {
	for i := 0; i < maxJoinAttempts; i++ {
		room := reg.Resolve(name)
		err := attach(room)
		if errors.Is(err, ErrRoomRetired) {
			continue
		}
		return room, err
	}
	return nil, fmt.Errorf("join %s: %w", name, ErrRoomRetired)
}

// Snapshot lists every registered room, sorted by name
func (reg *Registry) Snapshot() []Info {
	reg.mu.Lock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, room := range reg.rooms {
		rooms = append(rooms, room)
	}
	reg.mu.Unlock()

	infos := make([]Info, 0, len(rooms))
	for _, room := range rooms {
		infos = append(infos, room.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Len returns the number of registered rooms
func (reg *Registry) Len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.rooms)
}
