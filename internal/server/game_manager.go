package server

import (
	"errors"
	"sync"
	"time"

	"highlow-server/internal/highlow"
)

var ErrRoomNotFound = errors.New("ROOM_NOT_FOUND: Game not found")

// ActiveRoom pairs one game session with the mutex that serializes every
// intent against it. Intents for different rooms never contend.
type ActiveRoom struct {
	Game      *highlow.Game
	CreatedAt time.Time
	mu        sync.Mutex
}

func (r *ActiveRoom) Code() string {
	return r.Game.ID
}

// Update runs fn with exclusive access to the room's game. Nothing inside fn
// may block on network I/O; broadcasts happen after the lock is released,
// from payloads marshaled inside it.
func (r *ActiveRoom) Update(fn func(g *highlow.Game) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(r.Game)
}

// GameManager is the in-memory room store: room code -> session aggregate.
type GameManager struct {
	rooms map[string]*ActiveRoom
	mu    sync.RWMutex
}

func NewGameManager() *GameManager {
	return &GameManager{
		rooms: make(map[string]*ActiveRoom),
	}
}

// CreateRoom allocates a collision-checked room code and registers an empty
// waiting session under it. The caller joins the host afterwards.
func (gm *GameManager) CreateRoom(now time.Time) *ActiveRoom {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	code := GenerateCode(func(candidate string) bool {
		_, exists := gm.rooms[candidate]
		return exists
	})
	room := &ActiveRoom{
		Game:      highlow.NewGame(code, now),
		CreatedAt: now,
	}
	gm.rooms[code] = room
	return room
}

func (gm *GameManager) GetRoom(roomCode string) (*ActiveRoom, error) {
	gm.mu.RLock()
	defer gm.mu.RUnlock()

	room, exists := gm.rooms[NormalizeRoomCode(roomCode)]
	if !exists {
		return nil, ErrRoomNotFound
	}
	return room, nil
}

// DeleteRoom removes the room, freeing its code for reuse. Session purging
// is the caller's job, done in the same motion.
func (gm *GameManager) DeleteRoom(roomCode string) bool {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	if _, exists := gm.rooms[roomCode]; !exists {
		return false
	}
	delete(gm.rooms, roomCode)
	return true
}

// Rooms returns a snapshot of the live rooms for sweep iteration.
func (gm *GameManager) Rooms() []*ActiveRoom {
	gm.mu.RLock()
	defer gm.mu.RUnlock()

	rooms := make([]*ActiveRoom, 0, len(gm.rooms))
	for _, room := range gm.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

func (gm *GameManager) RoomCount() int {
	gm.mu.RLock()
	defer gm.mu.RUnlock()
	return len(gm.rooms)
}
