package leaderboard

import (
	"context"
	"sync"

	"github.com/pencilparty/pencilparty/internal/models"
	"github.com/sirupsen/logrus"
)

// Update is pushed to live subscribers whenever a board they watch may have changed.
type Update struct {
	Type     string                    `json:"type"`
	GameType string                    `json:"game_type"`
	Entries  []models.LeaderboardEntry `json:"entries"`
}

// Subscriber receives updates for one game type. "" watches the cross-game board.
// C is closed when the subscriber falls behind or unsubscribes.
type Subscriber struct {
	GameType string
	C        <-chan Update

	c chan Update
}

// Hub fans settled scores out to live subscribers. Sends never block: a subscriber whose
// buffer is full is dropped.
type Hub struct {
	svc   *Service
	limit int
	log   *logrus.Logger

	mu   sync.Mutex
	subs map[string]map[*Subscriber]struct{}
}

func NewHub(svc *Service, limit int, logger *logrus.Logger) *Hub {
	return &Hub{
		svc:   svc,
		limit: ClampLimit(limit),
		log:   logger,
		subs:  make(map[string]map[*Subscriber]struct{}),
	}
}

func (h *Hub) Subscribe(gameType string) *Subscriber {
	c := make(chan Update, 8)
	sub := &Subscriber{GameType: gameType, C: c, c: c}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[gameType] == nil {
		h.subs[gameType] = make(map[*Subscriber]struct{})
	}
	h.subs[gameType][sub] = struct{}{}
	return sub
}

func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub)
}

func (h *Hub) removeLocked(sub *Subscriber) {
	set, ok := h.subs[sub.GameType]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	close(sub.c)
	if len(set) == 0 {
		delete(h.subs, sub.GameType)
	}
}

// Subscribers counts live subscribers across every board.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, set := range h.subs {
		n += len(set)
	}
	return n
}

// Snapshot is the current board a new subscriber starts from.
func (h *Hub) Snapshot(ctx context.Context, gameType string) (Update, error) {
	entries, err := h.svc.load(ctx, gameType, models.RankAllTime, h.limit)
	if err != nil {
		return Update{}, err
	}
	return Update{Type: "leaderboard", GameType: gameType, Entries: entries}, nil
}

// Notify recomputes the boards affected by a settlement in gameType and pushes them.
func (h *Hub) Notify(ctx context.Context, gameType string) {
	for _, board := range []string{gameType, ""} {
		if !h.watched(board) {
			continue
		}
		upd, err := h.Snapshot(ctx, board)
		if err != nil {
			h.log.WithError(err).WithField("game_type", board).Warn("live leaderboard refresh failed")
			continue
		}
		h.broadcast(board, upd)
	}
}

func (h *Hub) watched(board string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[board]) > 0
}

func (h *Hub) broadcast(board string, upd Update) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[board] {
		select {
		case sub.c <- upd:
		default:
			h.log.WithField("game_type", board).Debug("dropping slow leaderboard subscriber")
			h.removeLocked(sub)
		}
	}
}
