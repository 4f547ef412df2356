// Package memory is an in-process database.Store. Transactions run against a private copy of
// the data that replaces the live copy only when the transaction function succeeds, and
// transactions are serialized, which gives the same all-or-nothing and single-winner
// behavior the Postgres store gets from row locks.
package memory

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pencilparty/pencilparty/internal/database"
	"github.com/pencilparty/pencilparty/internal/models"
)

type lbKey struct {
	userID   uuid.UUID
	gameType string
	rankType string
	period   time.Time
}

type data struct {
	users       map[uuid.UUID]models.User
	openIDs     map[string]uuid.UUID
	gameTypes   map[string]models.GameType
	records     map[uuid.UUID]models.GameRecord
	leaderboard map[lbKey]models.LeaderboardEntry
	settlements map[uuid.UUID]models.SettlementEvent
}

func newData() *data {
	return &data{
		users:       map[uuid.UUID]models.User{},
		openIDs:     map[string]uuid.UUID{},
		gameTypes:   map[string]models.GameType{},
		records:     map[uuid.UUID]models.GameRecord{},
		leaderboard: map[lbKey]models.LeaderboardEntry{},
		settlements: map[uuid.UUID]models.SettlementEvent{},
	}
}

// clone copies every table. Values are copied; nested slices and maps are copied on write.
func (d *data) clone() *data {
	c := newData()
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.openIDs {
		c.openIDs[k] = v
	}
	for k, v := range d.gameTypes {
		c.gameTypes[k] = v
	}
	for k, v := range d.records {
		c.records[k] = v
	}
	for k, v := range d.leaderboard {
		c.leaderboard[k] = v
	}
	for k, v := range d.settlements {
		c.settlements[k] = v
	}
	return c
}

// Store implements database.Store in memory.
type Store struct {
	mu   sync.RWMutex
	txMu sync.Mutex
	data *data
	now  func() time.Time
}

var _ database.Store = (*Store)(nil)

// New returns an empty store seeded with gameTypes.
func New(gameTypes ...models.GameType) *Store {
	s := &Store{data: newData(), now: time.Now}
	for _, gt := range gameTypes {
		s.data.gameTypes[gt.Code] = gt
	}
	return s
}

// WithClock replaces the time source, for tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// write applies fn to a copy of the data and publishes it if fn succeeds.
func (s *Store) write(fn func(d *data) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	work := s.data.clone()
	s.mu.RUnlock()

	if err := fn(work); err != nil {
		return err
	}

	s.mu.Lock()
	s.data = work
	s.mu.Unlock()
	return nil
}

func (s *Store) read(fn func(d *data)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.data)
}

func (s *Store) WithTx(ctx context.Context, fn func(tx database.Tx) error) error {
	return s.write(func(d *data) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fn(&memTx{d: d, now: s.now})
	})
}

type memTx struct {
	d   *data
	now func() time.Time
}

func (t *memTx) FinishGameRecord(ctx context.Context, u database.FinishUpdate) (bool, error) {
	rec, ok := t.d.records[u.ID]
	if !ok || rec.Result != models.ResultPlaying {
		return false, nil
	}
	now := t.now()
	rec.Score = u.Score
	rec.Duration = u.Duration
	rec.Result = u.Result
	rec.Accuracy = u.Accuracy
	rec.ComboMax = u.ComboMax
	rec.ExperienceGained = u.ExperienceGained
	rec.CoinsGained = u.CoinsGained
	rec.Details = u.Details.Clone()
	rec.FinishedAt = &now
	rec.UpdatedAt = now
	t.d.records[u.ID] = rec
	return true, nil
}

func (t *memTx) CreditUser(ctx context.Context, userID uuid.UUID, experience, coins int64) (database.Balance, error) {
	u, ok := t.d.users[userID]
	if !ok {
		return database.Balance{}, database.ErrNotFound
	}
	u.Experience = saturatingAdd(u.Experience, experience)
	u.Coins = saturatingAdd(u.Coins, coins)
	u.Level = models.LevelFor(u.Experience)
	u.UpdatedAt = t.now()
	t.d.users[userID] = u
	return database.Balance{Experience: u.Experience, Coins: u.Coins, Level: u.Level}, nil
}

func (t *memTx) UpsertLeaderboard(ctx context.Context, e models.LeaderboardEntry) error {
	now := t.now()
	key := lbKey{e.UserID, e.GameType, e.RankType, models.PeriodOf(e.PeriodDate)}
	cur, ok := t.d.leaderboard[key]
	if !ok {
		e.PeriodDate = key.period
		e.AchievedAt, e.CreatedAt, e.UpdatedAt = now, now, now
		e.Nickname, e.Avatar, e.Level = "", "", 0
		t.d.leaderboard[key] = e
		return nil
	}
	if e.Score > cur.Score {
		cur.Score = e.Score
		cur.AchievedAt = now
	}
	cur.Duration = e.Duration
	cur.Accuracy = e.Accuracy
	cur.UpdatedAt = now
	t.d.leaderboard[key] = cur
	return nil
}

func copyUser(u models.User) *models.User {
	u.Preferences.FavoriteGames = append([]string{}, u.Preferences.FavoriteGames...)
	return &u
}

func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	return s.write(func(d *data) error {
		if _, taken := d.openIDs[u.OpenID]; taken {
			return database.ErrConflict
		}
		if u.ID == uuid.Nil {
			u.ID = uuid.New()
		}
		if u.Status == "" {
			u.Status = models.StatusActive
		}
		now := s.now()
		u.Level = models.LevelFor(u.Experience)
		u.CreatedAt, u.UpdatedAt = now, now
		u.Preferences = models.DefaultPreferences()
		d.users[u.ID] = *copyUser(*u)
		d.openIDs[u.OpenID] = u.ID
		return nil
	})
}

func (s *Store) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var (
		out *models.User
		err error
	)
	s.read(func(d *data) {
		u, ok := d.users[id]
		if !ok {
			err = database.ErrNotFound
			return
		}
		out = copyUser(u)
	})
	return out, err
}

func (s *Store) GetUserByOpenID(ctx context.Context, openID string) (*models.User, error) {
	var id uuid.UUID
	var ok bool
	s.read(func(d *data) { id, ok = d.openIDs[openID] })
	if !ok {
		return nil, database.ErrNotFound
	}
	return s.GetUserByID(ctx, id)
}

func (s *Store) UpdateProfile(ctx context.Context, id uuid.UUID, patch models.ProfilePatch) error {
	return s.write(func(d *data) error {
		u, ok := d.users[id]
		if !ok || !u.Active() {
			return database.ErrNotFound
		}
		if patch.Nickname != nil {
			u.Nickname = *patch.Nickname
		}
		if patch.Avatar != nil {
			u.Avatar = *patch.Avatar
		}
		if patch.Gender != nil {
			u.Gender = *patch.Gender
		}
		if patch.Birthday != nil {
			b := *patch.Birthday
			u.Birthday = &b
		}
		if patch.Signature != nil {
			u.Signature = *patch.Signature
		}
		u.UpdatedAt = s.now()
		d.users[id] = u
		return nil
	})
}

func (s *Store) TouchLastLogin(ctx context.Context, id uuid.UUID) error {
	return s.write(func(d *data) error {
		u, ok := d.users[id]
		if !ok {
			return nil
		}
		now := s.now()
		u.LastLoginAt = &now
		d.users[id] = u
		return nil
	})
}

func (s *Store) SavePreferences(ctx context.Context, id uuid.UUID, p models.Preferences) error {
	return s.write(func(d *data) error {
		u, ok := d.users[id]
		if !ok {
			return database.ErrNotFound
		}
		p.FavoriteGames = append([]string{}, p.FavoriteGames...)
		u.Preferences = p
		d.users[id] = u
		return nil
	})
}

func (s *Store) SoftDeleteUser(ctx context.Context, id uuid.UUID) error {
	return s.write(func(d *data) error {
		u, ok := d.users[id]
		if !ok {
			return database.ErrNotFound
		}
		u.Status = models.StatusInactive
		u.UpdatedAt = s.now()
		d.users[id] = u
		return nil
	})
}

func (s *Store) UserStats(ctx context.Context, id uuid.UUID) (*models.OverallStats, error) {
	var (
		out *models.OverallStats
		err error
	)
	s.read(func(d *data) {
		u, ok := d.users[id]
		if !ok {
			err = database.ErrNotFound
			return
		}
		out = &models.OverallStats{UserID: id, Level: u.Level, Experience: u.Experience, Coins: u.Coins}
		for _, rec := range d.records {
			if rec.UserID != id || !rec.Result.Finished() {
				continue
			}
			out.TotalGames++
			if rec.Result == models.ResultWin {
				out.TotalWins++
			}
		}
	})
	return out, err
}

func (s *Store) ListGameTypes(ctx context.Context) ([]models.GameType, error) {
	types := []models.GameType{}
	s.read(func(d *data) {
		for _, gt := range d.gameTypes {
			if gt.Status == models.StatusActive {
				types = append(types, gt)
			}
		}
	})
	sort.Slice(types, func(i, j int) bool {
		if types[i].SortOrder != types[j].SortOrder {
			return types[i].SortOrder < types[j].SortOrder
		}
		return types[i].Name < types[j].Name
	})
	return types, nil
}

func (s *Store) GetActiveGameType(ctx context.Context, code string) (*models.GameType, error) {
	var (
		gt models.GameType
		ok bool
	)
	s.read(func(d *data) { gt, ok = d.gameTypes[code] })
	if !ok || gt.Status != models.StatusActive {
		return nil, database.ErrNotFound
	}
	return &gt, nil
}

func (s *Store) PopularGames(ctx context.Context, since time.Time, limit int) ([]models.PopularGame, error) {
	type agg struct {
		models.PopularGame
		players          map[uuid.UUID]struct{}
		sumScore, sumDur int64
	}
	byCode := map[string]*agg{}
	s.read(func(d *data) {
		for code, gt := range d.gameTypes {
			if gt.Status == models.StatusActive {
				byCode[code] = &agg{
					PopularGame: models.PopularGame{Code: gt.Code, Name: gt.Name, Icon: gt.Icon},
					players:     map[uuid.UUID]struct{}{},
				}
			}
		}
		for _, rec := range d.records {
			a, ok := byCode[rec.GameType]
			if !ok || rec.CreatedAt.Before(since) {
				continue
			}
			a.TotalGames++
			a.players[rec.UserID] = struct{}{}
			a.sumScore += rec.Score
			a.sumDur += rec.Duration
		}
	})

	games := make([]models.PopularGame, 0, len(byCode))
	for _, a := range byCode {
		a.UniquePlayers = len(a.players)
		if a.TotalGames > 0 {
			a.AvgScore = float64(a.sumScore) / float64(a.TotalGames)
			a.AvgDuration = float64(a.sumDur) / float64(a.TotalGames)
		}
		games = append(games, a.PopularGame)
	}
	sort.Slice(games, func(i, j int) bool {
		if games[i].TotalGames != games[j].TotalGames {
			return games[i].TotalGames > games[j].TotalGames
		}
		if games[i].UniquePlayers != games[j].UniquePlayers {
			return games[i].UniquePlayers > games[j].UniquePlayers
		}
		return games[i].Code < games[j].Code
	})
	if limit >= 0 && len(games) > limit {
		games = games[:limit]
	}
	return games, nil
}

func (s *Store) CreateGameRecord(ctx context.Context, rec *models.GameRecord) error {
	return s.write(func(d *data) error {
		if _, ok := d.users[rec.UserID]; !ok {
			return database.ErrNotFound
		}
		if rec.ID == uuid.Nil {
			rec.ID = uuid.New()
		}
		if rec.Result == "" {
			rec.Result = models.ResultPlaying
		}
		now := s.now()
		rec.StartedAt, rec.CreatedAt, rec.UpdatedAt = now, now, now
		stored := *rec
		stored.Details = rec.Details.Clone()
		d.records[rec.ID] = stored
		return nil
	})
}

func (s *Store) withNames(d *data, rec models.GameRecord) models.GameRecord {
	if gt, ok := d.gameTypes[rec.GameType]; ok {
		rec.GameName, rec.GameIcon = gt.Name, gt.Icon
	}
	rec.Details = rec.Details.Clone()
	return rec
}

func (s *Store) GetGameRecord(ctx context.Context, id uuid.UUID) (*models.GameRecord, error) {
	var (
		out *models.GameRecord
		err error
	)
	s.read(func(d *data) {
		rec, ok := d.records[id]
		if !ok {
			err = database.ErrNotFound
			return
		}
		r := s.withNames(d, rec)
		out = &r
	})
	return out, err
}

func (s *Store) ListGameRecords(ctx context.Context, userID uuid.UUID, gameType string, limit, offset int) ([]models.GameRecord, error) {
	records := []models.GameRecord{}
	s.read(func(d *data) {
		for _, rec := range d.records {
			if rec.UserID == userID && (gameType == "" || rec.GameType == gameType) {
				records = append(records, s.withNames(d, rec))
			}
		}
	})
	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.After(records[j].CreatedAt)
		}
		return records[i].ID.String() < records[j].ID.String()
	})
	if offset >= len(records) {
		return []models.GameRecord{}, nil
	}
	records = records[offset:]
	if limit >= 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (s *Store) GameStats(ctx context.Context, userID uuid.UUID) ([]models.GameStats, error) {
	byType := map[string]*models.GameStats{}
	sumScore, sumAcc := map[string]int64{}, map[string]float64{}
	s.read(func(d *data) {
		for _, rec := range d.records {
			if rec.UserID != userID || !rec.Result.Finished() {
				continue
			}
			st, ok := byType[rec.GameType]
			if !ok {
				st = &models.GameStats{GameType: rec.GameType, BestScore: rec.Score, BestCombo: rec.ComboMax}
				byType[rec.GameType] = st
			}
			st.TotalGames++
			if rec.Score > st.BestScore {
				st.BestScore = rec.Score
			}
			if rec.ComboMax > st.BestCombo {
				st.BestCombo = rec.ComboMax
			}
			switch rec.Result {
			case models.ResultWin:
				st.Wins++
			case models.ResultLose:
				st.Losses++
			case models.ResultDraw:
				st.Draws++
			}
			st.TotalDuration += rec.Duration
			st.TotalExperience += rec.ExperienceGained
			st.TotalCoins += rec.CoinsGained
			sumScore[rec.GameType] += rec.Score
			sumAcc[rec.GameType] += rec.Accuracy
		}
	})

	stats := make([]models.GameStats, 0, len(byType))
	for code, st := range byType {
		st.AvgScore = float64(sumScore[code]) / float64(st.TotalGames)
		st.AvgAccuracy = sumAcc[code] / float64(st.TotalGames)
		stats = append(stats, *st)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].GameType < stats[j].GameType })
	return stats, nil
}

func (s *Store) TopLeaderboard(ctx context.Context, q database.LeaderboardQuery) ([]models.LeaderboardEntry, error) {
	entries := []models.LeaderboardEntry{}
	s.read(func(d *data) {
		for _, e := range d.leaderboard {
			u, ok := d.users[e.UserID]
			if !ok || !u.Active() || e.RankType != q.RankType {
				continue
			}
			if q.GameType != "" && e.GameType != q.GameType {
				continue
			}
			e.Nickname, e.Avatar, e.Level = u.Nickname, u.Avatar, u.Level
			entries = append(entries, e)
		}
	})
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.AchievedAt.Equal(b.AchievedAt) {
			return a.AchievedAt.Before(b.AchievedAt)
		}
		return a.UserID.String() < b.UserID.String()
	})
	if q.Limit >= 0 && len(entries) > q.Limit {
		entries = entries[:q.Limit]
	}
	return entries, nil
}

func (s *Store) RankOf(ctx context.Context, userID uuid.UUID, gameType, rankType string) (*int, error) {
	var rank *int
	s.read(func(d *data) {
		match := func(e models.LeaderboardEntry) bool {
			return e.RankType == rankType && (gameType == "" || e.GameType == gameType)
		}
		var (
			best  int64
			found bool
		)
		for _, e := range d.leaderboard {
			if e.UserID == userID && match(e) && (!found || e.Score > best) {
				best, found = e.Score, true
			}
		}
		if !found {
			return
		}
		r := 1
		for _, e := range d.leaderboard {
			if u, ok := d.users[e.UserID]; ok && u.Active() && match(e) && e.Score > best {
				r++
			}
		}
		rank = &r
	})
	return rank, nil
}

// RecordSettlements mirrors the Postgres settlement log: the first event per game wins.
func (s *Store) RecordSettlements(ctx context.Context, events []models.SettlementEvent) error {
	return s.write(func(d *data) error {
		for _, ev := range events {
			if _, dup := d.settlements[ev.GameID]; !dup {
				d.settlements[ev.GameID] = ev
			}
		}
		return nil
	})
}

// Settlements returns the recorded settlement log.
func (s *Store) Settlements() []models.SettlementEvent {
	var out []models.SettlementEvent
	s.read(func(d *data) {
		for _, ev := range d.settlements {
			out = append(out, ev)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].SettledAt.Before(out[j].SettledAt) })
	return out
}

// saturatingAdd keeps balances at math.MaxInt64 instead of wrapping negative.
func saturatingAdd(a, b int64) int64 {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}
