package state

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/cbodonnell/herosync/pkg/events"
	"github.com/cbodonnell/herosync/pkg/game/constants"
	"github.com/cbodonnell/herosync/pkg/game/types"
	"github.com/cbodonnell/herosync/pkg/log"
)

var _ Store = &InMemoryStore{}

// InMemoryStore owns the player and battle maps. Every mutation queues
// exactly the events it causes while holding the lock; the queue is drained
// in order by one goroutine at a time after the lock is released, so
// handlers may read from or mutate the store.
type InMemoryStore struct {
	lock        sync.RWMutex
	players     map[string]*types.Player
	battles     map[string]*types.Battle
	purgeTimers map[string]*time.Timer
	pending     []events.Event
	flushing    bool
	closed      bool

	bus          *events.Bus
	now          func() time.Time
	onlineWindow time.Duration
	gracePeriod  time.Duration

	randLock sync.Mutex
	rand     *rand.Rand
}

// NewInMemoryStoreOptions contains options for creating a new InMemoryStore.
type NewInMemoryStoreOptions struct {
	// Bus receives every state event. Required.
	Bus *events.Bus
	// Now defaults to time.Now
	Now func() time.Time
	// OnlineWindow defaults to constants.OnlineWindow
	OnlineWindow time.Duration
	// GracePeriod defaults to constants.BattleGracePeriod.
	// A negative value purges completed battles immediately.
	GracePeriod time.Duration
	// Rand is used for matchmaking. Defaults to a time-seeded source.
	Rand *rand.Rand
}

func NewInMemoryStore(opts NewInMemoryStoreOptions) *InMemoryStore {
	if opts.Bus == nil {
		opts.Bus = events.NewBus(nil)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.OnlineWindow <= 0 {
		opts.OnlineWindow = constants.OnlineWindow
	}
	if opts.GracePeriod == 0 {
		opts.GracePeriod = constants.BattleGracePeriod
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &InMemoryStore{
		players:      make(map[string]*types.Player),
		battles:      make(map[string]*types.Battle),
		purgeTimers:  make(map[string]*time.Timer),
		bus:          opts.Bus,
		now:          opts.Now,
		onlineWindow: opts.OnlineWindow,
		gracePeriod:  opts.GracePeriod,
		rand:         opts.Rand,
	}
}

// Bus returns the bus the store publishes to.
func (s *InMemoryStore) Bus() *events.Bus {
	return s.bus
}

// Close stops all pending purge timers. The store stays readable.
func (s *InMemoryStore) Close() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.closed = true
	for id, timer := range s.purgeTimers {
		timer.Stop()
		delete(s.purgeTimers, id)
	}
}

// AddPlayer inserts or overwrites a player. The status is derived from the
// battles the player is in, so a rejoin never breaks the battle coupling.
func (s *InMemoryStore) AddPlayer(player types.Player) {
	if player.Address == "" {
		return
	}
	s.lock.Lock()
	p := player
	p.Status = types.PlayerStatusIdle
	if s.openBattleForLocked(p.Address) != nil {
		p.Status = types.PlayerStatusBattling
	}
	p.LastUpdate = s.nowMillis()
	s.players[p.Address] = &p
	s.emit(types.EventPlayerJoined, types.PlayerEvent{Address: p.Address, Player: p})
	s.lock.Unlock()
	s.flush()
}

// UpdatePlayer merges patch into a known player. Status changes that would
// break the battle coupling are dropped, as is offline, which only the
// presence sweep sets. Any update to an offline player brings it back
// online.
func (s *InMemoryStore) UpdatePlayer(address string, patch types.PlayerPatch) {
	s.lock.Lock()
	player, ok := s.players[address]
	if ok {
		s.updatePlayerLocked(player, s.guardStatus(player, patch))
	}
	s.lock.Unlock()
	s.flush()
}

func (s *InMemoryStore) guardStatus(player *types.Player, patch types.PlayerPatch) types.PlayerPatch {
	inBattle := s.openBattleForLocked(player.Address) != nil
	if patch.Status != nil {
		status := *patch.Status
		if !status.Valid() || inBattle || status != types.PlayerStatusIdle {
			patch.Status = nil
		}
	}
	if patch.Status == nil && player.Status == types.PlayerStatusOffline {
		revived := types.PlayerStatusIdle
		if inBattle {
			revived = types.PlayerStatusBattling
		}
		patch.Status = &revived
	}
	return patch
}

func (s *InMemoryStore) updatePlayerLocked(player *types.Player, patch types.PlayerPatch) {
	patch.Apply(player)
	player.LastUpdate = s.nowMillis()
	s.emit(types.EventPlayerUpdated, types.PlayerEvent{Address: player.Address, Player: *player})
}

// RemovePlayer deletes a player and publishes its last known record.
func (s *InMemoryStore) RemovePlayer(address string) {
	s.lock.Lock()
	player, ok := s.players[address]
	if ok {
		delete(s.players, address)
		s.emit(types.EventPlayerLeft, types.PlayerEvent{Address: address, Player: *player})
	}
	s.lock.Unlock()
	s.flush()
}

// CreateBattle inserts a battle and marks both participants as battling.
// Both participants must be online and idle.
func (s *InMemoryStore) CreateBattle(battle types.Battle) error {
	s.lock.Lock()
	err := s.createBattleLocked(battle)
	s.lock.Unlock()
	s.flush()
	return err
}

func (s *InMemoryStore) createBattleLocked(battle types.Battle) error {
	if battle.ID == "" || battle.Player1 == "" || battle.Player2 == "" {
		return ErrInvalidBattle
	}
	if battle.Player1 == battle.Player2 {
		return ErrSamePlayer
	}
	if _, exists := s.battles[battle.ID]; exists {
		return ErrBattleExists
	}
	now := s.nowMillis()
	participants := make([]*types.Player, 0, 2)
	for _, address := range []string{battle.Player1, battle.Player2} {
		player, ok := s.players[address]
		if !ok {
			return ErrPlayerNotFound
		}
		if player.Status != types.PlayerStatusIdle || !s.isOnline(player, now) {
			return ErrPlayerUnavailable
		}
		participants = append(participants, player)
	}

	b := battle.Copy()
	switch b.Status {
	case types.BattleStatusWaiting, types.BattleStatusActive:
	case "":
		b.Status = types.BattleStatusWaiting
	default:
		return ErrInvalidBattle
	}
	if !b.HasParticipant(b.CurrentTurn) {
		b.CurrentTurn = b.Player1
	}
	if b.StartTime == 0 {
		b.StartTime = now
	}
	b.Winner = ""
	s.battles[b.ID] = b

	for _, player := range participants {
		s.updatePlayerLocked(player, types.StatusPatch(types.PlayerStatusBattling))
	}
	s.emit(types.EventBattleCreated, types.BattleEvent{BattleID: b.ID, Battle: *b.Copy()})
	return nil
}

// UpdateBattle merges patch into a known battle. The only status change
// allowed here is waiting to active; completion goes through CompleteBattle.
func (s *InMemoryStore) UpdateBattle(battleID string, patch types.BattlePatch) {
	s.lock.Lock()
	battle, ok := s.battles[battleID]
	if ok {
		if patch.Status != nil && !(battle.Status == types.BattleStatusWaiting && *patch.Status == types.BattleStatusActive) {
			patch.Status = nil
		}
		if patch.Winner != nil && battle.Status != types.BattleStatusCompleted {
			patch.Winner = nil
		}
		patch.Apply(battle)
		s.emit(types.EventBattleUpdated, types.BattleEvent{BattleID: battleID, Battle: *battle.Copy()})
	}
	s.lock.Unlock()
	s.flush()
}

// AddBattleMove appends a move and hands the turn to the other participant.
// Moves on unknown or completed battles are ignored. The first move
// activates a waiting battle.
func (s *InMemoryStore) AddBattleMove(battleID string, move types.Move) bool {
	s.lock.Lock()
	ok := s.addBattleMoveLocked(battleID, move)
	s.lock.Unlock()
	s.flush()
	return ok
}

func (s *InMemoryStore) addBattleMoveLocked(battleID string, move types.Move) bool {
	battle, ok := s.battles[battleID]
	if !ok || !battle.IsOpen() {
		return false
	}
	if move.Timestamp == 0 {
		move.Timestamp = s.nowMillis()
	}
	battle.Status = types.BattleStatusActive
	battle.Moves = append(battle.Moves, move)
	if battle.CurrentTurn == battle.Player1 {
		battle.CurrentTurn = battle.Player2
	} else {
		battle.CurrentTurn = battle.Player1
	}
	s.emit(types.EventBattleMove, types.BattleMoveEvent{BattleID: battleID, Move: move, Battle: *battle.Copy()})
	return true
}

// CompleteBattle ends an open battle, returns both participants to idle and
// schedules the battle for deletion after the grace period. A winner that is
// not a participant is recorded as a draw.
func (s *InMemoryStore) CompleteBattle(battleID string, winner string) bool {
	s.lock.Lock()
	ok := s.completeBattleLocked(battleID, winner)
	s.lock.Unlock()
	s.flush()
	return ok
}

func (s *InMemoryStore) completeBattleLocked(battleID string, winner string) bool {
	battle, ok := s.battles[battleID]
	if !ok || !battle.IsOpen() {
		return false
	}
	if !battle.HasParticipant(winner) {
		winner = types.WinnerDraw
	}
	battle.Status = types.BattleStatusCompleted
	battle.Winner = winner

	for _, address := range []string{battle.Player1, battle.Player2} {
		if player, ok := s.players[address]; ok {
			s.updatePlayerLocked(player, types.StatusPatch(types.PlayerStatusIdle))
		}
	}
	s.emit(types.EventBattleCompleted, types.BattleCompletedEvent{
		BattleID: battleID,
		Winner:   winner,
		Battle:   *battle.Copy(),
	})
	s.schedulePurgeLocked(battleID)
	return true
}

func (s *InMemoryStore) schedulePurgeLocked(battleID string) {
	if s.gracePeriod < 0 || s.closed {
		delete(s.battles, battleID)
		return
	}
	if timer, ok := s.purgeTimers[battleID]; ok {
		timer.Stop()
	}
	s.purgeTimers[battleID] = time.AfterFunc(s.gracePeriod, func() {
		s.purgeBattle(battleID)
	})
}

func (s *InMemoryStore) purgeBattle(battleID string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	delete(s.purgeTimers, battleID)
	if battle, ok := s.battles[battleID]; ok && battle.Status == types.BattleStatusCompleted {
		delete(s.battles, battleID)
		log.Trace("Purged completed battle %s", battleID)
	}
}

// SweepInactive marks stale players as offline. Players already offline are
// skipped, so each transition is published once.
func (s *InMemoryStore) SweepInactive(threshold time.Duration) []string {
	s.lock.Lock()
	now := s.nowMillis()
	swept := make([]string, 0)
	for address, player := range s.players {
		if player.Status == types.PlayerStatusOffline {
			continue
		}
		if now-player.LastUpdate <= threshold.Milliseconds() {
			continue
		}
		swept = append(swept, address)
	}
	sort.Strings(swept)
	for _, address := range swept {
		player := s.players[address]
		player.Status = types.PlayerStatusOffline
		s.emit(types.EventPlayerInactive, types.PlayerEvent{Address: address, Player: *player})
	}
	s.lock.Unlock()
	s.flush()
	return swept
}

func (s *InMemoryStore) GetPlayer(address string) (types.Player, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	player, ok := s.players[address]
	if !ok {
		return types.Player{}, false
	}
	return *player, true
}

// GetOnlinePlayers returns players that are not offline and were updated
// within the online window, ordered by address.
func (s *InMemoryStore) GetOnlinePlayers() []types.Player {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.onlinePlayersLocked(s.nowMillis())
}

func (s *InMemoryStore) onlinePlayersLocked(now int64) []types.Player {
	online := make([]types.Player, 0, len(s.players))
	for _, player := range s.players {
		if s.isOnline(player, now) {
			online = append(online, *player)
		}
	}
	sort.Slice(online, func(i, j int) bool {
		return online[i].Address < online[j].Address
	})
	return online
}

func (s *InMemoryStore) isOnline(player *types.Player, now int64) bool {
	return player.Status != types.PlayerStatusOffline && now-player.LastUpdate <= s.onlineWindow.Milliseconds()
}

func (s *InMemoryStore) GetBattle(battleID string) (types.Battle, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	battle, ok := s.battles[battleID]
	if !ok {
		return types.Battle{}, false
	}
	return *battle.Copy(), true
}

// GetActiveBattles returns waiting and active battles, oldest first.
func (s *InMemoryStore) GetActiveBattles() []types.Battle {
	s.lock.RLock()
	defer s.lock.RUnlock()
	gs := &types.GameState{}
	for _, battle := range s.battles {
		if battle.IsOpen() {
			gs.Battles = append(gs.Battles, *battle.Copy())
		}
	}
	gs.Sort()
	if gs.Battles == nil {
		return []types.Battle{}
	}
	return gs.Battles
}

// GetBattleForPlayer returns the waiting or active battle address is in.
func (s *InMemoryStore) GetBattleForPlayer(address string) (types.Battle, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	battle := s.openBattleForLocked(address)
	if battle == nil {
		return types.Battle{}, false
	}
	return *battle.Copy(), true
}

func (s *InMemoryStore) openBattleForLocked(address string) *types.Battle {
	for _, battle := range s.battles {
		if battle.IsOpen() && battle.HasParticipant(address) {
			return battle
		}
	}
	return nil
}

// FindMatch picks a random online, idle player other than address.
func (s *InMemoryStore) FindMatch(address string) (types.Player, bool) {
	s.lock.RLock()
	candidates := make([]types.Player, 0)
	for _, player := range s.onlinePlayersLocked(s.nowMillis()) {
		if player.Address == address || player.Status != types.PlayerStatusIdle {
			continue
		}
		candidates = append(candidates, player)
	}
	s.lock.RUnlock()

	if len(candidates) == 0 {
		return types.Player{}, false
	}
	s.randLock.Lock()
	i := s.rand.Intn(len(candidates))
	s.randLock.Unlock()
	return candidates[i], true
}

// Snapshot returns a sorted deep copy of every player and battle.
func (s *InMemoryStore) Snapshot() *types.GameState {
	s.lock.RLock()
	defer s.lock.RUnlock()
	gs := types.NewGameState()
	gs.Timestamp = s.nowMillis()
	for _, player := range s.players {
		gs.Players = append(gs.Players, *player)
	}
	for _, battle := range s.battles {
		gs.Battles = append(gs.Battles, *battle.Copy())
	}
	gs.Sort()
	return gs
}

func (s *InMemoryStore) Stats() Stats {
	s.lock.RLock()
	defer s.lock.RUnlock()
	now := s.nowMillis()
	stats := Stats{
		Players: len(s.players),
		Battles: len(s.battles),
	}
	for _, player := range s.players {
		switch player.Status {
		case types.PlayerStatusIdle:
			stats.Idle++
		case types.PlayerStatusBattling:
			stats.Battling++
		case types.PlayerStatusOffline:
			stats.Offline++
		}
		if s.isOnline(player, now) {
			stats.Online++
		}
	}
	for _, battle := range s.battles {
		if battle.IsOpen() {
			stats.OpenBattles++
		} else {
			stats.CompletedBattles++
		}
	}
	return stats
}

func (s *InMemoryStore) nowMillis() int64 {
	return s.now().UnixMilli()
}

// emit queues an event. Must be called with the write lock held.
func (s *InMemoryStore) emit(name string, payload interface{}) {
	s.pending = append(s.pending, events.Event{Name: name, Payload: payload})
}

// flush publishes queued events in order. If another goroutine (or an outer
// call on this goroutine) is already flushing, it will publish them instead.
func (s *InMemoryStore) flush() {
	s.lock.Lock()
	if s.flushing {
		s.lock.Unlock()
		return
	}
	s.flushing = true
	for len(s.pending) > 0 {
		event := s.pending[0]
		s.pending = s.pending[1:]
		s.lock.Unlock()
		s.bus.Publish(event.Name, event.Payload)
		s.lock.Lock()
	}
	s.pending = nil
	s.flushing = false
	s.lock.Unlock()
}
