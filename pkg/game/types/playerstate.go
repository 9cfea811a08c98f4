package types

// PlayerStatus is the presence/battle state of a player.
type PlayerStatus string

const (
	PlayerStatusIdle     PlayerStatus = "idle"
	PlayerStatusBattling PlayerStatus = "battling"
	PlayerStatusOffline  PlayerStatus = "offline"
)

// Valid reports whether s is one of the known statuses.
func (s PlayerStatus) Valid() bool {
	switch s {
	case PlayerStatusIdle, PlayerStatusBattling, PlayerStatusOffline:
		return true
	default:
		return false
	}
}

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Player is a connected participant, keyed by address.
type Player struct {
	Address  string       `json:"address"`
	HeroID   int          `json:"heroId"`
	Position Position     `json:"position"`
	Status   PlayerStatus `json:"status"`
	// LastUpdate is the unix millisecond timestamp of the last mutation
	LastUpdate int64 `json:"lastUpdate"`
}

// Copy returns a copy of the player
func (p *Player) Copy() *Player {
	c := *p
	return &c
}

// Equal returns true if the observable fields of both players match.
// LastUpdate is ignored so that heartbeats alone do not count as a change.
func (p *Player) Equal(other *Player) bool {
	return p.Address == other.Address &&
		p.HeroID == other.HeroID &&
		p.Position == other.Position &&
		p.Status == other.Status
}

// PlayerPatch is a partial update to a player. Nil fields are left as is;
// non-nil fields replace the whole value.
type PlayerPatch struct {
	Position *Position     `json:"position,omitempty"`
	Status   *PlayerStatus `json:"status,omitempty"`
	HeroID   *int          `json:"heroId,omitempty"`
}

// Apply merges the patch into player.
func (p PlayerPatch) Apply(player *Player) {
	if p.Position != nil {
		player.Position = *p.Position
	}
	if p.Status != nil {
		player.Status = *p.Status
	}
	if p.HeroID != nil {
		player.HeroID = *p.HeroID
	}
}

// StatusPatch is shorthand for a patch that only sets the status.
func StatusPatch(status PlayerStatus) PlayerPatch {
	return PlayerPatch{Status: &status}
}

// PositionPatch is shorthand for a patch that only moves the player.
func PositionPatch(x, y float64) PlayerPatch {
	return PlayerPatch{Position: &Position{X: x, Y: y}}
}
