package types

import "encoding/json"

type Tag string

const (
	TagCombatUpdate Tag = "combat_update"
	TagCombatStatus Tag = "combat_status"
	TagPlayerStatus Tag = "player_status"
	TagPlayerUpdate Tag = "player_update"
	TagNotification Tag = "notification"
	TagError        Tag = "error"
)

// Known reports whether t is one of the tags the client understands.
func (t Tag) Known() bool {
	switch t {
	case TagCombatUpdate, TagCombatStatus, TagPlayerStatus, TagPlayerUpdate, TagNotification, TagError:
		return true
	}
	return false
}

// Event is the tagged union of decoded server messages. Variants are plain
// values; handlers receive copies.
type Event interface {
	Tag() Tag
	isEvent()
}

type CombatUpdate struct {
	Message           string `json:"message"`
	AttackerHealth    *int   `json:"attacker_health,omitempty"`
	AttackerMaxHealth *int   `json:"attacker_max_health,omitempty"`
	DefenderHealth    *int   `json:"defender_health,omitempty"`
	DefenderMaxHealth *int   `json:"defender_max_health,omitempty"`
	Status            string `json:"status,omitempty"`
	IsComplete        bool   `json:"is_complete,omitempty"`
	IsWinner          bool   `json:"is_winner,omitempty"`
	ResultMessage     string `json:"result_message,omitempty"`
	RewardMessage     string `json:"reward_message,omitempty"`
}

type CombatLog struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp,omitempty"`
}

// CombatStatus is the full combat record sent in reply to refresh_combat.
// It overlaps CombatUpdate but is a separate message on the wire.
type CombatStatus struct {
	ID               int         `json:"id,omitempty"`
	Attacker         string      `json:"attacker,omitempty"`
	Defender         string      `json:"defender,omitempty"`
	Winner           *string     `json:"winner"`
	CashStolen       int         `json:"cash_stolen,omitempty"`
	ExperienceGained int         `json:"experience_gained,omitempty"`
	StartedAt        string      `json:"started_at,omitempty"`
	EndedAt          *string     `json:"ended_at"`
	Logs             []CombatLog `json:"logs"`
}

type PlayerStatus struct {
	Cash      int `json:"cash"`
	Energy    int `json:"energy"`
	MaxEnergy int `json:"max_energy"`
	Health    int `json:"health"`
	MaxHealth int `json:"max_health"`

	ID           int     `json:"id,omitempty"`
	Nickname     string  `json:"nickname,omitempty"`
	Level        int     `json:"level,omitempty"`
	Experience   int     `json:"experience,omitempty"`
	Location     *string `json:"location,omitempty"`
	IsInHospital bool    `json:"is_in_hospital,omitempty"`
	IsInJail     bool    `json:"is_in_jail,omitempty"`
}

// PlayerUpdate carries an open set of stat fields. LevelUp and Level are
// lifted out; every field, including those two, stays in Stats.
type PlayerUpdate struct {
	LevelUp bool
	Level   int
	Stats   map[string]json.RawMessage
}

type Notification struct {
	Message string
	Level   Severity
}

type ServerError struct {
	Message string
}

func (CombatUpdate) Tag() Tag { return TagCombatUpdate }
func (CombatStatus) Tag() Tag { return TagCombatStatus }
func (PlayerStatus) Tag() Tag { return TagPlayerStatus }
func (PlayerUpdate) Tag() Tag { return TagPlayerUpdate }
func (Notification) Tag() Tag { return TagNotification }
func (ServerError) Tag() Tag  { return TagError }

func (CombatUpdate) isEvent() {}
func (CombatStatus) isEvent() {}
func (PlayerStatus) isEvent() {}
func (PlayerUpdate) isEvent() {}
func (Notification) isEvent() {}
func (ServerError) isEvent()  {}
