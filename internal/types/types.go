package types

import "encoding/json"

// Frame is the envelope of every server -> client message on /ws/game/.
type Frame struct {
	Type    Tag             `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message *string         `json:"message,omitempty"` // "notification" | "error"
	Level   string          `json:"level,omitempty"`   // "notification" only
}

type Action string

const (
	ActionRefreshCombat Action = "refresh_combat"
	ActionGetStatus     Action = "get_status"
)

// Command is a client -> server message. CombatID is a string or a number,
// whichever the page had at hand.
type Command struct {
	Action   Action `json:"action"`
	CombatID any    `json:"combat_id,omitempty"`
}

func RefreshCombat[T ~string | ~int | ~int64](id T) Command {
	return Command{Action: ActionRefreshCombat, CombatID: id}
}

func GetStatus() Command {
	return Command{Action: ActionGetStatus}
}

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityDanger  Severity = "danger"
)

// ParseSeverity maps a wire level to a Severity, falling back to info.
func ParseSeverity(level string) Severity {
	switch s := Severity(level); s {
	case SeverityInfo, SeveritySuccess, SeverityWarning, SeverityDanger:
		return s
	default:
		return SeverityInfo
	}
}

// InventoryItem is one entry of GET /market/api/inventory-items/.
type InventoryItem struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	SellPrice int    `json:"sell_price"`
}

type InventoryResponse struct {
	Items []InventoryItem `json:"items"`
}
