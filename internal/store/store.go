package store

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"sync"

	"github.com/DoyleJ11/crimecity-live/internal/types"
)

var ErrCombatNotFound = errors.New("combat not found")

// Store is the data the development server serves to the client.
type Store interface {
	PlayerStatus(ctx context.Context) (types.PlayerStatus, error)
	Combat(ctx context.Context, id string) (types.CombatStatus, error)
	// SellableItems lists tradable, unequipped items with quantity > 0.
	SellableItems(ctx context.Context) ([]types.InventoryItem, error)
}

// Item is an inventory row before the sellable filter is applied.
type Item struct {
	types.InventoryItem
	Tradable bool
	Equipped bool
}

func (it Item) sellable() bool {
	return it.Tradable && !it.Equipped && it.Quantity > 0
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	player  types.PlayerStatus
	combats map[string]types.CombatStatus
	items   []Item
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{combats: make(map[string]types.CombatStatus)}
}

// NewSeeded returns a MemoryStore with a small demo world.
func NewSeeded() *MemoryStore {
	m := NewMemoryStore()
	downtown := "Downtown"
	m.SetPlayer(types.PlayerStatus{
		ID: 1, Nickname: "tony", Level: 3, Experience: 240,
		Cash: 500, Energy: 40, MaxEnergy: 100, Health: 80, MaxHealth: 100,
		Location: &downtown,
	})

	winner := "tony"
	ended := "2024-05-01T21:04:10Z"
	m.PutCombat(types.CombatStatus{
		ID: 1, Attacker: "tony", Defender: "vinnie", Winner: &winner,
		CashStolen: 120, ExperienceGained: 15,
		StartedAt: "2024-05-01T21:03:55Z", EndedAt: &ended,
		Logs: []types.CombatLog{
			{Message: "tony attacks vinnie for 12 damage", Timestamp: "2024-05-01T21:04:00Z"},
			{Message: "vinnie hits back for 7 damage", Timestamp: "2024-05-01T21:04:05Z"},
			{Message: "tony knocks vinnie out", Timestamp: "2024-05-01T21:04:10Z"},
		},
	})

	m.SetItems([]Item{
		{InventoryItem: types.InventoryItem{ID: 1, Name: "Brass Knuckles", Quantity: 2, SellPrice: 40}, Tradable: true},
		{InventoryItem: types.InventoryItem{ID: 2, Name: "Switchblade", Quantity: 1, SellPrice: 90}, Tradable: true, Equipped: true},
		{InventoryItem: types.InventoryItem{ID: 3, Name: "Stolen Watch", Quantity: 5, SellPrice: 150}, Tradable: true},
		{InventoryItem: types.InventoryItem{ID: 4, Name: "Family Photo", Quantity: 1, SellPrice: 0}},
	})
	return m
}

func (m *MemoryStore) SetPlayer(p types.PlayerStatus) {
	m.mu.Lock()
	m.player = p
	m.mu.Unlock()
}

func (m *MemoryStore) PutCombat(c types.CombatStatus) {
	m.mu.Lock()
	m.combats[strconv.Itoa(c.ID)] = c
	m.mu.Unlock()
}

func (m *MemoryStore) SetItems(items []Item) {
	m.mu.Lock()
	m.items = slices.Clone(items)
	m.mu.Unlock()
}

func (m *MemoryStore) PlayerStatus(ctx context.Context) (types.PlayerStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.player, nil
}

func (m *MemoryStore) Combat(ctx context.Context, id string) (types.CombatStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.combats[id]
	if !ok {
		return types.CombatStatus{}, ErrCombatNotFound
	}
	c.Logs = slices.Clone(c.Logs)
	return c, nil
}

func (m *MemoryStore) SellableItems(ctx context.Context) ([]types.InventoryItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []types.InventoryItem{}
	for _, it := range m.items {
		if it.sellable() {
			out = append(out, it.InventoryItem)
		}
	}
	return out, nil
}
