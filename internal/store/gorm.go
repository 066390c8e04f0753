package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/DoyleJ11/crimecity-live/internal/types"
)

type Player struct {
	ID           uint `gorm:"primaryKey"`
	Nickname     string
	Level        int
	Experience   int
	Cash         int
	Energy       int
	MaxEnergy    int
	Health       int
	MaxHealth    int
	Location     *string
	IsInHospital bool
	IsInJail     bool
}

type Combat struct {
	ID               uint `gorm:"primaryKey"`
	Attacker         string
	Defender         string
	Winner           *string
	CashStolen       int
	ExperienceGained int
	StartedAt        time.Time
	EndedAt          *time.Time
	Logs             []CombatLog
}

type CombatLog struct {
	ID        uint `gorm:"primaryKey"`
	CombatID  uint `gorm:"index"`
	Message   string
	Timestamp time.Time
}

type InventoryRow struct {
	ID         uint `gorm:"primaryKey"`
	PlayerID   uint `gorm:"index"`
	Name       string
	Quantity   int
	SellPrice  int
	IsTradable bool
	IsEquipped bool
}

func (InventoryRow) TableName() string { return "inventory" }

// GormStore reads the dev server's data from postgres. It serves the first
// player row, which is enough for a single-user development world.
type GormStore struct {
	db *gorm.DB
}

// OpenGorm connects to dsn and migrates the schema.
func OpenGorm(dsn string) (*GormStore, error) {
	return openGorm(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
}

func openGorm(dialector gorm.Dialector, cfg *gorm.Config) (*GormStore, error) {
	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		if closer, ok := db.ConnPool.(interface{ Close() error }); ok {
			_ = closer.Close()
		}
		return nil, err
	}
	sqlDB.SetConnMaxLifetime(4 * time.Minute)
	sqlDB.SetMaxOpenConns(16)
	sqlDB.SetMaxIdleConns(4)

	if err := db.AutoMigrate(&Player{}, &Combat{}, &CombatLog{}, &InventoryRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// DB exposes the handle for seeding and tests.
func (s *GormStore) DB() *gorm.DB { return s.db }

func (s *GormStore) PlayerStatus(ctx context.Context) (types.PlayerStatus, error) {
	var p Player
	if err := s.db.WithContext(ctx).Order("id").First(&p).Error; err != nil {
		return types.PlayerStatus{}, err
	}
	return types.PlayerStatus{
		ID:           int(p.ID),
		Nickname:     p.Nickname,
		Level:        p.Level,
		Experience:   p.Experience,
		Cash:         p.Cash,
		Energy:       p.Energy,
		MaxEnergy:    p.MaxEnergy,
		Health:       p.Health,
		MaxHealth:    p.MaxHealth,
		Location:     p.Location,
		IsInHospital: p.IsInHospital,
		IsInJail:     p.IsInJail,
	}, nil
}

func (s *GormStore) Combat(ctx context.Context, id string) (types.CombatStatus, error) {
	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return types.CombatStatus{}, ErrCombatNotFound
	}

	var c Combat
	err = s.db.WithContext(ctx).
		Preload("Logs", func(db *gorm.DB) *gorm.DB { return db.Order("timestamp") }).
		First(&c, n).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.CombatStatus{}, ErrCombatNotFound
	}
	if err != nil {
		return types.CombatStatus{}, err
	}
	return c.status(), nil
}

func (s *GormStore) SellableItems(ctx context.Context) ([]types.InventoryItem, error) {
	var rows []InventoryRow
	err := s.db.WithContext(ctx).
		Where("is_tradable = ? AND is_equipped = ? AND quantity > ?", true, false, 0).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]types.InventoryItem, 0, len(rows))
	for _, r := range rows {
		out = append(out, types.InventoryItem{
			ID:        int(r.ID),
			Name:      r.Name,
			Quantity:  r.Quantity,
			SellPrice: r.SellPrice,
		})
	}
	return out, nil
}

func (c Combat) status() types.CombatStatus {
	st := types.CombatStatus{
		ID:               int(c.ID),
		Attacker:         c.Attacker,
		Defender:         c.Defender,
		Winner:           c.Winner,
		CashStolen:       c.CashStolen,
		ExperienceGained: c.ExperienceGained,
		StartedAt:        c.StartedAt.UTC().Format(time.RFC3339),
		Logs:             make([]types.CombatLog, 0, len(c.Logs)),
	}
	if c.EndedAt != nil {
		ended := c.EndedAt.UTC().Format(time.RFC3339)
		st.EndedAt = &ended
	}
	for _, l := range c.Logs {
		st.Logs = append(st.Logs, types.CombatLog{
			Message:   l.Message,
			Timestamp: l.Timestamp.UTC().Format(time.RFC3339),
		})
	}
	return st
}

// SeedIfEmpty inserts the demo world when there is no player yet.
func (s *GormStore) SeedIfEmpty(ctx context.Context) error {
	var n int64
	if err := s.db.WithContext(ctx).Model(&Player{}).Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	demo := NewSeeded()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, _ := demo.PlayerStatus(ctx)
		player := Player{
			Nickname: p.Nickname, Level: p.Level, Experience: p.Experience,
			Cash: p.Cash, Energy: p.Energy, MaxEnergy: p.MaxEnergy,
			Health: p.Health, MaxHealth: p.MaxHealth, Location: p.Location,
		}
		if err := tx.Create(&player).Error; err != nil {
			return err
		}

		c, _ := demo.Combat(ctx, "1")
		row := Combat{
			Attacker: c.Attacker, Defender: c.Defender, Winner: c.Winner,
			CashStolen: c.CashStolen, ExperienceGained: c.ExperienceGained,
			StartedAt: parseTime(c.StartedAt),
		}
		if c.EndedAt != nil {
			ended := parseTime(*c.EndedAt)
			row.EndedAt = &ended
		}
		for _, l := range c.Logs {
			row.Logs = append(row.Logs, CombatLog{Message: l.Message, Timestamp: parseTime(l.Timestamp)})
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}

		demo.mu.RLock()
		items := demo.items
		demo.mu.RUnlock()
		rows := make([]InventoryRow, 0, len(items))
		for _, it := range items {
			rows = append(rows, InventoryRow{
				PlayerID: player.ID, Name: it.Name, Quantity: it.Quantity, SellPrice: it.SellPrice,
				IsTradable: it.Tradable, IsEquipped: it.Equipped,
			})
		}
		return tx.Create(&rows).Error
	})
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}
