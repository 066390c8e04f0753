package projector

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/DoyleJ11/crimecity-live/internal/dispatch"
	"github.com/DoyleJ11/crimecity-live/internal/types"
)

// Notifier receives user-visible alerts.
type Notifier interface {
	Push(title, message string, severity types.Severity) string
}

// Projector writes decoded events into the sinks present on the page.
// Missing sinks are skipped silently.
type Projector struct {
	sinks Sinks
	notes Notifier
	log   *zap.Logger
}

func New(sinks Sinks, notes Notifier, log *zap.Logger) *Projector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Projector{sinks: sinks, notes: notes, log: log.Named("projector")}
}

// Register subscribes the projector to every event it understands and
// returns a func that removes all of those subscriptions.
func (p *Projector) Register(r *dispatch.Router) func() {
	unsubs := []func(){
		r.Subscribe(types.TagCombatUpdate, p.handle),
		r.Subscribe(types.TagCombatStatus, p.handle),
		r.Subscribe(types.TagPlayerStatus, p.handle),
		r.Subscribe(types.TagPlayerUpdate, p.handle),
		r.Subscribe(types.TagNotification, p.handle),
		r.Subscribe(types.TagError, p.handle),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func (p *Projector) handle(ev types.Event) error {
	switch e := ev.(type) {
	case types.CombatUpdate:
		p.CombatUpdate(e)
	case types.CombatStatus:
		p.CombatStatus(e)
	case types.PlayerStatus:
		p.PlayerStatus(e)
	case types.PlayerUpdate:
		p.PlayerUpdate(e)
	case types.Notification:
		p.notify("Game", e.Message, e.Level)
	case types.ServerError:
		p.notify("Error", e.Message, types.SeverityDanger)
	default:
		return fmt.Errorf("projector: unexpected event %T", ev)
	}
	return nil
}

func (p *Projector) CombatUpdate(u types.CombatUpdate) {
	if s, ok := p.lookup(SinkCombatLogs); ok {
		if l, ok := s.(LogSink); ok {
			l.AppendLine(u.Message)
		} else {
			s.SetText(u.Message)
		}
	}

	if u.AttackerHealth != nil {
		p.healthBar(SinkPlayerHealthBar, *u.AttackerHealth, u.AttackerMaxHealth)
	}
	if u.DefenderHealth != nil {
		p.healthBar(SinkOpponentHealth, *u.DefenderHealth, u.DefenderMaxHealth)
	}
	if u.Status != "" {
		p.setText(SinkCombatStatus, u.Status)
	}

	if u.IsComplete {
		if _, ok := p.lookup(SinkCombatResult); ok {
			p.setText(SinkCombatResult, combatUpdateResult(u))
			p.disableAttack()
		}
	}
}

func (p *Projector) CombatStatus(s types.CombatStatus) {
	if sink, ok := p.lookup(SinkCombatLogs); ok {
		if l, ok := sink.(LogSink); ok {
			l.Clear()
			for _, entry := range s.Logs {
				l.AppendLine(entry.Message)
			}
		} else {
			lines := make([]string, len(s.Logs))
			for i, entry := range s.Logs {
				lines[i] = entry.Message
			}
			sink.SetText(strings.Join(lines, "\n"))
		}
	}

	if s.EndedAt != nil {
		if _, ok := p.lookup(SinkCombatResult); ok {
			p.setText(SinkCombatResult, combatStatusResult(s))
			p.disableAttack()
		}
	}
}

func (p *Projector) PlayerStatus(s types.PlayerStatus) {
	p.setText(SinkPlayerCash, strconv.Itoa(s.Cash))
	p.setText(SinkPlayerEnergy, fmt.Sprintf("%d/%d", s.Energy, s.MaxEnergy))
	p.setText(SinkPlayerHealthStat, fmt.Sprintf("%d/%d", s.Health, s.MaxHealth))
}

func (p *Projector) PlayerUpdate(u types.PlayerUpdate) {
	if u.LevelUp {
		p.notify("Level Up!", fmt.Sprintf("You've reached level %d!", u.Level), types.SeveritySuccess)
	}

	keys := make([]string, 0, len(u.Stats))
	for k := range u.Stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		text, ok := statText(u.Stats[k])
		if !ok {
			continue
		}
		p.setText(StatSinkPrefix+k, text)
	}
}

func (p *Projector) notify(title, message string, severity types.Severity) {
	if p.notes == nil {
		p.log.Debug("no notifier, dropping alert", zap.String("title", title))
		return
	}
	p.notes.Push(title, message, severity)
}

func (p *Projector) lookup(name string) (Sink, bool) {
	if p.sinks == nil {
		return nil, false
	}
	return p.sinks.Lookup(name)
}

func (p *Projector) setText(name, text string) {
	if s, ok := p.lookup(name); ok {
		s.SetText(text)
	}
}

func (p *Projector) healthBar(name string, current int, maxHealth *int) {
	s, ok := p.lookup(name)
	if !ok {
		return
	}
	if maxHealth == nil || *maxHealth <= 0 {
		s.SetText(strconv.Itoa(current))
		return
	}
	s.SetText(fmt.Sprintf("%d/%d", current, *maxHealth))
	if bar, ok := s.(ProgressSink); ok {
		bar.SetProgress(HealthPercent(current, *maxHealth))
	}
}

func (p *Projector) disableAttack() {
	if s, ok := p.lookup(SinkAttackButton); ok {
		if t, ok := s.(ToggleSink); ok {
			t.SetDisabled(true)
		}
	}
}

// HealthPercent rounds current/maxHealth to a whole percentage.
func HealthPercent(current, maxHealth int) int {
	if maxHealth <= 0 {
		return 0
	}
	return int(math.Round(float64(current) / float64(maxHealth) * 100))
}

func combatUpdateResult(u types.CombatUpdate) string {
	heading := "Defeat!"
	if u.IsWinner {
		heading = "Victory!"
	}
	lines := []string{heading, u.ResultMessage}
	if u.RewardMessage != "" {
		lines = append(lines, u.RewardMessage)
	}
	return strings.Join(lines, "\n")
}

func combatStatusResult(s types.CombatStatus) string {
	heading := "Defeat!"
	if s.Winner != nil && *s.Winner != "" {
		heading = "Victory!"
	}
	body := "You lost the fight!"
	if s.Winner != nil && *s.Winner == s.Attacker {
		body = "You won the fight!"
	}
	lines := []string{heading, body}
	if s.CashStolen > 0 {
		lines = append(lines, fmt.Sprintf("Cash stolen: $%d", s.CashStolen))
	}
	if s.ExperienceGained > 0 {
		lines = append(lines, fmt.Sprintf("Experience gained: %d", s.ExperienceGained))
	}
	return strings.Join(lines, "\n")
}

func statText(raw json.RawMessage) (string, bool) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil || v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	return string(raw), true
}
