package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/crimecity-live/internal/config"
	"github.com/DoyleJ11/crimecity-live/internal/conn"
	"github.com/DoyleJ11/crimecity-live/internal/dispatch"
	"github.com/DoyleJ11/crimecity-live/internal/logger"
	"github.com/DoyleJ11/crimecity-live/internal/market"
	"github.com/DoyleJ11/crimecity-live/internal/notify"
	"github.com/DoyleJ11/crimecity-live/internal/projector"
	"github.com/DoyleJ11/crimecity-live/internal/types"
)

func main() {
	configPath := flag.String("config", "crimecity.yaml", "optional YAML config file")
	inventory := flag.Bool("inventory", false, "print sellable items with suggested prices and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log := logger.Must(cfg.Env, cfg.LogLevel)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *inventory {
		if err := printInventory(ctx, cfg, log); err != nil {
			log.Fatal("inventory", zap.Error(err))
		}
		return
	}

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("client stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	wsURL, err := cfg.WebSocketURL()
	if err != nil {
		return err
	}

	router := dispatch.NewRouter(log)
	queue := notify.NewQueue(notify.Options{
		Capacity: cfg.NotifyCapacity,
		Duration: cfg.NotifyDuration,
		Logger:   log,
	})
	sinks := projector.NewMemorySinks(
		projector.SinkCombatLogs,
		projector.SinkPlayerHealthBar,
		projector.SinkOpponentHealth,
		projector.SinkCombatStatus,
		projector.SinkCombatResult,
		projector.SinkAttackButton,
		projector.SinkPlayerCash,
		projector.SinkPlayerEnergy,
		projector.SinkPlayerHealthStat,
	)
	render(sinks, queue, log.Named("ui"))

	proj := projector.New(sinks, queue, log)
	unregister := proj.Register(router)
	defer unregister()

	var resume *types.Command
	if cfg.CombatID != "" {
		resume = ptr(types.RefreshCombat(cfg.CombatID))
	}

	mgr := conn.New(ctx, conn.Options{
		URL:            wsURL,
		Router:         router,
		Logger:         log,
		ReconnectDelay: cfg.ReconnectDelay,
		Resume:         resume,
		OnStateChange: func(from, to conn.State) {
			if to == conn.StateOpen {
				queue.Push("System", "Connected to game server", types.SeverityInfo)
			}
		},
	})
	mgr.EnsureConnected()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		mgr.Shutdown()
		<-mgr.Done()
		return nil
	})

	// stdin is not cancellable, so the reader lives outside the group
	go readCommands(gctx, mgr, log)

	log.Info("client started", zap.String("url", wsURL), zap.String("combat", cfg.CombatID))
	return g.Wait()
}

// readCommands lets a terminal user drive the socket: "status" asks for
// player status, "combat <id>" refreshes a combat.
func readCommands(ctx context.Context, mgr *conn.Manager, log *zap.Logger) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "status":
			mgr.Send(types.GetStatus())
		case "combat":
			if len(fields) < 2 {
				log.Warn("usage: combat <id>")
				continue
			}
			mgr.Send(types.RefreshCombat(fields[1]))
			mgr.SetResume(ptr(types.RefreshCombat(fields[1])))
		default:
			log.Warn("unknown command", zap.String("command", fields[0]))
		}
	}
}

func render(sinks *projector.MemorySinks, queue *notify.Queue, log *zap.Logger) {
	sinks.OnChange(func(name string, el projector.Element) {
		switch {
		case len(el.Lines) > 0 && name == projector.SinkCombatLogs:
			log.Info(name, zap.String("line", el.Lines[len(el.Lines)-1]))
		case el.Disabled:
			log.Info(name, zap.Bool("disabled", true))
		default:
			log.Info(name, zap.String("text", el.Text), zap.Int("progress", el.Progress))
		}
	})

	var (
		mu    sync.Mutex
		shown string
	)
	queue.OnChange(func(list []notify.Notification) {
		if len(list) == 0 {
			return
		}
		n := list[len(list)-1]
		mu.Lock()
		seen := n.ID == shown
		shown = n.ID
		mu.Unlock()
		if seen {
			return
		}
		log.Info("notification",
			zap.String("title", n.Title),
			zap.String("message", n.Message),
			zap.String("severity", string(n.Severity)))
	})
}

func printInventory(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	items, err := market.NewClient(cfg.ServerURL, nil, log).FetchInventory(ctx)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("No items available to sell")
		return nil
	}
	for _, it := range items {
		fmt.Printf("%d\t%s (x%d)\tsuggested $%.2f\n", it.ID, it.Name, it.Quantity, market.SuggestedPrice(it))
	}
	return nil
}

func ptr[T any](v T) *T { return &v }
