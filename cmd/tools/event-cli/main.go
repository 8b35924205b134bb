package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"slices"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/annel0/cubestack/internal/auth"
	"github.com/annel0/cubestack/internal/config"
	"github.com/annel0/cubestack/internal/eventbus"
	"github.com/annel0/cubestack/internal/grid"
	"github.com/annel0/cubestack/internal/network"
	"github.com/annel0/cubestack/internal/protocol"
	"github.com/annel0/cubestack/internal/replication"
	"github.com/annel0/cubestack/internal/vec"
)

const (
	defaultNATSURL = "nats://localhost:4222"
	defaultStream  = "CUBESTACK"
)

func main() {
	var (
		command    = flag.String("cmd", "tail", "Command: tail, stats, token, secret, replica")
		natsURL    = flag.String("nats", defaultNATSURL, "NATS server URL")
		stream     = flag.String("stream", defaultStream, "JetStream stream name")
		eventTypes = flag.String("types", "", "Event types filter (comma-separated)")
		sources    = flag.String("sources", "", "Event sources filter (comma-separated)")
		limit      = flag.Int("limit", 100, "Maximum number of events (0 - unlimited)")
		window     = flag.Duration("window", 30*time.Second, "Stats collection window")
		secret     = flag.String("secret", os.Getenv("GAME_JWT_SECRET"), "Base64 JWT secret")
		ttl        = flag.Float64("ttl", 12, "Token TTL in hours")
		name       = flag.String("name", "player", "Participant name")
		role       = flag.String("role", "remote", "Participant role: host, remote")
		admin      = flag.Bool("admin", false, "Issue admin token")
		hostAddr   = flag.String("host", "localhost:7777", "KCP host address")
		token      = flag.String("token", "", "Join token for replica")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	filter := eventbus.Filter{Types: parseStringList(*eventTypes), Sources: parseStringList(*sources)}

	var err error
	switch *command {
	case "tail":
		err = withBus(*natsURL, *stream, func(bus eventbus.EventBus) error {
			return tailEvents(ctx, bus, filter, *limit)
		})
	case "stats":
		err = withBus(*natsURL, *stream, func(bus eventbus.EventBus) error {
			return showStats(ctx, bus, filter, *window)
		})
	case "token":
		err = issueToken(*secret, *ttl, *name, *role, *admin)
	case "secret":
		var s string
		if s, err = auth.GenerateSecureSecret(); err == nil {
			fmt.Println(s)
		}
	case "replica":
		err = runReplica(ctx, *hostAddr, *token, *name)
	default:
		fmt.Printf("❌ Unknown command: %s\n", *command)
		fmt.Println("Available commands: tail, stats, token, secret, replica")
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("❌ %s failed: %v", *command, err)
	}
}

func withBus(url, stream string, fn func(eventbus.EventBus) error) error {
	bus, err := eventbus.NewJetStreamBus(url, stream, 0)
	if err != nil {
		return err
	}
	defer bus.Close()
	return fn(bus)
}

// tailEvents выводит события в реальном времени
func tailEvents(ctx context.Context, bus eventbus.EventBus, filter eventbus.Filter, limit int) error {
	fmt.Printf("🎬 Tailing events (limit: %d)\n", limit)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu    sync.Mutex
		count int
	)
	sub, err := bus.Subscribe(ctx, filter, func(_ context.Context, env *eventbus.Envelope) {
		mu.Lock()
		defer mu.Unlock()
		if limit > 0 && count >= limit {
			return
		}
		printEvent(env)
		count++
		if limit > 0 && count >= limit {
			cancel()
		}
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	<-ctx.Done()
	mu.Lock()
	fmt.Printf("\n📊 Total events: %d\n", count)
	mu.Unlock()
	return nil
}

// showStats считает события по типам за окно наблюдения
func showStats(ctx context.Context, bus eventbus.EventBus, filter eventbus.Filter, window time.Duration) error {
	fmt.Printf("📊 Collecting event statistics for %s\n", window)

	var (
		mu     sync.Mutex
		counts = map[string]int{}
		bytes  int
	)
	sub, err := bus.Subscribe(ctx, filter, func(_ context.Context, env *eventbus.Envelope) {
		mu.Lock()
		counts[env.EventType]++
		bytes += len(env.Payload)
		mu.Unlock()
	})
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
	case <-time.After(window):
	}
	sub.Unsubscribe()

	mu.Lock()
	defer mu.Unlock()
	types := make([]string, 0, len(counts))
	total := 0
	for t, n := range counts {
		types = append(types, t)
		total += n
	}
	sort.Slice(types, func(i, j int) bool { return counts[types[i]] > counts[types[j]] })

	fmt.Printf("\n%-20s %8s\n", "TYPE", "COUNT")
	for _, t := range types {
		fmt.Printf("%-20s %8d\n", t, counts[t])
	}
	fmt.Printf("\n📊 Total: %d events, %d payload bytes\n", total, bytes)
	return nil
}

func printEvent(env *eventbus.Envelope) {
	ev, err := eventbus.DecodeEvent(env)
	if err != nil {
		fmt.Printf("%s [%s] %s: ⚠️ %v\n", env.Timestamp.Format(time.RFC3339), env.Source, env.EventType, err)
		return
	}
	fmt.Printf("%s [%s] #%d %-16s %s\n",
		env.Timestamp.Format("15:04:05.000"), env.Source, ev.Seq, ev.Kind, describe(ev))
}

func describe(ev *protocol.Event) string {
	switch ev.Kind {
	case protocol.KindPieceSpawned:
		return fmt.Sprintf("piece=%d shape=%s next=%s", ev.PieceSpawned.PieceID, ev.PieceSpawned.Shape, ev.PieceSpawned.Next)
	case protocol.KindPieceMoved:
		return fmt.Sprintf("piece=%d cells=%v", ev.PieceMoved.PieceID, ev.PieceMoved.Cells)
	case protocol.KindPieceFrozen:
		return fmt.Sprintf("piece=%d cubes=%d", ev.PieceFrozen.PieceID, len(ev.PieceFrozen.Cubes))
	case protocol.KindLayersCleared:
		return fmt.Sprintf("layers=%v points=%d", ev.LayersCleared.Layers, ev.LayersCleared.Points)
	case protocol.KindScoreChanged:
		return fmt.Sprintf("score=%d best=%d v%d", ev.ScoreChanged.Score, ev.ScoreChanged.Best, ev.ScoreChanged.Version)
	case protocol.KindStateChanged:
		return fmt.Sprintf("%s -> %s v%d", ev.StateChanged.Old, ev.StateChanged.New, ev.StateChanged.Version)
	case protocol.KindTimerChanged:
		return fmt.Sprintf("elapsed=%.1fs interval=%.2fs", ev.TimerChanged.Elapsed, ev.TimerChanged.DropInterval)
	case protocol.KindGridSnapshot:
		return fmt.Sprintf("cubes=%d", len(ev.GridSnapshot.Cubes))
	case protocol.KindMatchSync:
		return fmt.Sprintf("state=%s score=%d", ev.MatchSync.State, ev.MatchSync.Score)
	case protocol.KindFeedback:
		return fmt.Sprintf("to=%d intent=%s accepted=%v", ev.Target, ev.Feedback.Intent, ev.Feedback.Accepted)
	}
	return ""
}

func issueToken(secret string, ttl float64, name, roleName string, admin bool) error {
	if secret == "" {
		return errors.New("нужен -secret или GAME_JWT_SECRET")
	}
	role, err := protocol.ParseRole(roleName)
	if err != nil {
		return err
	}
	issuer, _, err := auth.FromConfig(config.AuthConfig{JWTSecret: secret, TokenTTL: ttl})
	if err != nil {
		return err
	}
	token, err := issuer.Issue(name, role, admin)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

// runReplica подключается к хосту удаленным участником и ведет реплику матча
func runReplica(ctx context.Context, addr, token, name string) error {
	codec, err := protocol.NewCodec(protocol.DefaultCompressThreshold)
	if err != nil {
		return err
	}
	defer codec.Close()

	client, err := network.Dial(ctx, addr, codec, network.DefaultChannelConfig(), protocol.Hello{Token: token, Name: name})
	if err != nil {
		return err
	}
	defer client.Close()

	w := client.Welcome()
	mirror := replication.NewMirror(grid.Dims{Planes: w.Planes, Rows: w.Rows, Cols: w.Cols})
	fmt.Printf("🔗 Connected as %d (%s), grid %dx%dx%d\n", w.Participant, w.Role, w.Planes, w.Rows, w.Cols)

	smoother := replication.NewSmoother(12, 3)
	last := time.Now()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-client.Events():
			if !ok {
				return errors.New("соединение с хостом потеряно")
			}
			if err := mirror.Apply(ev); err != nil {
				fmt.Printf("⚠️ #%d %s: %v\n", ev.Seq, ev.Kind, err)
				continue
			}
			if ev.Kind == protocol.KindFeedback {
				continue
			}
			now := time.Now()
			pos := "-"
			if p := mirror.Piece(); p != nil {
				smoother.SetTarget(centroid(p.Cells))
				v := smoother.Step(now.Sub(last).Seconds())
				pos = fmt.Sprintf("(%.1f,%.1f,%.1f)", v.X, v.Y, v.Z)
			}
			last = now
			fmt.Printf("#%-5d %-16s state=%s score=%d cubes=%d piece=%s\n",
				ev.Seq, ev.Kind, mirror.State(), mirror.Score(), len(slices.Collect(mirror.Snapshot())), pos)
		}
	}
}

// centroid - центр фигуры в мировых координатах
func centroid(cells []grid.Cell) vec.Vec3Float {
	var sum vec.Vec3Float
	if len(cells) == 0 {
		return sum
	}
	for _, c := range cells {
		sum = sum.Add(c.Vec().ToFloat())
	}
	return sum.Scale(1 / float64(len(cells)))
}

func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
