package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tilerealm/worldcore/internal/codec"
	"github.com/tilerealm/worldcore/internal/config"
	coresys "github.com/tilerealm/worldcore/internal/core/system"
	"github.com/tilerealm/worldcore/internal/data"
	"github.com/tilerealm/worldcore/internal/gen"
	"github.com/tilerealm/worldcore/internal/geom"
	"github.com/tilerealm/worldcore/internal/persist"
	"github.com/tilerealm/worldcore/internal/system"
	"github.com/tilerealm/worldcore/internal/world"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(serverName, worldName string) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m             worldcore  v0.1.0             \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  │\033[0m        chunked tile world engine          \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	title := cases.Title(language.English).String(strings.ReplaceAll(worldName, "_", " "))
	fmt.Printf("  \033[1mserver:\033[0m %s \033[90m(world: %s)\033[0m\n\n", serverName, title)
}

func printSection(title string) {
	lineLen := max(46-len(title)-1, 3)
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, value any) {
	s := fmt.Sprint(value)
	dotsLen := max(42-len(label)-len(s), 3)
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), s)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Main server logic ─────────────────────────────────────────────

func run() error {
	// 1. Load config
	cfgPath := "config/server.toml"
	if p := os.Getenv("WORLDCORE_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.Server.Name, cfg.World.Name)

	// 3. World types
	printSection("data")
	types := data.DefaultWorldTypes()
	if cfg.World.TypesFile != "" {
		if types, err = data.LoadWorldTypes(cfg.World.TypesFile); err != nil {
			return fmt.Errorf("load world types: %w", err)
		}
	}
	printStat("world types", types.Count())
	printStat("terrains", types.Terrains().Count())
	fmt.Println()

	// 4. Persistence (optional)
	ident := worldIdentity{Name: cfg.World.Name, Seed: cfg.World.Seed, Type: cfg.World.Type}
	var (
		loader gen.Loader
		saver  world.Saver
		repo   *persist.ChunkRepo
	)
	if cfg.Database.Enabled {
		printSection("database")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		db, err := persist.NewDB(ctx, cfg.Database, log)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer db.Close()
		printOK("PostgreSQL connected")

		schema, err := db.RunMigrations(ctx)
		if err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		printOK(fmt.Sprintf("migrations applied (schema %d)", schema))

		if ident.Seed == 0 {
			ident.Seed = rand.Int63()
		}
		row, created, err := persist.NewWorldRepo(db).LoadOrCreate(ctx, ident.Name, ident.Seed, ident.Type)
		if err != nil {
			return err
		}
		if !created && ((cfg.World.Seed != 0 && row.Seed != cfg.World.Seed) || row.Type != ident.Type) {
			log.Warn("stored world overrides configured seed or type",
				zap.String("world", row.Name),
				zap.Int64("seed", row.Seed),
				zap.String("type", row.Type))
		}
		ident = worldIdentity{Name: row.Name, Seed: row.Seed, Type: row.Type, ID: row.ID}
		if created {
			printOK("world created")
		} else {
			printOK("world loaded")
		}

		cdc, err := codec.New()
		if err != nil {
			return err
		}
		defer cdc.Close()
		repo = persist.NewChunkRepo(db, row.ID, cdc)
		loader, saver = repo, repo
		fmt.Println()
	} else if ident.Seed == 0 {
		ident.Seed = rand.Int63()
	}

	// 5. Generator and world
	printSection("world")
	wt := types.Get(ident.Type)
	if wt == nil {
		return fmt.Errorf("world type %q not found", ident.Type)
	}
	g, err := gen.NewRegistry(cfg.World.ScriptsDir, log).New(wt, ident.Seed)
	if err != nil {
		return err
	}
	if c, ok := g.(interface{ Close() }); ok {
		defer c.Close()
	}

	opts := world.Options{
		ID:               ident.ID,
		Seed:             ident.Seed,
		Type:             wt,
		Terrains:         types.Terrains(),
		Generator:        g,
		Loader:           loader,
		CascadeBudget:    cfg.World.CascadeBudget,
		WriterPatience:   cfg.World.WriterPatience,
		PathIterationCap: cfg.World.PathIterationCap,
		Workers:          cfg.World.Workers,
		Log:              log,
	}
	if b := cfg.World.Bounds; b != nil {
		opts.Bounds = &geom.Rect{
			Min: geom.TileCoord{Row: b.MinRow, Col: b.MinCol},
			Max: geom.TileCoord{Row: b.MaxRow, Col: b.MaxCol},
		}
	}
	w, err := world.New(opts)
	if err != nil {
		return err
	}
	printStat("type", wt.Name+" ("+g.Name()+")")
	printStat("seed", ident.Seed)
	printStat("workers", w.Workers())
	if r, ok := w.Bounds(); ok {
		printStat("bounds", r)
	}
	if cfg.World.WipeOnStart && repo != nil {
		_, purged, err := w.Wipe(context.Background(), repo)
		if err != nil {
			return err
		}
		printStat("stored layers wiped", purged)
	}
	fmt.Println()

	// 6. Systems
	spawn := geom.TileCoord{Row: cfg.World.SpawnRow, Col: cfg.World.SpawnCol}
	interest := world.NewInterest()
	interest.Add(0, spawn) // the spawn point is always watched

	runner := coresys.NewRunner(log)
	pregen := system.NewPregenSystem(w, interest, spawn, cfg.World.PregenRadius, 1, log)
	runner.Register(pregen)
	var autosave *system.AutosaveSystem
	if saver != nil {
		autosave = system.NewAutosaveSystem(w, saver, log, cfg.Server.SaveInterval)
		runner.Register(autosave)
	}

	// 7. Tick loop
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticker := time.NewTicker(cfg.Server.TickRate)
	defer ticker.Stop()

	printSection("ready")
	printReady(fmt.Sprintf("tick loop started (tick: %s)", cfg.Server.TickRate))
	fmt.Println()

	spawnLogged := false
	for {
		select {
		case <-ticker.C:
			runner.Tick(ctx, cfg.Server.TickRate)
			if !spawnLogged && pregen.SpawnReady() {
				spawnLogged = true
				stats, resident := w.Stats()
				log.Info("spawn area ready",
					zap.Uint64("generated", stats.Generated),
					zap.Uint64("loaded", stats.Loaded),
					zap.Int("resident", resident))
			}
		case sig := <-shutdownCh:
			log.Info("shutdown signal", zap.String("signal", sig.String()))
			cancel()
			if autosave != nil {
				saveCtx, saveCancel := context.WithTimeout(context.Background(), 30*time.Second)
				err := autosave.Flush(saveCtx)
				saveCancel()
				if err != nil {
					log.Error("final save failed", zap.Error(err))
				}
			}
			stats, _ := w.Stats()
			log.Info("server stopped",
				zap.Uint64("generated", stats.Generated),
				zap.Uint64("failed", stats.Failed))
			return nil
		}
	}
}

// worldIdentity decides a world's content. ID is nil until the world is
// stored; World.New then picks a random one.
type worldIdentity struct {
	ID   uuid.UUID
	Name string
	Seed int64
	Type string
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
