package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tabpal/tabpal/internal/bridge"
	"github.com/tabpal/tabpal/internal/config"
	"github.com/tabpal/tabpal/internal/control"
	"github.com/tabpal/tabpal/internal/logger"
	"github.com/tabpal/tabpal/internal/metrics"
	"github.com/tabpal/tabpal/internal/orchestrator"
	"github.com/tabpal/tabpal/internal/policy"
	"github.com/tabpal/tabpal/internal/rules"
	"github.com/tabpal/tabpal/internal/sched"
	"github.com/tabpal/tabpal/internal/store"
	"github.com/tabpal/tabpal/internal/track"
	"github.com/tabpal/tabpal/internal/workspace"
)

func main() {
	home, _ := os.UserHomeDir()
	defaultConfig := filepath.Join(home, ".config", "tabpal", "config.yaml")

	cfgPath := flag.String("config", defaultConfig, "path to YAML config")
	logLevel := flag.String("log-level", "", "log level override (debug|info|warn|error)")
	pretty := flag.Bool("pretty", false, "console log encoding")
	dbPath := flag.String("db", "", "database path override (\":memory:\" for ephemeral)")
	flag.Parse()

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		exitErr(err)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *pretty {
		cfg.LogPretty = true
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if err := cfg.Validate(); err != nil {
		exitErr(err)
	}

	log := logger.New(cfg.LogLevel, cfg.LogPretty)
	defer log.Sync()

	st, err := openStore(cfg)
	if err != nil {
		exitErr(fmt.Errorf("open store: %w", err))
	}
	defer st.Close()

	backend, err := bridge.NewClient(cfg.BridgeSocket)
	if err != nil {
		exitErr(fmt.Errorf("configure bridge: %w", err))
	}

	tracker := track.New()
	settings := store.NewSettingsCache(st)
	collector := metrics.NewCollector()
	archiver := policy.NewArchiveManager(backend, st, settings, tracker, log, collector)
	executor := rules.NewExecutor(backend, archiver, log, collector)
	engine := rules.NewEngine(st, executor, log, collector)
	duplicates := policy.NewDuplicateDetector(backend, settings, tracker, log, collector)
	memorySaver := policy.NewMemorySaver(backend, settings, tracker, log, collector)
	limiter := policy.NewTabLimiter(backend, settings, tracker, archiver, log)
	collapser := policy.NewCollapser(backend, settings, log, collector)
	reconciler := workspace.NewReconciler(backend, st, log, collector)
	scheduler := sched.New(log)

	eventSocket := cfg.EventSocket
	orc := orchestrator.New(orchestrator.Deps{
		Backend:    backend,
		Store:      st,
		Settings:   settings,
		Tracker:    tracker,
		Engine:     engine,
		Duplicates: duplicates,
		Archiver:   archiver,
		Memory:     memorySaver,
		Limiter:    limiter,
		Collapser:  collapser,
		Reconciler: reconciler,
		Scheduler:  scheduler,
		Subscribe: func(ctx context.Context) (<-chan bridge.Event, error) {
			return bridge.SubscribePath(ctx, log, eventSocket)
		},
		Log: log,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reload := func(reason string) error {
		log.Infof("%s, reloading", reason)
		next, err := loadConfig(*cfgPath)
		if err != nil {
			return err
		}
		if next.BridgeSocket != cfg.BridgeSocket || next.EventSocket != cfg.EventSocket ||
			next.ControlSocket != cfg.ControlSocket || next.DBPath != cfg.DBPath {
			log.Warnf("socket or database changes require a restart to take effect")
		}
		settings.Invalidate()
		if err := reconciler.Reconcile(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("reconcile after reload: %w", err)
		}
		return nil
	}

	ctrlSrv, err := control.NewServer(orc, backend, st, engine, reconciler, collector, reload, log, cfg.ControlSocket)
	if err != nil {
		exitErr(fmt.Errorf("start control server: %w", err))
	}

	reloadRequests := make(chan string, 1)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warnf("config watching disabled: %v", err)
	} else {
		defer watcher.Close()
		cfgFullPath, err := filepath.Abs(*cfgPath)
		if err != nil {
			exitErr(fmt.Errorf("resolve config path: %w", err))
		}
		cfgFullPath = filepath.Clean(cfgFullPath)
		if err := watcher.Add(filepath.Dir(cfgFullPath)); err != nil {
			log.Warnf("watch config dir: %v", err)
		} else {
			if err := watcher.Add(cfgFullPath); err != nil {
				log.Debugf("unable to watch config file directly: %v", err)
			}
			go watchConfig(log, watcher, cfgFullPath, reloadRequests)
		}
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	errs := make(chan error, 2)
	go func() {
		errs <- orc.Run(ctx)
	}()
	go func() {
		errs <- ctrlSrv.Serve(ctx)
	}()

	for {
		select {
		case err := <-errs:
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Errorf("daemon exited: %v", err)
				os.Exit(1)
			}
			log.Infof("daemon stopped")
			return
		case reason := <-reloadRequests:
			if err := reload(reason); err != nil {
				log.Errorf("reload failed: %v", err)
			}
		case sig := <-sigs:
			switch sig {
			case syscall.SIGHUP:
				if err := reload("received SIGHUP"); err != nil {
					log.Errorf("reload failed: %v", err)
				}
			case os.Interrupt, syscall.SIGTERM:
				log.Infof("received %s, shutting down", sig)
				cancel()
			}
		}
	}
}

// loadConfig tolerates a missing file at the default location by falling
// back to defaults.
func loadConfig(path string) (config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return config.Default()
	}
	return config.Load(path)
}

func openStore(cfg config.Config) (store.Store, error) {
	if cfg.DBPath == config.MemoryDB {
		return store.NewMemory(), nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return store.OpenSQLite(cfg.DBPath)
}

func watchConfig(log logger.Logger, watcher *fsnotify.Watcher, target string, reloadRequests chan<- string) {
	const debounceWindow = 250 * time.Millisecond
	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
				timerCh = timer.C
			} else {
				if !timer.Stop() {
					<-timerCh
				}
				timer.Reset(debounceWindow)
			}
		case <-timerCh:
			timer = nil
			timerCh = nil
			select {
			case reloadRequests <- "config file updated":
			default:
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Warnf("config watcher error: %v", err)
		}
	}
}

func exitErr(err error) {
	fmt.Fprintln(os.Stderr, "tabpal:", err)
	os.Exit(1)
}
