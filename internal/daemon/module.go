package daemon

import (
	"context"
	"net/http"
	"time"

	"github.com/nortia-app/chatsync"
	"github.com/nortia-app/chatsync/internal/archive"
	"github.com/nortia-app/chatsync/internal/bus"
	"github.com/nortia-app/chatsync/internal/chat"
	"github.com/nortia-app/chatsync/internal/config"
	"github.com/nortia-app/chatsync/internal/conn"
	"github.com/nortia-app/chatsync/internal/dispatch"
	"github.com/nortia-app/chatsync/internal/lock"
	"github.com/nortia-app/chatsync/internal/logging"
	"github.com/nortia-app/chatsync/internal/notify"
	"github.com/nortia-app/chatsync/internal/queue"
	"github.com/nortia-app/chatsync/internal/rest"
	"github.com/nortia-app/chatsync/internal/session"
	"github.com/nortia-app/chatsync/internal/status"
	"github.com/nortia-app/chatsync/internal/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile passed to the fx module.
type Params struct {
	Profile string
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideProfileConfig,
			provideBus,
			provideStateMachine,
			provideLock,
			provideArchive,
			provideStore,
			provideNotifyCenter,
			provideTokenSource,
			provideQueues,
			provideRestClient,
			provideManager,
			provideClient,
			providePresence,
			provideDispatcher,
			provideMirror,
			provideMetricsServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.Profile), p.Profile)
}

func provideProfileConfig(p Params) (*config.Profile, error) {
	return config.LoadProfile(session.ProfileConfigPath(p.Profile))
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(session.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideArchive(p Params, logger *zap.Logger) (*archive.DB, error) {
	path := session.ArchivePath(p.Profile)
	db, err := archive.Open(path)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("archive migrations applied", zap.Uint("version", result.Version))
	}
	// Search needs the fts5 extension (sqlite_fts5 build tag). Without it the
	// archive still mirrors and pages history.
	if err := db.EnsureSearch(); err != nil {
		logger.Warn("message search unavailable", zap.Error(err))
	}
	logger.Info("archive initialized", zap.String("path", path))
	return db, nil
}

func provideStore(b *bus.Bus, logger *zap.Logger) *store.Store {
	return store.New(b, logger)
}

func provideNotifyCenter(b *bus.Bus) *notify.Center {
	return notify.NewCenter(b)
}

func provideTokenSource(p Params) (session.TokenSource, error) {
	return session.NewFileTokenSource(session.TokenPath(p.Profile))
}

func provideQueues(cfg *config.Profile, logger *zap.Logger) *queue.Set {
	return queue.NewSet(cfg.QueueCapacity, logger)
}

func provideRestClient(cfg *config.Profile, tokens session.TokenSource, logger *zap.Logger) *rest.Client {
	return rest.New(cfg.RestURL, tokens, cfg.Retry, logger)
}

func provideManager(cfg *config.Profile, tokens session.TokenSource, machine *status.Machine,
	queues *queue.Set, center *notify.Center, b *bus.Bus, logger *zap.Logger) *conn.Manager {
	return conn.NewManager(conn.Options{
		URL:        cfg.SocketURL,
		Tokens:     tokens,
		Machine:    machine,
		Queues:     queues,
		Notify:     center,
		Bus:        b,
		Logger:     logger,
		AckTimeout: cfg.Timing.AckTimeout(),
	})
}

func provideClient(cfg *config.Profile, st *store.Store, manager *conn.Manager,
	rc *rest.Client, logger *zap.Logger) *chatsync.Client {
	return chatsync.NewClient(chatsync.Options{
		Store:    st,
		Emitter:  manager,
		History:  rc,
		SelfID:   cfg.UserID,
		PageSize: cfg.PageSize,
		Debounce: cfg.Timing.Debounce(),
		Logger:   logger,
	})
}

func providePresence() *Presence {
	return NewPresence()
}

func provideDispatcher(cfg *config.Profile, b *bus.Bus, st *store.Store, rc *rest.Client,
	presence *Presence, client *chatsync.Client, center *notify.Center, logger *zap.Logger) *dispatch.Dispatcher {
	return dispatch.New(dispatch.Options{
		Bus:      b,
		Store:    st,
		Fetcher:  rc,
		Presence: presence,
		Reads:    client,
		Notify:   center,
		SelfID:   cfg.UserID,
		Stagger:  cfg.Timing.Stagger(),
		Logger:   logger,
	})
}

func provideMirror(db *archive.DB, b *bus.Bus, logger *zap.Logger) *archive.Mirror {
	return archive.NewMirror(db, b, logger)
}

func provideMetricsServer(cfg *config.Profile) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
}

func registerLifecycle(lc fx.Lifecycle, cfg *config.Profile, db *archive.DB, st *store.Store,
	mirror *archive.Mirror, dispatcher *dispatch.Dispatcher, manager *conn.Manager,
	client *chatsync.Client, rc *rest.Client, metricsSrv *http.Server, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			mirror.Start()
			dispatcher.Start()

			warmStart(db, st, cfg.PageSize, logger)

			go func() {
				if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("metrics server error", zap.Error(err))
				}
			}()

			go refreshFromServer(rc, st, cfg.PageSize, logger)
			go func() {
				if err := manager.Connect(context.Background()); err != nil {
					logger.Warn("initial connect failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			manager.Disconnect()
			client.Close()
			dispatcher.Stop()
			mirror.Stop()
			_ = metricsSrv.Shutdown(ctx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing archive", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

// warmStart seeds the in-memory store from the archive so the UI has
// conversations before the first server round trip completes.
func warmStart(db *archive.DB, st *store.Store, pageSize int, logger *zap.Logger) {
	chats, err := db.RecentChats(pageSize)
	if err != nil {
		logger.Warn("warm start failed", zap.Error(err))
		return
	}
	for _, c := range chats {
		msgs, err := db.RecentMessages(c.ID.Server, pageSize)
		if err != nil {
			logger.Warn("warm start messages failed",
				zap.String("chat", c.ID.Server), zap.Error(err))
			continue
		}
		c.Messages = msgs
		st.UpsertChat(c)
	}
	logger.Info("warm start complete", zap.Int("chats", len(chats)))
}

// refreshFromServer replaces the warm-started view with the authoritative
// chat list, hydrated with the latest page of messages per chat in one
// batched call.
func refreshFromServer(rc *rest.Client, st *store.Store, pageSize int, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	chats, err := rc.Chats(ctx)
	if err != nil {
		logger.Warn("chat list refresh failed", zap.Error(err))
		return
	}

	ids := make([]string, 0, pageSize)
	for _, c := range chats {
		if c.ID.Server == "" || len(ids) >= pageSize {
			continue
		}
		ids = append(ids, c.ID.Server)
	}
	var messages map[string][]*chat.Message
	if len(ids) > 0 {
		messages, err = rc.MessagesForChats(ctx, ids)
		if err != nil {
			logger.Warn("message hydration failed", zap.Error(err))
		}
	}

	for _, c := range chats {
		c.Messages = messages[c.ID.Server]
		st.UpsertChat(c)
	}
	logger.Info("chat list refreshed", zap.Int("chats", len(chats)))
}
