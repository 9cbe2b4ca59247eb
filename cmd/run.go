package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"forkwatch/config"
	"forkwatch/db"
	"forkwatch/handlers"
	"forkwatch/logger"
	"forkwatch/models"
	"forkwatch/node"
	"forkwatch/poller"
	"forkwatch/repository"
	"forkwatch/routers"
	"forkwatch/tree"
)

func newRunCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Poll the configured nodes and serve the fork API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "config/config.yaml", "path of the YAML config file")
	return cmd
}

func openDB(path string) (*db.LevelDB, error) {
	if path == "" {
		logger.Logger.Warn("No leveldb path configured, headers are kept in memory only")
		return db.NewMemLevelDB()
	}
	return db.NewLevelDB(path)
}

func buildNodes(cfg *config.Config) ([]node.Node, func(), error) {
	var (
		nodes   []node.Node
		closers []func()
	)
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	for _, nc := range cfg.Nodes {
		info := models.NodeInfo{ID: nc.ID, Name: nc.Name, Description: nc.Description}
		pool := node.NewPool(cfg.RPCWorkers, cfg.RPCTimeout)

		var n node.Node
		switch nc.Implementation {
		case config.ImplBitcoinCore:
			core, err := node.NewBitcoinCore(info, nc.RPCHost, nc.RPCUser, nc.RPCPassword, nc.UseREST, pool)
			if err != nil {
				closeAll()
				return nil, nil, err
			}
			closers = append(closers, core.Close)
			n = core
		case config.ImplBtcd:
			b, err := node.NewBtcd(info, nc.RPCHost, nc.RPCUser, nc.RPCPassword, pool)
			if err != nil {
				closeAll()
				return nil, nil, err
			}
			closers = append(closers, b.Close)
			n = b
		}
		nodes = append(nodes, n)
		logger.Logger.Info("Configured node", zap.Stringer("node", info),
			zap.String("implementation", nc.Implementation),
			zap.String("address", n.ConnectionAddress()),
			zap.Bool("rest", n.UsesBulkTransport()))
	}
	return nodes, closeAll, nil
}

func run(cfg *config.Config) error {
	if err := logger.InitLogger(cfg.Log.AppLogFile, cfg.Log.Level); err != nil {
		return errors.Wrap(err, "initializing logger")
	}
	defer logger.Logger.Sync()

	logger.Logger.Info("Starting forkwatch...", zap.String("version", Version))

	ldb, err := openDB(cfg.LevelDB.Path)
	if err != nil {
		logger.Logger.Error("Failed to open leveldb", zap.Error(err))
		return err
	}
	defer ldb.Close()

	repo := repository.NewHeaderRepository(ldb)
	t := tree.New()
	if _, err := t.Load(repo); err != nil {
		return errors.Wrap(err, "loading stored headers")
	}
	if t.IsEmpty() {
		logger.Logger.Info("No stored headers, the first poll of each node starts near its fork roots")
	}

	nodes, closeNodes, err := buildNodes(cfg)
	if err != nil {
		return err
	}
	defer closeNodes()

	p := poller.New(t, repo, nodes, cfg.PollInterval, cfg.MinForkHeight)
	if err := p.RestoreTips(); err != nil {
		return err
	}
	p.RecordTreeMetrics()

	r := mux.NewRouter()
	routers.RegisterRoutes(r, handlers.NewHandler(t, p))
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Logger.Info("Server running on port", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return p.Run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Logger.Info("Shutdown signal received, exiting...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
