package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stake-plus/govsync/src/api"
	"github.com/stake-plus/govsync/src/config"
	"github.com/stake-plus/govsync/src/logging"
)

var (
	configPath string
	forceFull  bool
	forceCuts  bool

	rootCmd = &cobra.Command{
		Use:           "govsync",
		Short:         "Cardano governance snapshot sync engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the latest snapshot and sync on a schedule",
		RunE:  runServe,
	}

	syncCmd = &cobra.Command{
		Use:   "sync",
		Short: "Run one sync through the promotion gate and exit",
		RunE:  runSyncOnce,
	}

	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "Write per-epoch cuts from the served snapshot",
		RunE:  runHistory,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (yaml, json or toml)")
	syncCmd.Flags().BoolVar(&forceFull, "full", false, "ignore the served snapshot and rebuild from scratch")
	historyCmd.Flags().BoolVar(&forceCuts, "force", false, "rewrite cuts that already exist")
	rootCmd.AddCommand(serveCmd, syncCmd, historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "govsync:", err)
		os.Exit(1)
	}
}

func setup() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	a, err := newApp(cfg, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		_ = logger.Sync()
		return nil, err
	}
	return a, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.logger.Sync()
	defer func() {
		if err := a.Close(); err != nil {
			a.logger.Warn("shutdown", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched, err := a.svc.Schedule(a.cfg.Sync.Schedule)
	if err != nil {
		return fmt.Errorf("sync schedule: %w", err)
	}
	if a.cfg.Sync.OnStart {
		go func() {
			if _, err := a.svc.RunSync(context.Background(), false); err != nil {
				a.logger.Warn("startup sync failed", zap.Error(err))
			}
		}()
	}

	router := api.New(api.Config{JWTSecret: a.cfg.API.JWTSecret, CORSOrigins: a.cfg.API.CORSOrigins}, a.svc, historyReader(a), runLister(a), a.logger)
	httpSrv := &http.Server{
		Addr:              a.cfg.API.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	a.logger.Info("govsync listening", zap.String("addr", a.cfg.API.Listen))

	select {
	case <-ctx.Done():
	case err = <-errCh:
		a.logger.Error("http server", zap.Error(err))
	}

	<-sched.Stop().Done()
	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutCtx)
	return err
}

// historyReader avoids handing the router a typed nil.
func historyReader(a *app) api.HistoryReader {
	if a.history == nil {
		return nil
	}
	return a.history
}

func runLister(a *app) api.RunLister {
	if a.recorder == nil {
		return nil
	}
	return a.recorder
}

func runSyncOnce(cmd *cobra.Command, _ []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.logger.Sync()
	defer a.Close()

	started, err := a.svc.RunSync(cmd.Context(), forceFull)
	if !started && err == nil {
		return errors.New("another sync holds the lock")
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(a.svc.Status())
	return err
}

func runHistory(cmd *cobra.Command, _ []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.logger.Sync()
	defer a.Close()

	if a.history == nil {
		return errors.New("history is disabled")
	}
	res, err := a.history.BuildAll(cmd.Context(), a.svc.Snapshot(), forceCuts)
	if err != nil {
		return err
	}
	fmt.Printf("written=%v kept=%d deleted=%v failed=%v\n", res.Written, res.Kept, res.Deleted, res.Failed)
	return nil
}
