package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/crucible/pkg/broker"
	"github.com/cuemby/crucible/pkg/config"
	"github.com/cuemby/crucible/pkg/engine"
	"github.com/cuemby/crucible/pkg/ingress"
	"github.com/cuemby/crucible/pkg/log"
	"github.com/cuemby/crucible/pkg/metrics"
	"github.com/cuemby/crucible/pkg/portforward"
	"github.com/cuemby/crucible/pkg/preparer"
	"github.com/cuemby/crucible/pkg/proxy"
	"github.com/cuemby/crucible/pkg/runtime"
	"github.com/cuemby/crucible/pkg/storage"
	"github.com/cuemby/crucible/pkg/tasklog"
	"github.com/cuemby/crucible/pkg/types"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "crucible",
	Short:   "Crucible - on-demand package execution service",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("crucible version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(packageCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the execution API, proxy, and broker listener",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("listen-addr", "0.0.0.0:8080", "Execution API + proxy listen address")
	serveCmd.Flags().String("data-dir", "", "Override DATA_DIR (task store, logs, scratch, cache)")
	serveCmd.Flags().String("containerd-socket", "", "containerd socket path (auto-detected if empty)")
}

func runServe(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("listen-addr")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	containerdSocket, _ := cmd.Flags().GetString("containerd-socket")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}

	l := log.WithComponent("crucible")

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	taskLog, err := tasklog.NewStore()
	if err != nil {
		return fmt.Errorf("open task log store: %w", err)
	}

	rt, err := runtime.NewClient(containerdSocket, cfg.DataDir+"/logs")
	if err != nil {
		return fmt.Errorf("connect to containerd: %w", err)
	}
	defer rt.Close()

	fwd := portforward.NewRegistry()
	defer fwd.CloseAll()

	hostname, _ := os.Hostname()
	ipAddr := outboundIPAddress()

	eng := engine.New(engine.Options{
		Store:         store,
		Runtime:       rt,
		PortForwarder: fwd,
		PreparerFor: func(kind types.Runtime) engine.Preparer {
			return preparer.For(kind, preparer.Deps{
				Runtime:     rt,
				CacheRoot:   cfg.DataDir + "/cache",
				ScratchRoot: cfg.DataDir + "/scratch",
				VolumeRoot:  cfg.DataDir + "/volumes",
			})
		},
		Hostname:                    hostname,
		IPAddress:                   ipAddr,
		GlobalDefaultTimeoutSeconds: cfg.GlobalDefaultTimeoutSeconds,
		DeveloperMode:               cfg.DeveloperMode,
		ScratchRoot:                 cfg.DataDir + "/scratch",
		VolumeRoot:                  cfg.DataDir + "/volumes",
		TaskLog:                     engine.TaskLogStore{Store: taskLog},
		PeerCancel:                  peerCancel,
	})
	defer eng.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	l.Info().Msg("running startup reconciliation")
	if err := eng.Reconcile(ctx); err != nil {
		l.Warn().Err(err).Msg("reconciliation pass failed")
	}

	collector := metrics.NewCollector(store, []string{cfg.ClusterNamespace})
	collector.Start()
	defer collector.Stop()

	metrics.SetVersion(Version)
	metrics.RegisterComponent("store", true, "")
	metrics.RegisterComponent("runtime", true, "")

	ingressSrv := ingress.New(eng, store, taskLog)
	proxySrv := proxy.New(store)

	topMux := http.NewServeMux()
	topMux.Handle("/proxy/", proxySrv.Handler())
	topMux.Handle("/vscode/", proxySrv.Handler())
	topMux.Handle("/metrics", metrics.Handler())
	topMux.HandleFunc("/health", metrics.HealthHandler())
	topMux.HandleFunc("/ready", metrics.ReadyHandler())
	topMux.HandleFunc("/live", metrics.LivenessHandler())
	topMux.Handle("/", proxySrv.RepairRelative404(ingressSrv.Handler()))

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      topMux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		l.Info().Str("addr", addr).Msg("crucible listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	if cfg.BrokerHost != "" {
		listener := broker.NewChannelListener(64)
		go func() {
			if err := ingressSrv.ListenBroker(ctx, listener, cfg.BrokerQueue); err != nil && err != context.Canceled {
				l.Warn().Err(err).Msg("broker listener stopped")
			}
		}()
	}

	select {
	case <-ctx.Done():
		l.Info().Msg("shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// peerCancel issues the cross-replica cancel hop (spec.md §4.4.4): a
// plain HTTP POST to the owning replica's own execution API.
func peerCancel(ctx context.Context, ownerIP, taskID string) error {
	client := &http.Client{
		Timeout:   5 * time.Second,
		Transport: &http.Transport{Proxy: nil},
	}
	url := fmt.Sprintf("http://%s:8080/task/%s/cancel", ownerIP, taskID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("peer cancel returned status %d", resp.StatusCode)
	}
	return nil
}

func outboundIPAddress() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}
