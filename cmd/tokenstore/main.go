package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/nrfcloud/token-store/pkg/config"
	"github.com/nrfcloud/token-store/pkg/cookie"
	"github.com/nrfcloud/token-store/pkg/kubernetes"
	"github.com/nrfcloud/token-store/pkg/refresh"
	"github.com/nrfcloud/token-store/pkg/storage"
	"github.com/nrfcloud/token-store/pkg/token"
)

var (
	scheme   = runtime.NewScheme()
	setupLog = ctrl.Log.WithName("setup")
)

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
}

func main() {
	var configPath string

	flag.StringVar(&configPath, "config", "/etc/config/config.yaml", "Path to the configuration file.")

	opts := zap.Options{
		Development: true,
	}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()

	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))

	// Load configuration
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		setupLog.Error(err, "unable to load configuration")
		os.Exit(1)
	}

	storeOpts := token.Options{
		Cookie:          cfg.Token.Cookie,
		LocalStorageKey: cfg.Token.LocalStorageKey,
		Persist:         cfg.Token.Persist,
		RefreshInterval: cfg.Token.RefreshInterval,
		Logger:          ctrl.Log.WithName("token-store"),
	}

	if cfg.Token.LocalStorageKey != "" {
		backend, err := newStorage(cfg.Storage)
		if err != nil {
			setupLog.Error(err, "unable to create storage backend", "backend", cfg.Storage.Backend)
			os.Exit(1)
		}
		storeOpts.Storage = backend
	} else {
		source, err := newCookieSource(cfg.Cookie)
		if err != nil {
			setupLog.Error(err, "unable to create cookie source")
			os.Exit(1)
		}
		storeOpts.Cookies = source
	}

	if cfg.Refresh.URL != "" {
		refresher, err := refresh.NewHTTPRefresher(cfg.Refresh.URL,
			refresh.WithMethod(cfg.Refresh.Method),
			refresh.WithTokenPath(cfg.Refresh.TokenPath),
			refresh.WithTimeout(cfg.Refresh.Timeout))
		if err != nil {
			setupLog.Error(err, "unable to create refresher")
			os.Exit(1)
		}
		storeOpts.Refresh = refresher.Refresh
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	storeOpts.Metrics = token.NewMetrics(registry)

	store := token.NewStore(storeOpts)
	store.Events.Subscribe(func(event token.TokenReceived) {
		id, _ := event.User.ID()
		setupLog.Info(token.EventTokenReceived, "userID", id, "decoded", event.User != nil)
	})

	ctx := ctrl.SetupSignalHandler()

	if cfg.Metrics.Address != "0" && cfg.Metrics.Address != "" {
		go serveMetrics(ctx, cfg.Metrics.Address, registry, store)
	}

	setupLog.Info("starting token store")
	if err := store.Init(ctx); err != nil {
		setupLog.Error(err, "problem starting token store")
		os.Exit(1)
	}

	<-ctx.Done()
	store.Terminate()
}

func newStorage(cfg config.StorageConfig) (storage.Storage, error) {
	switch cfg.Backend {
	case config.StorageFile:
		return storage.NewFileStorage(cfg.File.Path), nil
	case config.StorageRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return storage.NewRedisStorage(rdb, cfg.Redis.KeyPrefix, cfg.Redis.TTL), nil
	case config.StorageSecret:
		c, err := client.New(ctrl.GetConfigOrDie(), client.Options{Scheme: scheme})
		if err != nil {
			return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
		}
		return kubernetes.NewSecretStorage(c, cfg.Secret.Namespace, cfg.Secret.Name), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func newCookieSource(cfg config.CookieConfig) (*cookie.Source, error) {
	var jar http.CookieJar
	var err error
	if cfg.JarPath != "" {
		jar, err = cookie.LoadJar(cfg.JarPath)
	} else {
		jar, err = cookie.NewJar()
	}
	if err != nil {
		return nil, err
	}
	return cookie.NewSource(jar, cfg.URL)
}

// serveMetrics exposes the registry and health probes until ctx is done
func serveMetrics(ctx context.Context, addr string, registry *prometheus.Registry, store *token.Store) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", &healthz.Handler{Checks: map[string]healthz.Checker{
		"ping": healthz.Ping,
	}})
	mux.Handle("/readyz", &healthz.Handler{Checks: map[string]healthz.Checker{
		"token": func(_ *http.Request) error {
			if store.Token() == "" {
				return errors.New("no token held")
			}
			return nil
		},
	}})

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	setupLog.Info("serving metrics", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		setupLog.Error(err, "problem serving metrics")
	}
}
