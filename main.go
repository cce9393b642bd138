package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/ferreirogomes/artmarket/app"
	"github.com/ferreirogomes/artmarket/blockchain_listener"
	"github.com/ferreirogomes/artmarket/config"
	"github.com/ferreirogomes/artmarket/handlers"
	"github.com/ferreirogomes/artmarket/services"
	"github.com/ferreirogomes/artmarket/signer"
	"github.com/ferreirogomes/artmarket/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "caminho do arquivo de configuração")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Falha ao carregar a configuração: %v", err)
	}
	setupLogging(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("Servidor encerrado com erro: %+v", err)
	}
}

func setupLogging(cfg config.LoggingConfig) {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		log.Warnf("Nível de log %q inválido, usando info", cfg.Level)
		level = log.InfoLevel
	}
	log.SetLevel(level)
	if cfg.JSON {
		log.SetFormatter(&log.JSONFormatter{})
	}
}

func openStore(cfg config.StorageConfig) (storage.BlobStore, error) {
	switch cfg.Driver {
	case "memory":
		return storage.NewMemoryStore(), nil
	case "file":
		return storage.NewFileStore(cfg.Path)
	case "postgres":
		return storage.NewDB(cfg.DSN)
	}
	return nil, errors.Newf("driver de armazenamento desconhecido: %s", cfg.Driver)
}

func newBroadcaster(ctx context.Context, cfg config.SignerConfig) (signer.Broadcaster, error) {
	switch cfg.Mode {
	case "local":
		return signer.LocalBroadcaster{}, nil
	case "solana":
		return services.NewSolanaBroadcaster(cfg.RPCURL), nil
	case "evm":
		return services.NewEVMBroadcaster(ctx, cfg.RPCURL)
	}
	return nil, errors.Newf("modo de carteira desconhecido: %s", cfg.Mode)
}

func run(ctx context.Context, cfg config.Config) error {
	store, err := openStore(cfg.Storage)
	if err != nil {
		return errors.Wrap(err, "falha ao abrir o armazenamento")
	}
	broadcaster, err := newBroadcaster(ctx, cfg.Signer)
	if err != nil {
		store.Close()
		return errors.Wrap(err, "falha ao inicializar a rede")
	}
	bridge := signer.NewBridge(broadcaster, cfg.Signer.PollInterval)

	opts := app.Options{
		Store:             store,
		Signer:            bridge,
		Limiter:           services.NewIntentLimiter(cfg.Limits.IntentRPS, cfg.Limits.IntentBurst),
		SettlementTimeout: cfg.Signer.SettlementTimeout,
		Registerer:        prometheus.DefaultRegisterer,
	}
	if cfg.Content.Enabled() {
		opts.Content = services.NewPinataService(cfg.Content.PinataEndpoint, cfg.Content.PinataAPIKey, cfg.Content.PinataSecretKey)
	} else {
		log.Info("Pinata não configurado, imagens ficam inline")
	}
	rt := app.New(opts)
	if err := rt.Restore(ctx); err != nil {
		log.WithError(err).Warn("Estado anterior não pôde ser restaurado por completo")
	}

	listener := blockchain_listener.NewBlockchainListener(bridge, cfg.Signer.PollInterval, rt.Transactions)
	go listener.StartListening(ctx)
	log.Info("Listener da blockchain iniciado.")

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handlers.NewRouter(rt, bridge, prometheus.DefaultGatherer),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Infof("Servidor backend rodando em %s (carteira %s, armazenamento %s)", cfg.Server.Addr, cfg.Signer.Mode, cfg.Storage.Driver)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err = <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	case <-ctx.Done():
		log.Info("Encerrando o servidor")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		err = errors.CombineErrors(err, serr)
	}
	if cerr := rt.Close(shutdownCtx); cerr != nil {
		err = errors.CombineErrors(err, cerr)
	}
	return err
}
