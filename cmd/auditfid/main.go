package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"AuditFi/internal/analysis"
	"AuditFi/internal/api"
	"AuditFi/internal/audit"
	"AuditFi/internal/chains"
	"AuditFi/internal/config"
	"AuditFi/internal/notify"
	"AuditFi/internal/observability/metrics"
	"AuditFi/internal/registry"
	"AuditFi/internal/routeguard"
	"AuditFi/internal/session"
	"AuditFi/internal/wallet"
	"AuditFi/internal/wallet/provider"
	"AuditFi/pkg/logger"
)

// main 是 AuditFi 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("auditfid 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(config.PathFromEnv())
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.Outputs,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer logger.Sync()
	lg := logger.Named("auditfid")

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	chainRegistry, err := loadChains(cfg.Wallet)
	if err != nil {
		return err
	}

	gateway, closeProvider, err := createGateway(ctx, cfg.Wallet, lg)
	if err != nil {
		return err
	}
	defer closeProvider()

	flag, err := createFlag(ctx, cfg.Session)
	if err != nil {
		return err
	}
	if closer, ok := flag.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	collector := metrics.NewCollector()
	publisher, closePublisher, err := createPublisher(cfg.Events, collector)
	if err != nil {
		return err
	}
	defer closePublisher()

	store, err := createAuditStore(ctx, cfg)
	if err != nil {
		return err
	}
	if closer, ok := store.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	var (
		analyzer  analysis.Provider
		generator analysis.Generator
	)
	if cfg.Analysis.APIKey != "" {
		client, err := analysis.NewClient(analysis.Config{
			APIKey:  cfg.Analysis.APIKey,
			BaseURL: cfg.Analysis.BaseURL,
			Model:   cfg.Analysis.Model,
			Timeout: cfg.Analysis.Timeout(),
		})
		if err != nil {
			return err
		}
		analyzer = client
		generator = client
	} else {
		lg.Warn("未配置分析服务 API Key，审计提交与代码生成将失败", "api_key_env", cfg.Analysis.APIKeyEnv)
	}

	opts := []api.Option{
		api.WithChains(chainRegistry),
		api.WithFlag(flag),
		api.WithGuard(routeguard.New(routeguard.Config{ConnectPath: cfg.Wallet.ConnectPath})),
		api.WithAuditService(audit.NewService(store, analyzer)),
		api.WithMetrics(collector),
		api.WithNavigationWait(cfg.Server.NavigationWait()),
		api.WithShutdownTimeout(cfg.Server.ShutdownTimeout()),
	}
	if generator != nil {
		opts = append(opts, api.WithGenerator(generator))
	}
	if cfg.Registry.RPCURL != "" && cfg.Registry.ContractAddress != "" {
		reader, err := registry.Dial(ctx, registry.Config{
			RPCURL:          cfg.Registry.RPCURL,
			ContractAddress: cfg.Registry.ContractAddress,
		})
		if err != nil {
			return err
		}
		defer reader.Close()
		opts = append(opts, api.WithRegistry(reader))
	} else {
		lg.Warn("未配置审计登记合约，/api/blockchain 不可用")
	}

	controller := wallet.New(gateway, chainRegistry,
		wallet.WithFlag(flag),
		wallet.WithPublisher(publisher),
		wallet.WithConnectPath(cfg.Wallet.ConnectPath),
	)
	if cfg.Registry.ContractAddress != "" {
		registrar, err := registry.NewRegistrar(controller, cfg.Registry.ContractAddress)
		if err != nil {
			return err
		}
		opts = append(opts, api.WithRegistrar(registrar, cfg.Registry.ReportBaseURL))
	}

	controllerCtx, controllerCancel := context.WithCancel(ctx)
	defer controllerCancel()
	go func() {
		if err := controller.Run(controllerCtx); err != nil && !errors.Is(err, context.Canceled) {
			lg.Error("钱包控制器异常退出", "error", err)
		}
	}()

	server := api.NewServer(cfg.Server.Address, controller, opts...)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func loadChains(cfg config.WalletConfig) (*chains.Registry, error) {
	if cfg.ChainsFile == "" {
		return chains.NewRegistry(cfg.DefaultChainID)
	}
	return chains.Load(cfg.ChainsFile, cfg.DefaultChainID)
}

// createGateway 在配置了钱包桥接地址时连接它；否则返回无提供者的网关。
func createGateway(ctx context.Context, cfg config.WalletConfig, lg *slog.Logger) (*provider.Gateway, func(), error) {
	if cfg.ProviderURL == "" {
		lg.Warn("未配置钱包提供者，守护进程将保持未连接状态")
		return provider.NewGateway(nil), func() {}, nil
	}
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	p, err := provider.DialRPC(dialCtx, provider.RPCConfig{
		URL:          cfg.ProviderURL,
		PollInterval: cfg.PollInterval(),
	})
	if err != nil {
		return nil, nil, err
	}
	return provider.NewGateway(p), p.Close, nil
}

func createFlag(ctx context.Context, cfg config.SessionConfig) (session.Flag, error) {
	switch cfg.Driver {
	case "", "memory":
		return session.NewMemoryFlag(session.TTL), nil
	case "redis":
		return session.NewRedisFlag(ctx, session.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Key:      cfg.Redis.Key,
			TTL:      session.TTL,
		})
	default:
		return nil, fmt.Errorf("未知的会话驱动: %s", cfg.Driver)
	}
}

// createPublisher 组合事件投递渠道；指标收集器总是参与计数。
func createPublisher(cfg config.EventsConfig, collector *metrics.Collector) (notify.Publisher, func(), error) {
	fanout := notify.Fanout{collector}
	closeFn := func() {}
	switch cfg.Driver {
	case "", "log":
		fanout = append(fanout, notify.NewLogPublisher(nil))
	case "rabbitmq":
		mq, err := notify.NewRabbitMQPublisher(notify.RabbitMQConfig{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			Durable:    cfg.RabbitMQ.Durable,
		})
		if err != nil {
			return nil, nil, err
		}
		fanout = append(fanout, notify.NewLogPublisher(nil), mq)
		closeFn = func() {
			if err := mq.Close(); err != nil {
				logger.L().Warn("关闭 RabbitMQ 失败", "error", err)
			}
		}
	case "none":
	default:
		return nil, nil, fmt.Errorf("未知的事件驱动: %s", cfg.Driver)
	}
	return fanout, closeFn, nil
}

func createAuditStore(ctx context.Context, cfg *config.Config) (audit.Store, error) {
	switch cfg.Storage.Driver {
	case "", "memory":
		return audit.NewMemoryStore(cfg.Runtime.DataDir)
	case "mysql":
		return audit.NewMySQLStore(ctx, audit.MySQLConfig{
			DSN:             cfg.Storage.DSN,
			MaxOpenConns:    cfg.Storage.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Storage.ConnMaxLifetimeSeconds) * time.Second,
			ConnMaxIdleTime: time.Duration(cfg.Storage.ConnMaxIdleTimeSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("未知的存储驱动: %s", cfg.Storage.Driver)
	}
}
