package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"OpenIntent-Chain/internal/api"
	"OpenIntent-Chain/internal/auth"
	"OpenIntent-Chain/internal/chain"
	"OpenIntent-Chain/internal/chain/provider"
	"OpenIntent-Chain/internal/config"
	"OpenIntent-Chain/internal/intent/parser"
	"OpenIntent-Chain/internal/intent/parser/remote"
	"OpenIntent-Chain/internal/observability/alerting"
	"OpenIntent-Chain/internal/observability/metrics"
	"OpenIntent-Chain/internal/skill"
	"OpenIntent-Chain/internal/skill/builtin"
	"OpenIntent-Chain/internal/storage/mysql"
	"OpenIntent-Chain/internal/tokens"
	"OpenIntent-Chain/internal/workflow"
	"OpenIntent-Chain/pkg/logger"
	"OpenIntent-Chain/pkg/plugin"
)

// main 是 OpenIntent 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("openintentd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("OPENINTENT_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("config", "config.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	metrics.Init()

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	// 链与代币目录。
	chainDefs, err := chain.LoadDefinitions(cfg.Chains.File)
	if err != nil {
		return err
	}
	chainRegistry, err := provider.NewRegistry(chainDefs)
	if err != nil {
		return err
	}
	defer chainRegistry.Close()

	catalog, err := tokens.LoadCatalog(cfg.Tokens.File)
	if err != nil {
		return err
	}

	// 技能注册表：内置技能按 skills.yaml 装配。
	skillDefs, err := skill.LoadDefinitions(cfg.Skills.File)
	if err != nil {
		return err
	}
	resolved, err := skillDefs.ResolveAll()
	if err != nil {
		return err
	}
	skillRegistry := skill.NewRegistry()
	if err := builtin.Register(skillRegistry, resolved); err != nil {
		return err
	}

	store := workflow.NewMemoryStore()
	bus := workflow.NewBus()
	stats := workflow.NewStatsTracker()

	scheduler := workflow.NewScheduler(skillRegistry, store, bus, stats,
		workflow.SchedulerConfig{
			DefaultPolicy: workflow.StepPolicy{
				MaxRetries: cfg.Workflow.MaxRetries,
				Timeout:    cfg.Workflow.StepTimeout(),
			},
			Policy: policyResolver(resolved),
		},
		schedulerOptions(cfg)...,
	)

	// 执行分发队列。memory 驱动在进程内闭环，redis/rabbitmq 支持多实例消费。
	queue, err := buildQueue(cfg.Queue)
	if err != nil {
		return err
	}

	dispatcher := workflow.NewDispatcher(scheduler, queue,
		workflow.WithWorkerCount(cfg.Workflow.Workers),
		workflow.WithDispatcherLogger(logger.Named("dispatcher")),
	)
	go func() {
		if err := dispatcher.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("执行分发器退出", slog.Any("error", err))
		}
	}()

	// 终态执行归档。注册表仍是查询的事实来源，归档仅用于留痕。
	archive, err := buildArchive(ctx, cfg)
	if err != nil {
		return err
	}
	defer archive.Close()
	detach := workflow.AttachArchiver(bus, store, archive)
	defer detach()

	service := workflow.NewService(
		workflow.NewCompiler(chainRegistry, catalog),
		store, queue, bus, stats,
		workflow.WithAutoExecute(cfg.Workflow.AutoExecute),
		workflow.WithSimulation(cfg.Workflow.Simulation),
	)
	defer service.Close()

	// 插件：技能提供者与事件观察者。
	if cfg.Plugins.File != "" {
		managerCfg, err := plugin.LoadManagerConfig(cfg.Plugins.File)
		if err != nil {
			return err
		}
		manager, err := plugin.NewManager(managerCfg,
			plugin.WithResource(plugin.ResourceSkillRegistry, skillRegistry),
			plugin.WithResource(plugin.ResourceEventBus, bus),
			plugin.WithResource(plugin.ResourceChainRegistry, chainRegistry),
		)
		if err != nil {
			return err
		}
		if err := manager.StartAll(ctx); err != nil {
			return err
		}
		defer func() {
			if err := manager.StopAll(context.Background()); err != nil {
				logger.L().Error("停止插件失败", slog.Any("error", err))
			}
		}()
	}

	intentParser, err := buildParser(cfg.Parser)
	if err != nil {
		return err
	}

	serverOpts := []api.ServerOption{
		api.WithChainRegistry(chainRegistry),
		api.WithSkillRegistry(skillRegistry),
	}
	if intentParser != nil {
		serverOpts = append(serverOpts, api.WithParser(intentParser))
	}
	if cfg.Auth.Enabled {
		serverOpts = append(serverOpts, api.WithAuth(auth.NewService(auth.Config{
			Enabled: cfg.Auth.Enabled,
			Tokens:  cfg.Auth.Tokens,
		})))
	}

	server := api.NewServer(cfg.Server.Address, service, serverOpts...)
	logger.L().Info("openintentd 已启动",
		slog.String("address", cfg.Server.Address),
		slog.String("queue", cfg.Queue.Driver),
		slog.String("archive", cfg.Storage.ExecutionArchive.Driver),
		slog.Int("skills", len(skillRegistry.Names())),
	)
	return server.Start(ctx)
}

// policyResolver 把 skills.yaml 的逐技能重试与超时映射为调度策略。
func policyResolver(resolved []skill.Resolved) workflow.PolicyResolver {
	policies := make(map[string]workflow.StepPolicy, len(resolved))
	for _, def := range resolved {
		policies[def.Name] = workflow.StepPolicy{
			MaxRetries: def.MaxRetries,
			Timeout:    def.Timeout(),
		}
	}
	return func(skillName string) (workflow.StepPolicy, bool) {
		policy, ok := policies[skillName]
		return policy, ok
	}
}

func schedulerOptions(cfg *config.Config) []workflow.SchedulerOption {
	var opts []workflow.SchedulerOption
	if cfg.Workflow.Verbose {
		opts = append(opts, workflow.WithSchedulerLogger(logger.Named("scheduler")))
	}
	if cfg.Alerting.Enabled {
		notifiers := []alerting.Notifier{alerting.LogNotifier{}}
		for _, hook := range cfg.Alerting.Webhooks {
			notifiers = append(notifiers, alerting.NewWebhookNotifier(hook.Name, hook.URL))
		}
		opts = append(opts, workflow.WithAlertDispatcher(alerting.NewFanout(notifiers...)))
	}
	return opts
}

func buildQueue(cfg config.QueueConfig) (workflow.Queue, error) {
	switch cfg.Driver {
	case "", "memory":
		return workflow.NewMemoryQueue(cfg.Capacity), nil
	case "redis":
		return workflow.NewRedisQueue(workflow.RedisQueueConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Queue:     cfg.Redis.Queue,
			BlockWait: time.Duration(cfg.Redis.BlockWaitSeconds) * time.Second,
		})
	case "rabbitmq":
		return workflow.NewRabbitMQQueue(workflow.RabbitMQConfig{
			URL:        cfg.RabbitMQ.URL,
			Queue:      cfg.RabbitMQ.Queue,
			Prefetch:   cfg.RabbitMQ.Prefetch,
			Durable:    cfg.RabbitMQ.Durable,
			AutoDelete: cfg.RabbitMQ.AutoDelete,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Driver)
	}
}

func buildArchive(ctx context.Context, cfg *config.Config) (mysql.Repository, error) {
	archiveCfg := cfg.Storage.ExecutionArchive
	switch archiveCfg.Driver {
	case "", "memory":
		return mysql.NewFileArchive(cfg.Runtime.DataDir)
	case "mysql":
		return mysql.NewSQLArchive(ctx, mysql.Config{
			DSN:             archiveCfg.DSN,
			MaxOpenConns:    archiveCfg.MaxOpenConns,
			MaxIdleConns:    archiveCfg.MaxIdleConns,
			ConnMaxLifetime: time.Duration(archiveCfg.ConnMaxLifetimeSeconds) * time.Second,
			ConnMaxIdleTime: time.Duration(archiveCfg.ConnMaxIdleTimeSeconds) * time.Second,
		})
	default:
		return nil, mysql.ErrUnsupportedDriver
	}
}

func buildParser(cfg config.ParserConfig) (parser.Parser, error) {
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "http":
		apiKey := cfg.HTTP.APIKey
		if apiKey == "" && cfg.HTTP.APIKeyEnv != "" {
			apiKey = os.Getenv(cfg.HTTP.APIKeyEnv)
		}
		return remote.NewClient(remote.Config{
			BaseURL: cfg.HTTP.BaseURL,
			APIKey:  apiKey,
			Model:   cfg.HTTP.Model,
			Timeout: cfg.HTTP.Timeout(),
		})
	default:
		return nil, fmt.Errorf("未知的意图解析驱动: %s", cfg.Provider)
	}
}
