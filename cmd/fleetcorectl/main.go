package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/cuemby/fleetcore/pkg/api"
	"github.com/cuemby/fleetcore/pkg/config"
	"github.com/cuemby/fleetcore/pkg/healer"
	"github.com/cuemby/fleetcore/pkg/health"
	"github.com/cuemby/fleetcore/pkg/log"
	"github.com/cuemby/fleetcore/pkg/metrics"
	"github.com/cuemby/fleetcore/pkg/provider"
	"github.com/cuemby/fleetcore/pkg/reconciler"
	"github.com/cuemby/fleetcore/pkg/rollout"
	"github.com/cuemby/fleetcore/pkg/runtime"
	"github.com/cuemby/fleetcore/pkg/scheduler"
	"github.com/cuemby/fleetcore/pkg/store"
	"github.com/cuemby/fleetcore/pkg/types"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "fleetcorectl",
	Short:   "fleetcore control plane: reconciler, supervisor, scheduler, and operator API",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("fleetcorectl version %s (%s)\n", Version, Commit))
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(ruleCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the fleetcore control plane",
	RunE:  runServe,
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogFormat == "json",
	})
	return cfg, nil
}

func buildProviders(ctx context.Context, cfg *config.Config) (map[types.Provider]provider.Provider, error) {
	providers := make(map[types.Provider]provider.Provider)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	providers[types.ProviderAWS] = provider.NewAWSAdapter(ec2.NewFromConfig(awsCfg))

	if cfg.VultrAPIKey != "" {
		providers[types.ProviderVultr] = provider.NewVultrAdapter(cfg.VultrAPIKey, http.DefaultClient)
	}
	if cfg.HetznerAPIKey != "" {
		providers[types.ProviderHetzner] = provider.NewHetznerAdapter(cfg.HetznerAPIKey, http.DefaultClient)
	}

	return providers, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := log.WithComponent("fleetcorectl")
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.SetVersion(Version)

	ruleStore, err := store.NewRuleStore(ctx, cfg.CockroachDBURL)
	if err != nil {
		return fmt.Errorf("connecting rule store: %w", err)
	}
	defer ruleStore.Close()
	metrics.RegisterComponent("rule_store", true, "connected")

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parsing redis url: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	livenessStore := store.NewLivenessStore(redisClient, cfg.ProjectID)
	metrics.RegisterComponent("liveness_store", true, "connected")

	rt, err := runtime.NewContainerdRuntime(cfg.ContainerdSocket)
	if err != nil {
		return fmt.Errorf("connecting to containerd: %w", err)
	}
	metrics.RegisterComponent("runtime", true, "connected")

	var notifier *healer.Notifier
	if cfg.SlackEnabled() {
		notifier = healer.NewNotifier(cfg.SlackBotToken, cfg.SlackAlertChannel)
	}

	cache, err := healer.NewCache(cfg.HealerCachePath)
	if err != nil {
		return fmt.Errorf("opening healer cache: %w", err)
	}
	defer cache.Close()

	supervisor := healer.NewSupervisor(
		rt,
		cfg.MaxHealAttempts,
		cfg.HealingRingLength,
		healer.WithRollingPause(time.Duration(cfg.RollingPauseMs)*time.Millisecond),
		healer.WithNotifier(notifier),
		healer.WithCache(cache),
	)
	if err := supervisor.LoadCache(); err != nil {
		return fmt.Errorf("loading healer cache: %w", err)
	}
	go supervisor.Poll(ctx)

	executor := rollout.NewExecutor(
		func(ctx context.Context, image, versionTag string) (types.ContainerRecord, error) {
			record := types.ContainerRecord{
				ID:         fmt.Sprintf("%s-%s", cfg.WorkerID, uuid.New().String()),
				Image:      image,
				VersionTag: versionTag,
				State:      types.ContainerStateRunning,
				Config:     types.ContainerConfig{CreateOptions: types.CreateOptions{Image: image}, VersionTag: versionTag},
			}
			if err := rt.CreateContainer(ctx, record.ID, record.Config.CreateOptions); err != nil {
				return types.ContainerRecord{}, err
			}
			if err := rt.StartContainer(ctx, record.ID); err != nil {
				return types.ContainerRecord{}, err
			}
			supervisor.RegisterContainer(record)
			return record, nil
		},
		func(ctx context.Context, id string) error {
			supervisor.Forget(id)
			return rt.DeleteContainer(ctx, id)
		},
		func(ctx context.Context, record types.ContainerRecord) (bool, error) {
			checker, err := health.NewChecker(cfg.ListenHost, types.HealthCheckConfig{
				Type:        types.HealthCheckTypeTCP,
				Port:        cfg.ListenPort,
				IntervalMs:  10_000,
				TimeoutMs:   2_000,
				MaxFailures: 0,
			})
			if err != nil {
				return false, err
			}
			return checker.Check(ctx).Healthy, nil
		},
	)

	probeScheduler := scheduler.NewScheduler(livenessStore)
	healthChecks, err := ruleStore.ListHealthChecks(ctx)
	if err != nil {
		return fmt.Errorf("loading health checks: %w", err)
	}
	for _, hc := range healthChecks {
		task := scheduler.Task{
			HealthCheckID: hc.Config.Path,
			WorkerID:      hc.WorkerID,
			Region:        hc.Region,
			Address:       hc.Address,
			Config:        hc.Config,
		}
		if err := probeScheduler.Start(ctx, task); err != nil {
			logger.Error().Err(err).Str("health_check_id", hc.Config.Path).Msg("failed to start health check")
		}
	}
	defer probeScheduler.StopAll()

	providers, err := buildProviders(ctx, cfg)
	if err != nil {
		return fmt.Errorf("building provider adapters: %w", err)
	}
	recon := reconciler.NewReconciler(providers)
	go recon.Manage(ctx, ruleStore.ListRules, time.Duration(cfg.ReconcileIntervalMs)*time.Millisecond)
	defer recon.Stop()
	metrics.RegisterComponent("reconciler", true, "running")

	server := api.NewServer(ruleStore, livenessStore, supervisor, executor)
	metrics.RegisterComponent("api", true, "running")

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(cfg.ListenAddr()); err != nil {
			errCh <- err
		}
	}()

	if roAddr, enabled := cfg.ReadOnlyListenAddr(); enabled {
		go func() {
			if err := server.StartReadOnly(roAddr); err != nil {
				errCh <- err
			}
		}()
	}

	logger.Info().Str("addr", cfg.ListenAddr()).Msg("fleetcore control plane started")

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("api server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	supervisor.Stop()
	_ = server.StopReadOnly(shutdownCtx)
	return server.Stop(shutdownCtx)
}
