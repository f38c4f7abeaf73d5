package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"github.com/schemaflow/schemaflow/src/configs"
	"github.com/schemaflow/schemaflow/src/consts"
	applog "github.com/schemaflow/schemaflow/src/log"
	"github.com/schemaflow/schemaflow/src/notify"
	"github.com/schemaflow/schemaflow/src/pkg/analytics"
	"github.com/schemaflow/schemaflow/src/pkg/backup"
	"github.com/schemaflow/schemaflow/src/pkg/orchestrator"
	"github.com/schemaflow/schemaflow/src/pkg/sentry"
	"github.com/schemaflow/schemaflow/src/pkg/store"
	"github.com/schemaflow/schemaflow/src/pkg/version"
	"github.com/schemaflow/schemaflow/src/servers"
)

var (
	confPath  string
	stepsPath string
	target    string
)

// stepSpec 步骤文件中的单个步骤
type stepSpec struct {
	Description   string              `yaml:"description"`
	TargetVersion string              `yaml:"target_version"`
	Up            []version.Operation `yaml:"up"`
	Down          []version.Operation `yaml:"down"`
}

// loadSteps 从 YAML 步骤文件构建注册表
func loadSteps(path string) (*version.Registry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("can`t open steps file: %s", path)
	}
	var specs []stepSpec
	if err := yaml.Unmarshal(b, &specs); err != nil {
		return nil, fmt.Errorf("invalid steps file: %w", err)
	}

	registry := version.NewRegistry()
	for i := range specs {
		v, err := version.Parse(specs[i].TargetVersion)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		if err := registry.Register(&version.Step{
			Description:   specs[i].Description,
			TargetVersion: v,
			Up:            specs[i].Up,
			Down:          specs[i].Down,
		}); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}
	return registry, nil
}

func getConfig() (*configs.Config, error) {
	config, err := configs.NewConfigWithFile(confPath)
	if err != nil {
		return nil, err
	}
	if err := config.Verify(); err != nil {
		return nil, err
	}
	return config, nil
}

// runtime 一次命令运行所需的全部组件
type runtime struct {
	config       *configs.Config
	orchestrator *orchestrator.Orchestrator
	recorder     *analytics.Recorder
	backups      *backup.Manager
	registry     prometheus.Gatherer
	close        func()
}

func setup() (*runtime, error) {
	config, err := getConfig()
	if err != nil {
		return nil, err
	}
	configs.SetCurrentConfig(config)
	applog.New()

	if config.Sentry.Enable {
		if err := sentry.Init(config.Sentry.DSN, consts.AppVersion, true); err != nil {
			applog.GetLogger().WithError(err).Warn("failed to initialize sentry")
		}
	}

	adapter, err := store.NewMemoryAdapter(config.Store.Location)
	if err != nil {
		return nil, err
	}
	registry, err := loadSteps(stepsPath)
	if err != nil {
		return nil, err
	}

	rt := &runtime{config: config, close: func() {}}

	// 历史随存储一起持久化，回滚命令在新进程里也能找到上一次迁移
	opts := []orchestrator.Option{
		orchestrator.WithHistoryFile(config.Store.Location + ".history.json"),
	}
	if config.Migration.EnableBackup {
		rt.backups, err = backup.NewManager(config.Backup.Dir, config.Backup.Retention, config.Backup.NameTemplate)
		if err != nil {
			return nil, err
		}
		opts = append(opts, orchestrator.WithBackupManager(rt.backups))
	}
	if config.Migration.EnableAnalytics {
		promRegistry := prometheus.NewRegistry()
		rt.registry = promRegistry
		recorderOpts := []analytics.Option{analytics.WithPrometheus(promRegistry)}
		if config.Analytics.DBPath != "" {
			analyticsStore, err := analytics.NewStore(config.Analytics.DBPath)
			if err != nil {
				return nil, err
			}
			recorderOpts = append(recorderOpts, analytics.WithStore(analyticsStore))
			rt.close = func() { analyticsStore.Close() }
		}
		rt.recorder, err = analytics.NewRecorder(recorderOpts...)
		if err != nil {
			return nil, err
		}
		opts = append(opts, orchestrator.WithRecorder(rt.recorder))
	}

	rt.orchestrator, err = orchestrator.New(&orchestrator.Config{
		CurrentVersion:  config.Migration.CurrentVersion,
		TargetVersion:   config.Migration.TargetVersion,
		EnableRollback:  config.Migration.EnableRollback,
		EnableBackup:    config.Migration.EnableBackup,
		EnableAnalytics: config.Migration.EnableAnalytics,
		BatchSize:       config.Migration.BatchSize,
	}, adapter, registry, opts...)
	if err != nil {
		return nil, err
	}
	return rt, nil
}

// saveCurrentVersion 把迁移后的版本写回配置文件
func saveCurrentVersion(rt *runtime) {
	rt.config.Migration.CurrentVersion = rt.orchestrator.CurrentVersion()
	if err := rt.config.Marshal(); err != nil {
		applog.GetLogger().WithError(err).Warn("failed to save current version to config file")
	}
}

func runMigrate(_ *kingpin.ParseContext) error {
	rt, err := setup()
	if err != nil {
		return err
	}
	defer rt.close()

	progress := func(percent int, stage orchestrator.State) {
		fmt.Printf("[%3d%%] %s\n", percent, stage)
	}

	from := rt.orchestrator.CurrentVersion()
	result, err := rt.orchestrator.Migrate(context.Background(), progress)
	if err != nil {
		status := notify.MigrationStatusFailed
		if rt.config.Migration.EnableRollback {
			status = notify.MigrationStatusRolledBack
		}
		_ = notify.SendMigrationNotification(context.Background(), rt.config.Store.Location,
			from, rt.config.Migration.TargetVersion, status, err.Error())
		return err
	}

	saveCurrentVersion(rt)
	_ = notify.SendMigrationNotification(context.Background(), rt.config.Store.Location,
		result.FromVersion, result.ToVersion, notify.MigrationStatusCompleted, "")
	fmt.Printf("migrated %s -> %s in %s (%d steps, %d records, %d conflicts resolved)\n",
		result.FromVersion, result.ToVersion, result.Duration,
		result.StepsApplied, result.RecordsAffected, result.ConflictsResolved)
	return nil
}

func runRollback(_ *kingpin.ParseContext) error {
	rt, err := setup()
	if err != nil {
		return err
	}
	defer rt.close()

	result, err := rt.orchestrator.Rollback(context.Background(), target)
	if err != nil {
		return err
	}
	saveCurrentVersion(rt)
	fmt.Printf("rolled back %s -> %s in %s (%d steps)\n",
		result.FromVersion, result.TargetVersion, result.Duration, result.StepsApplied)
	return nil
}

func runValidate(_ *kingpin.ParseContext) error {
	rt, err := setup()
	if err != nil {
		return err
	}
	defer rt.close()

	result, err := rt.orchestrator.ValidateSchema(context.Background())
	if err != nil {
		return err
	}
	if result.Valid {
		fmt.Println("schema is valid")
	} else {
		fmt.Printf("schema is invalid (%d errors)\n", len(result.Errors))
		for _, e := range result.Errors {
			fmt.Printf("  error: %s\n", e)
		}
	}
	for _, w := range result.Warnings {
		fmt.Printf("  warning: %s\n", w)
	}
	return nil
}

func runListBackups(_ *kingpin.ParseContext) error {
	rt, err := setup()
	if err != nil {
		return err
	}
	defer rt.close()

	if rt.backups == nil {
		return fmt.Errorf("backup is not enabled")
	}
	for _, meta := range rt.backups.ListBackups() {
		fmt.Printf("%s  v%s  %s  %d bytes\n",
			meta.ID, meta.SourceVersion, meta.CreatedAt.Format(time.RFC3339), meta.SizeBytes)
	}
	return nil
}

func runServe(_ *kingpin.ParseContext) error {
	rt, err := setup()
	if err != nil {
		return err
	}
	defer rt.close()

	if !rt.config.RPC.Enable {
		return fmt.Errorf("rpc is disabled in config")
	}

	server := servers.NewServer(rt.config.RPC.Bind, rt.orchestrator, rt.recorder, rt.backups, rt.registry)
	if err := server.Start(); err != nil {
		return err
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	<-c

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Close(ctx); err != nil {
		return err
	}
	sentry.Flush(2 * time.Second)
	return nil
}

func main() {
	_ = godotenv.Load()

	app := kingpin.New(consts.AppName, "schema migration orchestrator.")
	app.Flag("config", "Config file path.").Short('c').Default("config.yml").StringVar(&confPath)
	app.Flag("steps", "Migration steps file path.").Short('s').Default("steps.yml").StringVar(&stepsPath)

	app.Command("migrate", "Migrate the store to the configured target version.").Action(runMigrate)

	rollbackCmd := app.Command("rollback", "Roll back the most recent migration.").Action(runRollback)
	rollbackCmd.Flag("target", "Target version to roll back to.").StringVar(&target)

	app.Command("validate", "Validate the store schema without migrating.").Action(runValidate)
	app.Command("backups", "List existing backups.").Action(runListBackups)
	app.Command("serve", "Run the http management server.").Action(runServe)

	app.Version(consts.AppVersion)
	kingpin.MustParse(app.Parse(os.Args[1:]))
}
