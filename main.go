package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/asset-hub/internal/cache"
	"github.com/any-hub/asset-hub/internal/config"
	"github.com/any-hub/asset-hub/internal/logging"
	"github.com/any-hub/asset-hub/internal/manifest"
	"github.com/any-hub/asset-hub/internal/proxy"
	"github.com/any-hub/asset-hub/internal/server"
	"github.com/any-hub/asset-hub/internal/server/routes"
	"github.com/any-hub/asset-hub/internal/upstream"
	"github.com/any-hub/asset-hub/internal/version"
	"github.com/any-hub/asset-hub/internal/worker"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
	watch       bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, opts)
	stop()
	os.Exit(code)
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(ctx context.Context, opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global, cfg.App.Name)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	deployment, err := loadDeployment(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "加载资源清单失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["origin"] = cfg.App.NormalizedOrigin()
		fields["manifest_entries"] = deployment.Manifest.Len()
		fields["core_paths"] = len(deployment.Core)
		fields["deploy_version"] = deployment.Version
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动顺序：配置 → 缓存存储 → 源站客户端 → 注册首个 worker → Fiber server。
	storage, err := cache.Open(cfg.Global.StorageDriver, cfg.Global.StoragePath)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存存储失败: %v\n", err)
		return 1
	}
	defer storage.Close()

	fetcher, err := upstream.NewFetcher(upstream.NewClient(cfg), cfg.App.NormalizedOrigin())
	if err != nil {
		fmt.Fprintf(stdErr, "初始化源站客户端失败: %v\n", err)
		return 1
	}

	host := &workerHost{
		cfg:          cfg,
		storage:      storage,
		fetcher:      fetcher,
		logger:       logger,
		registration: worker.NewRegistration(logger),
	}
	// 首次安装失败不阻止启动：没有生效 worker 时请求全部透传，下次部署或重启时重试。
	_ = host.deploy(ctx, deployment)

	if opts.watch || cfg.App.Watch {
		if err := manifest.Watch(ctx, []string{cfg.App.Manifest, cfg.App.Core}, logger, host.reload); err != nil {
			fmt.Fprintf(stdErr, "监听资源清单失败: %v\n", err)
			return 1
		}
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["origin"] = cfg.App.NormalizedOrigin()
	fields["storage_driver"] = cfg.Global.StorageDriver
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	err = startHTTPServer(ctx, cfg, host.registration, proxy.NewHandler(host.registration, fetcher, logger), logger)
	host.registration.Wait()
	if err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// workerHost 负责把部署交给 Registration，清单变化时重复这一过程。
type workerHost struct {
	cfg          *config.Config
	storage      cache.Storage
	fetcher      *upstream.Fetcher
	logger       *logrus.Logger
	registration *worker.Registration
}

func (h *workerHost) deploy(ctx context.Context, deployment manifest.Deployment) error {
	w, err := worker.New(worker.Options{
		Deployment:  deployment,
		Origin:      h.cfg.App.NormalizedOrigin(),
		Storage:     h.storage,
		Fetcher:     h.fetcher,
		Logger:      h.logger,
		Concurrency: h.cfg.App.PrefetchConcurrency,
	})
	if err != nil {
		return err
	}
	if err := h.registration.Register(ctx, w); err != nil {
		h.logger.WithFields(logging.LifecycleFields("register", w.Version())).WithError(err).Error("register_failed")
		return err
	}
	h.logger.WithFields(logging.LifecycleFields("register", w.Version())).Info("worker_activated")
	return nil
}

// reload 由清单监听触发；解析失败只记录日志，当前 worker 继续服务。
func (h *workerHost) reload(ctx context.Context) {
	deployment, err := loadDeployment(ctx, h.cfg)
	if err != nil {
		h.logger.WithError(err).WithField("action", "reload").Warn("manifest_reload_failed")
		return
	}
	if active := h.registration.Active(); active != nil && active.Deployment().Manifest.Equal(deployment.Manifest) &&
		active.Version() == deployment.Version {
		h.logger.WithFields(logging.LifecycleFields("reload", deployment.Version)).Debug("manifest_unchanged")
		return
	}
	_ = h.deploy(ctx, deployment)
}

func loadDeployment(ctx context.Context, cfg *config.Config) (manifest.Deployment, error) {
	return manifest.Load(ctx, cfg.App.Manifest, manifest.Format(cfg.App.ManifestFormat), cfg.App.Core)
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("asset-hub", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
		watch      bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 ASSET_HUB_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置与资源清单后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")
	fs.BoolVar(&watch, "watch", false, "监听资源清单变化并自动部署新版本")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("ASSET_HUB_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
		watch:       watch,
	}, nil
}

func startHTTPServer(ctx context.Context, cfg *config.Config, registration *worker.Registration, proxyHandler server.ProxyHandler, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Proxy:      proxyHandler,
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	routes.RegisterControlRoutes(app, registration, logger)

	go func() {
		<-ctx.Done()
		logger.WithField("action", "shutdown").Info("Fiber 服务停止")
		_ = app.Shutdown()
	}()

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	if err := app.Listen(fmt.Sprintf(":%d", port)); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
