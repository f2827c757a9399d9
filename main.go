package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/clipcache/clipcache/internal/asset"
	"github.com/clipcache/clipcache/internal/cache"
	"github.com/clipcache/clipcache/internal/config"
	"github.com/clipcache/clipcache/internal/fetch"
	"github.com/clipcache/clipcache/internal/logging"
	"github.com/clipcache/clipcache/internal/preload"
	"github.com/clipcache/clipcache/internal/server"
	"github.com/clipcache/clipcache/internal/server/routes"
	"github.com/clipcache/clipcache/internal/source"
	"github.com/clipcache/clipcache/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
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
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["sources"] = len(cfg.Sources)
		fields["credentials"] = config.CredentialModes(cfg.Sources)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	registry, err := source.NewRegistry(cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "构建来源注册表失败: %v\n", err)
		return 1
	}

	// CLI 启动遵循“配置 → 来源注册表 → 磁盘缓存 → 预加载窗口 → Fiber server”顺序，
	// 保证所有请求共享统一的缓存与窗口实例，方便观察 cache/log 指标。
	httpClient := fetch.NewClient(cfg)
	retry := fetch.RetryPolicy{
		MaxRetries:     cfg.Global.MaxRetries,
		InitialBackoff: cfg.Global.InitialBackoff.DurationValue(),
	}
	fetcher := fetch.NewHTTPFetcher(httpClient, registry, retry, logger)

	store, err := cache.NewStore(cfg.Global.StoragePath, fetcher, cache.Options{
		MaxSizeBytes: cfg.Global.MaxCacheSize.Bytes(),
		CleanupRatio: cfg.Global.CleanupRatio,
		Logger:       logger,
	})
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存目录失败: %v\n", err)
		return 1
	}

	window, err := preload.NewWindow(preload.CachePreparer(store), logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化预加载窗口失败: %v\n", err)
		return 1
	}

	assetHandler := asset.NewHandler(store, registry, logger)

	fields := logging.BaseFields("startup", opts.configPath)
	fields["sources"] = len(cfg.Sources)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["max_cache_size"] = cfg.Global.MaxCacheSize.Bytes()
	fields["credentials"] = config.CredentialModes(cfg.Sources)
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg, assetHandler, store, window, registry, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("clipcache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 CLIPCACHE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("CLIPCACHE_CONFIG")
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
	}, nil
}

func startHTTPServer(cfg *config.Config, assets server.AssetHandler, store cache.Store, window *preload.Window, registry *source.Registry, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Assets:     assets,
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	routes.RegisterCacheRoutes(app, store, registry, logger)
	routes.RegisterWindowRoutes(app, window, registry, logger)

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
