package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/asset-hub/asset-hub/internal/config"
	"github.com/asset-hub/asset-hub/internal/gateway"
	"github.com/asset-hub/asset-hub/internal/lifecycle"
	"github.com/asset-hub/asset-hub/internal/logging"
	"github.com/asset-hub/asset-hub/internal/server"
	"github.com/asset-hub/asset-hub/internal/server/routes"
	"github.com/asset-hub/asset-hub/internal/store"
	"github.com/asset-hub/asset-hub/internal/task"
	"github.com/asset-hub/asset-hub/internal/version"
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
		fields["store_version"] = cfg.Global.Version
		fields["manifest"] = len(cfg.Manifest)
		fields["cdn_hosts"] = len(cfg.Cache.CDNHosts)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	origin, err := url.Parse(cfg.Global.Origin)
	if err != nil {
		fmt.Fprintf(stdErr, "解析源站地址失败: %v\n", err)
		return 1
	}

	// 启动顺序遵循“配置 → 磁盘存储 → 生命周期 → 网关 → Fiber server”，
	// 保证所有请求共享统一的存储与后台任务实例。
	s, err := store.NewStore(cfg.Global.StoragePath)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存目录失败: %v\n", err)
		return 1
	}

	httpClient := server.NewUpstreamClient(cfg)
	client := gateway.NewClient(httpClient)
	runner := task.NewRunner(logger)

	manager, err := lifecycle.NewManager(lifecycle.Options{
		Store:       s,
		Fetcher:     client,
		Logger:      logger,
		Origin:      origin,
		Version:     cfg.Global.Version,
		Manifest:    cfg.Manifest,
		StoragePath: cfg.Global.StoragePath,
	})
	if err != nil {
		fmt.Fprintf(stdErr, "构建生命周期管理器失败: %v\n", err)
		return 1
	}
	if err := manager.Bootstrap(context.Background()); err != nil {
		fmt.Fprintf(stdErr, "生命周期启动失败: %v\n", err)
		return 1
	}

	handler, err := gateway.NewHandler(cfg, s, client, runner, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "构建网关失败: %v\n", err)
		return 1
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["store_version"] = cfg.Global.Version
	fields["listen_port"] = cfg.Global.ListenPort
	fields["origin"] = cfg.Global.Origin
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg, handler, manager, s, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("asset-hub", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 ASSET_HUB_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

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
	}, nil
}

func startHTTPServer(
	cfg *config.Config,
	handler server.GatewayHandler,
	manager *lifecycle.Manager,
	s store.Store,
	logger *logrus.Logger,
) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Gateway:    handler,
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	routes.RegisterControlRoutes(app, manager, logger)
	routes.RegisterStoreRoutes(app, s, cfg.Global.Version)

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
