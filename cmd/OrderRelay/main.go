// Package main is the entry point of OrderRelay service.
// It initializes the Kratos application with the HTTP control surface and
// the polling session manager.
package main

import (
	"context"
	"flag"
	"os"

	"OrderRelay/internal/biz"
	"OrderRelay/internal/conf"
	zapLogger "OrderRelay/pkg/log"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	_ "go.uber.org/automaxprocs"
)

// go build -ldflags "-X main.Version=x.y.z"
var (
	// Name is the name of the compiled software.
	Name = "OrderRelay"
	// Version is the version of the compiled software.
	Version string
	// flagconf is the config flag.
	flagconf string
	// flagenv is the dotenv file loaded before configuration.
	flagenv string

	id, _ = os.Hostname()
)

func init() {
	flag.StringVar(&flagconf, "conf", "../../configs/config.yaml", "config path, eg: -conf config.yaml")
	flag.StringVar(&flagenv, "env", ".env", "dotenv file, ignored when missing")
}

func newApp(logger log.Logger, hs *http.Server, sessions *biz.SessionManager, housekeeping *cron.Cron) *kratos.App {
	return kratos.New(
		kratos.ID(id),
		kratos.Name(Name),
		kratos.Version(Version),
		kratos.Metadata(map[string]string{}),
		kratos.Logger(logger),
		kratos.Server(hs),
		kratos.AfterStart(func(context.Context) error {
			housekeeping.Start()
			return nil
		}),
		kratos.BeforeStop(func(ctx context.Context) error {
			<-housekeeping.Stop().Done()
			// 等待进行中的轮询周期完成
			return sessions.Shutdown(ctx)
		}),
	)
}

func main() {
	flag.Parse()

	if flagenv != "" {
		if err := godotenv.Load(flagenv); err != nil && !os.IsNotExist(err) {
			log.Fatalf("failed to load %s: %v", flagenv, err)
		}
	}

	// Load configuration using Viper with environment variable and CLI flag support
	bc, err := conf.NewBootstrap(flagconf)
	if err != nil {
		// Use fallback logger before Zap is initialized
		log.Fatalf("failed to load configuration: %v", err)
	}

	zapLog, err := zapLogger.NewZapLogger(bc.Log)
	if err != nil {
		log.Fatalf("failed to initialize zap logger: %v", err)
	}
	defer func() { _ = zapLog.Sync() }()

	logger := zapLogger.NewKratosAdapter(zapLog)
	logger = log.With(logger,
		"service.id", id,
		"service.name", Name,
		"service.version", Version,
	)

	zapLogger.NewLogHelper(logger).Startup("OrderRelay service starting",
		"log.level", bc.Log.Level,
		"log.format", bc.Log.Format,
		"http.addr", bc.Server.Http.Addr,
		"database.driver", bc.Data.Database.Driver,
		"database.source", zapLogger.SanitizeField("dsn", bc.Data.Database.Source),
		"polling.interval", bc.Polling.Interval.String(),
		"rate_limit.backend", bc.RateLimit.Backend,
	)

	app, cleanup, err := wireApp(bc, logger)
	if err != nil {
		panic(err)
	}
	defer cleanup()

	// start and wait for stop signal
	if err := app.Run(); err != nil {
		panic(err)
	}
}
