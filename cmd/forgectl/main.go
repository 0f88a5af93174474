package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/manifold-inc/manifold-sdk/lib/eflag"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mlforge/internal/client"
	"mlforge/internal/deploy"
	"mlforge/internal/history"
	"mlforge/internal/jobs"
	"mlforge/internal/platform"
	"mlforge/internal/shared"
	"mlforge/internal/storage"
)

func main() {
	// Flags / ENV Variables
	platformURL := flag.String("platform-url", "", "ML platform base URL")
	platformAPIKey := flag.String("platform-api-key", "", "ML platform API key")
	action := flag.String("action", "", "One of: train, deploy, invoke")
	specPath := flag.String("spec", "", "Path to the JSON spec for the action")
	pollInterval := flag.Duration("poll-interval", shared.DefaultPollInterval, "Training job poll interval")

	historyDSN := flag.String("history-dsn", "", "MySQL DSN for invocation history (optional)")
	redisAddr := flag.String("redis-addr", "", "Redis host:port for endpoint cache (optional)")

	storageEndpoint := flag.String("storage-endpoint", "", "Object storage endpoint (optional)")
	storageAccessKey := flag.String("storage-access-key", "", "Object storage access key")
	storageSecretKey := flag.String("storage-secret-key", "", "Object storage secret key")
	storageSecure := flag.Bool("storage-secure", true, "Use TLS for object storage")

	metricsAddr := flag.String("metrics-addr", "", "Expose /ping and /metrics on this address (optional)")
	metricsAPIKey := flag.String("metrics-api-key", "", "Metrics api key")
	debug := flag.Bool("debug", false, "Debug enabled")

	err := eflag.SetFlagsFromEnvironment()
	if err != nil {
		panic(err)
	}
	flag.Parse()

	var logger *zap.Logger
	if !*debug {
		logger, err = zap.NewProduction()
		if err != nil {
			panic("Failed init logger")
		}
	}
	if *debug {
		logger, err = zap.NewDevelopment()
		if err != nil {
			panic("Failed init logger")
		}
	}
	log := logger.Sugar()

	api, err := platform.New(*platformURL, *platformAPIKey, log)
	if err != nil {
		log.Fatalw("Failed to create platform client", "error", err)
	}

	deps := client.Deps{
		Invoker:         api,
		JobControl:      api,
		EndpointControl: api,
		Log:             log,
	}

	// The migrate tooling reads MYSQL_DSN; accept it here too when the flag
	// is not set.
	dsn := *historyDSN
	if dsn == "" {
		dsn = shared.GetEnv("MYSQL_DSN", "")
	}

	var historyDB *sql.DB
	var redisClient *redis.Client
	if dsn != "" || *redisAddr != "" {
		if dsn != "" {
			historyDB, err = sql.Open("mysql", dsn)
			if err != nil {
				log.Fatalw("Failed initializing history db", "error", err)
			}
			if err := historyDB.Ping(); err != nil {
				log.Fatalw("Failed ping to history db", "error", err)
			}
		}
		if *redisAddr != "" {
			redisClient = redis.NewClient(&redis.Options{Addr: *redisAddr})
			if err := redisClient.Ping(context.Background()).Err(); err != nil {
				log.Fatalw("Failed ping to redis", "error", err)
			}
		}
		deps.Recorder = history.NewRecorder(historyDB, redisClient, log)
	}
	defer func() {
		if redisClient != nil {
			_ = redisClient.Close()
		}
		if historyDB != nil {
			_ = historyDB.Close()
		}
	}()

	if *storageEndpoint != "" {
		accessKey := *storageAccessKey
		if accessKey == "" {
			accessKey, err = shared.SafeEnv("MINIO_ACCESS_KEY")
			if err != nil {
				log.Fatalw("Object storage credentials missing", "error", err)
			}
		}
		secretKey := *storageSecretKey
		if secretKey == "" {
			secretKey, err = shared.SafeEnv("MINIO_SECRET_KEY")
			if err != nil {
				log.Fatalw("Object storage credentials missing", "error", err)
			}
		}
		store, err := storage.NewMinioStore(*storageEndpoint, accessKey, secretKey, *storageSecure)
		if err != nil {
			log.Fatalw("Failed to create object storage client", "error", err)
		}
		deps.Store = store
	}

	forge, err := client.New(deps)
	if err != nil {
		log.Fatalw("Failed to create client", "error", err)
	}
	defer forge.Shutdown()

	if *metricsAddr != "" {
		e := echo.New()
		e.HideBanner = true
		e.GET("/ping", func(c echo.Context) error {
			return c.String(200, "")
		})
		e.GET("/metrics", echo.WrapHandler(promhttp.Handler()), func(next echo.HandlerFunc) echo.HandlerFunc {
			return func(c echo.Context) error {
				if *metricsAPIKey != "" && c.Request().Header.Get("Authorization") != "Bearer "+*metricsAPIKey {
					return c.String(401, "Unauthorized API key")
				}
				return next(c)
			}
		})
		go func() {
			if err := e.Start(*metricsAddr); err != nil && err != http.ErrServerClosed {
				log.Errorw("Metrics server stopped", "error", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), shared.DefaultShutdownTimeout)
			defer cancel()
			if err := e.Shutdown(ctx); err != nil {
				log.Warnw("Metrics server shutdown", "error", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, forge, log, *action, *specPath, *pollInterval); err != nil {
		log.Fatalw("Action failed", "action", *action, "error", err)
	}
}

func run(ctx context.Context, forge *client.Client, log *zap.SugaredLogger, action, specPath string, pollInterval time.Duration) error {
	if action == "" {
		return fmt.Errorf("an -action is required (train, deploy, invoke)")
	}
	spec, err := os.ReadFile(specPath)
	if err != nil {
		return fmt.Errorf("failed to read spec %s: %w", specPath, err)
	}

	switch action {
	case "train":
		var ts jobs.TrainingSpec
		if err := json.Unmarshal(spec, &ts); err != nil {
			return fmt.Errorf("failed to parse training spec: %w", err)
		}
		jobID, err := forge.TrainAndWait(ctx, &ts, pollInterval)
		if err != nil {
			return err
		}
		log.Infow("Training completed", "job_id", jobID)
		fmt.Println(jobID)
		return nil

	case "deploy":
		var in struct {
			Model  deploy.ModelSpec      `json:"model"`
			Limits deploy.ResourceLimits `json:"limits"`
		}
		if err := json.Unmarshal(spec, &in); err != nil {
			return fmt.Errorf("failed to parse deploy spec: %w", err)
		}
		res, err := forge.Deploy(ctx, &in.Model, &in.Limits)
		if err != nil {
			return err
		}
		log.Infow("Deploy finished",
			"endpoint", res.EndpointName,
			"model", res.ModelName,
			"status", string(res.Status))
		fmt.Printf("%s %s\n", res.EndpointName, res.Status)
		return nil

	case "invoke":
		var in struct {
			Endpoint string          `json:"endpoint"`
			Payload  json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal(spec, &in); err != nil {
			return fmt.Errorf("failed to parse invoke spec: %w", err)
		}
		resp, err := forge.Invoke(ctx, in.Endpoint, []byte(in.Payload), nil)
		if err != nil {
			return err
		}
		log.Infow("Invocation succeeded",
			"endpoint", in.Endpoint,
			"attempts", resp.Attempts,
			"latency_ms", resp.Latency.Milliseconds())
		fmt.Println(string(resp.Raw))
		return nil

	default:
		return fmt.Errorf("unknown action %q", action)
	}
}
