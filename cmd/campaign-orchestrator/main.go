// Campaign orchestrator server: compiles and drives declarative campaigns,
// dispatches steps over a message broker, and streams lifecycle events to
// HTTP subscribers.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/codeready-toolchain/campaign-orchestrator/pkg/broker"
	"github.com/codeready-toolchain/campaign-orchestrator/pkg/broker/amqpbroker"
	"github.com/codeready-toolchain/campaign-orchestrator/pkg/broker/mqttbroker"
	"github.com/codeready-toolchain/campaign-orchestrator/pkg/config"
	"github.com/codeready-toolchain/campaign-orchestrator/pkg/database"
	"github.com/codeready-toolchain/campaign-orchestrator/pkg/fanout"
	"github.com/codeready-toolchain/campaign-orchestrator/pkg/orchestrator"
	"github.com/codeready-toolchain/campaign-orchestrator/pkg/reducer"
	"github.com/codeready-toolchain/campaign-orchestrator/pkg/store"
	"github.com/codeready-toolchain/campaign-orchestrator/pkg/store/memstore"
	"github.com/codeready-toolchain/campaign-orchestrator/pkg/store/mongostore"
	"github.com/codeready-toolchain/campaign-orchestrator/pkg/store/pgstore"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configPath := flag.String("config", getEnv("CONFIG_PATH", "./config.yaml"), "Path to the YAML configuration file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file loaded", "error", err)
	}

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "path", *configPath, "error", err)
		os.Exit(1)
	}

	s, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		slog.Error("failed to open store backend", "backend", cfg.Store.Backend, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	f := fanoutFromConfig(cfg.Fanout)
	r := reducer.New(s)

	pub, sub, closeBroker, err := openBroker(cfg.Broker)
	if err != nil {
		slog.Error("failed to open broker backend", "backend", cfg.Broker.Backend, "error", err)
		os.Exit(1)
	}
	defer closeBroker()

	o := orchestrator.New(s, r, pub, f)

	go func() {
		if err := sub.Subscribe(ctx, o); err != nil {
			slog.Error("broker subscribe loop exited", "error", err)
		}
	}()

	router := newRouter(o, f, cfg.API)
	slog.Info("campaign orchestrator listening", "addr", cfg.API.ListenAddr)
	if err := router.Run(cfg.API.ListenAddr); err != nil {
		slog.Error("http server exited", "error", err)
		os.Exit(1)
	}
}

func fanoutFromConfig(cfg config.FanoutConfig) *fanout.Fanout {
	if cfg.QueueDepth > 0 {
		return fanout.NewWithCapacity(cfg.QueueDepth)
	}
	return fanout.New()
}

// openStore constructs the configured store.Store backend and returns a
// cleanup func that releases whatever connection it opened.
func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, func(), error) {
	switch cfg.Backend {
	case "memory":
		return memstore.New(), func() {}, nil

	case "postgres":
		db, err := database.NewDB(ctx, database.Config{
			Host:            cfg.Postgres.Host,
			Port:            cfg.Postgres.Port,
			User:            cfg.Postgres.User,
			Password:        cfg.Postgres.Password,
			Database:        cfg.Postgres.Database,
			SSLMode:         cfg.Postgres.SSLMode,
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Postgres.ConnMaxIdleTime,
		})
		if err != nil {
			return nil, nil, err
		}
		return pgstore.New(db), func() { _ = db.Close() }, nil

	case "mongo":
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
		if err != nil {
			return nil, nil, err
		}
		s, err := mongostore.New(ctx, client.Database(cfg.Mongo.Database))
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(disconnectCtx)
		}, nil

	default:
		return nil, nil, config.NewValidationError("store.backend", config.ErrUnknownBackend)
	}
}

// openBroker constructs the configured broker.Publisher/Subscriber pair
// and returns a cleanup func that closes the underlying connection.
func openBroker(cfg config.BrokerConfig) (broker.Publisher, broker.Subscriber, func(), error) {
	switch cfg.Backend {
	case "amqp":
		b, err := amqpbroker.Dial(amqpbroker.Config{
			URL:         cfg.AMQP.URL,
			Exchange:    cfg.AMQP.Exchange,
			Queue:       cfg.AMQP.Queue,
			BindingKey:  cfg.AMQP.BindingKey,
			ConsumerTag: cfg.AMQP.ConsumerTag,
			Durable:     cfg.AMQP.Durable,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		return b, b, func() { _ = b.Close() }, nil

	case "mqtt":
		b, err := mqttbroker.Connect(mqttbroker.Config{
			BrokerURL:      cfg.MQTT.BrokerURL,
			ClientID:       cfg.MQTT.ClientID,
			Username:       cfg.MQTT.Username,
			Password:       cfg.MQTT.Password,
			SubscribeTopic: cfg.MQTT.SubscribeTopic,
			QOS:            cfg.MQTT.QOS,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		return b, b, func() { _ = b.Close() }, nil

	default:
		return nil, nil, nil, config.NewValidationError("broker.backend", config.ErrUnknownBackend)
	}
}

// newRouter wires the HTTP surface: submit, cancel, and an SSE lifecycle
// event stream, all behind a pre-shared-key check.
func newRouter(o *orchestrator.Orchestrator, f *fanout.Fanout, cfg config.APIConfig) *gin.Engine {
	gin.SetMode(getEnv("GIN_MODE", gin.ReleaseMode))
	router := gin.Default()

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "healthy"})
	})

	authorized := router.Group("/", preSharedKeyAuth(cfg.PreSharedKey))
	authorized.POST("/campaigns", submitCampaignHandler(o))
	authorized.POST("/campaigns/:id/cancel", cancelCampaignHandler(o))
	authorized.GET("/events", subscribeEventsHandler(f))

	return router
}

func preSharedKeyAuth(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("X-API-Key") != key {
			c.AbortWithStatusJSON(401, gin.H{"error": "invalid or missing X-API-Key"})
			return
		}
		c.Next()
	}
}
