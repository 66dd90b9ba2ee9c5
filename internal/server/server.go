package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/victornm/examroom/internal/api"
	"github.com/victornm/examroom/internal/auth"
	"github.com/victornm/examroom/internal/event"
	"github.com/victornm/examroom/internal/exam"
	"github.com/victornm/examroom/internal/examcode"
	"github.com/victornm/examroom/internal/notify"
	"github.com/victornm/examroom/internal/query"
	"github.com/victornm/examroom/internal/results"
	"github.com/victornm/examroom/internal/store"
	"github.com/victornm/examroom/internal/submission"
	"github.com/victornm/examroom/internal/telemetry"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type RedisConfig struct {
	Addrs  []string
	Pass   string
	Prefix string
}

type Config struct {
	HTTP struct {
		Port int32
	}

	GRPC struct {
		Port int32
	}

	Auth struct {
		Secret string
	}

	Store struct {
		Driver string
	}

	Postgres struct {
		Addr string
		User string
		Pass string
		Name string
	}

	Redis struct {
		Results RedisConfig
		Pubsub  RedisConfig
		Codes   RedisConfig
	}

	Events struct {
		Enabled bool
		Brokers []string
		Topic   string
	}
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis struct {
			results redis.UniversalClient
			pubsub  redis.UniversalClient
			codes   redis.UniversalClient
		}

		postgres  *pgxpool.Pool
		store     store.Store
		publisher message.Publisher
	}

	service struct {
		exam       *exam.Service
		submission *submission.Service
		query      *query.Service
		results    *results.Service
		notify     *notify.Forwarder
	}

	health *health.Server
	http   *http.Server
	grpc   *grpc.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initService()
	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initStore(); err != nil {
		return fmt.Errorf("store: %w", err)
	}

	if err := s.initPublisher(); err != nil {
		return fmt.Errorf("events: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	connect := func(name string, rc RedisConfig) (redis.UniversalClient, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    rc.Addrs,
			Password: rc.Pass,
		})

		if err := telemetry.MonitorRedis(r, name); err != nil {
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			return nil, err
		}

		return r, nil
	}

	var err error
	s.infra.redis.results, err = connect("results", s.c.Redis.Results)
	if err != nil {
		return fmt.Errorf("results: %w", err)
	}

	s.infra.redis.pubsub, err = connect("pubsub", s.c.Redis.Pubsub)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	s.infra.redis.codes, err = connect("codes", s.c.Redis.Codes)
	if err != nil {
		return fmt.Errorf("codes: %w", err)
	}

	return nil
}

func (s *Server) initStore() error {
	switch s.c.Store.Driver {
	case StoreDriverMemory:
		slog.Warn("server: using in-memory store, data is lost on restart")
		s.infra.store = store.NewMemory()
		return nil
	case StoreDriverPostgres, "":
	default:
		return fmt.Errorf("unknown driver %q", s.c.Store.Driver)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p := s.c.Postgres
	cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", p.User, p.Pass, p.Addr, p.Name))
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	pg := store.NewPostgres(db)
	if err := pg.Migrate(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	s.infra.postgres = db
	s.infra.store = pg
	return nil
}

func (s *Server) initPublisher() error {
	if !s.c.Events.Enabled {
		s.infra.publisher = notify.NewInMemoryPubSub(slog.Default())
		return nil
	}

	p, err := notify.NewKafkaPublisher(s.c.Events.Brokers, slog.Default())
	if err != nil {
		return err
	}

	s.infra.publisher = p
	return nil
}

func (s *Server) initService() {
	codes := examcode.NewGenerator(examcode.Config{
		Checker: s.infra.store,
		Redis:   s.infra.redis.codes,
		Prefix:  s.c.Redis.Codes.Prefix,
	})

	s.service.exam = exam.NewService(exam.Config{
		Store:    s.infra.store,
		Codes:    codes,
		EventBus: s.eb,
	})

	s.service.submission = submission.NewService(submission.Config{
		Store:    s.infra.store,
		EventBus: s.eb,
	})

	s.service.query = query.NewService(query.Config{
		Store: s.infra.store,
	})

	s.service.results = results.NewService(results.Config{
		EventBus: s.eb,
		Redis:    s.infra.redis.results,
		Prefix:   s.c.Redis.Results.Prefix,
	})

	s.service.notify = notify.NewForwarder(notify.Config{
		EventBus:  s.eb,
		Publisher: s.infra.publisher,
		Topic:     s.c.Events.Topic,
	})
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	e.GET("/healthz", s.healthz)
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery(), telemetry.GinLogger())

	api.New(api.Config{
		Router:       e,
		EventBus:     s.eb,
		Auth:         auth.New(auth.Config{Secret: s.c.Auth.Secret, Issuer: "examroom"}),
		Exams:        s.service.exam,
		Submissions:  s.service.submission,
		Query:        s.service.query,
		Results:      s.service.results,
		Redis:        s.infra.redis.pubsub,
		PubsubPrefix: s.c.Redis.Pubsub.Prefix,
	})

	s.grpc = grpc.NewServer(telemetry.GRPCServerInterceptor()...)
	s.health = health.NewServer()
	grpc_health_v1.RegisterHealthServer(s.grpc, s.health)

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.infra.postgres != nil {
		if err := s.infra.postgres.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) Start() {
	ctx := context.TODO()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		slog.ErrorContext(ctx, "grpc server: listen failed", "error", err)
		panic(err)
	}

	s.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: gRPC listening on port %d", s.c.GRPC.Port))
		return s.grpc.Serve(lis)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	err = eg.Wait()
	if err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.health.Shutdown()
	s.grpc.GracefulStop()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.eb.Stop()
	s.service.results.Close()
	s.eb.Stop()

	if err := s.infra.publisher.Close(); err != nil {
		slog.ErrorContext(ctx, "server: close event publisher failed", "error", err)
	}

	if s.infra.postgres != nil {
		s.infra.postgres.Close()
	}

	for _, r := range []redis.UniversalClient{s.infra.redis.results, s.infra.redis.pubsub, s.infra.redis.codes} {
		if err := r.Close(); err != nil {
			slog.ErrorContext(ctx, "server: close redis failed", "error", err)
		}
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}
