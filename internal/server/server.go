package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/victornm/quizroom/internal/api"
	"github.com/victornm/quizroom/internal/event"
	"github.com/victornm/quizroom/internal/gateway"
	"github.com/victornm/quizroom/internal/leaderboard"
	"github.com/victornm/quizroom/internal/lobby"
	"github.com/victornm/quizroom/internal/question"
	"github.com/victornm/quizroom/internal/registry"
	"github.com/victornm/quizroom/internal/session"
	"github.com/victornm/quizroom/internal/telemetry"
	"github.com/victornm/quizroom/internal/token"
)

const (
	SourceStatic   = "static"
	SourceFile     = "file"
	SourcePostgres = "postgres"
)

type Config struct {
	HTTP struct {
		Port   int32
		WSPath string
	}

	GRPC struct {
		Port int32
	}

	Log struct {
		Level  string
		Format string
	}

	Quiz struct {
		Capacity         int
		QuestionDuration time.Duration
		SendTimeout      time.Duration
		QuizID           string
		Secret           string
		// Source is one of static, file or postgres.
		Source string
		File   string
	}

	Gateway struct {
		ReadLimit  int64
		RateLimit  float64
		RateBurst  int
		SendBuffer int
	}

	Redis struct {
		Leaderboard struct {
			Addrs  []string
			Pass   string
			Prefix string
			TTL    time.Duration
		}

		Pubsub struct {
			Addrs  []string
			Pass   string
			Prefix string
		}
	}

	Postgres struct {
		Questions struct {
			DSN      string
			MaxConns int32
			Migrate  bool
		}
	}
}

// DefaultConfig runs a single process with the built-in quiz and without
// Redis or Postgres.
func DefaultConfig() Config {
	var c Config
	c.HTTP.Port = 8080
	c.HTTP.WSPath = "/ws/"
	c.GRPC.Port = 9090
	c.Log.Level = "info"
	c.Log.Format = "text"
	c.Quiz.Capacity = 5
	c.Quiz.QuestionDuration = 15 * time.Second
	c.Quiz.SendTimeout = 2 * time.Second
	c.Quiz.QuizID = question.DefaultQuizID
	c.Quiz.Source = SourceStatic
	c.Gateway.ReadLimit = 4 << 10
	c.Gateway.RateLimit = 10
	c.Gateway.RateBurst = 20
	c.Gateway.SendBuffer = 256
	c.Redis.Leaderboard.Prefix = "quizroom"
	c.Redis.Leaderboard.TTL = time.Hour
	c.Redis.Pubsub.Prefix = "quizroom"
	c.Postgres.Questions.MaxConns = 4
	c.Postgres.Questions.Migrate = true
	return c
}

func (c Config) Validate() error {
	switch {
	case c.HTTP.Port <= 0:
		return fmt.Errorf("http port must be positive: %d", c.HTTP.Port)
	case c.GRPC.Port <= 0:
		return fmt.Errorf("grpc port must be positive: %d", c.GRPC.Port)
	case c.HTTP.WSPath == "" || c.HTTP.WSPath[0] != '/':
		return fmt.Errorf("websocket path must start with /: %q", c.HTTP.WSPath)
	case c.Quiz.Capacity < 1:
		return fmt.Errorf("quiz capacity must be at least 1: %d", c.Quiz.Capacity)
	case c.Quiz.QuestionDuration <= 0:
		return fmt.Errorf("question duration must be positive: %s", c.Quiz.QuestionDuration)
	}

	switch c.Quiz.Source {
	case SourceStatic:
	case SourceFile:
		if c.Quiz.File == "" {
			return errors.New("quiz file is required for the file source")
		}
	case SourcePostgres:
		if c.Postgres.Questions.DSN == "" {
			return errors.New("postgres dsn is required for the postgres source")
		}
	default:
		return fmt.Errorf("unknown question source: %q", c.Quiz.Source)
	}

	return nil
}

type Server struct {
	c Config

	eb      *event.Bus
	metrics *telemetry.Metrics

	infra struct {
		redis struct {
			leaderboard redis.UniversalClient
			pubsub      redis.UniversalClient
		}

		postgres struct {
			questions *pgxpool.Pool
		}
	}

	service struct {
		registry    *registry.Registry
		lobby       *lobby.Lobby
		tokens      *token.Minter
		source      question.Source
		session     *session.Service
		leaderboard *leaderboard.Service
		gateway     *gateway.Gateway
	}

	health *health.Server
	http   *http.Server
	grpc   *grpc.Server
}

func Init(c Config) (*Server, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("server: invalid config: %w", err)
	}

	s := &Server{c: c}

	s.eb = event.NewBus()
	s.metrics = telemetry.NewMetrics(prometheus.DefaultRegisterer)

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	if err := s.initService(); err != nil {
		return nil, fmt.Errorf("server: init service: %w", err)
	}

	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	return nil
}

// initRedis connects the optional Redis clients. A client without addresses
// stays nil and its feature is disabled.
func (s *Server) initRedis() error {
	connect := func(addrs []string, pass string) (redis.UniversalClient, error) {
		if len(addrs) == 0 {
			return nil, nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    addrs,
			Password: pass,
		})

		if err := telemetry.MonitorRedis(r); err != nil {
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			return nil, err
		}

		return r, nil
	}

	var err error
	s.infra.redis.leaderboard, err = connect(s.c.Redis.Leaderboard.Addrs, s.c.Redis.Leaderboard.Pass)
	if err != nil {
		return fmt.Errorf("leaderboard: %w", err)
	}

	s.infra.redis.pubsub, err = connect(s.c.Redis.Pubsub.Addrs, s.c.Redis.Pubsub.Pass)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	return nil
}

func (s *Server) initPostgres() (err error) {
	if s.c.Quiz.Source != SourcePostgres {
		return nil
	}

	pc := s.c.Postgres.Questions
	if pc.Migrate {
		if err := question.Migrate(pc.DSN); err != nil {
			return fmt.Errorf("questions: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.infra.postgres.questions, err = question.NewPool(ctx, question.PostgresConfig{
		DSN:      pc.DSN,
		MaxConns: pc.MaxConns,
	})
	if err != nil {
		return fmt.Errorf("questions: %w", err)
	}

	return nil
}

func (s *Server) initService() error {
	switch s.c.Quiz.Source {
	case SourceFile:
		src, err := question.LoadFile(s.c.Quiz.File)
		if err != nil {
			return err
		}
		s.service.source = src
	case SourcePostgres:
		s.service.source = question.NewPostgres(s.infra.postgres.questions)
	default:
		s.service.source = question.NewDefault()
	}

	tokens, err := token.NewMinter(token.Config{Secret: []byte(s.c.Quiz.Secret)})
	if err != nil {
		return err
	}
	s.service.tokens = tokens

	s.service.registry = registry.New()

	s.service.lobby = lobby.New(lobby.Config{
		Capacity:    s.c.Quiz.Capacity,
		SendTimeout: s.c.Quiz.SendTimeout,
	})
	telemetry.RegisterRooms(prometheus.DefaultRegisterer, func() float64 {
		return float64(len(s.service.lobby.Rooms()))
	})

	s.service.session = session.NewService(session.Config{
		Lobby:            s.service.lobby,
		Source:           s.service.source,
		QuizID:           s.c.Quiz.QuizID,
		EventBus:         s.eb,
		Metrics:          s.metrics,
		QuestionDuration: s.c.Quiz.QuestionDuration,
	})

	if s.infra.redis.leaderboard != nil {
		s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
			EventBus: s.eb,
			Redis:    s.infra.redis.leaderboard,
			Prefix:   s.c.Redis.Leaderboard.Prefix,
			TTL:      s.c.Redis.Leaderboard.TTL,
		})
	}

	s.service.gateway = gateway.New(gateway.Config{
		Registry:   s.service.registry,
		Lobby:      s.service.lobby,
		Sessions:   s.service.session,
		Tokens:     s.service.tokens,
		EventBus:   s.eb,
		Metrics:    s.metrics,
		ReadLimit:  s.c.Gateway.ReadLimit,
		RateLimit:  s.c.Gateway.RateLimit,
		RateBurst:  s.c.Gateway.RateBurst,
		SendBuffer: s.c.Gateway.SendBuffer,
	})

	return nil
}

func (s *Server) initAPI() {
	e := gin.New()
	e.Use(gin.Recovery())
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.GET(s.c.HTTP.WSPath, gin.WrapH(s.service.gateway))

	cfg := api.Config{
		Router:       e,
		EventBus:     s.eb,
		Lobby:        s.service.lobby,
		Sessions:     s.service.session,
		Registry:     s.service.registry,
		Leaderboard:  s.service.leaderboard,
		PubsubPrefix: s.c.Redis.Pubsub.Prefix,
	}
	// A nil client must not reach the interface field.
	if s.infra.redis.pubsub != nil {
		cfg.Redis = s.infra.redis.pubsub
	}
	api.New(cfg)

	s.grpc = grpc.NewServer(telemetry.GRPCServerOptions()...)
	s.health = health.NewServer()
	healthpb.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx := context.TODO()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		slog.ErrorContext(ctx, "grpc server: listen failed", "error", err)
		panic(err)
	}

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: gRPC listening on port %d", s.c.GRPC.Port))
		return s.grpc.Serve(lis)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port),
			"ws_path", s.c.HTTP.WSPath,
			"source", s.c.Quiz.Source,
			"capacity", s.c.Quiz.Capacity,
		)
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

	// Hijacked WebSocket connections are not tracked by http.Server.
	s.service.session.Stop()
	s.service.gateway.Close()
	s.eb.Stop()

	for name, r := range map[string]redis.UniversalClient{
		"leaderboard": s.infra.redis.leaderboard,
		"pubsub":      s.infra.redis.pubsub,
	} {
		if r == nil {
			continue
		}
		if err := r.Close(); err != nil {
			slog.ErrorContext(ctx, "server: close redis failed", "client", name, "error", err)
		}
	}

	if s.infra.postgres.questions != nil {
		s.infra.postgres.questions.Close()
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}
