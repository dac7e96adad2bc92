package server

import (
	"context"
	"database/sql"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/SplitFi/go-barter/admin"
	"github.com/SplitFi/go-barter/env"
	"github.com/SplitFi/go-barter/middleware"
	"github.com/SplitFi/go-barter/service/auth"
	"github.com/SplitFi/go-barter/service/escrow"
	"github.com/SplitFi/go-barter/service/logger"
	"github.com/SplitFi/go-barter/service/metrics"
	"github.com/SplitFi/go-barter/service/persist"
	"github.com/SplitFi/go-barter/service/persist/postgres"
	"github.com/SplitFi/go-barter/service/redis"
	"github.com/SplitFi/go-barter/service/rpc"
	sentryutil "github.com/SplitFi/go-barter/service/sentry"
	"github.com/SplitFi/go-barter/service/signer"
	"github.com/SplitFi/go-barter/service/trade"
	"github.com/SplitFi/go-barter/validate"
)

const terminalTradeCacheSize = 4096

func init() {
	env.RegisterValidation("ESCROW_CONTRACT_ADDRESS", "required,eth_addr")
	env.RegisterValidation("OWNER_ADDRESS", "required,eth_addr")
}

// Clients holds the connections shared by the server and the CLI
type Clients struct {
	PQ         *sql.DB
	Pgx        *pgxpool.Pool
	EthClient  *ethclient.Client
	ChainID    *big.Int
	NonceCache *redis.Cache
	LockCache  *redis.Cache
}

// Close releases every connection
func (c *Clients) Close() {
	c.PQ.Close()
	c.Pgx.Close()
	c.EthClient.Close()
	c.NonceCache.Close()
	c.LockCache.Close()
}

// Services wires the trade domain on top of Clients
type Services struct {
	Trades      *postgres.TradeRepository
	Admins      *auth.Admins
	Gateway     escrow.Gateway
	Queue       *signer.Queue
	Metrics     *metrics.Metrics
	Coordinator *trade.Coordinator
}

// Init initializes the server
func Init() {
	setDefaults()
	env.ValidateEnv()

	ctx := context.Background()
	c := ClientInit(ctx)
	s := NewServices(c, prometheus.DefaultRegisterer)

	operator, err := signer.FromEnv(c.ChainID)
	if err != nil {
		logger.For(ctx).WithError(err).Fatal("failed to load operator signer")
	}
	logger.For(ctx).WithFields(logrus.Fields{"operator": operator.Address()}).Info("loaded operator signer")

	router := CoreInit(ctx, c, s, operator)
	http.Handle("/", router)
}

// ClientInit opens every connection the service needs
func ClientInit(ctx context.Context) *Clients {
	ethClient := rpc.NewEthClient()
	chainID, err := rpc.ChainID(ctx, ethClient)
	if err != nil {
		panic(err)
	}
	return &Clients{
		PQ:         postgres.MustCreateClient(),
		Pgx:        postgres.NewPgxClient(),
		EthClient:  ethClient,
		ChainID:    chainID,
		NonceCache: redis.NewCache(redis.AuthNonceCache),
		LockCache:  redis.NewCache(redis.SignerLockCache),
	}
}

// NewServices builds the coordinator and its collaborators
func NewServices(c *Clients, reg prometheus.Registerer) *Services {
	m := metrics.NewMetrics("barter", reg)
	gateway := escrow.NewCachedGateway(escrow.NewEthGateway(c.EthClient, persist.NewAddress(env.GetString("ESCROW_CONTRACT_ADDRESS"))), terminalTradeCacheSize)
	queue := signer.NewQueue(redis.NewLockClient(c.LockCache), env.GetDuration("SIGNER_LOCK_TTL"))
	admins := auth.NewAdmins(postgres.NewAdminRepository(c.Pgx), persist.NewAddress(env.GetString("OWNER_ADDRESS")))
	trades := postgres.NewTradeRepository(c.PQ)

	coordinator := trade.NewCoordinator(trades, gateway, nil, queue, admins, m, trade.Config{
		ConfirmationTimeout: env.GetDuration("CONFIRMATION_TIMEOUT"),
		MaxDuration:         env.GetDuration("TRADE_MAX_DURATION"),
	})

	return &Services{
		Trades:      trades,
		Admins:      admins,
		Gateway:     gateway,
		Queue:       queue,
		Metrics:     m,
		Coordinator: coordinator,
	}
}

// CoreInit initializes core server functionality. This is abstracted
// so the test server can also utilize it
func CoreInit(ctx context.Context, c *Clients, s *Services, operator signer.Signer) *gin.Engine {
	logger.For(ctx).Info("initializing server...")

	sentryutil.Init()
	if env.GetString("ENV") != "local" {
		logger.InitWithGCPDefaults()
	}

	if env.GetString("ENV") != "production" {
		logger.SetLevel(logrus.DebugLevel)
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	validate.RegisterGinValidators()

	router := gin.Default()
	router.ContextWithFallback = true
	router.Use(middleware.GinContextToContext(), middleware.Sentry(true), middleware.HandleCORS(), middleware.ErrLogger())

	return handlersInit(router, handlerDeps{
		trades:    s.Coordinator,
		nonces:    c.NonceCache,
		admins:    s.Admins,
		shareBase: env.GetString("SHARE_BASE_URL"),
		admin: admin.Dependencies{
			Trades:      s.Trades,
			Coordinator: s.Coordinator,
			Fees:        s.Gateway,
			Admins:      s.Admins,
			Operator:    operator,
			Queue:       s.Queue,
		},
	})
}

func setDefaults() {
	viper.SetDefault("ENV", "local")
	viper.SetDefault("PORT", 4000)
	viper.SetDefault("ALLOWED_ORIGINS", "http://localhost:3000")
	viper.SetDefault("RPC_URL", "http://localhost:8545")
	viper.SetDefault("CHAIN_ID", 0)
	viper.SetDefault("ESCROW_CONTRACT_ADDRESS", "")
	viper.SetDefault("OWNER_ADDRESS", "")
	viper.SetDefault("OPERATOR_PRIVATE_KEY", "")
	viper.SetDefault("OPERATOR_KEYSTORE", "")
	viper.SetDefault("OPERATOR_KEYSTORE_PASSPHRASE", "")
	viper.SetDefault("POSTGRES_HOST", "0.0.0.0")
	viper.SetDefault("POSTGRES_PORT", 5432)
	viper.SetDefault("POSTGRES_USER", "postgres")
	viper.SetDefault("POSTGRES_PASSWORD", "")
	viper.SetDefault("POSTGRES_DB", "postgres")
	viper.SetDefault("REDIS_URL", "localhost:6379")
	viper.SetDefault("REDIS_PASS", "")
	viper.SetDefault("AUTH_JWT_SECRET", "")
	viper.SetDefault("AUTH_JWT_TTL", 60*60*24)
	viper.SetDefault("CONFIRMATION_TIMEOUT", "3m")
	viper.SetDefault("TRADE_MAX_DURATION", "720h")
	viper.SetDefault("SIGNER_LOCK_TTL", "10m")
	viper.SetDefault("SHARE_BASE_URL", "http://localhost:3000")
	viper.SetDefault("SENTRY_DSN", "")
	viper.SetDefault("SENTRY_TRACES_SAMPLE_RATE", 0.2)
	viper.SetDefault("VERSION", "")

	viper.AutomaticEnv()
}

// SetDefaults loads the configuration defaults and binds the environment
func SetDefaults() {
	setDefaults()
}
