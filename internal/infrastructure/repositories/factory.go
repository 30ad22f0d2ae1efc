package repositories

import (
	"context"
	"time"

	"rendezvous/internal/core/ports"
	"rendezvous/internal/infrastructure/distributed"
	"rendezvous/internal/infrastructure/repositories/memory"
	redisrepo "rendezvous/internal/infrastructure/repositories/redis"
	"rendezvous/pkg/config"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory builds the peer registry and, when Redis is configured
// and reachable, the presence mirror. An unreachable Redis degrades to
// running without the mirror rather than failing startup.
type RepositoryFactory struct {
	cfg         *config.Config
	redisClient *redis.Client
	instanceID  string
	logger      *zap.SugaredLogger
}

func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) *RepositoryFactory {
	factory := &RepositoryFactory{
		cfg:        cfg,
		instanceID: uuid.NewString(),
		logger:     logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("presence mirror disabled, Redis unreachable", "error", err)
		} else {
			factory.redisClient = client
		}
	}
	return factory
}

// CreatePeerRegistry returns the in-process registry; it is the only
// source of truth for routing.
func (f *RepositoryFactory) CreatePeerRegistry() ports.PeerRegistry {
	return memory.NewMemoryPeerRegistry()
}

// CreatePresenceMirror returns nil when Redis is not in use.
func (f *RepositoryFactory) CreatePresenceMirror(opts ...distributed.MirrorOption) *distributed.PresenceMirror {
	if f.redisClient == nil {
		return nil
	}

	mirrorCfg := distributed.DefaultMirrorConfig()
	if f.cfg.Redis.BatchSize > 0 {
		mirrorCfg.BatchSize = f.cfg.Redis.BatchSize
	}
	if f.cfg.Redis.FlushInterval > 0 {
		mirrorCfg.FlushInterval = f.cfg.Redis.FlushInterval
	}

	store := distributed.NewRedisPresenceStore(
		f.redisClient,
		f.cfg.Redis.Channel,
		f.cfg.Redis.KeyPrefix,
		f.instanceID,
		3*mirrorCfg.HeartbeatInterval,
	)
	f.logger.Infow("presence mirror enabled",
		"channel", f.cfg.Redis.Channel,
		"snapshot_key", distributed.SnapshotKey(f.cfg.Redis.KeyPrefix, f.instanceID),
	)
	return distributed.NewPresenceMirror(store, f.instanceID, mirrorCfg, f.logger, opts...)
}

// RedisClient is nil when Redis is disabled or unreachable.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	return f.redisClient
}

func (f *RepositoryFactory) InstanceID() string {
	return f.instanceID
}

// HealthCheck pings Redis when it is in use
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.redisClient == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return f.redisClient.Ping(ctx).Err()
}

func (f *RepositoryFactory) Close() error {
	return redisrepo.CloseRedisClient(f.redisClient)
}
