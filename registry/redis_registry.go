package registry

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRegistry keeps one sorted set per service. Members are "host:port", scores are
// the unix time the listing expires at (+inf for listings without a TTL).
type RedisRegistry struct {
	rdb *redis.Client
	log *slog.Logger
	now func() time.Time
}

// NewRedisRegistry connects to the Redis server at url (redis://...).
func NewRedisRegistry(ctx context.Context, url string) (*RedisRegistry, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("registry: parse redis URL: %w", err)
	}
	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("registry: connect redis: %w", err)
	}
	return &RedisRegistry{rdb: rdb, log: slog.Default(), now: time.Now}, nil
}

// Close closes the Redis connection.
func (r *RedisRegistry) Close() error {
	return r.rdb.Close()
}

func redisKey(serviceName string) string {
	return fmt.Sprintf("pirate-rpc:listings:%s", serviceName)
}

// Register adds or refreshes a listing and drops the members that have already expired.
func (r *RedisRegistry) Register(ctx context.Context, serviceName string, listing Listing, ttl int64) error {
	now := r.now()
	score := math.Inf(1)
	if ttl > 0 {
		score = float64(now.Add(time.Duration(ttl) * time.Second).Unix())
	}

	key := redisKey(serviceName)
	pipe := r.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", expiredBefore(now))
	pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: listing.String()})
	_, err := pipe.Exec(ctx)
	return err
}

// expiredBefore is the exclusive upper score bound of the members expired at now.
func expiredBefore(now time.Time) string {
	return "(" + strconv.FormatInt(now.Unix(), 10)
}

func (r *RedisRegistry) Deregister(ctx context.Context, serviceName string, listing Listing) error {
	return r.rdb.ZRem(ctx, redisKey(serviceName), listing.String()).Err()
}

// AllListingsFor returns the unexpired listings of a service, soonest to expire first.
// Expired members are pruned on the way.
func (r *RedisRegistry) AllListingsFor(ctx context.Context, serviceName string) ([]Listing, error) {
	now := r.now()
	key := redisKey(serviceName)
	if err := r.rdb.ZRemRangeByScore(ctx, key, "-inf", expiredBefore(now)).Err(); err != nil {
		return nil, err
	}
	members, err := r.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: strconv.FormatInt(now.Unix(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}

	listings := make([]Listing, 0, len(members))
	for _, m := range members {
		listing, err := parseListing(m)
		if err != nil {
			r.log.Warn("skipping malformed listing", "service", serviceName, "member", m, "error", err)
			continue
		}
		listings = append(listings, listing)
	}
	return listings, nil
}

// parseListing parses "host:port".
func parseListing(s string) (Listing, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Listing{}, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return Listing{}, fmt.Errorf("invalid port %q", portStr)
	}
	return Listing{Address: host, Port: port}, nil
}
