package repository

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(ctx context.Context, host, port, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", host, port),
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// cartUsersKey is the set of user ids with the product in their cart, maintained by the cart service
func cartUsersKey(productID string) string {
	return "cart:product:" + productID + ":users"
}

// RedisCartRepository reads cart membership from Redis sets
type RedisCartRepository struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisCartRepository(client *redis.Client, logger *zap.Logger) *RedisCartRepository {
	return &RedisCartRepository{client: client, logger: logger}
}

// FindUsersWithProductInCart returns the users holding productID in their cart, minus excludeUserID
func (r *RedisCartRepository) FindUsersWithProductInCart(ctx context.Context, productID, excludeUserID string) ([]string, error) {
	members, err := r.client.SMembers(ctx, cartUsersKey(productID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers error: %w", err)
	}

	users := make([]string, 0, len(members))
	for _, userID := range members {
		if userID != excludeUserID {
			users = append(users, userID)
		}
	}
	sort.Strings(users)
	return users, nil
}

func (r *RedisCartRepository) AddItem(ctx context.Context, userID, productID string) error {
	if err := r.client.SAdd(ctx, cartUsersKey(productID), userID).Err(); err != nil {
		return fmt.Errorf("redis sadd error: %w", err)
	}
	return nil
}

func (r *RedisCartRepository) RemoveItem(ctx context.Context, userID, productID string) error {
	if err := r.client.SRem(ctx, cartUsersKey(productID), userID).Err(); err != nil {
		return fmt.Errorf("redis srem error: %w", err)
	}
	return nil
}
