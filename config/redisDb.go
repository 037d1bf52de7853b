package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

var (
	rdb    *redis.Client
	locker *redislock.Client
)

func GetRedisDB() *redis.Client {
	return rdb
}

// GetRedisLock returns the distributed lock client, or nil when redis is not
// configured. Callers fall back to in-process locking when nil.
func GetRedisLock() *redislock.Client {
	return locker
}

// ConnectRedis initializes the redis client and lock client from REDIS_ADDRESS.
// Redis is optional: a single back-office instance runs fine without it.
func ConnectRedis() {
	address := strings.TrimSpace(os.Getenv("REDIS_ADDRESS"))
	if address == "" {
		log.Println("REDIS_ADDRESS not set, distributed locking disabled")
		return
	}

	rdb = redis.NewClient(&redis.Options{
		Addr:         address,
		Password:     os.Getenv("REDIS_PASSWORD"),
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	locker = redislock.New(rdb)
	log.Printf("redis connected: %s", address)
}
