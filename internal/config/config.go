package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Env   string
	Port  int
	DBURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SchedulerTickInterval  time.Duration
	SchedulerBatchLimit    int
	RecoveryBatchLimit     int
	WebhookURL             string
	WorkerConcurrency      int
	WorkQueueBlockFor      time.Duration
	WorkQueueVisibility    time.Duration
	WorkQueueMaxDeliveries int
}

func Load() Config {
	env := getEnv("APP_ENV", "dev")
	port := getEnvInt("PORT", 8080)
	dbURL := buildDBURL()

	return Config{
		Env:   env,
		Port:  port,
		DBURL: dbURL,

		RedisAddr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		SchedulerTickInterval:  getEnvDuration("SCHEDULER_TICK_INTERVAL", 60*time.Second),
		SchedulerBatchLimit:    getEnvInt("SCHEDULER_BATCH_LIMIT", 100),
		RecoveryBatchLimit:     getEnvInt("RECOVERY_BATCH_LIMIT", 1000),
		WebhookURL:             getEnv("WEBHOOK_URL", "http://localhost:9090/hooks/notify"),
		WorkerConcurrency:      getEnvInt("WORKER_CONCURRENCY", 4),
		WorkQueueBlockFor:      getEnvDuration("WORK_QUEUE_BLOCK_FOR", 5*time.Second),
		WorkQueueVisibility:    getEnvDuration("WORK_QUEUE_VISIBILITY_TIMEOUT", 30*time.Second),
		WorkQueueMaxDeliveries: getEnvInt("WORK_QUEUE_MAX_DELIVERIES", 5),
	}
}

func buildDBURL() string {
	host := getEnv("DB_HOST", "127.0.0.1")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "events_scheduler")
	pass := getEnv("DB_PASSWORD", "events_scheduler")
	name := getEnv("DB_NAME", "events_scheduler")
	ssl := getEnv("DB_SSLMODE", "disable")

	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + name + "?sslmode=" + ssl
}

func WithTimeout(duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), duration)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		num, err := strconv.Atoi(v)
		if err != nil {
			fmt.Println(err)
			return fallback
		}
		return num
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			fmt.Println(err)
			return fallback
		}
		return d
	}
	return fallback
}
