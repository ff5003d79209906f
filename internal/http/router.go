package http

import (
	"context"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/pradok/events-scheduler-sub005/internal/bus"
	"github.com/pradok/events-scheduler-sub005/internal/http/handlers"
	"github.com/pradok/events-scheduler-sub005/internal/http/middlewares"
	"github.com/pradok/events-scheduler-sub005/internal/observability"
	"github.com/pradok/events-scheduler-sub005/internal/queue/redisclient"
)

// NewRouter builds the public HTTP surface: a thin publishing façade
// over internal/bus (spec.md §6) plus health/ready/metrics. It owns no
// scheduling state itself - internal/reactors, internal/scheduler and
// internal/worker do that work off the bus and the work queue.
func NewRouter(b *bus.Bus, rdb *redisclient.Client, prom *observability.Prom, reg *prometheus.Registry, dbPing func(context.Context) error) *gin.Engine {
	if os.Getenv("APP_ENV") != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("events-scheduler-api"))
	r.Use(middlewares.RequestID())
	r.Use(middlewares.RequestLogger())
	r.Use(middlewares.CORSMiddleware([]string{"http://localhost:3000"}))
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.MaxBodyBytes(1 << 20))
	r.Use(middlewares.RequireJSON())
	if prom != nil {
		r.Use(prom.GinHandleMiddleware())
	}

	readyCheck := func() error {
		if dbPing != nil {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := dbPing(ctx); err != nil {
				return err
			}
		}
		if rdb != nil {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := rdb.Ping(ctx); err != nil {
				return err
			}
		}
		return nil
	}

	h := handlers.NewHealthHandler(readyCheck)
	usersHandler := handlers.NewUsersHandler(b)

	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)
	if reg != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}

	createLimiter := middlewares.NewRateLimiter(10, time.Minute)
	mutateLimiter := middlewares.NewRateLimiter(20, time.Minute)

	r.POST("/users", createLimiter.RateLimiterMiddleware(middlewares.KeyByIP), usersHandler.CreateUser)
	r.PATCH("/users/:id/birthday", mutateLimiter.RateLimiterMiddleware(middlewares.KeyByIP), usersHandler.UpdateBirthday)
	r.PATCH("/users/:id/timezone", mutateLimiter.RateLimiterMiddleware(middlewares.KeyByIP), usersHandler.UpdateTimezone)
	r.DELETE("/users/:id", mutateLimiter.RateLimiterMiddleware(middlewares.KeyByIP), usersHandler.DeleteUser)

	return r
}
