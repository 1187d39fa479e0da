package config

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// NewLogger builds the process logger from LoggerConfig.
func NewLogger(c LoggerConfig, out io.Writer) *logrus.Logger {
	if out == nil {
		out = os.Stdout
	}
	logger := logrus.New()
	logger.SetOutput(out)
	if c.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

// Component returns a logger entry tagged with a component name.
func Component(logger logrus.FieldLogger, name string) *logrus.Entry {
	return logger.WithField("component", name)
}

// ConnectRedis connects to addr, retrying with capped exponential backoff
// until ctx is done.
func ConnectRedis(ctx context.Context, addr string, logger logrus.FieldLogger) (*redis.Client, error) {
	var attempt int
	for {
		attempt++
		rdb := redis.NewClient(&redis.Options{Addr: addr, PoolSize: 10})
		err := rdb.Ping(ctx).Err()
		if err == nil {
			logger.WithFields(logrus.Fields{"addr": addr, "attempt": attempt}).Info("connected to redis")
			return rdb, nil
		}
		rdb.Close()

		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		sleep = min(sleep, 30*time.Second)
		logger.WithFields(logrus.Fields{"addr": addr, "attempt": attempt, "retry_in": sleep.String()}).
			WithError(err).Warn("failed to connect redis")

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connect redis %s: %w", addr, ctx.Err())
		case <-time.After(sleep):
		}
	}
}
