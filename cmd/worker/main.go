package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/iliyamo/theatre-auth/internal/client"
	"github.com/iliyamo/theatre-auth/internal/config"
	"github.com/iliyamo/theatre-auth/internal/logger"
	"github.com/iliyamo/theatre-auth/internal/queue"
	"github.com/iliyamo/theatre-auth/internal/utils"
)

// The worker turns user_profiles events into profiles in the profiles
// service.  A message whose delivery still fails after the retry schedule
// is logged and dropped.
func main() {
	cfg := config.LoadWorker()
	log := logger.New(cfg.Env).With("component", "profile_worker")
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tokens := client.NewTokenManager(utils.NewSigner(cfg.SecretKey), cfg.ServiceName, cfg.ServiceTokenMaxAge)
	profiles := client.NewProfilesClient(cfg.ProfilesURL, tokens, nil, log)

	consumer := &queue.Consumer{
		URL:      cfg.RabbitURL,
		Queue:    queue.UserProfilesQueue,
		Prefetch: cfg.Prefetch,
		Handle: queue.HandleUserRegistered(func(ctx context.Context, ev queue.UserRegisteredEvent) error {
			if err := profiles.CreateProfile(ctx, ev); err != nil {
				log.Error("profile not created", "user_id", ev.UserID, "error", err.Error())
				return err
			}
			log.Info("profile created", "user_id", ev.UserID)
			return nil
		}),
		Log: log,
	}

	log.Info("consuming", "queue", consumer.Queue, "profiles_url", cfg.ProfilesURL)
	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("worker stopped", "error", err.Error())
		os.Exit(1)
	}
	log.Info("worker stopped")
}
