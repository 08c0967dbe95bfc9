package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"entornos-api-go/internal/config"
	"entornos-api-go/internal/push"
	"entornos-api-go/internal/server"
	"entornos-api-go/internal/store"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE:  runServe,
	}

	root := &cobra.Command{
		Use:           "entornos-api",
		Short:         "REST backend for environments and web push notifications",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}
	root.AddCommand(serveCmd)
	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and exit",
		RunE:  runMigrate,
	})
	root.AddCommand(&cobra.Command{
		Use:   "vapid-keys",
		Short: "Print a new VAPID key pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			keys, err := push.GenerateVAPIDKeys()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "VAPID_PUBLIC_KEY=%s\nVAPID_PRIVATE_KEY=%s\n", keys.Public, keys.Private)
			return nil
		},
	})
	return root
}

func openStore(ctx context.Context, cfg *config.Config) (*store.SQLStore, error) {
	db, err := store.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.RunMigrations(ctx); err != nil {
		db.Close()
		return nil, err
	}
	log.Println("Database migrations completed")
	return db, nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	db, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	return db.Close()
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	keys := push.VAPIDKeys{Public: cfg.VAPIDPublicKey, Private: cfg.VAPIDPrivateKey}
	if keys.Public == "" {
		log.Println("VAPID keys not found in environment. Generating new keys...")
		if keys, err = push.GenerateVAPIDKeys(); err != nil {
			return fmt.Errorf("generate VAPID keys: %w", err)
		}
		cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey = keys.Public, keys.Private
		log.Printf("Generated VAPID keys (add them to your .env file to persist them):\nVAPID_PUBLIC_KEY=%s", keys.Public)
	}

	deps := server.Deps{
		Store:  db,
		Sender: push.NewWebPushSender(keys, cfg.VAPIDSubject, cfg.PushTTL, nil),
	}

	if cfg.RedisAddr != "" {
		events := store.NewRedisEvents(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer events.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := events.Ping(pingCtx)
		cancel()
		if err != nil {
			log.Printf("Redis unavailable at %s, push event feed disabled: %v", cfg.RedisAddr, err)
		} else {
			deps.Events = events
		}
	}

	srv, err := server.New(cfg, deps)
	if err != nil {
		return err
	}
	if err := srv.SeedAdmin(ctx); err != nil {
		log.Printf("Failed to create default admin: %v", err)
	}

	return srv.Run(ctx)
}
