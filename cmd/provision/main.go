package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"plantation/internal/attendance"
	"plantation/internal/auth"
	"plantation/internal/config"
	"plantation/internal/logging"
	"plantation/internal/store"
)

const usage = `usage: provision <command> [flags]

commands:
  zone             -id Z1 -name "North block"
  worker           -id W1 -name "Asha Kumari"
  device           -zone Z1 [-id <uuid>] [-key <secret>]
  card             -uid 04A1B2C3 -worker W1
  deactivate-card  -uid 04A1B2C3
  token            -subject M1 -role manager [-ttl 12h]
`

func main() {
	cfg := config.Load()
	logging.Init(cfg.LogLevel, cfg.LogFormat)

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err := run(cfg, os.Args[1], os.Args[2:]); err != nil {
		log.Fatal().Err(err).Str("command", os.Args[1]).Msg("provision failed")
	}
}

func run(cfg config.App, cmd string, args []string) error {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	if cmd == "token" {
		subject := fs.String("subject", "", "user id carried in the token")
		role := fs.String("role", auth.RoleManager, "manager, supervisor or worker")
		ttl := fs.Duration("ttl", 12*time.Hour, "token lifetime")
		_ = fs.Parse(args)
		if *subject == "" {
			return errors.New("-subject is required")
		}
		token, exp, err := auth.Issue(*subject, *role, cfg.JWTIssuer, cfg.JWTSigningKey, *ttl)
		if err != nil {
			return err
		}
		fmt.Println(token)
		log.Info().Str("subject", *subject).Str("role", *role).Time("expires_at", exp).Msg("session token issued")
		return nil
	}

	var (
		id     = fs.String("id", "", "record id")
		name   = fs.String("name", "", "display name")
		zone   = fs.String("zone", "", "zone id")
		key    = fs.String("key", "", "device api key; generated when empty")
		uid    = fs.String("uid", "", "rfid card uid")
		worker = fs.String("worker", "", "worker id")
	)
	_ = fs.Parse(args)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if cfg.MigrateOnStart {
		if err := store.Migrate(ctx, db.Client); err != nil {
			return err
		}
	}
	repo := attendance.NewRepository(db.Client)

	switch cmd {
	case "zone":
		if err := required(map[string]string{"id": *id, "name": *name}); err != nil {
			return err
		}
		if err := repo.UpsertZone(ctx, *id, *name); err != nil {
			return err
		}
		log.Info().Str("zone_id", *id).Msg("zone saved")

	case "worker":
		if err := required(map[string]string{"id": *id, "name": *name}); err != nil {
			return err
		}
		if err := repo.UpsertWorker(ctx, *id, *name); err != nil {
			return err
		}
		log.Info().Str("worker_id", *id).Msg("worker saved")

	case "device":
		if err := required(map[string]string{"zone": *zone}); err != nil {
			return err
		}
		devID := uuid.New()
		if *id != "" {
			if devID, err = uuid.Parse(*id); err != nil {
				return fmt.Errorf("-id: %w", err)
			}
		}
		secret := *key
		if secret == "" {
			if secret, err = newDeviceKey(); err != nil {
				return err
			}
		}
		hash, err := attendance.HashDeviceKey(secret)
		if err != nil {
			return err
		}
		if err := repo.RegisterDevice(ctx, devID, hash, *zone); err != nil {
			return err
		}
		// The key is not recoverable after this point; only its hash is stored.
		fmt.Printf("device_id=%s\napi_key=%s\n", devID, secret)
		log.Info().Str("device_id", devID.String()).Str("zone_id", *zone).Msg("device registered")

	case "card":
		if err := required(map[string]string{"uid": *uid, "worker": *worker}); err != nil {
			return err
		}
		if err := repo.AssignCard(ctx, *uid, *worker); err != nil {
			return err
		}
		log.Info().Str("rfid_uid", *uid).Str("worker_id", *worker).Msg("card assigned")

	case "deactivate-card":
		if err := required(map[string]string{"uid": *uid}); err != nil {
			return err
		}
		if err := repo.DeactivateCard(ctx, *uid); err != nil {
			if errors.Is(err, attendance.ErrNotFound) {
				return fmt.Errorf("card %q not found", *uid)
			}
			return err
		}
		log.Info().Str("rfid_uid", *uid).Msg("card deactivated")

	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func required(flags map[string]string) error {
	for name, val := range flags {
		if val == "" {
			return fmt.Errorf("-%s is required", name)
		}
	}
	return nil
}

func newDeviceKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate device key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
