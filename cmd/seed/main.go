package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"

	"gym-membership/internal/config"
	"gym-membership/internal/domain"
	"gym-membership/internal/domain/model"
	"gym-membership/internal/domain/ports/repository"
	"gym-membership/internal/infra/api"
	pg "gym-membership/internal/infra/db/postgres"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	withTokens := flag.Bool("tokens", true, "print a bearer token per seeded user")
	flag.Parse()

	_ = godotenv.Load()

	// ---- Config ----
	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Connect Postgres
	pool, err := pg.NewPgxPool(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	users := pg.NewUserRepo(pool)
	auth := api.NewAuthManager(cfg.Auth.JWTSecret)

	// One demo account per role so every checkout path can be exercised.
	for _, role := range model.Roles() {
		id := "demo-" + string(role)
		u, err := users.FindByID(ctx, repository.NoTX, id)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			u, err = model.NewUser(id, fmt.Sprintf("%s@gym.example.com", id), role)
			if err != nil {
				log.Fatalf("new user %s: %v", id, err)
			}
			if err := users.Save(ctx, repository.NoTX, u); err != nil {
				log.Fatalf("save user %s: %v", id, err)
			}
			fmt.Printf("seeded: %s (role=%s)\n", u.ID, u.Role)
		case err != nil:
			log.Fatalf("find user %s: %v", id, err)
		default:
			fmt.Printf("exists: %s (role=%s)\n", u.ID, u.Role)
		}

		if *withTokens && cfg.Auth.JWTSecret != "" {
			tok, err := auth.Mint(u.ID, string(u.Role), 24*time.Hour)
			if err != nil {
				log.Fatalf("mint token: %v", err)
			}
			fmt.Printf("  token: %s\n", tok)
		}
	}

	fmt.Println("Seeding complete.")
}
