// Command token mints a bearer token for local testing.
package main

import (
	"flag"
	"fmt"
	"log"

	"orderly/config"
	"orderly/internal/api"
	"orderly/internal/models"

	"github.com/google/uuid"
)

func main() {
	user := flag.String("user", "", "user id (random when empty)")
	role := flag.String("role", "user", "admin, user or driver")
	flag.Parse()

	cfg := config.Load()
	if cfg.Auth.JWTSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	r, err := models.ParseRole(*role)
	if err != nil {
		log.Fatal(err)
	}

	id := uuid.New()
	if *user != "" {
		if id, err = uuid.Parse(*user); err != nil {
			log.Fatalf("Invalid user id: %v", err)
		}
	}

	tok, err := api.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.TokenTTL).IssueToken(id, r)
	if err != nil {
		log.Fatalf("Failed to sign token: %v", err)
	}
	fmt.Println(tok)
}
