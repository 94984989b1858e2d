// Command issue-token signs a buyer token with the service's JWT secret for
// local testing of the order endpoints.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/gofrs/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vasiliy-maslov/online-store/internal/identity"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatal().Err(err).Msg("Failed to load .env")
	}

	var (
		buyer string
		email string
		role  string
		ttl   time.Duration
	)
	flag.StringVar(&buyer, "buyer", "", "Buyer id (uuid); a random one is generated when empty")
	flag.StringVar(&email, "email", "buyer@example.com", "Email claim")
	flag.StringVar(&role, "role", "customer", "Role claim")
	flag.DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	flag.Parse()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal().Msg("JWT_SECRET is required")
	}

	buyerID, err := parseBuyer(buyer)
	if err != nil {
		log.Fatal().Err(err).Str("buyer", buyer).Msg("Invalid buyer id")
	}

	token, err := identity.NewJWTAuthenticator(secret, os.Getenv("JWT_ISSUER")).
		Issue(identity.Identity{BuyerID: buyerID, Email: email, Role: role}, ttl)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to issue token")
	}

	log.Info().Stringer("buyer_id", buyerID).Dur("ttl", ttl).Msg("Token issued")
	fmt.Println(token)
}

func parseBuyer(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.NewV4()
	}
	return uuid.FromString(raw)
}
