package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/zanzhit/live_recorder/internal/config"
	"github.com/zanzhit/live_recorder/internal/lib/jwt"
)

// Prints a bearer token for the recorder API, signed with the configured
// AUTH_SECRET.
func main() {
	var subject string
	var ttl time.Duration

	flag.StringVar(&subject, "subject", "", "operator or client the token is issued to")
	flag.DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	cfg := config.MustLoad()
	if cfg.Auth.Secret == "" {
		panic("AUTH_SECRET is required")
	}

	if subject == "" {
		panic("subject is required")
	}

	if ttl <= 0 {
		panic("ttl must be positive")
	}

	token, err := jwt.NewToken(subject, ttl, cfg.Auth.Secret)
	if err != nil {
		panic(err)
	}

	fmt.Println(token)
}
