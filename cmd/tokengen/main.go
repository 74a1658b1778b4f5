package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"cryptoblade/internal/auth"

	"github.com/joho/godotenv"
)

func main() {
	subject := flag.String("subject", "operator", "token subject")
	role := flag.String("role", auth.RoleViewer, "viewer or admin")
	duration := flag.Duration("duration", 24*time.Hour, "token lifetime")
	flag.Parse()

	_ = godotenv.Load()

	secret := os.Getenv("AUTH_JWT_SECRET")
	if secret == "" {
		fmt.Fprintln(os.Stderr, "AUTH_JWT_SECRET is required")
		os.Exit(1)
	}
	issuer := os.Getenv("AUTH_ISSUER")
	if issuer == "" {
		issuer = "cryptoblade"
	}

	token, expiresAt, err := auth.NewJWTManager(secret, issuer, *duration).Issue(*subject, *role)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to issue token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("========================================")
	fmt.Printf("  Subject: %s\n", *subject)
	fmt.Printf("  Role:    %s\n", *role)
	fmt.Printf("  Expires: %s\n", expiresAt.Format(time.RFC3339))
	fmt.Println("========================================")
	fmt.Println(token)
}
