package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/casamar/reservations-backend/internal/utils"
	"github.com/casamar/reservations-backend/pkg/jwt"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

func main() {
	email := flag.String("email", "", "staff email embedded in the token")
	roles := flag.String("roles", jwt.RoleStaff, "comma separated roles (admin, staff)")
	ttl := flag.Duration("ttl", 8*time.Hour, "token lifetime")
	staffID := flag.String("staff-id", "", "staff id, random if empty")
	genSecret := flag.Bool("gen-secret", false, "print a new JWT_SECRET and exit")
	flag.Parse()

	if *genSecret {
		secret, err := utils.GenerateSecret(32)
		if err != nil {
			log.Fatalf("Failed to generate secret: %v", err)
		}
		fmt.Printf("JWT_SECRET=%s\n", secret)
		return
	}

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET is required")
	}
	if *email == "" {
		log.Fatal("-email is required")
	}

	id := uuid.New()
	if *staffID != "" {
		parsed, err := uuid.Parse(*staffID)
		if err != nil {
			log.Fatalf("Invalid -staff-id: %v", err)
		}
		id = parsed
	}

	var roleList []string
	for _, r := range strings.Split(*roles, ",") {
		r = strings.TrimSpace(r)
		if r != jwt.RoleAdmin && r != jwt.RoleStaff {
			log.Fatalf("Unknown role %q", r)
		}
		roleList = append(roleList, r)
	}

	token, err := jwt.NewService(secret, *ttl).GenerateAccessToken(id, *email, roleList)
	if err != nil {
		log.Fatalf("Failed to issue token: %v", err)
	}

	fmt.Println(token)
}
