package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"rxscan/models"
	"rxscan/pkg/config"
	"rxscan/pkg/database"
)

func main() {
	admin := flag.Bool("admin", false, "create an administrator")
	name := flag.String("name", "", "profile name (default the username)")
	flag.Parse()
	if flag.NArg() < 2 {
		fmt.Println("usage: go run ./cmd/create_user [-admin] [-name \"Full Name\"] <username> <password>")
		os.Exit(2)
	}
	username, password := flag.Arg(0), flag.Arg(1)
	if len(password) < 6 {
		log.Fatal("password too short (min 6)")
	}

	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	db, err := database.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.Fatalf("failed to open db: %v", err)
	}

	role := models.RoleUser
	if *admin {
		role = models.RoleAdministrator
	}
	profileName := *name
	if profileName == "" {
		profileName = username
	}
	user, err := database.CreateUser(db, username, password, role, profileName)
	if errors.Is(err, database.ErrUserExists) {
		fmt.Printf("user %s already exists (id=%d)\n", username, user.ID)
		return
	}
	if err != nil {
		log.Fatalf("failed to create user: %v", err)
	}
	fmt.Printf("created user %s id=%d role=%s\n", username, user.ID, role)
}
