package main

import (
	"flag"
	"fmt"
	"log"

	"rxscan/pkg/config"
	"rxscan/pkg/database"
)

func main() {
	username := flag.String("username", "", "username to reset")
	password := flag.String("password", "", "new plaintext password (min 6 chars)")
	flag.Parse()
	if *username == "" || *password == "" {
		log.Fatal("--username and --password are required")
	}
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	db, err := database.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	if err := database.SetPassword(db, *username, *password); err != nil {
		log.Fatalf("reset failed: %v", err)
	}
	fmt.Printf("Password reset for user %s\n", *username)
}
