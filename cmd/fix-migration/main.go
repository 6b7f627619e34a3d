// Package main clears a dirty flag left in schema_migrations when a migration
// was interrupted. The server refuses to start on a dirty schema; after fixing
// the cause by hand, run this and restart.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/learnhub/membership-service/internal/config"
	"github.com/learnhub/membership-service/internal/db"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	database, err := db.Connect(cfg.Database.GetDSN(), 1, 1)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	version, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		log.Fatalf("Failed to check migration state: %v", err)
	}
	log.Printf("Current migration state: version=%d, dirty=%v", version, dirty)

	if !dirty {
		log.Println("Migration state is already clean")
		return
	}

	if err := db.ForceVersion(database, int(version)); err != nil {
		log.Fatalf("Failed to fix dirty state: %v", err)
	}
	fmt.Printf("Cleared dirty flag at version %d\n", version)
}
