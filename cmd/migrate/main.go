package main

import (
	"log"
	"os"

	"lending/pkg/config"
	"lending/pkg/database"
	"lending/pkg/logging"
)

func main() {
	cfg, err := config.LoadDatabase()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(getEnv("LOG_LEVEL", "info"), true)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}

	db, err := database.Open(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close(db)

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("Failed to get database instance: %v", err)
	}

	command := "up"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	log.Printf("Running migrations: %s (%s)", command, cfg.DBDriver)
	if err := database.Migrate(sqlDB, cfg.DBDriver, command); err != nil {
		log.Fatalf("Migration %s failed: %v", command, err)
	}

	version, err := database.Version(sqlDB, cfg.DBDriver)
	if err != nil {
		log.Fatalf("Failed to get version: %v", err)
	}
	log.Printf("Current migration version: %d", version)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
