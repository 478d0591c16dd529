package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/agendali/booking-server/cmd/api"
	"github.com/agendali/booking-server/cmd/models"
	"github.com/agendali/booking-server/config"
	"github.com/agendali/booking-server/db"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

func main() {
	godotenv.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "migrate":
			runMigrations()
			return
		case "clear-db":
			runDatabaseClear()
			return
		default:
			log.Fatal().Str("command", os.Args[1]).Msg("unknown command")
		}
	}

	startServer()
}

func openDB() (*gorm.DB, config.App) {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("configuration error")
	}

	DB, err := db.NewPSQLStorage(cfg.DBURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database initialization error")
	}
	return DB, cfg
}

func runMigrations() {
	DB, _ := openDB()
	defer func() {
		sqlDB, _ := DB.DB()
		sqlDB.Close()
		log.Info().Msg("database connection closed")
	}()
	log.Info().Msg("connected to the database for migrations")

	if err := performMigrations(DB); err != nil {
		log.Fatal().Err(err).Msg("migration error")
	}
	log.Info().Msg("migrations completed successfully")
}

func performMigrations(DB *gorm.DB) error {
	migrations := map[interface{}]string{
		&models.Professional{}:        "Professional",
		&models.Service{}:             "Service",
		&models.Transaction{}:         "Transaction",
		&models.Appointment{}:         "Appointment",
		&models.AccessToken{}:         "AccessToken",
		&models.SlotHold{}:            "SlotHold",
		&models.Device{}:              "Device",
		&models.NotificationHistory{}: "NotificationHistory",
	}

	log.Info().Msg("starting database migrations")
	for model, name := range migrations {
		log.Info().Str("table", name).Msg("migrating")
		if err := DB.AutoMigrate(model); err != nil {
			return fmt.Errorf("error migrating %s table: %w", name, err)
		}
	}
	return nil
}

func startServer() {
	DB, cfg := openDB()
	defer func() {
		sqlDB, _ := DB.DB()
		sqlDB.Close()
		log.Info().Msg("database connection closed")
	}()
	log.Info().Msg("connected to the database")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	server := api.NewApiServer(":"+cfg.ServerPort, DB, cfg)

	go func() {
		if err := server.Run(); err != nil {
			log.Fatal().Err(err).Msg("server error")
		}
	}()
	log.Info().Str("port", cfg.ServerPort).Msg("server started")

	<-quit
	log.Info().Msg("shutting down server")
}

func clearDatabase(DB *gorm.DB, tables []interface{}) error {
	if len(tables) == 0 {
		tables = []interface{}{
			&models.NotificationHistory{},
			&models.Device{},
			&models.SlotHold{},
			&models.AccessToken{},
			&models.Appointment{},
			&models.Transaction{},
			&models.Service{},
			&models.Professional{},
		}
	}

	log.Info().Msg("dropping tables")
	for _, table := range tables {
		if err := DB.Migrator().DropTable(table); err != nil {
			log.Warn().Err(err).Msgf("dropping table %T", table)
		} else {
			log.Info().Msgf("table %T dropped", table)
		}
	}
	return nil
}

func runDatabaseClear() {
	DB, _ := openDB()
	defer func() {
		sqlDB, _ := DB.DB()
		sqlDB.Close()
		log.Info().Msg("database connection closed")
	}()

	var confirmation string
	fmt.Print("Are you sure you want to clear the database? (yes/no): ")
	fmt.Scanln(&confirmation)

	if confirmation != "yes" {
		log.Info().Msg("database clearing cancelled")
		return
	}

	var tableNames string
	fmt.Print("Enter table names to clear (comma separated) or leave blank to clear all: ")
	fmt.Scanln(&tableNames)

	var tables []interface{}
	if tableNames != "" {
		for _, table := range strings.Split(tableNames, ",") {
			switch strings.TrimSpace(table) {
			case "Professional":
				tables = append(tables, &models.Professional{})
			case "Service":
				tables = append(tables, &models.Service{})
			case "Transaction":
				tables = append(tables, &models.Transaction{})
			case "Appointment":
				tables = append(tables, &models.Appointment{})
			case "AccessToken":
				tables = append(tables, &models.AccessToken{})
			case "SlotHold":
				tables = append(tables, &models.SlotHold{})
			case "Device":
				tables = append(tables, &models.Device{})
			case "NotificationHistory":
				tables = append(tables, &models.NotificationHistory{})
			default:
				log.Warn().Str("table", table).Msg("unknown table")
			}
		}
	}

	if err := clearDatabase(DB, tables); err != nil {
		log.Fatal().Err(err).Msg("error clearing database")
	}
	log.Info().Msg("database cleared successfully")
}
