package main

import (
	"database/sql"
	"log"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/tradelane/marketchat/internal/config"
	"github.com/tradelane/marketchat/internal/server"
	"github.com/tradelane/marketchat/internal/storage/postgres"
	"github.com/tradelane/marketchat/internal/storage/sqlite"

	"flag"
)

func main() {
	migrate := flag.Bool("migrate", false, "run migrations and exit")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Fatalf("error loading env file: %v", err)
	}
	cfg := config.MustLoad()
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	var db *sql.DB
	var driver string
	if cfg.PostgresDsn != "" {
		conn, err := postgres.New(cfg.PostgresDsn)
		if err != nil {
			log.Fatalf("error connecting to postgres: %v", err)
		}
		if *migrate {
			if err := conn.Migrate(); err != nil {
				log.Fatalf("migration failed: %v", err)
			}
			slog.Info("migration completed")
			return
		}
		db, driver = conn.Db, server.DriverPostgres
	} else {
		conn, err := sqlite.New(cfg.SQLITEDsn)
		if err != nil {
			log.Fatalf("error opening sqlite: %v", err)
		}
		// sqlite migrates every start; the schema is idempotent
		if err := conn.Migrate(); err != nil {
			log.Fatalf("migration failed: %v", err)
		}
		if *migrate {
			slog.Info("migration completed")
			return
		}
		db, driver = conn.Db, server.DriverSqlite
	}
	defer db.Close()

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		log.Fatalf("error creating upload dir: %v", err)
	}

	srv := server.New(cfg, db, driver)
	slog.Info("marketchatd listening", "addr", cfg.Addr, "driver", driver)
	if err := srv.Run(); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
