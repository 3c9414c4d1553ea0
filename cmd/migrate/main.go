// Command migrate runs schema operations for the backend.
package main

import (
	"flag"
	"fmt"
	"log"
	"strings"

	"cuisine/internal/config"
	"cuisine/internal/database"

	"gorm.io/gorm"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func usage() error {
	return fmt.Errorf("usage: go run ./cmd/migrate/main.go <up|status|drop>")
}

func run() error {
	flag.Parse()
	if flag.NArg() < 1 {
		return usage()
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}

	cmd := strings.ToLower(strings.TrimSpace(flag.Arg(0)))
	switch cmd {
	case "up":
		if err := database.Migrate(db); err != nil {
			return fmt.Errorf("automigrate failed: %w", err)
		}
		log.Println("automigrations applied")
	case "status":
		missing := 0
		for _, m := range database.PersistentModels() {
			stmt := &gorm.Statement{DB: db}
			if err := stmt.Parse(m); err != nil {
				return fmt.Errorf("parse model: %w", err)
			}
			present := db.Migrator().HasTable(m)
			if !present {
				missing++
			}
			log.Printf("table=%s present=%t", stmt.Schema.Table, present)
		}
		log.Printf("driver=%s env=%s missing=%d", db.Dialector.Name(), cfg.Env, missing)
	case "drop":
		if cfg.IsProduction() {
			return fmt.Errorf("refusing to drop tables in production")
		}
		all := database.PersistentModels()
		for i := len(all) - 1; i >= 0; i-- {
			if err := db.Migrator().DropTable(all[i]); err != nil {
				return fmt.Errorf("drop table: %w", err)
			}
		}
		log.Println("all tables dropped")
	default:
		return usage()
	}

	return nil
}
