package main

import (
	"errors"
	"flag"
	"fmt"
	"log"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/surveyforge/backend/internal/config"
)

func main() {
	var (
		command = flag.String("command", "up", "Migration command: up, down, version, force")
		steps   = flag.Int("steps", 0, "Number of steps for up/down (0 = all)")
		target  = flag.Uint("version", 0, "Target version for force")
		dir     = flag.String("dir", "migrations", "Migrations directory")
	)
	flag.Parse()

	cfg := config.Load()
	m, err := migrate.New("file://"+*dir, "pgx5://"+trimScheme(cfg.Database.URL))
	if err != nil {
		log.Fatalf("migrate init failed: %v", err)
	}
	defer m.Close()

	switch *command {
	case "up":
		if *steps > 0 {
			err = m.Steps(*steps)
		} else {
			err = m.Up()
		}
		report(err, "migrations applied")
	case "down":
		if *steps > 0 {
			err = m.Steps(-*steps)
		} else {
			err = m.Down()
		}
		report(err, "migrations rolled back")
	case "version":
		v, dirty, err := m.Version()
		if err != nil {
			log.Fatalf("version failed: %v", err)
		}
		if dirty {
			log.Fatalf("database is dirty at version %d", v)
		}
		fmt.Printf("current version: %d\n", v)
	case "force":
		report(m.Force(int(*target)), fmt.Sprintf("forced to version %d", *target))
	default:
		log.Fatalf("unknown command %q (supported: up, down, version, force)", *command)
	}
}

func report(err error, success string) {
	if errors.Is(err, migrate.ErrNoChange) {
		fmt.Println("no change")
		return
	}
	if err != nil {
		log.Fatalf("migration failed: %v", err)
	}
	fmt.Println(success)
}

// trimScheme strips the postgres:// prefix so the pgx5 driver scheme can be
// substituted.
func trimScheme(url string) string {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if len(url) > len(prefix) && url[:len(prefix)] == prefix {
			return url[len(prefix):]
		}
	}
	return url
}
