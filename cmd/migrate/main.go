package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"accessgrid.org/internal/migrate"
)

func main() {
	log.SetFlags(0)
	_ = godotenv.Load()

	var (
		dsn            = flag.String("dsn", os.Getenv("ACCESSGRID_PG_DSN"), "PostgreSQL DSN")
		migrationsPath = flag.String("migrations", "migrations", "Path to SQL migrations")
		seedsPath      = flag.String("seeds", "migrations/seeds", "Path to SQL seeds")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or ACCESSGRID_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|seed|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	runner := migrate.NewRunner(db, *migrationsPath, *seedsPath)

	switch cmd := flag.Arg(0); cmd {
	case "up":
		ran, err := runner.Up(ctx)
		exitOn(cmd, err)
		report(cmd, ran)
	case "down":
		name, err := runner.Down(ctx)
		exitOn(cmd, err)
		fmt.Printf("rolled back %s\n", name)
	case "seed":
		ran, err := runner.Seed(ctx)
		exitOn(cmd, err)
		report(cmd, ran)
	case "status":
		history, err := runner.History(ctx)
		exitOn(cmd, err)
		for _, item := range history {
			fmt.Printf("%s\t%s\t%s\n", item.AppliedAt.Format(time.RFC3339), item.Kind, item.Name)
		}
	default:
		log.Fatalf("unknown command %q", cmd)
	}
}

func exitOn(cmd string, err error) {
	if err != nil {
		log.Fatalf("migrate %s: %v", cmd, err)
	}
}

func report(cmd string, ran []string) {
	if len(ran) == 0 {
		fmt.Printf("%s: nothing to apply\n", cmd)
		return
	}
	for _, name := range ran {
		fmt.Printf("applied %s\n", name)
	}
}
