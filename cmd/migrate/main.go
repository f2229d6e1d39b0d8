package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"crmgate.org/internal/config"
	"crmgate.org/internal/migrate"
	"crmgate.org/internal/store/pg"
)

func main() {
	var (
		configPath    = flag.String("config", "", "path to config file")
		migrationsDir = flag.String("migrations", "migrations", "directory with *.up.sql / *.down.sql files")
		seedsDir      = flag.String("seeds", "seeds", "directory with seed *.sql files")
		tenantID      = flag.String("tenant", "", "tenant id for the provision command")
	)
	flag.Parse()

	cmd := flag.Arg(0)
	if cmd == "" {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	store, err := pg.Open(cfg.Database.DSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	mgr := migrate.NewManager(store.DB(), *migrationsDir, *seedsDir)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	switch cmd {
	case "up":
		if err := mgr.Up(ctx); err != nil {
			log.Fatalf("up: %v", err)
		}
		fmt.Println("migrations applied")
	case "down":
		if err := mgr.Down(ctx); err != nil {
			log.Fatalf("down: %v", err)
		}
		fmt.Println("last migration rolled back")
	case "status":
		applied, err := mgr.Status(ctx)
		if err != nil {
			log.Fatalf("status: %v", err)
		}
		if len(applied) == 0 {
			fmt.Println("no migrations applied")
			return
		}
		for _, name := range applied {
			fmt.Println(name)
		}
	case "seed":
		if err := mgr.Seed(ctx); err != nil {
			log.Fatalf("seed: %v", err)
		}
		fmt.Println("seeds applied")
	case "provision":
		if *tenantID == "" {
			log.Fatal("provision requires -tenant")
		}
		schema, err := mgr.EnsureTenantSchema(ctx, *tenantID)
		if err != nil {
			log.Fatalf("provision: %v", err)
		}
		fmt.Printf("schema %s ready\n", schema)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: migrate [flags] <command>

commands:
  up         apply pending migrations
  down       roll back the last migration
  status     list applied migrations
  seed       apply seed files once each
  provision  create a tenant schema (-tenant required, schema isolation)`)
	flag.PrintDefaults()
}
