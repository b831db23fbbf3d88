// Aplica las migraciones embebidas contra el Postgres configurado.
//
//	migrate [up|down] [steps]
package main

import (
	"context"
	"flag"
	"io/fs"
	"log"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/levipshemish/jewgo-app-sub003/internal/config"
	migrations "github.com/levipshemish/jewgo-app-sub003/migrations/postgres"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "ruta a config.yaml")
	flag.Parse()

	_ = godotenv.Load()

	action := "up"
	steps := 0
	args := flag.Args()
	if len(args) >= 1 && args[0] != "" {
		action = strings.ToLower(args[0])
	}
	if len(args) >= 2 {
		if n, err := strconv.Atoi(args[1]); err == nil && n > 0 {
			steps = n
		}
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Storage.Driver != "postgres" {
		log.Fatalf("migrate requiere storage.driver=postgres (actual: %q)", cfg.Storage.Driver)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.Storage.DSN)
	if err != nil {
		log.Fatalf("pgxpool: %v", err)
	}
	defer pool.Close()

	var suffix string
	switch action {
	case "up":
		suffix = "_up.sql"
	case "down":
		suffix = "_down.sql"
	default:
		log.Fatalf("acción desconocida: %q (up|down)", action)
	}

	files, err := listSQL(suffix)
	if err != nil {
		log.Fatalf("listar migraciones: %v", err)
	}
	if len(files) == 0 {
		log.Println("sin migraciones que aplicar")
		return
	}
	if action == "up" {
		sort.Strings(files)
	} else {
		sort.Sort(sort.Reverse(sort.StringSlice(files)))
	}
	if steps > 0 && steps < len(files) {
		files = files[:steps]
	}

	for _, f := range files {
		sql, err := fs.ReadFile(migrations.FS, f)
		if err != nil {
			log.Fatalf("leer %s: %v", f, err)
		}
		if _, err := pool.Exec(ctx, string(sql)); err != nil {
			log.Fatalf("aplicar %s: %v", f, err)
		}
		log.Printf("aplicada %s", f)
	}
	log.Printf("%d migración(es) %s completadas", len(files), action)
}

func listSQL(suffix string) ([]string, error) {
	entries, err := fs.ReadDir(migrations.FS, ".")
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), suffix) {
			out = append(out, e.Name())
		}
	}
	return out, nil
}
