// authctl opera directamente contra el store: rotación y poda de claves,
// inspección del keyring y revocación masiva de sesiones. Pensado para
// operadores y para el cron de rotación cuando el servicio no corre.
package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/levipshemish/jewgo-app-sub003/internal/config"
	"github.com/levipshemish/jewgo-app-sub003/internal/keyring"
	"github.com/levipshemish/jewgo-app-sub003/internal/observability/logger"
	"github.com/levipshemish/jewgo-app-sub003/internal/security/secretbox"
	"github.com/levipshemish/jewgo-app-sub003/internal/session"
	"github.com/levipshemish/jewgo-app-sub003/internal/store/core"
	"github.com/levipshemish/jewgo-app-sub003/internal/store/memory"
	"github.com/levipshemish/jewgo-app-sub003/internal/store/pg"
	"github.com/levipshemish/jewgo-app-sub003/internal/token"
)

func main() {
	var (
		envFile    = ".env"
		configPath = ""
	)

	root := &cobra.Command{
		Use:          "authctl",
		Short:        "CLI de operación: claves de firma y sesiones",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if envFile != "" {
				_ = godotenv.Load(envFile)
			}
			logger.Init(logger.Config{Env: "dev", Level: "warn"})
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", envFile, "ruta a .env (vacío para no cargar)")
	root.PersistentFlags().StringVar(&configPath, "config", configPath, "ruta a config.yaml (default: configs/config.yaml o env)")

	root.AddCommand(keysCmd(&configPath))
	root.AddCommand(sessionsCmd(&configPath))

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func keysCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Ciclo de vida de claves de firma",
	}

	var purpose string

	rotate := &cobra.Command{
		Use:   "rotate",
		Short: "Genera una nueva clave ACTIVE; la anterior pasa a RETIRING",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, ring, err := openRing(ctx, *configPath)
			if err != nil {
				return err
			}
			defer st.Close()
			ps, err := purposes(purpose)
			if err != nil {
				return err
			}
			for _, p := range ps {
				kid, err := ring.Rotate(ctx, p)
				if err != nil {
					return fmt.Errorf("rotar %s: %w", p, err)
				}
				fmt.Printf("%s: nueva clave active kid=%s\n", p, kid)
			}
			return nil
		},
	}
	rotate.Flags().StringVar(&purpose, "purpose", "", "access|state|magic_link (vacío = todos)")

	var grace time.Duration
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Retira y BORRA claves retiring más viejas que --grace",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, ring, err := openRing(ctx, *configPath)
			if err != nil {
				return err
			}
			defer st.Close()
			ps, err := purposes(purpose)
			if err != nil {
				return err
			}
			total := 0
			for _, p := range ps {
				n, err := ring.Prune(ctx, p, grace)
				if err != nil {
					return fmt.Errorf("podar %s: %w", p, err)
				}
				total += n
			}
			fmt.Printf("claves purgadas: %d\n", total)
			return nil
		},
	}
	prune.Flags().StringVar(&purpose, "purpose", "", "access|state|magic_link (vacío = todos)")
	prune.Flags().DurationVar(&grace, "grace", 31*24*time.Hour, "edad mínima de rotación para purgar")

	list := &cobra.Command{
		Use:   "list",
		Short: "Lista las claves vigentes (active + retiring) por propósito",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, _, err := openRing(ctx, *configPath)
			if err != nil {
				return err
			}
			defer st.Close()
			ps, err := purposes(purpose)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PURPOSE\tKID\tSTATUS\tCREATED_AT\tROTATED_AT")
			for _, p := range ps {
				keys, err := st.SigningKeys().VerificationKeys(ctx, p)
				if err != nil {
					return err
				}
				for _, k := range keys {
					rotated := ""
					if k.RotatedAt != nil {
						rotated = k.RotatedAt.UTC().Format(time.RFC3339)
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
						p, k.KID, k.Status, k.CreatedAt.UTC().Format(time.RFC3339), rotated)
				}
			}
			return tw.Flush()
		},
	}
	list.Flags().StringVar(&purpose, "purpose", "", "access|state|magic_link (vacío = todos)")

	genMaster := &cobra.Command{
		Use:   "gen-master-key",
		Short: "Genera una clave nueva para SECRETBOX_MASTER_KEY",
		RunE: func(cmd *cobra.Command, args []string) error {
			key := make([]byte, 32)
			if _, err := rand.Read(key); err != nil {
				return err
			}
			fmt.Printf("SECRETBOX_MASTER_KEY=%s\n", base64.StdEncoding.EncodeToString(key))
			return nil
		},
	}

	cmd.AddCommand(rotate, prune, list, genMaster)
	return cmd
}

func sessionsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Operaciones sobre sesiones",
	}

	var userID string
	revokeAll := &cobra.Command{
		Use:   "revoke-all",
		Short: "Revoca todas las sesiones vivas de un usuario",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("falta --user")
			}
			ctx := cmd.Context()
			st, ring, err := openRing(ctx, *configPath)
			if err != nil {
				return err
			}
			defer st.Close()

			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			tokens := token.NewService(ring, st.Revocations(), token.Config{
				Issuer:     cfg.Tokens.Issuer,
				AccessTTL:  config.Duration(cfg.Tokens.AccessTTL),
				RefreshTTL: config.Duration(cfg.Tokens.RefreshTTL),
			})
			mgr := session.NewManager(st.Sessions(), st.Revocations(), tokens,
				config.Duration(cfg.Sessions.TTL))
			n, err := mgr.RevokeAll(ctx, userID)
			if err != nil {
				return err
			}
			fmt.Printf("sesiones revocadas: %d\n", n)
			return nil
		},
	}
	revokeAll.Flags().StringVar(&userID, "user", "", "ID del usuario")

	cmd.AddCommand(revokeAll)
	return cmd
}

func purposes(flag string) ([]core.KeyPurpose, error) {
	if flag == "" {
		return core.Purposes(), nil
	}
	p := core.KeyPurpose(flag)
	if !p.Valid() {
		return nil, fmt.Errorf("propósito desconocido: %q", flag)
	}
	return []core.KeyPurpose{p}, nil
}

func openRing(ctx context.Context, configPath string) (core.Store, *keyring.Ring, error) {
	if !secretbox.Ready() {
		return nil, nil, fmt.Errorf("SECRETBOX_MASTER_KEY ausente o inválida")
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	var st core.Store
	switch cfg.Storage.Driver {
	case "postgres":
		st, err = pg.New(ctx, cfg.Storage.DSN, pg.Config{
			MaxOpenConns:    cfg.Storage.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Storage.Postgres.ConnMaxLifetime,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("abrir postgres: %w", err)
		}
	case "memory":
		st = memory.New()
	default:
		return nil, nil, fmt.Errorf("storage driver desconocido: %q", cfg.Storage.Driver)
	}
	return st, keyring.New(st.SigningKeys()), nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	if p := os.Getenv("CONFIG"); p != "" {
		return config.Load(p)
	}
	if st, err := os.Stat("configs/config.yaml"); err == nil && !st.IsDir() {
		return config.Load("configs/config.yaml")
	}
	return config.LoadFromEnv()
}
