package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/angelmondragon/bookstore-backend/internal/permissions"
	"github.com/angelmondragon/bookstore-backend/pkg/auth"
	"github.com/angelmondragon/bookstore-backend/pkg/config"
	"github.com/angelmondragon/bookstore-backend/pkg/db"
	"github.com/angelmondragon/bookstore-backend/pkg/db/models"
	"github.com/angelmondragon/bookstore-backend/pkg/logger"
	"github.com/angelmondragon/bookstore-backend/pkg/migrate"
	"github.com/angelmondragon/bookstore-backend/pkg/redis"
)

var (
	dir string

	rootCmd = &cobra.Command{
		Use:          "migrate",
		Short:        "Manage the bookstore schema",
		SilenceUsage: true,
	}
)

var (
	tokenUser string
	tokenRole string
)

func init() {
	_ = godotenv.Load()
	rootCmd.PersistentFlags().StringVar(&dir, "dir", "", "migrations directory (default: the set built into the binary)")
	devTokenCmd.Flags().StringVar(&tokenUser, "user", "", "user id for the token subject (random when empty)")
	devTokenCmd.Flags().StringVar(&tokenRole, "role", "", "role name to embed, e.g. admin")
}

func main() {
	rootCmd.AddCommand(
		upCmd, downCmd, statusCmd, toCmd, createCmd, validateCmd, seedRolesCmd, devTokenCmd,
	)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// session is the config, logger and database a command needs.
type session struct {
	cfg  *config.Config
	logg *logger.Logger
	ctx  context.Context
	db   *db.Client
}

func open(cmd *cobra.Command) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logg := logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Output:      os.Stderr,
	})
	ctx := logg.WithFields(cmd.Context(), map[string]any{
		"env": cfg.App.Env,
		"cmd": cmd.Name(),
		"dir": dir,
	})
	client, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "resource not working: database", err)
		return nil, err
	}
	logg.Info(ctx, "migrate ready")
	return &session{cfg: cfg, logg: logg, ctx: ctx, db: client}, nil
}

// migrator builds a Migrator over the --dir source, or the embedded set.
func (s *session) migrator() (*migrate.Migrator, error) {
	sqlDB, err := s.db.DB().DB()
	if err != nil {
		return nil, err
	}
	fsys, err := migrate.Source(dir)
	if err != nil {
		return nil, err
	}
	return migrate.New(sqlDB, fsys, s.logg)
}

// withMigrator opens a session and hands its Migrator to run.
func withMigrator(run func(cmd *cobra.Command, s *session, m *migrate.Migrator, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		s, err := open(cmd)
		if err != nil {
			return err
		}
		defer s.db.Close()
		m, err := s.migrator()
		if err != nil {
			return err
		}
		return run(cmd, s, m, args)
	}
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply every pending migration",
	Args:  cobra.NoArgs,
	RunE: withMigrator(func(_ *cobra.Command, s *session, m *migrate.Migrator, _ []string) error {
		return m.Up(s.ctx)
	}),
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the latest migration",
	Args:  cobra.NoArgs,
	RunE: withMigrator(func(_ *cobra.Command, s *session, m *migrate.Migrator, _ []string) error {
		return m.Down(s.ctx)
	}),
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print applied and pending migrations",
	Args:  cobra.NoArgs,
	RunE: withMigrator(func(cmd *cobra.Command, s *session, m *migrate.Migrator, _ []string) error {
		pending, err := m.Status(s.ctx, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d pending\n", pending)
		return nil
	}),
}

var toCmd = &cobra.Command{
	Use:   "to <version>",
	Short: "Migrate up or down to a YYYYMMDDHHMMSS version",
	Args:  cobra.ExactArgs(1),
	RunE: withMigrator(func(_ *cobra.Command, s *session, m *migrate.Migrator, args []string) error {
		return m.To(s.ctx, args[0])
	}),
}

var createCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create an empty SQL migration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := dir
		if target == "" {
			target = migrate.DefaultDir
		}
		path, err := migrate.Create(target, args[0], time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "created migration:", path)
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check file names, goose sections and that every model table is created",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		fsys, err := migrate.Source(dir)
		if err != nil {
			return err
		}
		if err := migrate.Validate(fsys, models.All()...); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "migration validation passed")
		return nil
	},
}

var seedRolesCmd = &cobra.Command{
	Use:   "seed-roles",
	Short: "Write the default roles and reseed their cached permissions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := open(cmd)
		if err != nil {
			return err
		}
		defer s.db.Close()

		repo := permissions.NewRepository(s.db.DB())
		err = s.db.WithTx(s.ctx, func(tx *gorm.DB) error {
			txRepo := permissions.NewRepository(tx)
			for _, def := range permissions.DefaultRoles() {
				role, err := txRepo.UpsertRole(s.ctx, def)
				if err != nil {
					return fmt.Errorf("role %s: %w", def.Name, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d permissions\n", role.ID, role.Name, len(role.Permissions))
			}
			return nil
		})
		if err != nil {
			return err
		}

		store, closeStore, err := redis.Open(s.ctx, s.cfg, s.logg)
		if err != nil {
			return err
		}
		defer closeStore()
		cache, err := permissions.NewCache(store, repo, s.logg)
		if err != nil {
			return err
		}
		synced, err := cache.SyncAll(s.ctx, true)
		if err != nil {
			return err
		}
		s.logg.Info(s.logg.WithField(s.ctx, "synced_roles", synced), "default roles seeded")
		return nil
	},
}

var devTokenCmd = &cobra.Command{
	Use:   "dev-token",
	Short: "Mint a short-lived access token for local testing",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := open(cmd)
		if err != nil {
			return err
		}
		defer s.db.Close()
		if s.cfg.App.IsProd() {
			return fmt.Errorf("dev-token is disabled in %s", s.cfg.App.Env)
		}

		userID := uuid.New()
		if tokenUser != "" {
			if userID, err = uuid.Parse(tokenUser); err != nil {
				return fmt.Errorf("invalid --user: %w", err)
			}
		}
		payload := auth.AccessTokenPayload{UserID: userID, JTI: uuid.NewString()}
		if tokenRole != "" {
			roles, err := permissions.NewRepository(s.db.DB()).ListRoles(s.ctx)
			if err != nil {
				return err
			}
			for i := range roles {
				if roles[i].Name == tokenRole {
					payload.RoleID = &roles[i].ID
					break
				}
			}
			if payload.RoleID == nil {
				return fmt.Errorf("role %q not found; run seed-roles first", tokenRole)
			}
		}

		token, err := auth.MintAccessToken(s.cfg.JWT, time.Now(), payload)
		if err != nil {
			return err
		}
		s.logg.Info(s.logg.WithUserID(s.ctx, userID.String()), "dev token minted")
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}
