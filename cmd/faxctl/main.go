// faxctl — операторская утилита Fax Inbound Service: миграции схемы,
// ручной тик сверки, остановка и удаление факсов, справочник поставщиков.
// Читает те же переменные окружения FI_*, что и сервис.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/spf13/cobra"

	"github.com/danussh/Faxing/internal/app"
	"github.com/danussh/Faxing/internal/config"
	"github.com/danussh/Faxing/internal/database"
	"github.com/danussh/Faxing/internal/domain/model"
	"github.com/danussh/Faxing/internal/repository"
	"github.com/danussh/Faxing/internal/service"
)

// faxStore — операции над факсами, доступные оператору.
type faxStore interface {
	GetByID(ctx context.Context, faxID string) (*model.FaxRecord, error)
	SoftDelete(ctx context.Context, faxID, actor string) (int64, error)
	StopProcessing(ctx context.Context, faxID, actor string) (int64, error)
}

// sweeper выполняет один тик сверки.
type sweeper interface {
	RunOnce(ctx context.Context) (*service.SweepResult, error)
}

// backend — подключённые к БД и AWS компоненты.
type backend struct {
	faxes   faxStore
	vendors repository.VendorRepository
	sweeper sweeper
	close   func()
}

// migrator — операции над схемой БД.
type migrator struct {
	up   func() error
	down func(steps int) error
}

// environment — зависимости команд. В тестах подменяется фейками.
type environment struct {
	open    func(ctx context.Context) (*backend, error)
	migrate func(ctx context.Context) (*migrator, error)
}

func main() {
	root := newRootCmd(productionEnv())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// productionEnv собирает окружение из переменных FI_*.
func productionEnv() *environment {
	load := func(ctx context.Context) (*config.Config, aws.Config, *slog.Logger, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, aws.Config{}, nil, err
		}
		logger := config.SetupLogger(cfg)
		awsCfg, err := app.LoadAWS(ctx, cfg)
		if err != nil {
			return nil, aws.Config{}, nil, err
		}
		if err := app.ResolveDBPassword(ctx, cfg, awsCfg); err != nil {
			return nil, aws.Config{}, nil, err
		}
		return cfg, awsCfg, logger, nil
	}

	return &environment{
		open: func(ctx context.Context) (*backend, error) {
			cfg, awsCfg, logger, err := load(ctx)
			if err != nil {
				return nil, err
			}
			a, err := app.Build(ctx, cfg, awsCfg, logger)
			if err != nil {
				return nil, err
			}
			// токен нужен только для отправки при sweep
			if err := a.IAM.Init(ctx); err != nil {
				logger.Warn("IAM клиент не инициализирован", slog.String("error", err.Error()))
			}
			return &backend{
				faxes:   a.Faxes,
				vendors: a.Vendors,
				sweeper: a.Reconcile,
				close:   a.Close,
			}, nil
		},
		migrate: func(ctx context.Context) (*migrator, error) {
			cfg, _, logger, err := load(ctx)
			if err != nil {
				return nil, err
			}
			return &migrator{
				up:   func() error { return database.Migrate(cfg, logger) },
				down: func(steps int) error { return database.MigrateDown(cfg, steps, logger) },
			}, nil
		},
	}
}

func newRootCmd(env *environment) *cobra.Command {
	root := &cobra.Command{
		Use:           "faxctl",
		Short:         "Operator tool for the fax inbound service",
		Version:       config.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("actor", defaultActor(), "operator name recorded in last_modified_by")

	root.AddCommand(migrateCmd(env))
	root.AddCommand(sweepCmd(env))
	root.AddCommand(showCmd(env))
	root.AddCommand(stopCmd(env))
	root.AddCommand(deleteCmd(env))
	root.AddCommand(vendorCmd(env))
	return root
}

func defaultActor() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "faxctl"
}
