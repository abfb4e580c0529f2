package migration

import (
	"github.com/smallbiznis/paygate/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Applied is provided once the schema is in place. Components that read
// tables at construction depend on it to run after migrations.
type Applied struct{}

var Module = fx.Module("migrations",
	fx.Provide(Provide),
)

func Provide(conn *gorm.DB, cfg config.Config, log *zap.Logger) (Applied, error) {
	log = log.Named("migration")
	if !cfg.DBRunMigrations {
		log.Info("schema migrations disabled")
		return Applied{}, nil
	}

	switch cfg.DBType {
	case "postgres":
		sqlDB, err := conn.DB()
		if err != nil {
			return Applied{}, err
		}
		if err := RunMigrations(sqlDB); err != nil {
			return Applied{}, err
		}
	default:
		if err := AutoMigrate(conn); err != nil {
			return Applied{}, err
		}
	}

	log.Info("schema ready", zap.String("db_type", cfg.DBType))
	return Applied{}, nil
}
