package migrate

import (
	"context"
	"stock-service/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type MigrateOptions struct {
	CreateExtensions       bool // pgcrypto
	CreateChecks           bool // CHECK-constraint'ы
	CreateIndexes          bool // частичные индексы под формулу доступного остатка
	CreateFKsViaSQL        bool // FK через Exec после AutoMigrate
	CreateUpdatedAtTrigger bool // триггеры updated_at
	CreateLedgerGuard      bool // запрет UPDATE/DELETE в stock_movements
}

func DefaultMigrateOptions() MigrateOptions {
	return MigrateOptions{
		CreateExtensions:       true,
		CreateChecks:           true,
		CreateIndexes:          true,
		CreateFKsViaSQL:        true,
		CreateUpdatedAtTrigger: true,
		CreateLedgerGuard:      true,
	}
}

type step struct {
	name string
	sql  string
}

func run(db *gorm.DB, log *zap.Logger, steps []step) error {
	for _, s := range steps {
		if err := db.Exec(s.sql).Error; err != nil {
			log.Error(s.name, zap.Error(err))
			return err
		}
	}
	return nil
}

// MigrateStockDB готовит схему Postgres: products, inventories, reservations, stock_movements.
func MigrateStockDB(ctx context.Context, db *gorm.DB, log *zap.Logger, opt MigrateOptions) error {
	db = db.WithContext(ctx)
	log.Info("Начало миграции базы остатков")

	if opt.CreateExtensions {
		log.Info("Создание расширений PostgreSQL")
		if err := run(db, log, []step{
			{"pgcrypto error", `CREATE EXTENSION IF NOT EXISTS pgcrypto`},
		}); err != nil {
			return err
		}
		log.Info("Расширения созданы")
	}

	log.Info("Создание таблиц: products, inventories, reservations, stock_movements")
	if err := db.AutoMigrate(&models.Product{}, &models.Inventory{}, &models.Reservation{}, &models.StockMovement{}); err != nil {
		log.Error("AutoMigrate error", zap.Error(err))
		return err
	}
	log.Info("Таблицы созданы")

	if opt.CreateUpdatedAtTrigger {
		log.Info("Создание триггеров updated_at")
		if err := run(db, log, []step{{"triggers error", `
CREATE OR REPLACE FUNCTION set_updated_at() RETURNS trigger AS $$
BEGIN NEW.updated_at = now(); RETURN NEW; END; $$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS trg_products_updated ON products;
CREATE TRIGGER trg_products_updated BEFORE UPDATE ON products
FOR EACH ROW EXECUTE FUNCTION set_updated_at();

DROP TRIGGER IF EXISTS trg_inventories_updated ON inventories;
CREATE TRIGGER trg_inventories_updated BEFORE UPDATE ON inventories
FOR EACH ROW EXECUTE FUNCTION set_updated_at();
`}}); err != nil {
			return err
		}
		log.Info("Триггеры созданы")
	}

	if opt.CreateChecks {
		log.Info("Создание CHECK-ограничений")
		if err := run(db, log, []step{
			{"chk inventories", `
ALTER TABLE inventories
	DROP CONSTRAINT IF EXISTS chk_inventories_on_hand_non_negative,
	ADD CONSTRAINT chk_inventories_on_hand_non_negative
	CHECK (on_hand >= 0);
`},
			{"chk inventories.threshold", `
ALTER TABLE inventories
	DROP CONSTRAINT IF EXISTS chk_inventories_threshold_non_negative,
	ADD CONSTRAINT chk_inventories_threshold_non_negative
	CHECK (low_stock_threshold IS NULL OR low_stock_threshold >= 0);
`},
			{"chk reservations.qty", `
ALTER TABLE reservations
	DROP CONSTRAINT IF EXISTS chk_reservations_quantity_gt_zero,
	ADD CONSTRAINT chk_reservations_quantity_gt_zero
	CHECK (quantity > 0);
`},
			{"chk reservations.expiry", `
ALTER TABLE reservations
	DROP CONSTRAINT IF EXISTS chk_reservations_expires_after_created,
	ADD CONSTRAINT chk_reservations_expires_after_created
	CHECK (expires_at > created_at);
`},
			{"chk reservations.release_reason", `
ALTER TABLE reservations
	DROP CONSTRAINT IF EXISTS chk_reservations_release_reason_allowed,
	ADD CONSTRAINT chk_reservations_release_reason_allowed
	CHECK (release_reason IN ('','released','committed','replaced','expired'));
`},
			{"chk stock_movements.change_type", `
ALTER TABLE stock_movements
	DROP CONSTRAINT IF EXISTS chk_stock_movements_change_type_allowed,
	ADD CONSTRAINT chk_stock_movements_change_type_allowed
	CHECK (change_type IN ('RESERVE','RELEASE','COMMIT','ADJUST'));
`},
		}); err != nil {
			return err
		}
		log.Info("CHECK-и созданы")
	}

	if opt.CreateIndexes {
		log.Info("Создание индексов")
		if err := run(db, log, []step{
			// SUM(quantity) по активным резервам товара
			{"ix reservations active product", `
CREATE INDEX IF NOT EXISTS ix_reservations_active_product
ON reservations (product_id, expires_at)
INCLUDE (quantity)
WHERE is_released = false;
`},
			{"ix reservations active client_order", `
CREATE INDEX IF NOT EXISTS ix_reservations_active_client_order
ON reservations (client_order_id)
WHERE is_released = false;
`},
			{"ux products sku", `
CREATE UNIQUE INDEX IF NOT EXISTS ux_products_sku
ON products (lower(sku));
`},
		}); err != nil {
			return err
		}
		log.Info("Индексы созданы")
	}

	if opt.CreateLedgerGuard {
		log.Info("Защита журнала stock_movements от изменений")
		if err := run(db, log, []step{{"ledger guard", `
CREATE OR REPLACE FUNCTION stock_movements_append_only() RETURNS trigger AS $$
BEGIN RAISE EXCEPTION 'stock_movements is append-only'; END; $$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS trg_stock_movements_append_only ON stock_movements;
CREATE TRIGGER trg_stock_movements_append_only BEFORE UPDATE OR DELETE ON stock_movements
FOR EACH ROW EXECUTE FUNCTION stock_movements_append_only();
`}}); err != nil {
			return err
		}
	}

	if opt.CreateFKsViaSQL {
		log.Info("Создание внешних ключей")
		if err := run(db, log, []step{
			{"fk inventories.product_id", `
ALTER TABLE inventories
  DROP CONSTRAINT IF EXISTS fk_inventories_product,
  ADD CONSTRAINT fk_inventories_product
    FOREIGN KEY (product_id) REFERENCES products(id) ON DELETE CASCADE;
`},
			{"fk reservations.product_id", `
ALTER TABLE reservations
  DROP CONSTRAINT IF EXISTS fk_reservations_product,
  ADD CONSTRAINT fk_reservations_product
    FOREIGN KEY (product_id) REFERENCES products(id) ON DELETE RESTRICT;
`},
			{"fk stock_movements.product_id", `
ALTER TABLE stock_movements
  DROP CONSTRAINT IF EXISTS fk_stock_movements_product,
  ADD CONSTRAINT fk_stock_movements_product
    FOREIGN KEY (product_id) REFERENCES products(id) ON DELETE RESTRICT;
`},
		}); err != nil {
			return err
		}
		log.Info("Внешние ключи созданы")
	}

	log.Info("Миграция базы остатков успешно завершена")
	return nil
}
