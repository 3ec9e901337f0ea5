package infrastructure

import (
	"context"
	"database/sql"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"shopline/internal/service/order/domain"
)

// mysqlDuplicateEntry 是 MySQL 唯一键冲突的错误码
const mysqlDuplicateEntry = 1062

// GormWebshopRepository 是 WebshopRepository 的 GORM 实现
type GormWebshopRepository struct {
	db *gorm.DB
}

func NewGormWebshopRepository(db *gorm.DB) *GormWebshopRepository {
	return &GormWebshopRepository{db: db}
}

func (r *GormWebshopRepository) FindByID(ctx context.Context, id string) (*domain.Webshop, error) {
	var model WebshopModel
	err := r.db.WithContext(ctx).
		Preload("Products", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Preload("TimeSlots", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrWebshopNotFound
		}
		return nil, errors.Wrapf(err, "load webshop %s", id)
	}
	return ToDomainWebshop(&model), nil
}

// Save 整体保存 webshop，包括商品和时段；已经不存在的商品和时段会被删除
func (r *GormWebshopRepository) Save(ctx context.Context, webshop *domain.Webshop) error {
	model := FromDomainWebshop(webshop)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{FullSaveAssociations: true}).Save(model).Error; err != nil {
			return errors.Wrapf(err, "save webshop %s", webshop.ID)
		}

		productIDs := make([]string, 0, len(webshop.Products))
		for _, p := range webshop.Products {
			productIDs = append(productIDs, p.ID)
		}
		stale := tx.Where("webshop_id = ?", webshop.ID)
		if len(productIDs) > 0 {
			stale = stale.Where("id NOT IN ?", productIDs)
		}
		if err := stale.Delete(&ProductModel{}).Error; err != nil {
			return errors.Wrap(err, "delete stale products")
		}

		slotIDs := make([]string, 0, len(webshop.TimeSlots))
		for _, t := range webshop.TimeSlots {
			slotIDs = append(slotIDs, t.ID)
		}
		stale = tx.Where("webshop_id = ?", webshop.ID)
		if len(slotIDs) > 0 {
			stale = stale.Where("id NOT IN ?", slotIDs)
		}
		return errors.Wrap(stale.Delete(&TimeSlotModel{}).Error, "delete stale time slots")
	})
}

// ApplyStockDeltas 在一个事务里应用所有增量。计数器用 GREATEST(... , 0) 截断，
// 座位集合先对商品行加锁再读改写。
func (r *GormWebshopRepository) ApplyStockDeltas(ctx context.Context, webshopID string, deltas []domain.StockDelta) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, d := range deltas {
			var err error
			switch d.Kind {
			case domain.DeltaProduct:
				err = applyProductDelta(tx, webshopID, d)
			case domain.DeltaTimeSlot:
				err = applyTimeSlotDelta(tx, webshopID, d)
			default:
				err = errors.Errorf("unknown delta kind %q", d.Kind)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// applyProductDelta 先对商品行加锁确认它存在，再更新计数器和座位。
// MySQL 的 RowsAffected 只统计真正被修改的行，GREATEST 截断后值不变时为 0，不能用来判断行是否存在。
func applyProductDelta(tx *gorm.DB, webshopID string, d domain.StockDelta) error {
	var product ProductModel
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("webshop_id = ? AND id = ?", webshopID, d.ProductID).
		First(&product).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Warn().Str("webshop", webshopID).Str("product", d.ProductID).Msg("stock delta for missing product skipped")
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "lock product %s", d.ProductID)
	}

	if d.UsedStock != 0 {
		err := tx.Model(&ProductModel{}).
			Where("webshop_id = ? AND id = ?", webshopID, d.ProductID).
			Update("used_stock", gorm.Expr("GREATEST(used_stock + ?, 0)", d.UsedStock)).Error
		if err != nil {
			return errors.Wrapf(err, "update used stock of product %s", d.ProductID)
		}
	}
	if len(d.AddSeats) == 0 && len(d.RemoveSeats) == 0 {
		return nil
	}

	// 座位集合的合并规则和内存快照保持一致
	scratch := &domain.Webshop{Products: []domain.Product{{ID: product.ID, ReservedSeats: product.ReservedSeats}}}
	domain.ApplyDeltas(scratch, []domain.StockDelta{{
		Kind:        domain.DeltaProduct,
		ProductID:   product.ID,
		AddSeats:    d.AddSeats,
		RemoveSeats: d.RemoveSeats,
	}})
	err = tx.Model(&ProductModel{}).
		Where("webshop_id = ? AND id = ?", webshopID, d.ProductID).
		Select("ReservedSeats").
		Updates(&ProductModel{ReservedSeats: scratch.Products[0].ReservedSeats}).Error
	return errors.Wrapf(err, "update reserved seats of product %s", d.ProductID)
}

func applyTimeSlotDelta(tx *gorm.DB, webshopID string, d domain.StockDelta) error {
	var slot TimeSlotModel
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("webshop_id = ? AND id = ?", webshopID, d.TimeSlotID).
		First(&slot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Warn().Str("webshop", webshopID).Str("timeSlot", d.TimeSlotID).Msg("delta for missing time slot skipped")
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "lock time slot %s", d.TimeSlotID)
	}

	err = tx.Model(&TimeSlotModel{}).
		Where("webshop_id = ? AND id = ?", webshopID, d.TimeSlotID).
		Updates(map[string]interface{}{
			"used_orders":  gorm.Expr("GREATEST(used_orders + ?, 0)", d.UsedOrders),
			"used_persons": gorm.Expr("GREATEST(used_persons + ?, 0)", d.UsedPersons),
		}).Error
	return errors.Wrapf(err, "update time slot %s", d.TimeSlotID)
}

// GormOrderRepository 是 OrderRepository 的 GORM 实现
type GormOrderRepository struct {
	db *gorm.DB
}

func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

func (r *GormOrderRepository) Save(ctx context.Context, order *domain.Order) error {
	err := r.db.WithContext(ctx).Save(FromDomainOrder(order)).Error
	return errors.Wrapf(err, "save order %s", order.ID)
}

func (r *GormOrderRepository) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	return r.findOne(ctx, "id = ?", id)
}

func (r *GormOrderRepository) FindByPaymentID(ctx context.Context, paymentID string) (*domain.Order, error) {
	if paymentID == "" {
		return nil, domain.ErrOrderNotFound
	}
	return r.findOne(ctx, "payment_id = ?", paymentID)
}

func (r *GormOrderRepository) findOne(ctx context.Context, query string, arg string) (*domain.Order, error) {
	var model OrderModel
	err := r.db.WithContext(ctx).Where(query, arg).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, errors.Wrap(err, "load order")
	}
	return ToDomainOrder(&model), nil
}

func (r *GormOrderRepository) MaxNumber(ctx context.Context, webshopID string, below int64) (int64, bool, error) {
	var max sql.NullInt64
	err := r.db.WithContext(ctx).Model(&OrderModel{}).
		Where("webshop_id = ? AND number IS NOT NULL AND number < ?", webshopID, below).
		Select("MAX(number)").
		Scan(&max).Error
	if err != nil {
		return 0, false, errors.Wrapf(err, "scan max number of webshop %s", webshopID)
	}
	return max.Int64, max.Valid, nil
}

func (r *GormOrderRepository) ListValid(ctx context.Context, webshopID string) ([]*domain.Order, error) {
	var models []OrderModel
	err := r.db.WithContext(ctx).
		Where("webshop_id = ? AND valid_at IS NOT NULL", webshopID).
		Order("valid_at, created_at").
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrapf(err, "list valid orders of webshop %s", webshopID)
	}
	orders := make([]*domain.Order, len(models))
	for i := range models {
		orders[i] = ToDomainOrder(&models[i])
	}
	return orders, nil
}

// GormTicketRepository 是 TicketRepository 的 GORM 实现
type GormTicketRepository struct {
	db *gorm.DB
}

func NewGormTicketRepository(db *gorm.DB) *GormTicketRepository {
	return &GormTicketRepository{db: db}
}

// FindByOrder 返回包括软删除在内的全部门票，签发器需要它们来复用
func (r *GormTicketRepository) FindByOrder(ctx context.Context, orderID string) ([]domain.Ticket, error) {
	var models []TicketModel
	err := r.db.WithContext(ctx).Unscoped().
		Where("order_id = ?", orderID).
		Order("item_id, ticket_index").
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrapf(err, "load tickets of order %s", orderID)
	}
	tickets := make([]domain.Ticket, len(models))
	for i := range models {
		tickets[i] = ToDomainTicket(&models[i])
	}
	return tickets, nil
}

func (r *GormTicketRepository) FindBySecret(ctx context.Context, secret string) (*domain.Ticket, error) {
	var model TicketModel
	err := r.db.WithContext(ctx).Where("secret = ?", secret).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrTicketNotFound
		}
		return nil, errors.Wrap(err, "load ticket")
	}
	t := ToDomainTicket(&model)
	return &t, nil
}

func (r *GormTicketRepository) Save(ctx context.Context, ticket *domain.Ticket) error {
	err := r.db.WithContext(ctx).Unscoped().Save(FromDomainTicket(ticket)).Error
	return errors.Wrapf(err, "save ticket %s", ticket.ID)
}

// ApplyPlan 在一个事务里写入门票合并结果，secret 冲突返回 domain.ErrDuplicateTicket
func (r *GormTicketRepository) ApplyPlan(ctx context.Context, plan domain.TicketPlan) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(plan.Create) > 0 {
			models := make([]*TicketModel, len(plan.Create))
			for i := range plan.Create {
				models[i] = FromDomainTicket(&plan.Create[i])
			}
			if err := tx.Create(models).Error; err != nil {
				if isDuplicateEntry(err) {
					return domain.ErrDuplicateTicket
				}
				return errors.Wrap(err, "create tickets")
			}
		}
		for _, group := range [][]domain.Ticket{plan.Update, plan.Delete} {
			for i := range group {
				if err := tx.Unscoped().Save(FromDomainTicket(&group[i])).Error; err != nil {
					return errors.Wrapf(err, "save ticket %s", group[i].ID)
				}
			}
		}
		return nil
	})
}

func isDuplicateEntry(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry
}
