package infrastructure

import (
	"time"

	"gorm.io/gorm"

	"shopline/internal/service/order/domain"
)

// WebshopModel 对应数据库中的 webshop 表，商品和时段各自一张表，方便按行原子地更新计数器
type WebshopModel struct {
	ID             string             `gorm:"primaryKey;type:varchar(36)"`
	OrganizationID string             `gorm:"type:varchar(36);index"`
	Meta           domain.WebshopMeta `gorm:"serializer:json;type:json"`
	Products       []ProductModel     `gorm:"foreignKey:WebshopID"`
	TimeSlots      []TimeSlotModel    `gorm:"foreignKey:WebshopID"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (WebshopModel) TableName() string {
	return "webshop"
}

// ProductModel 对应 webshop_product 表
type ProductModel struct {
	WebshopID     string             `gorm:"primaryKey;type:varchar(36)"`
	ID            string             `gorm:"primaryKey;type:varchar(36)"`
	Position      int                // 保持商品在 webshop 中的顺序
	Name          string
	Type          domain.ProductType `gorm:"type:varchar(16)"`
	Price         int64
	Stock         *int
	UsedStock     int
	ReservedSeats []domain.Seat `gorm:"serializer:json;type:json"`
}

func (ProductModel) TableName() string {
	return "webshop_product"
}

// TimeSlotModel 对应 webshop_time_slot 表
type TimeSlotModel struct {
	WebshopID   string `gorm:"primaryKey;type:varchar(36)"`
	ID          string `gorm:"primaryKey;type:varchar(36)"`
	Position    int
	Date        time.Time
	StartTime   int
	EndTime     int
	MaxOrders   *int
	MaxPersons  *int
	UsedOrders  int
	UsedPersons int
}

func (TimeSlotModel) TableName() string {
	return "webshop_time_slot"
}

// OrderModel 对应 webshop_order 表。number 上的索引用于 max(number) 扫描。
type OrderModel struct {
	ID        string           `gorm:"primaryKey;type:varchar(36)"`
	WebshopID string           `gorm:"type:varchar(36);index:idx_webshop_number,priority:1;index:idx_webshop_valid,priority:1"`
	PaymentID string           `gorm:"type:varchar(64);index"`
	Status    domain.Status    `gorm:"type:varchar(16)"`
	ValidAt   *time.Time       `gorm:"index:idx_webshop_valid,priority:2"`
	Number    *int64           `gorm:"index:idx_webshop_number,priority:2"`
	Data      domain.OrderData `gorm:"serializer:json;type:json"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (OrderModel) TableName() string {
	return "webshop_order"
}

// TicketModel 对应 webshop_ticket 表，软删除使用 gorm.DeletedAt
type TicketModel struct {
	ID        string       `gorm:"primaryKey;type:varchar(36)"`
	OrderID   string       `gorm:"type:varchar(36);index"`
	WebshopID string       `gorm:"type:varchar(36)"`
	ItemID    *string      `gorm:"type:varchar(36)"`
	Index     int          `gorm:"column:ticket_index"`
	Total     int
	Seat      *domain.Seat `gorm:"serializer:json;type:json"`
	Secret    string       `gorm:"type:varchar(64);uniqueIndex"`
	ScannedAt *time.Time
	ScannedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

func (TicketModel) TableName() string {
	return "webshop_ticket"
}

// AutoMigrate 创建或更新订单服务的表结构
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&WebshopModel{}, &ProductModel{}, &TimeSlotModel{}, &OrderModel{}, &TicketModel{})
}
