// internal/service/order/domain/webshop.go
package domain

import (
	"fmt"
	"time"
)

// QueueKey 返回 webshop 共享计数器的串行队列 key。
// 库存、时段、座位和订单号分配都必须在同一个 key 下执行。
func QueueKey(webshopID string) string {
	return "webshop-stock/" + webshopID
}

type ProductType string

const (
	ProductTypeProduct ProductType = "product"
	ProductTypePerson  ProductType = "person" // 计入时段人数
	ProductTypeTicket  ProductType = "ticket"
	ProductTypeVoucher ProductType = "voucher"
)

// Seat 标识座位图上的一个座位
type Seat struct {
	Section string `json:"s"`
	Row     string `json:"r"`
	Number  string `json:"n"`
}

func (s Seat) String() string {
	return fmt.Sprintf("%s/%s/%s", s.Section, s.Row, s.Number)
}

// Product 的 UsedStock 永远不会为负，下溢时截断为 0
type Product struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Type          ProductType `json:"type"`
	Price         int64       `json:"price"`
	Stock         *int        `json:"stock,omitempty"` // nil 表示不限量
	UsedStock     int         `json:"usedStock"`
	ReservedSeats []Seat      `json:"reservedSeats,omitempty"`
}

// RemainingStock 返回剩余库存，limited 为 false 表示不限量
func (p *Product) RemainingStock() (remaining int, limited bool) {
	if p.Stock == nil {
		return 0, false
	}
	return max(0, *p.Stock-p.UsedStock), true
}

func (p *Product) SoldOut() bool {
	remaining, limited := p.RemainingStock()
	return limited && remaining == 0
}

func (p *Product) HasSeat(seat Seat) bool {
	for _, s := range p.ReservedSeats {
		if s == seat {
			return true
		}
	}
	return false
}

// TimeSlot 是取货/入场时段，StartTime 与 EndTime 是一天内的分钟数
type TimeSlot struct {
	ID          string    `json:"id"`
	Date        time.Time `json:"date"`
	StartTime   int       `json:"startTime"`
	EndTime     int       `json:"endTime"`
	MaxOrders   *int      `json:"maxOrders,omitempty"`
	MaxPersons  *int      `json:"maxPersons,omitempty"`
	UsedOrders  int       `json:"usedOrders"`
	UsedPersons int       `json:"usedPersons"`
}

func (t *TimeSlot) RemainingOrders() (remaining int, limited bool) {
	if t.MaxOrders == nil {
		return 0, false
	}
	return max(0, *t.MaxOrders-t.UsedOrders), true
}

func (t *TimeSlot) RemainingPersons() (remaining int, limited bool) {
	if t.MaxPersons == nil {
		return 0, false
	}
	return max(0, *t.MaxPersons-t.UsedPersons), true
}

type TicketMode string

const (
	TicketModeNone    TicketMode = "none"
	TicketModePerItem TicketMode = "tickets" // 每个门票/代金券单位一张
	TicketModeSingle  TicketMode = "single"  // 整个订单一张
)

type NumberingMode string

const (
	NumberingSequential NumberingMode = "sequential"
	NumberingRandom     NumberingMode = "random"
)

type TransferType string

const (
	TransferStructured TransferType = "structured" // 比利时结构化附言 +++xxx/xxxx/xxxxx+++
	TransferReference  TransferType = "reference"  // 前缀 + 订单号
	TransferFixed      TransferType = "fixed"      // 固定文本
)

type TransferSettings struct {
	Type     TransferType `json:"type"`
	IBAN     string       `json:"iban"`
	Creditor string       `json:"creditor"`
	Prefix   string       `json:"prefix"`
	Fixed    string       `json:"fixed"`
}

type WebshopMeta struct {
	Name          string           `json:"name"`
	TicketMode    TicketMode       `json:"ticketMode"`
	NumberingMode NumberingMode    `json:"numberingMode"`
	StartNumber   int64            `json:"startNumber"`
	Transfer      TransferSettings `json:"transfer"`
	Domain        string           `json:"domain,omitempty"`
}

// Webshop 是拥有商品、时段和库存计数器的聚合根
type Webshop struct {
	ID             string
	OrganizationID string
	Meta           WebshopMeta
	Products       []Product
	TimeSlots      []TimeSlot
	UpdatedAt      time.Time
}

// Product 按 ID 查找商品，返回的指针指向 w 内部，修改会作用在 w 上
func (w *Webshop) Product(id string) *Product {
	for i := range w.Products {
		if w.Products[i].ID == id {
			return &w.Products[i]
		}
	}
	return nil
}

func (w *Webshop) TimeSlot(id string) *TimeSlot {
	if id == "" {
		return nil
	}
	for i := range w.TimeSlots {
		if w.TimeSlots[i].ID == id {
			return &w.TimeSlots[i]
		}
	}
	return nil
}

// Clone 深拷贝，账本在拷贝上计算新快照
func (w *Webshop) Clone() *Webshop {
	c := *w
	c.Products = make([]Product, len(w.Products))
	for i, p := range w.Products {
		if p.Stock != nil {
			stock := *p.Stock
			p.Stock = &stock
		}
		p.ReservedSeats = append([]Seat(nil), p.ReservedSeats...)
		c.Products[i] = p
	}
	c.TimeSlots = make([]TimeSlot, len(w.TimeSlots))
	for i, t := range w.TimeSlots {
		if t.MaxOrders != nil {
			v := *t.MaxOrders
			t.MaxOrders = &v
		}
		if t.MaxPersons != nil {
			v := *t.MaxPersons
			t.MaxPersons = &v
		}
		c.TimeSlots[i] = t
	}
	return &c
}
