// internal/service/order/domain/order.go
package domain

import (
	"time"

	"github.com/google/uuid"
)

// CartItem 是订单里的一行。ReservedAmount/ReservedSeats 记录已经计入
// 商品库存的部分，是账本幂等的依据。
type CartItem struct {
	ID             string      `json:"id"`
	ProductID      string      `json:"productId"`
	ProductName    string      `json:"productName"`
	ProductType    ProductType `json:"productType"`
	UnitPrice      int64       `json:"unitPrice"`
	Amount         int         `json:"amount"`
	ReservedAmount int         `json:"reservedAmount"`
	Seats          []Seat      `json:"seats,omitempty"`
	ReservedSeats  []Seat      `json:"reservedSeats,omitempty"`
}

type Cart struct {
	Items []CartItem `json:"items"`
}

// Persons 是 person 类型商品的总数量，用于时段人数限制
func (c Cart) Persons() int {
	n := 0
	for _, item := range c.Items {
		if item.ProductType == ProductTypePerson {
			n += item.Amount
		}
	}
	return n
}

// AmountOf 返回购物车中某个商品所有行的数量之和
func (c Cart) AmountOf(productID string) int {
	n := 0
	for _, item := range c.Items {
		if item.ProductID == productID {
			n += item.Amount
		}
	}
	return n
}

func (c Cart) Price() int64 {
	var total int64
	for _, item := range c.Items {
		total += item.UnitPrice * int64(item.Amount)
	}
	return total
}

func (c Cart) Clone() Cart {
	items := make([]CartItem, len(c.Items))
	for i, item := range c.Items {
		item.Seats = append([]Seat(nil), item.Seats...)
		item.ReservedSeats = append([]Seat(nil), item.ReservedSeats...)
		items[i] = item
	}
	return Cart{Items: items}
}

type Customer struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
}

func (c Customer) Name() string {
	switch {
	case c.FirstName == "":
		return c.LastName
	case c.LastName == "":
		return c.FirstName
	}
	return c.FirstName + " " + c.LastName
}

// OrderData 是订单私有的快照，不引用 webshop 里的 Product/TimeSlot，方便前后比较
type OrderData struct {
	Cart                Cart          `json:"cart"`
	Customer            Customer      `json:"customer"`
	TimeSlotID          string        `json:"timeSlotId,omitempty"`
	ReservedOrder       bool          `json:"reservedOrder"`
	ReservedPersons     int           `json:"reservedPersons"`
	PaymentMethod       PaymentMethod `json:"paymentMethod"`
	TransferDescription string        `json:"transferDescription,omitempty"`
}

func (d OrderData) Clone() OrderData {
	c := d
	c.Cart = d.Cart.Clone()
	return c
}

// Order 是订单聚合的根实体
type Order struct {
	ID        string
	WebshopID string
	PaymentID string
	Status    Status
	ValidAt   *time.Time
	Number    *int64 // 只在 MarkValid 时分配一次，之后永不重分配
	Data      OrderData
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewOrder 创建一个新的订单，购物车上的预留标记会被清空
func NewOrder(webshopID string, data OrderData, now time.Time) *Order {
	data = data.Clone()
	data.ReservedOrder = false
	data.ReservedPersons = 0
	for i := range data.Cart.Items {
		if data.Cart.Items[i].ID == "" {
			data.Cart.Items[i].ID = uuid.NewString()
		}
		data.Cart.Items[i].ReservedAmount = 0
		data.Cart.Items[i].ReservedSeats = nil
	}
	return &Order{
		ID:        uuid.NewString(),
		WebshopID: webshopID,
		Status:    StatusCreated,
		Data:      data,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (o *Order) Clone() *Order {
	c := *o
	if o.ValidAt != nil {
		v := *o.ValidAt
		c.ValidAt = &v
	}
	if o.Number != nil {
		n := *o.Number
		c.Number = &n
	}
	c.Data = o.Data.Clone()
	return &c
}

func (o *Order) IncludesStock() bool {
	return o.Status.IncludesStock()
}

func (o *Order) IsValid() bool {
	return o.ValidAt != nil
}

// FailPayment 只在订单仍占用库存时生效：已有订单号则取消，否则删除。
// 返回 false 表示什么都没做。
func (o *Order) FailPayment(now time.Time) bool {
	if !o.IncludesStock() {
		return false
	}
	if o.Number != nil {
		o.Status = StatusCanceled
	} else {
		o.Status = StatusDeleted
	}
	o.UpdatedAt = now
	return true
}

// UndoFailedPayment 撤销付款失败，只允许从 CANCELED/DELETED 回到 CREATED
func (o *Order) UndoFailedPayment(now time.Time) error {
	if o.IncludesStock() {
		return ErrInvalidTransition
	}
	o.Status = StatusCreated
	o.UpdatedAt = now
	return nil
}

// SetStatus 由商家直接设置状态，库存的变化交给账本处理。
// 设置为 DELETED 时清除客户的个人信息。
func (o *Order) SetStatus(status Status, now time.Time) error {
	if !status.Known() {
		return ErrUnknownStatus
	}
	o.Status = status
	if status == StatusDeleted {
		o.Data.Customer = Customer{}
	}
	o.UpdatedAt = now
	return nil
}

// Validate 标记订单为已确认并写入订单号。已确认的订单返回 ErrAlreadyValid。
func (o *Order) Validate(now time.Time, number int64) error {
	if o.ValidAt != nil {
		return ErrAlreadyValid
	}
	validAt := now.Truncate(time.Second)
	o.ValidAt = &validAt
	if o.Number == nil {
		o.Number = &number
	}
	o.UpdatedAt = now
	return nil
}

// ReplaceData 用新的购物车/客户数据替换订单数据并返回旧快照。
// 新购物车不带预留标记，账本会先撤销旧快照的预留再重新计入。
func (o *Order) ReplaceData(data OrderData, now time.Time) OrderData {
	previous := o.Data
	data = data.Clone()
	data.ReservedOrder = false
	data.ReservedPersons = 0
	data.PaymentMethod = previous.PaymentMethod
	data.TransferDescription = previous.TransferDescription
	for i := range data.Cart.Items {
		if data.Cart.Items[i].ID == "" {
			data.Cart.Items[i].ID = uuid.NewString()
		}
		data.Cart.Items[i].ReservedAmount = 0
		data.Cart.Items[i].ReservedSeats = nil
	}
	o.Data = data
	o.UpdatedAt = now
	return previous
}
