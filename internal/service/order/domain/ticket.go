// internal/service/order/domain/ticket.go
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Ticket 属于订单，但单独持久化以便通过 Secret 查找。
// (ItemID, Index) 是合并键，重复确认同一个订单不会产生重复门票。
type Ticket struct {
	ID        string
	OrderID   string
	WebshopID string
	ItemID    *string // nil 表示整个订单一张票
	Index     int     // 同一商品的门票中从 1 开始的序号
	Total     int
	Seat      *Seat
	Secret    string
	ScannedAt *time.Time
	ScannedBy string
	DeletedAt *time.Time // 软删除，数量恢复时复用同一张票
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ticketKey struct {
	itemID string
	whole  bool
	index  int
}

func (t *Ticket) key() ticketKey {
	if t.ItemID == nil {
		return ticketKey{whole: true, index: t.Index}
	}
	return ticketKey{itemID: *t.ItemID, index: t.Index}
}

func (t *Ticket) Deleted() bool {
	return t.DeletedAt != nil
}

// Scan 记录首次检票，重复检票返回 ErrTicketAlreadyScanned 且不覆盖首次记录
func (t *Ticket) Scan(by string, now time.Time) error {
	if t.Deleted() {
		return ErrTicketNotFound
	}
	if t.ScannedAt != nil {
		return ErrTicketAlreadyScanned
	}
	t.ScannedAt = &now
	t.ScannedBy = by
	t.UpdatedAt = now
	return nil
}

// TicketRule 决定某个购物车行是否生成门票
type TicketRule interface {
	Eligible(item CartItem) (bool, error)
}

// TicketPlan 是门票合并的结果
type TicketPlan struct {
	// Tickets 是合并后订单的全部有效门票
	Tickets []Ticket
	Create  []Ticket
	// Update 包含被修改的和被复用（取消软删除）的门票
	Update []Ticket
	Delete []Ticket
	// DidCreateNew 为 true 表示至少生成了一张全新的门票
	DidCreateNew bool
}

func (p TicketPlan) Empty() bool {
	return len(p.Create) == 0 && len(p.Update) == 0 && len(p.Delete) == 0
}

// TicketIssuer 根据订单购物车计算应当存在的门票，并与已有门票合并
type TicketIssuer struct {
	rule      TicketRule
	now       func() time.Time
	newID     func() string
	newSecret func() string
}

type TicketIssuerOption func(*TicketIssuer)

func WithTicketClock(now func() time.Time) TicketIssuerOption {
	return func(i *TicketIssuer) { i.now = now }
}

func WithTicketIDs(newID, newSecret func() string) TicketIssuerOption {
	return func(i *TicketIssuer) {
		i.newID = newID
		i.newSecret = newSecret
	}
}

// NewTicketIssuer 创建门票签发器；rule 为 nil 时 ticket/voucher 类型的商品生成门票
func NewTicketIssuer(rule TicketRule, opts ...TicketIssuerOption) *TicketIssuer {
	i := &TicketIssuer{
		rule:      rule,
		now:       time.Now,
		newID:     uuid.NewString,
		newSecret: func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Issue 计算订单当前需要的门票，并和 existing（包括软删除的）按 (ItemID, Index) 合并。
// 匹配到的门票只更新 Total 和 Seat，保留 ID、Secret 和检票记录；
// 没有匹配的候选会新建；没有对应候选的已有门票会被软删除。
func (i *TicketIssuer) Issue(w *Webshop, o *Order, existing []Ticket) (TicketPlan, error) {
	candidates, err := i.candidates(w, o)
	if err != nil {
		return TicketPlan{}, err
	}
	now := i.now()

	byKey := make(map[ticketKey]int, len(existing))
	for idx := range existing {
		k := existing[idx].key()
		if prev, ok := byKey[k]; ok && !existing[prev].Deleted() {
			continue
		}
		byKey[k] = idx
	}

	var plan TicketPlan
	matched := make(map[int]bool, len(existing))
	for _, c := range candidates {
		idx, ok := byKey[c.key()]
		if !ok {
			c.ID = i.newID()
			c.Secret = i.newSecret()
			c.CreatedAt = now
			c.UpdatedAt = now
			plan.Create = append(plan.Create, c)
			plan.Tickets = append(plan.Tickets, c)
			plan.DidCreateNew = true
			continue
		}

		matched[idx] = true
		t := existing[idx]
		changed := t.Total != c.Total || !sameSeat(t.Seat, c.Seat) || t.Deleted()
		t.Total = c.Total
		t.Seat = c.Seat
		t.DeletedAt = nil
		if changed {
			t.UpdatedAt = now
			plan.Update = append(plan.Update, t)
		}
		plan.Tickets = append(plan.Tickets, t)
	}

	for idx := range existing {
		t := existing[idx]
		if matched[idx] || t.Deleted() {
			continue
		}
		deletedAt := now
		t.DeletedAt = &deletedAt
		t.UpdatedAt = now
		plan.Delete = append(plan.Delete, t)
	}
	return plan, nil
}

func (i *TicketIssuer) candidates(w *Webshop, o *Order) ([]Ticket, error) {
	switch w.Meta.TicketMode {
	case TicketModeSingle:
		return []Ticket{{OrderID: o.ID, WebshopID: o.WebshopID, Index: 1, Total: 1}}, nil
	case TicketModePerItem:
	default:
		return nil, nil
	}

	var tickets []Ticket
	offsets := map[string]int{}
	for _, item := range o.Data.Cart.Items {
		ok, err := i.eligible(item)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		offset := offsets[item.ProductID]
		total := o.Data.Cart.AmountOf(item.ProductID)
		for n := 0; n < item.Amount; n++ {
			itemID := item.ID
			t := Ticket{
				OrderID:   o.ID,
				WebshopID: o.WebshopID,
				ItemID:    &itemID,
				Index:     offset + n + 1,
				Total:     total,
			}
			if n < len(item.Seats) {
				seat := item.Seats[n]
				t.Seat = &seat
			}
			tickets = append(tickets, t)
		}
		offsets[item.ProductID] = offset + item.Amount
	}
	return tickets, nil
}

func (i *TicketIssuer) eligible(item CartItem) (bool, error) {
	if i.rule != nil {
		return i.rule.Eligible(item)
	}
	return item.ProductType == ProductTypeTicket || item.ProductType == ProductTypeVoucher, nil
}

func sameSeat(a, b *Seat) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
