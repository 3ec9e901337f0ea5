package infrastructure

import (
	"context"
	"slices"
	"sync"

	"shopline/internal/service/order/domain"
)

// MemoryStore 是三个仓储接口的内存实现，用于本地开发和测试。
// 读写都做深拷贝，调用方拿到的对象和存储互不影响。
type MemoryStore struct {
	mu       sync.RWMutex
	webshops map[string]*domain.Webshop
	orders   map[string]*domain.Order
	tickets  map[string]domain.Ticket
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		webshops: make(map[string]*domain.Webshop),
		orders:   make(map[string]*domain.Order),
		tickets:  make(map[string]domain.Ticket),
	}
}

// Webshops 返回 domain.WebshopRepository 视图
func (m *MemoryStore) Webshops() *MemoryWebshopRepository { return &MemoryWebshopRepository{m} }

func (m *MemoryStore) Orders() *MemoryOrderRepository { return &MemoryOrderRepository{m} }

func (m *MemoryStore) Tickets() *MemoryTicketRepository { return &MemoryTicketRepository{m} }

type MemoryWebshopRepository struct{ s *MemoryStore }

func (r *MemoryWebshopRepository) FindByID(_ context.Context, id string) (*domain.Webshop, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	w, ok := r.s.webshops[id]
	if !ok {
		return nil, domain.ErrWebshopNotFound
	}
	return w.Clone(), nil
}

func (r *MemoryWebshopRepository) Save(_ context.Context, webshop *domain.Webshop) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.webshops[webshop.ID] = webshop.Clone()
	return nil
}

func (r *MemoryWebshopRepository) ApplyStockDeltas(_ context.Context, webshopID string, deltas []domain.StockDelta) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, ok := r.s.webshops[webshopID]
	if !ok {
		return domain.ErrWebshopNotFound
	}
	domain.ApplyDeltas(w, deltas)
	return nil
}

type MemoryOrderRepository struct{ s *MemoryStore }

func (r *MemoryOrderRepository) Save(_ context.Context, order *domain.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.orders[order.ID] = order.Clone()
	return nil
}

func (r *MemoryOrderRepository) FindByID(_ context.Context, id string) (*domain.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	o, ok := r.s.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return o.Clone(), nil
}

func (r *MemoryOrderRepository) FindByPaymentID(_ context.Context, paymentID string) (*domain.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, o := range r.s.orders {
		if paymentID != "" && o.PaymentID == paymentID {
			return o.Clone(), nil
		}
	}
	return nil, domain.ErrOrderNotFound
}

func (r *MemoryOrderRepository) MaxNumber(_ context.Context, webshopID string, below int64) (int64, bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var (
		max   int64
		found bool
	)
	for _, o := range r.s.orders {
		if o.WebshopID != webshopID || o.Number == nil || *o.Number >= below {
			continue
		}
		if !found || *o.Number > max {
			max, found = *o.Number, true
		}
	}
	return max, found, nil
}

func (r *MemoryOrderRepository) ListValid(_ context.Context, webshopID string) ([]*domain.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*domain.Order
	for _, o := range r.s.orders {
		if o.WebshopID == webshopID && o.IsValid() {
			out = append(out, o.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *domain.Order) int {
		if c := a.ValidAt.Compare(*b.ValidAt); c != 0 {
			return c
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

type MemoryTicketRepository struct{ s *MemoryStore }

func (r *MemoryTicketRepository) FindByOrder(_ context.Context, orderID string) ([]domain.Ticket, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.Ticket
	for _, t := range r.s.tickets {
		if t.OrderID == orderID {
			out = append(out, cloneTicket(t))
		}
	}
	slices.SortFunc(out, compareTickets)
	return out, nil
}

func (r *MemoryTicketRepository) FindBySecret(_ context.Context, secret string) (*domain.Ticket, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, t := range r.s.tickets {
		if t.Secret == secret && !t.Deleted() {
			c := cloneTicket(t)
			return &c, nil
		}
	}
	return nil, domain.ErrTicketNotFound
}

func (r *MemoryTicketRepository) Save(_ context.Context, ticket *domain.Ticket) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.tickets[ticket.ID] = cloneTicket(*ticket)
	return nil
}

func (r *MemoryTicketRepository) ApplyPlan(_ context.Context, plan domain.TicketPlan) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range plan.Create {
		if _, ok := r.s.tickets[t.ID]; ok {
			return domain.ErrDuplicateTicket
		}
		for _, existing := range r.s.tickets {
			if existing.Secret == t.Secret {
				return domain.ErrDuplicateTicket
			}
		}
	}
	for _, group := range [][]domain.Ticket{plan.Create, plan.Update, plan.Delete} {
		for _, t := range group {
			r.s.tickets[t.ID] = cloneTicket(t)
		}
	}
	return nil
}

func cloneTicket(t domain.Ticket) domain.Ticket {
	if t.ItemID != nil {
		v := *t.ItemID
		t.ItemID = &v
	}
	if t.Seat != nil {
		v := *t.Seat
		t.Seat = &v
	}
	if t.ScannedAt != nil {
		v := *t.ScannedAt
		t.ScannedAt = &v
	}
	if t.DeletedAt != nil {
		v := *t.DeletedAt
		t.DeletedAt = &v
	}
	return t
}

// compareTickets 按 (ItemID, Index) 排序，保证输出稳定
func compareTickets(a, b domain.Ticket) int {
	ai, bi := "", ""
	if a.ItemID != nil {
		ai = *a.ItemID
	}
	if b.ItemID != nil {
		bi = *b.ItemID
	}
	if ai != bi {
		if ai < bi {
			return -1
		}
		return 1
	}
	return a.Index - b.Index
}
