package infrastructure

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopline/internal/service/order/domain"
)

func TestMemoryWebshopRepository_ClonesOnReadAndWrite(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryStore().Webshops()
	stock := 10
	ws := &domain.Webshop{ID: "ws1", Products: []domain.Product{{ID: "p1", Stock: &stock}}}
	require.NoError(t, repo.Save(ctx, ws))

	ws.Products[0].UsedStock = 99
	got, err := repo.FindByID(ctx, "ws1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.Products[0].UsedStock)

	got.Products[0].UsedStock = 5
	again, err := repo.FindByID(ctx, "ws1")
	require.NoError(t, err)
	assert.Equal(t, 0, again.Products[0].UsedStock)

	_, err = repo.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrWebshopNotFound)
}

func TestMemoryWebshopRepository_ApplyStockDeltas(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryStore().Webshops()
	seat := domain.Seat{Section: "A", Row: "1", Number: "4"}
	require.NoError(t, repo.Save(ctx, &domain.Webshop{
		ID:        "ws1",
		Products:  []domain.Product{{ID: "p1"}},
		TimeSlots: []domain.TimeSlot{{ID: "s1"}},
	}))

	require.NoError(t, repo.ApplyStockDeltas(ctx, "ws1", []domain.StockDelta{
		{Kind: domain.DeltaProduct, ProductID: "p1", UsedStock: 3, AddSeats: []domain.Seat{seat}},
		{Kind: domain.DeltaTimeSlot, TimeSlotID: "s1", UsedOrders: 1, UsedPersons: 4},
	}))

	got, err := repo.FindByID(ctx, "ws1")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Product("p1").UsedStock)
	assert.True(t, got.Product("p1").HasSeat(seat))
	assert.Equal(t, 1, got.TimeSlot("s1").UsedOrders)
	assert.Equal(t, 4, got.TimeSlot("s1").UsedPersons)

	assert.ErrorIs(t, repo.ApplyStockDeltas(ctx, "missing", nil), domain.ErrWebshopNotFound)
}

func TestMemoryOrderRepository_NumbersAndValidOrders(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryStore().Orders()
	base := time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time { v := base.Add(d); return &v }
	num := func(n int64) *int64 { return &n }

	orders := []*domain.Order{
		{ID: "late", WebshopID: "ws1", ValidAt: at(time.Hour), Number: num(2), CreatedAt: base},
		{ID: "early", WebshopID: "ws1", ValidAt: at(0), Number: num(1), CreatedAt: base},
		{ID: "random", WebshopID: "ws1", ValidAt: at(2 * time.Hour), Number: num(123_456_789), CreatedAt: base},
		{ID: "open", WebshopID: "ws1", CreatedAt: base},
		{ID: "other", WebshopID: "ws2", ValidAt: at(0), Number: num(40), CreatedAt: base, PaymentID: "tr_1"},
	}
	for _, o := range orders {
		require.NoError(t, repo.Save(ctx, o))
	}

	n, ok, err := repo.MaxNumber(ctx, "ws1", 100_000_000)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(2), n)

	_, ok, err = repo.MaxNumber(ctx, "ws3", 100_000_000)
	require.NoError(t, err)
	assert.False(t, ok)

	valid, err := repo.ListValid(ctx, "ws1")
	require.NoError(t, err)
	var ids []string
	for _, o := range valid {
		ids = append(ids, o.ID)
	}
	assert.Equal(t, []string{"early", "late", "random"}, ids)

	byPayment, err := repo.FindByPaymentID(ctx, "tr_1")
	require.NoError(t, err)
	assert.Equal(t, "other", byPayment.ID)
	_, err = repo.FindByPaymentID(ctx, "")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestMemoryTicketRepository_PlanAndSecrets(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryStore().Tickets()
	item := "item-1"
	now := time.Now()

	plan := domain.TicketPlan{Create: []domain.Ticket{
		{ID: "t2", OrderID: "o1", ItemID: &item, Index: 2, Total: 2, Secret: "s2"},
		{ID: "t1", OrderID: "o1", ItemID: &item, Index: 1, Total: 2, Secret: "s1"},
	}}
	require.NoError(t, repo.ApplyPlan(ctx, plan))

	tickets, err := repo.FindByOrder(ctx, "o1")
	require.NoError(t, err)
	require.Len(t, tickets, 2)
	assert.Equal(t, "t1", tickets[0].ID)
	assert.Equal(t, "t2", tickets[1].ID)

	dup := domain.TicketPlan{Create: []domain.Ticket{{ID: "t3", OrderID: "o2", Secret: "s1"}}}
	assert.ErrorIs(t, repo.ApplyPlan(ctx, dup), domain.ErrDuplicateTicket)

	deleted := tickets[1]
	deleted.DeletedAt = &now
	require.NoError(t, repo.ApplyPlan(ctx, domain.TicketPlan{Delete: []domain.Ticket{deleted}}))

	_, err = repo.FindBySecret(ctx, "s2")
	assert.ErrorIs(t, err, domain.ErrTicketNotFound, "soft deleted tickets cannot be scanned")
	found, err := repo.FindBySecret(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "t1", found.ID)

	tickets, err = repo.FindByOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Len(t, tickets, 2, "soft deleted tickets are still returned for merging")
}

func TestTicketMapper_SoftDelete(t *testing.T) {
	deletedAt := time.Date(2025, 3, 1, 20, 0, 0, 0, time.UTC)
	ticket := domain.Ticket{ID: "t1", Secret: "s1", DeletedAt: &deletedAt}

	model := FromDomainTicket(&ticket)
	assert.True(t, model.DeletedAt.Valid)

	back := ToDomainTicket(model)
	require.NotNil(t, back.DeletedAt)
	assert.True(t, deletedAt.Equal(*back.DeletedAt))

	active := ToDomainTicket(FromDomainTicket(&domain.Ticket{ID: "t2"}))
	assert.Nil(t, active.DeletedAt)
}

func TestWebshopMapper_KeepsProductOrder(t *testing.T) {
	ws := &domain.Webshop{ID: "ws1", Products: []domain.Product{{ID: "b"}, {ID: "a"}}}
	model := FromDomainWebshop(ws)
	require.Len(t, model.Products, 2)
	assert.Equal(t, 0, model.Products[0].Position)
	assert.Equal(t, 1, model.Products[1].Position)
	assert.Equal(t, "ws1", model.Products[1].WebshopID)
	back := ToDomainWebshop(model)
	assert.Equal(t, "b", back.Products[0].ID)
	assert.Equal(t, "a", back.Products[1].ID)
}
