package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }

func testWebshop() *Webshop {
	return &Webshop{
		ID: "ws-1",
		Meta: WebshopMeta{
			Name:       "Spaghettiavond",
			TicketMode: TicketModeNone,
		},
		Products: []Product{
			{ID: "spaghetti", Name: "Spaghetti", Type: ProductTypeProduct, Stock: intPtr(100)},
			{ID: "adult", Name: "Volwassene", Type: ProductTypePerson},
			{ID: "entry", Name: "Ticket", Type: ProductTypeTicket, Stock: intPtr(10)},
		},
		TimeSlots: []TimeSlot{
			{ID: "slot1", StartTime: 18 * 60, EndTime: 19 * 60, MaxOrders: intPtr(50)},
			{ID: "slot2", StartTime: 19 * 60, EndTime: 20 * 60},
		},
	}
}

func item(id, productID string, typ ProductType, amount int) CartItem {
	return CartItem{ID: id, ProductID: productID, ProductType: typ, Amount: amount}
}

func newTestOrder(slot string, items ...CartItem) *Order {
	return NewOrder("ws-1", OrderData{
		Cart:       Cart{Items: items},
		Customer:   Customer{FirstName: "Jan", LastName: "Peeters", Email: "jan@example.com"},
		TimeSlotID: slot,
	}, now)
}

// persist 模拟仓储：把增量应用到 webshop 上并返回新的订单快照
func persist(t *testing.T, ws *Webshop, res StockResult) *Order {
	t.Helper()
	ApplyDeltas(ws, res.Deltas)
	for i := range ws.Products {
		assert.Equal(t, res.Webshop.Products[i].UsedStock, ws.Products[i].UsedStock, "deltas must reproduce snapshot for %s", ws.Products[i].ID)
		assert.ElementsMatch(t, res.Webshop.Products[i].ReservedSeats, ws.Products[i].ReservedSeats)
	}
	for i := range ws.TimeSlots {
		assert.Equal(t, res.Webshop.TimeSlots[i].UsedOrders, ws.TimeSlots[i].UsedOrders)
		assert.Equal(t, res.Webshop.TimeSlots[i].UsedPersons, ws.TimeSlots[i].UsedPersons)
	}
	return res.Order
}

func TestApplyStock_NewOrderReservesStockAndSlot(t *testing.T) {
	ws := testWebshop()
	order := newTestOrder("slot1", item("i1", "spaghetti", ProductTypeProduct, 5))

	res := ApplyStock(ws, order, nil)
	require.True(t, res.Changed)
	order = persist(t, ws, res)

	assert.Equal(t, 5, ws.Product("spaghetti").UsedStock)
	assert.Equal(t, 1, ws.TimeSlot("slot1").UsedOrders)
	assert.Equal(t, 0, ws.TimeSlot("slot1").UsedPersons)
	assert.Equal(t, 5, order.Data.Cart.Items[0].ReservedAmount)
	assert.True(t, order.Data.ReservedOrder)
	assert.Equal(t, 0, order.Data.ReservedPersons)
}

func TestApplyStock_IsIdempotent(t *testing.T) {
	ws := testWebshop()
	order := newTestOrder("slot1",
		item("i1", "spaghetti", ProductTypeProduct, 5),
		item("i2", "adult", ProductTypePerson, 2),
	)
	order = persist(t, ws, ApplyStock(ws, order, nil))

	again := ApplyStock(ws, order, nil)
	assert.False(t, again.Changed)
	assert.Empty(t, again.Deltas)
	assert.Equal(t, 5, again.Webshop.Product("spaghetti").UsedStock)
}

func TestApplyStock_DoesNotMutateInputs(t *testing.T) {
	ws := testWebshop()
	order := newTestOrder("slot1", CartItem{
		ID: "i1", ProductID: "entry", ProductType: ProductTypeTicket, Amount: 1,
		Seats: []Seat{{Section: "A", Row: "1", Number: "1"}},
	})

	res := ApplyStock(ws, order, nil)
	require.True(t, res.Changed)

	assert.Equal(t, 0, ws.Product("entry").UsedStock)
	assert.Empty(t, ws.Product("entry").ReservedSeats)
	assert.Equal(t, 0, order.Data.Cart.Items[0].ReservedAmount)
	assert.False(t, order.Data.ReservedOrder)
	assert.Equal(t, 1, res.Webshop.Product("entry").UsedStock)
}

func TestApplyStock_PersonProductsCountTowardsSlot(t *testing.T) {
	ws := testWebshop()
	order := newTestOrder("slot1", item("i1", "adult", ProductTypePerson, 2))

	order = persist(t, ws, ApplyStock(ws, order, nil))

	assert.Equal(t, 1, ws.TimeSlot("slot1").UsedOrders)
	assert.Equal(t, 2, ws.TimeSlot("slot1").UsedPersons)
	assert.Equal(t, 2, order.Data.ReservedPersons)
}

func TestApplyStock_RemovingItemReleasesStock(t *testing.T) {
	ws := testWebshop()
	order := newTestOrder("slot1",
		item("i1", "spaghetti", ProductTypeProduct, 5),
		item("i2", "adult", ProductTypePerson, 2),
	)
	order = persist(t, ws, ApplyStock(ws, order, nil))

	edited := order.Clone()
	previous := edited.ReplaceData(OrderData{
		Cart:       Cart{Items: []CartItem{item("i2", "adult", ProductTypePerson, 2)}},
		Customer:   order.Data.Customer,
		TimeSlotID: "slot1",
	}, now)

	res := ApplyStock(ws, edited, &previous)
	require.True(t, res.Changed)
	persist(t, ws, res)

	assert.Equal(t, 0, ws.Product("spaghetti").UsedStock)
	assert.Equal(t, 1, ws.TimeSlot("slot1").UsedOrders)
	assert.Equal(t, 2, ws.TimeSlot("slot1").UsedPersons)
}

func TestApplyStock_ChangingAmountAdjustsStock(t *testing.T) {
	ws := testWebshop()
	order := newTestOrder("slot1", item("i1", "spaghetti", ProductTypeProduct, 5))
	order = persist(t, ws, ApplyStock(ws, order, nil))

	edited := order.Clone()
	previous := edited.ReplaceData(OrderData{
		Cart:       Cart{Items: []CartItem{item("i1", "spaghetti", ProductTypeProduct, 3)}},
		TimeSlotID: "slot1",
	}, now)
	res := ApplyStock(ws, edited, &previous)
	edited = persist(t, ws, res)

	assert.Equal(t, 3, ws.Product("spaghetti").UsedStock)
	assert.Equal(t, 3, edited.Data.Cart.Items[0].ReservedAmount)
	assert.Equal(t, 1, ws.TimeSlot("slot1").UsedOrders, "same slot must not be counted twice")

	// 用释放后的旧快照重复执行不会再改变任何东西
	again := ApplyStock(ws, edited, res.Previous)
	assert.False(t, again.Changed)
	assert.Empty(t, again.Deltas)
}

func TestApplyStock_ChangingTimeSlotMovesReservation(t *testing.T) {
	ws := testWebshop()
	order := newTestOrder("slot1",
		item("i1", "spaghetti", ProductTypeProduct, 5),
		item("i2", "adult", ProductTypePerson, 2),
	)
	order = persist(t, ws, ApplyStock(ws, order, nil))

	edited := order.Clone()
	previous := edited.ReplaceData(OrderData{
		Cart:       order.Data.Cart,
		TimeSlotID: "slot2",
	}, now)
	edited = persist(t, ws, ApplyStock(ws, edited, &previous))

	assert.Equal(t, 0, ws.TimeSlot("slot1").UsedOrders)
	assert.Equal(t, 0, ws.TimeSlot("slot1").UsedPersons)
	assert.Equal(t, 1, ws.TimeSlot("slot2").UsedOrders)
	assert.Equal(t, 2, ws.TimeSlot("slot2").UsedPersons)
	assert.Equal(t, 5, ws.Product("spaghetti").UsedStock)
	assert.True(t, edited.Data.ReservedOrder)
}

func TestApplyStock_CancelAndUndoRoundTrip(t *testing.T) {
	ws := testWebshop()
	ws.Product("spaghetti").UsedStock = 7 // 其他订单
	order := newTestOrder("slot1",
		item("i1", "spaghetti", ProductTypeProduct, 5),
		item("i2", "adult", ProductTypePerson, 3),
	)
	order = persist(t, ws, ApplyStock(ws, order, nil))
	require.Equal(t, 12, ws.Product("spaghetti").UsedStock)

	require.True(t, order.FailPayment(now))
	assert.Equal(t, StatusDeleted, order.Status)
	order = persist(t, ws, ApplyStock(ws, order, nil))

	assert.Equal(t, 7, ws.Product("spaghetti").UsedStock)
	assert.Equal(t, 0, ws.TimeSlot("slot1").UsedOrders)
	assert.Equal(t, 0, ws.TimeSlot("slot1").UsedPersons)
	assert.False(t, order.Data.ReservedOrder)

	require.NoError(t, order.UndoFailedPayment(now))
	order = persist(t, ws, ApplyStock(ws, order, nil))

	assert.Equal(t, 12, ws.Product("spaghetti").UsedStock)
	assert.Equal(t, 1, ws.TimeSlot("slot1").UsedOrders)
	assert.Equal(t, 3, ws.TimeSlot("slot1").UsedPersons)
}

func TestApplyStock_ClampsAtZero(t *testing.T) {
	ws := testWebshop()
	ws.Product("spaghetti").UsedStock = 1
	order := newTestOrder("", item("i1", "spaghetti", ProductTypeProduct, 3))
	order.Data.Cart.Items[0].ReservedAmount = 3
	order.Status = StatusCanceled

	res := ApplyStock(ws, order, nil)
	require.True(t, res.Changed)
	assert.Equal(t, 0, res.Webshop.Product("spaghetti").UsedStock)
	assert.Equal(t, 0, res.Order.Data.Cart.Items[0].ReservedAmount)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "clamped usedStock")
}

func TestApplyStock_MissingProductAndSlotAreSkipped(t *testing.T) {
	ws := testWebshop()
	order := newTestOrder("gone-slot",
		item("i1", "deleted-product", ProductTypeProduct, 2),
		item("i2", "spaghetti", ProductTypeProduct, 1),
	)

	res := ApplyStock(ws, order, nil)
	require.True(t, res.Changed)
	assert.Len(t, res.Warnings, 2)
	assert.Equal(t, 0, res.Order.Data.Cart.Items[0].ReservedAmount)
	assert.Equal(t, 1, res.Webshop.Product("spaghetti").UsedStock)
	assert.False(t, res.Order.Data.ReservedOrder)
}

func TestApplyStock_SeatsFollowInclusion(t *testing.T) {
	ws := testWebshop()
	other := Seat{Section: "A", Row: "1", Number: "9"}
	ws.Product("entry").ReservedSeats = []Seat{other}

	seats := []Seat{{Section: "A", Row: "1", Number: "1"}, {Section: "A", Row: "1", Number: "2"}}
	order := newTestOrder("", CartItem{ID: "i1", ProductID: "entry", ProductType: ProductTypeTicket, Amount: 2, Seats: seats})

	order = persist(t, ws, ApplyStock(ws, order, nil))
	assert.ElementsMatch(t, append([]Seat{other}, seats...), ws.Product("entry").ReservedSeats)
	assert.Equal(t, seats, order.Data.Cart.Items[0].ReservedSeats)

	// 重复执行不会产生重复座位
	again := ApplyStock(ws, order, nil)
	assert.False(t, again.Changed)
	assert.Len(t, again.Webshop.Product("entry").ReservedSeats, 3)

	order.FailPayment(now)
	order = persist(t, ws, ApplyStock(ws, order, nil))
	assert.Equal(t, []Seat{other}, ws.Product("entry").ReservedSeats)
	assert.Empty(t, order.Data.Cart.Items[0].ReservedSeats)
}

func TestApplyStock_UsedStockNeverNegative(t *testing.T) {
	ws := testWebshop()
	order := newTestOrder("slot1", item("i1", "spaghetti", ProductTypeProduct, 4))
	order = persist(t, ws, ApplyStock(ws, order, nil))

	// 其他途径把计数器改小了（漂移）
	ws.Product("spaghetti").UsedStock = 1
	ws.TimeSlot("slot1").UsedOrders = 0

	order.FailPayment(now)
	res := ApplyStock(ws, order, nil)
	persist(t, ws, res)

	assert.Equal(t, 0, ws.Product("spaghetti").UsedStock)
	assert.Equal(t, 0, ws.TimeSlot("slot1").UsedOrders)
	assert.NotEmpty(t, res.Warnings)
}
