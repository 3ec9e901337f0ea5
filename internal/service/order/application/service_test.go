package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"shopline/internal/service/order/domain"
	"shopline/internal/service/order/infrastructure"
	"shopline/internal/service/order/numbering"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Send(ctx context.Context, n domain.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

// templates 返回已发送的邮件模板，调用前先 svc.Wait()
func (m *MockNotifier) templates() []domain.NotificationTemplate {
	var out []domain.NotificationTemplate
	for _, call := range m.Calls {
		out = append(out, call.Arguments.Get(1).(domain.Notification).Template)
	}
	return out
}

type stubResolver struct {
	answers []string
	errs    []error
	calls   int
}

func (r *stubResolver) LookupCNAME(_ context.Context, _ string) (string, error) {
	i := min(r.calls, len(r.answers)-1)
	r.calls++
	return r.answers[i], r.errs[i]
}

type fixture struct {
	store    *infrastructure.MemoryStore
	notifier *MockNotifier
	resolver *stubResolver
	svc      *OrderApplicationService
}

func newFixture(t *testing.T, ws *domain.Webshop) *fixture {
	t.Helper()
	store := infrastructure.NewMemoryStore()
	require.NoError(t, store.Webshops().Save(context.Background(), ws))

	notifier := &MockNotifier{}
	notifier.On("Send", mock.Anything, mock.Anything).Return(nil)
	resolver := &stubResolver{}

	orders := store.Orders()
	svc := NewOrderApplicationService(Dependencies{
		Webshops: store.Webshops(),
		Orders:   orders,
		Tickets:  store.Tickets(),
		Numbers:  numbering.NewAssigner(numbering.NewCounter(nil), orders),
		Notifier: notifier,
		Resolver: resolver,
	}, WithDomainCheck("shops.shopline.app", time.Millisecond))
	t.Cleanup(svc.Wait)
	return &fixture{store: store, notifier: notifier, resolver: resolver, svc: svc}
}

func ptr[T any](v T) *T { return &v }

func cart(productID string, productType domain.ProductType, amount int) domain.OrderData {
	return domain.OrderData{
		Cart: domain.Cart{Items: []domain.CartItem{{
			ProductID:   productID,
			ProductName: productID,
			ProductType: productType,
			UnitPrice:   1500,
			Amount:      amount,
		}}},
		Customer:      domain.Customer{FirstName: "Lotte", Email: "lotte@example.com"},
		PaymentMethod: domain.PaymentMethodOnline,
	}
}

func spaghettiShop() *domain.Webshop {
	return &domain.Webshop{
		ID:   "ws1",
		Meta: domain.WebshopMeta{Name: "Spaghettiavond", TicketMode: domain.TicketModeNone},
		Products: []domain.Product{
			{ID: "spaghetti", Name: "Spaghetti", Type: domain.ProductTypeProduct, Price: 1500, Stock: ptr(5)},
		},
	}
}

func ticketShop() *domain.Webshop {
	return &domain.Webshop{
		ID: "ws2",
		Meta: domain.WebshopMeta{
			Name:       "Fuif",
			TicketMode: domain.TicketModePerItem,
			Transfer:   domain.TransferSettings{Type: domain.TransferReference, IBAN: "BE68539007547034", Prefix: "Fuif"},
		},
		Products: []domain.Product{
			{ID: "entry", Name: "Inkom", Type: domain.ProductTypeTicket, Price: 800},
		},
	}
}

func TestPlaceOrder_ConcurrentOrdersRespectStock(t *testing.T) {
	f := newFixture(t, spaghettiShop())
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		soldOut   int
	)
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.PlaceOrder(ctx, &PlaceOrderRequest{WebshopID: "ws1", Data: cart("spaghetti", domain.ProductTypeProduct, 2)})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, domain.ErrProductSoldOut):
				soldOut++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, succeeded)
	assert.Equal(t, 1, soldOut)
	ws, err := f.store.Webshops().FindByID(ctx, "ws1")
	require.NoError(t, err)
	assert.Equal(t, 4, ws.Product("spaghetti").UsedStock)
}

func TestPaymentFailedAndUndo_ReleaseAndRestoreStock(t *testing.T) {
	f := newFixture(t, spaghettiShop())
	ctx := context.Background()

	order, err := f.svc.PlaceOrder(ctx, &PlaceOrderRequest{WebshopID: "ws1", Data: cart("spaghetti", domain.ProductTypeProduct, 3)})
	require.NoError(t, err)
	used := func() int {
		ws, err := f.store.Webshops().FindByID(ctx, "ws1")
		require.NoError(t, err)
		return ws.Product("spaghetti").UsedStock
	}
	assert.Equal(t, 3, used())

	failed, err := f.svc.OnPaymentFailed(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDeleted, failed.Status)
	assert.Equal(t, 0, used())

	// 重复的失败回调不会再释放一次
	_, err = f.svc.OnPaymentFailed(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, used())

	restored, err := f.svc.UndoPaymentFailed(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCreated, restored.Status)
	assert.Equal(t, 3, used())
}

func TestReplaceCart_TransfersReservation(t *testing.T) {
	f := newFixture(t, spaghettiShop())
	ctx := context.Background()

	order, err := f.svc.PlaceOrder(ctx, &PlaceOrderRequest{WebshopID: "ws1", Data: cart("spaghetti", domain.ProductTypeProduct, 4)})
	require.NoError(t, err)

	// 自己占用的 4 份算作可用，所以改成 5 份仍然放得下
	updated, err := f.svc.ReplaceCart(ctx, order.ID, cart("spaghetti", domain.ProductTypeProduct, 5))
	require.NoError(t, err)
	assert.Equal(t, 5, updated.Data.Cart.Items[0].ReservedAmount)

	ws, err := f.store.Webshops().FindByID(ctx, "ws1")
	require.NoError(t, err)
	assert.Equal(t, 5, ws.Product("spaghetti").UsedStock)

	_, err = f.svc.ReplaceCart(ctx, order.ID, cart("spaghetti", domain.ProductTypeProduct, 6))
	assert.ErrorIs(t, err, domain.ErrProductSoldOut)
}

func TestTransferOrder_ValidatedThenPaid(t *testing.T) {
	f := newFixture(t, ticketShop())
	ctx := context.Background()

	data := cart("entry", domain.ProductTypeTicket, 7)
	data.PaymentMethod = domain.PaymentMethodTransfer
	order, err := f.svc.PlaceOrder(ctx, &PlaceOrderRequest{WebshopID: "ws2", Data: data})
	require.NoError(t, err)
	require.True(t, order.IsValid())
	assert.Equal(t, int64(1), *order.Number)
	assert.Equal(t, "Fuif 1", order.Data.TransferDescription)

	tickets, err := f.store.Tickets().FindByOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Empty(t, tickets, "tickets wait for the transfer")
	f.svc.Wait()

	paid, err := f.svc.MarkPaid(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), *paid.Number, "numbers are never reassigned")

	tickets, err = f.store.Tickets().FindByOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, tickets, 7)

	_, plan, err := f.svc.IssueTickets(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, plan.Empty())
	tickets, err = f.store.Tickets().FindByOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, tickets, 7)

	f.svc.Wait()
	assert.Equal(t, []domain.NotificationTemplate{
		domain.TemplateTicketsPendingTransfer,
		domain.TemplateTicketsAvailable,
	}, f.notifier.templates())
}

func TestPointOfSaleOrder_ConfirmedWithTickets(t *testing.T) {
	f := newFixture(t, ticketShop())
	ctx := context.Background()

	data := cart("entry", domain.ProductTypeTicket, 2)
	data.PaymentMethod = domain.PaymentMethodPointOfSale
	order, err := f.svc.PlaceOrder(ctx, &PlaceOrderRequest{WebshopID: "ws2", Data: data})
	require.NoError(t, err)
	assert.True(t, order.IsValid())

	f.svc.Wait()
	require.Len(t, f.notifier.Calls, 1)
	n := f.notifier.Calls[0].Arguments.Get(1).(domain.Notification)
	assert.Equal(t, domain.TemplateTicketsConfirmation, n.Template)
	assert.Equal(t, "2", n.Variables["ticketCount"])
	assert.Equal(t, "lotte@example.com", n.Recipient.Email)
}

func TestMarkValid_MissingIBAN(t *testing.T) {
	ws := ticketShop()
	ws.Meta.Transfer.IBAN = ""
	f := newFixture(t, ws)
	ctx := context.Background()

	data := cart("entry", domain.ProductTypeTicket, 1)
	data.PaymentMethod = domain.PaymentMethodTransfer
	_, err := f.svc.PlaceOrder(ctx, &PlaceOrderRequest{WebshopID: "ws2", Data: data})

	var cfgErr *domain.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "missing_iban", cfgErr.Code)
	assert.Equal(t, "transfer.iban", cfgErr.Field)

	n, ok, err := f.store.Orders().MaxNumber(ctx, "ws2", numbering.UpperBound)
	require.NoError(t, err)
	assert.False(t, ok, "no number is consumed, got %d", n)
}

func TestMarkValid_SecondCallIsNoop(t *testing.T) {
	f := newFixture(t, spaghettiShop())
	ctx := context.Background()

	order, err := f.svc.PlaceOrder(ctx, &PlaceOrderRequest{WebshopID: "ws1", Data: cart("spaghetti", domain.ProductTypeProduct, 1)})
	require.NoError(t, err)

	first, err := f.svc.MarkValid(ctx, order.ID, nil)
	require.NoError(t, err)
	second, err := f.svc.MarkValid(ctx, order.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, *first.Number, *second.Number)
	assert.Equal(t, first.ValidAt, second.ValidAt)

	f.svc.Wait()
	assert.Equal(t, []domain.NotificationTemplate{domain.TemplateOrderConfirmation}, f.notifier.templates())
}

func TestMarkPaid_RestoresDeletedOrder(t *testing.T) {
	f := newFixture(t, spaghettiShop())
	ctx := context.Background()

	order, err := f.svc.PlaceOrder(ctx, &PlaceOrderRequest{WebshopID: "ws1", Data: cart("spaghetti", domain.ProductTypeProduct, 2)})
	require.NoError(t, err)
	_, err = f.svc.OnPaymentFailed(ctx, order.ID)
	require.NoError(t, err)

	paid, err := f.svc.MarkPaid(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCreated, paid.Status)
	assert.True(t, paid.IsValid())

	ws, err := f.store.Webshops().FindByID(ctx, "ws1")
	require.NoError(t, err)
	assert.Equal(t, 2, ws.Product("spaghetti").UsedStock)
}

func TestHandlePaymentEvent_LooksUpByPaymentID(t *testing.T) {
	f := newFixture(t, spaghettiShop())
	ctx := context.Background()

	order, err := f.svc.PlaceOrder(ctx, &PlaceOrderRequest{WebshopID: "ws1", PaymentID: "tr_123", Data: cart("spaghetti", domain.ProductTypeProduct, 1)})
	require.NoError(t, err)

	require.NoError(t, f.svc.HandlePaymentEvent(ctx, &domain.PaymentStatusChanged{PaymentID: "tr_123", Status: domain.PaymentStatusSucceeded}))
	got, err := f.store.Orders().FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, got.IsValid())

	err = f.svc.HandlePaymentEvent(ctx, &domain.PaymentStatusChanged{PaymentID: "unknown", Status: domain.PaymentStatusFailed})
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestScanTicket(t *testing.T) {
	f := newFixture(t, ticketShop())
	ctx := context.Background()

	data := cart("entry", domain.ProductTypeTicket, 1)
	data.PaymentMethod = domain.PaymentMethodPointOfSale
	order, err := f.svc.PlaceOrder(ctx, &PlaceOrderRequest{WebshopID: "ws2", Data: data})
	require.NoError(t, err)
	tickets, err := f.store.Tickets().FindByOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, tickets, 1)

	scanned, err := f.svc.ScanTicket(ctx, tickets[0].Secret, "deur 1")
	require.NoError(t, err)
	assert.Equal(t, "deur 1", scanned.ScannedBy)

	again, err := f.svc.ScanTicket(ctx, tickets[0].Secret, "deur 2")
	assert.ErrorIs(t, err, domain.ErrTicketAlreadyScanned)
	require.NotNil(t, again)
	assert.Equal(t, "deur 1", again.ScannedBy)

	_, err = f.svc.ScanTicket(ctx, "nope", "deur 1")
	assert.ErrorIs(t, err, domain.ErrTicketNotFound)
}

func TestRenumberOrders(t *testing.T) {
	ws := spaghettiShop()
	ws.Products[0].Stock = nil
	f := newFixture(t, ws)
	ctx := context.Background()

	var ids []string
	for range 3 {
		order, err := f.svc.PlaceOrder(ctx, &PlaceOrderRequest{WebshopID: "ws1", Data: cart("spaghetti", domain.ProductTypeProduct, 1)})
		require.NoError(t, err)
		_, err = f.svc.MarkValid(ctx, order.ID, nil)
		require.NoError(t, err)
		ids = append(ids, order.ID)
	}

	// 制造空洞：第二个订单号改成 10
	second, err := f.store.Orders().FindByID(ctx, ids[1])
	require.NoError(t, err)
	second.Number = ptr(int64(10))
	require.NoError(t, f.store.Orders().Save(ctx, second))

	changed, err := f.svc.RenumberOrders(ctx, "ws1")
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	for i, id := range ids {
		o, err := f.store.Orders().FindByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), *o.Number)
	}

	// 计数器缓存已重置，下一个编号接着 3
	order, err := f.svc.PlaceOrder(ctx, &PlaceOrderRequest{WebshopID: "ws1", Data: cart("spaghetti", domain.ProductTypeProduct, 1)})
	require.NoError(t, err)
	order, err = f.svc.MarkValid(ctx, order.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(4), *order.Number)
}

func TestConfirmationTemplate(t *testing.T) {
	online := &domain.Order{Data: domain.OrderData{PaymentMethod: domain.PaymentMethodOnline}}
	transfer := &domain.Order{Data: domain.OrderData{PaymentMethod: domain.PaymentMethodTransfer}}
	none := &domain.Webshop{Meta: domain.WebshopMeta{TicketMode: domain.TicketModeNone}}
	unset := &domain.Webshop{}
	perItem := &domain.Webshop{Meta: domain.WebshopMeta{TicketMode: domain.TicketModePerItem}}

	assert.Equal(t, domain.TemplateTicketsConfirmation, confirmationTemplate(perItem, online, []domain.Ticket{{}}))
	assert.Equal(t, domain.TemplateOrderConfirmation, confirmationTemplate(none, online, nil))
	assert.Equal(t, domain.TemplateOrderConfirmationTransfer, confirmationTemplate(unset, transfer, nil))
	assert.Equal(t, domain.TemplateTicketsPendingTransfer, confirmationTemplate(perItem, transfer, nil))
	assert.Equal(t, domain.TemplateOrderConfirmation, confirmationTemplate(perItem, online, nil))
}

func TestNotify_SkipsCustomersWithoutEmail(t *testing.T) {
	f := newFixture(t, spaghettiShop())
	ctx := context.Background()

	data := cart("spaghetti", domain.ProductTypeProduct, 1)
	data.Customer.Email = ""
	data.PaymentMethod = domain.PaymentMethodPointOfSale
	_, err := f.svc.PlaceOrder(ctx, &PlaceOrderRequest{WebshopID: "ws1", Data: data})
	require.NoError(t, err)

	f.svc.Wait()
	f.notifier.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestCheckDomain(t *testing.T) {
	ws := spaghettiShop()
	ws.Meta.Domain = "shop.spaghetti.be"
	f := newFixture(t, ws)
	ctx := context.Background()

	// 第一次还没传播，重试后指向平台
	f.resolver.answers = []string{"", "Shops.Shopline.App."}
	f.resolver.errs = []error{errors.New("no such host"), nil}
	result, err := f.svc.CheckDomain(ctx, "ws1")
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, 2, f.resolver.calls)

	f.resolver.calls = 0
	f.resolver.answers = []string{"elsewhere.example.com."}
	f.resolver.errs = []error{nil}
	result, err = f.svc.CheckDomain(ctx, "ws1")
	require.NoError(t, err, "a failed check is a partial result")
	assert.False(t, result.Valid)
	assert.Equal(t, "elsewhere.example.com.", result.CNAME)
	assert.NotEmpty(t, result.Error)
	assert.Equal(t, 2, f.resolver.calls)
}

func TestCheckDomain_MissingDomain(t *testing.T) {
	f := newFixture(t, spaghettiShop())
	_, err := f.svc.CheckDomain(context.Background(), "ws1")
	var cfgErr *domain.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "missing_domain", cfgErr.Code)
}

func TestMarkPaid_CanceledOrderGetsNoTickets(t *testing.T) {
	ws := ticketShop()
	ws.Products[0].Stock = ptr(10)
	f := newFixture(t, ws)
	ctx := context.Background()

	data := cart("entry", domain.ProductTypeTicket, 3)
	data.PaymentMethod = domain.PaymentMethodTransfer
	order, err := f.svc.PlaceOrder(ctx, &PlaceOrderRequest{WebshopID: "ws2", Data: data})
	require.NoError(t, err)
	require.Equal(t, int64(1), *order.Number)

	canceled, err := f.svc.OnPaymentFailed(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCanceled, canceled.Status)

	paid, err := f.svc.MarkPaid(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCanceled, paid.Status)

	tickets, err := f.store.Tickets().FindByOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Empty(t, tickets)

	got, err := f.store.Webshops().FindByID(ctx, "ws2")
	require.NoError(t, err)
	assert.Equal(t, 0, got.Product("entry").UsedStock)

	f.svc.Wait()
	assert.Equal(t, []domain.NotificationTemplate{domain.TemplateTicketsPendingTransfer}, f.notifier.templates())
}

func TestScanTicket_RejectedWhileOrderCanceled(t *testing.T) {
	f := newFixture(t, ticketShop())
	ctx := context.Background()

	data := cart("entry", domain.ProductTypeTicket, 1)
	data.PaymentMethod = domain.PaymentMethodPointOfSale
	order, err := f.svc.PlaceOrder(ctx, &PlaceOrderRequest{WebshopID: "ws2", Data: data})
	require.NoError(t, err)
	tickets, err := f.store.Tickets().FindByOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, tickets, 1)

	_, err = f.svc.OnPaymentFailed(ctx, order.ID)
	require.NoError(t, err)

	rejected, err := f.svc.ScanTicket(ctx, tickets[0].Secret, "deur 1")
	assert.ErrorIs(t, err, domain.ErrOrderCanceled)
	require.NotNil(t, rejected)
	assert.Nil(t, rejected.ScannedAt)
	stored, err := f.store.Tickets().FindBySecret(ctx, tickets[0].Secret)
	require.NoError(t, err)
	assert.Nil(t, stored.ScannedAt, "rejected scan is not recorded")

	// 恢复订单后同一张票重新有效
	_, err = f.svc.UndoPaymentFailed(ctx, order.ID)
	require.NoError(t, err)
	scanned, err := f.svc.ScanTicket(ctx, tickets[0].Secret, "deur 1")
	require.NoError(t, err)
	assert.Equal(t, tickets[0].ID, scanned.ID)
	assert.NotNil(t, scanned.ScannedAt)
}

func TestSetStatus_FollowsStockInclusion(t *testing.T) {
	f := newFixture(t, spaghettiShop())
	ctx := context.Background()

	order, err := f.svc.PlaceOrder(ctx, &PlaceOrderRequest{WebshopID: "ws1", Data: cart("spaghetti", domain.ProductTypeProduct, 3)})
	require.NoError(t, err)
	usedStock := func() int {
		ws, err := f.store.Webshops().FindByID(ctx, "ws1")
		require.NoError(t, err)
		return ws.Product("spaghetti").UsedStock
	}
	require.Equal(t, 3, usedStock())

	for _, status := range []domain.Status{domain.StatusPrepared, domain.StatusCollect, domain.StatusCompleted} {
		got, err := f.svc.SetStatus(ctx, order.ID, status)
		require.NoError(t, err)
		assert.Equal(t, status, got.Status)
		assert.Equal(t, 3, usedStock(), "status %s keeps the reservation", status)
	}

	got, err := f.svc.SetStatus(ctx, order.ID, domain.StatusCanceled)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCanceled, got.Status)
	assert.Equal(t, 0, usedStock())

	got, err = f.svc.SetStatus(ctx, order.ID, domain.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Equal(t, 3, usedStock())

	got, err = f.svc.SetStatus(ctx, order.ID, domain.StatusDeleted)
	require.NoError(t, err)
	assert.Equal(t, 0, usedStock())
	assert.Empty(t, got.Data.Customer.Email, "personal data is removed")

	_, err = f.svc.SetStatus(ctx, order.ID, domain.Status("LOST"))
	assert.ErrorIs(t, err, domain.ErrUnknownStatus)
	_, err = f.svc.SetStatus(ctx, "nope", domain.StatusCreated)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestReplaceCart_ResyncsIssuedTickets(t *testing.T) {
	f := newFixture(t, ticketShop())
	ctx := context.Background()

	data := cart("entry", domain.ProductTypeTicket, 3)
	data.PaymentMethod = domain.PaymentMethodPointOfSale
	order, err := f.svc.PlaceOrder(ctx, &PlaceOrderRequest{WebshopID: "ws2", Data: data})
	require.NoError(t, err)
	issued, err := f.store.Tickets().FindByOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, issued, 3)
	ids := map[int]string{}
	for _, tk := range issued {
		ids[tk.Index] = tk.ID
	}

	first, err := f.svc.ScanTicket(ctx, issued[0].Secret, "deur 1")
	require.NoError(t, err)

	resize := func(amount int) {
		t.Helper()
		next := cart("entry", domain.ProductTypeTicket, amount)
		next.Cart.Items[0].ID = order.Data.Cart.Items[0].ID
		_, err := f.svc.ReplaceCart(ctx, order.ID, next)
		require.NoError(t, err)
	}

	resize(2)
	tickets, err := f.store.Tickets().FindByOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, tickets, 3, "reduction keeps the row")
	for _, tk := range tickets {
		assert.Equal(t, ids[tk.Index], tk.ID)
		assert.Equal(t, tk.Index == 3, tk.Deleted(), "ticket %d", tk.Index)
		if !tk.Deleted() {
			assert.Equal(t, 2, tk.Total)
		}
		if tk.ID == first.ID {
			require.NotNil(t, tk.ScannedAt)
			assert.Equal(t, "deur 1", tk.ScannedBy)
		}
	}

	resize(3)
	tickets, err = f.store.Tickets().FindByOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, tickets, 3, "the deleted ticket is revived instead of creating a new one")
	for _, tk := range tickets {
		assert.Equal(t, ids[tk.Index], tk.ID)
		assert.False(t, tk.Deleted())
		assert.Equal(t, 3, tk.Total)
	}

	// 再次合并没有任何变化，也不会新建门票
	_, plan, err := f.svc.IssueTickets(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, plan.Empty())
	assert.False(t, plan.DidCreateNew)
}
