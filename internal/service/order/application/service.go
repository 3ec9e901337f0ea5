// internal/service/order/application/service.go
package application

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"shopline/internal/pkg/logger"
	"shopline/internal/pkg/metrics"
	"shopline/internal/pkg/serialqueue"
	"shopline/internal/service/order/application/saga"
	"shopline/internal/service/order/domain"
	"shopline/internal/service/order/domain/port"
	"shopline/internal/service/order/numbering"
)

// Dependencies 是应用服务的出站依赖，StockFeed 和 Resolver 可以为 nil
type Dependencies struct {
	Webshops domain.WebshopRepository
	Orders   domain.OrderRepository
	Tickets  domain.TicketRepository
	Queue    *serialqueue.Queue
	Numbers  *numbering.Assigner
	Issuer   *domain.TicketIssuer
	Notifier port.NotificationProducer
	Feed     port.StockFeed
	Resolver port.DomainResolver
}

type Option func(*OrderApplicationService)

func WithTracer(tracer trace.Tracer) Option {
	return func(s *OrderApplicationService) { s.tracer = tracer }
}

func WithClock(now func() time.Time) Option {
	return func(s *OrderApplicationService) { s.now = now }
}

func WithProcessingTimeout(d time.Duration) Option {
	return func(s *OrderApplicationService) { s.processingTimeout = d }
}

// WithDomainCheck 设置域名校验的 CNAME 目标和重试前的等待时间
func WithDomainCheck(target string, delay time.Duration) Option {
	return func(s *OrderApplicationService) {
		s.domainTarget = target
		s.domainCheckDelay = delay
	}
}

// OrderApplicationService 编排订单生命周期：库存账本、确认与编号、门票、通知。
// 所有修改共享计数器的步骤都在 domain.QueueKey(webshopID) 上串行执行。
type OrderApplicationService struct {
	webshops domain.WebshopRepository
	orders   domain.OrderRepository
	tickets  domain.TicketRepository
	queue    *serialqueue.Queue
	numbers  *numbering.Assigner
	issuer   *domain.TicketIssuer
	notifier port.NotificationProducer
	feed     port.StockFeed
	resolver port.DomainResolver

	tracer            trace.Tracer
	now               func() time.Time
	processingTimeout time.Duration
	domainTarget      string
	domainCheckDelay  time.Duration

	// 未完成的异步通知
	pending sync.WaitGroup
}

func NewOrderApplicationService(deps Dependencies, opts ...Option) *OrderApplicationService {
	s := &OrderApplicationService{
		webshops:          deps.Webshops,
		orders:            deps.Orders,
		tickets:           deps.Tickets,
		queue:             deps.Queue,
		numbers:           deps.Numbers,
		issuer:            deps.Issuer,
		notifier:          deps.Notifier,
		feed:              deps.Feed,
		resolver:          deps.Resolver,
		tracer:            otel.Tracer("order-service"),
		now:               time.Now,
		processingTimeout: 30 * time.Second,
		domainCheckDelay:  5 * time.Second,
	}
	if s.queue == nil {
		s.queue = serialqueue.New()
	}
	if s.issuer == nil {
		s.issuer = domain.NewTicketIssuer(nil)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PlaceOrder 在 webshop 队列中做容量检查、创建订单并计入库存，
// 然后按付款方式继续：转账直接确认，现场付款视为已付款，在线付款等待支付回调。
func (s *OrderApplicationService) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "app.PlaceOrder")
	defer span.End()
	span.SetAttributes(attribute.String("webshop.id", req.WebshopID))

	ctx, cancel := context.WithTimeout(ctx, s.processingTimeout)
	defer cancel()

	order, err := serialqueue.Schedule(ctx, s.queue, domain.QueueKey(req.WebshopID), func(ctx context.Context) (*domain.Order, error) {
		ws, err := s.webshops.FindByID(ctx, req.WebshopID)
		if err != nil {
			return nil, err
		}
		order := domain.NewOrder(ws.ID, req.Data, s.now())
		order.PaymentID = req.PaymentID
		if err := domain.CheckAvailability(ws, order.Data, nil); err != nil {
			return nil, err
		}
		return s.reconcile(ctx, ws, order, nil)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to place order")
		return nil, err
	}
	span.SetAttributes(attribute.String("order.id", order.ID))
	logger.Ctx(ctx).Info().Str("order", order.ID).Str("webshop", order.WebshopID).Msg("order placed")

	switch order.Data.PaymentMethod {
	case domain.PaymentMethodTransfer:
		return s.MarkValid(ctx, order.ID, nil)
	case domain.PaymentMethodPointOfSale:
		return s.MarkPaid(ctx, order.ID)
	}
	return order, nil
}

// ReplaceCart 用新的数据替换订单快照，并把旧快照的预留转移或释放
func (s *OrderApplicationService) ReplaceCart(ctx context.Context, orderID string, data domain.OrderData) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "app.ReplaceCart")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	ctx, cancel := context.WithTimeout(ctx, s.processingTimeout)
	defer cancel()

	order, err := s.inWebshopQueue(ctx, orderID, func(ctx context.Context, ws *domain.Webshop, order *domain.Order) (*domain.Order, error) {
		previous := order.ReplaceData(data, s.now())
		if err := domain.CheckAvailability(ws, order.Data, &previous); err != nil {
			return nil, err
		}
		return s.reconcile(ctx, ws, order, &previous)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to replace cart")
		return nil, err
	}

	// 已经发过门票的订单需要同步门票
	if order.IsValid() {
		existing, err := s.tickets.FindByOrder(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		if hasActive(existing) {
			if order, _, err = s.IssueTickets(ctx, order.ID); err != nil {
				return nil, err
			}
		}
	}
	return order, nil
}

// OnPaymentFailed 把仍然占用库存的订单标记为取消（已有订单号）或删除，并释放库存
func (s *OrderApplicationService) OnPaymentFailed(ctx context.Context, orderID string) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "app.OnPaymentFailed")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	order, err := s.inWebshopQueue(ctx, orderID, func(ctx context.Context, ws *domain.Webshop, order *domain.Order) (*domain.Order, error) {
		if !order.FailPayment(s.now()) {
			logger.Ctx(ctx).Warn().Str("order", order.ID).Str("status", string(order.Status)).Msg("payment failed for order that no longer counts toward stock, ignoring")
			return order, nil
		}
		return s.reconcile(ctx, ws, order, nil)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to process payment failure")
		return nil, err
	}
	return order, nil
}

// UndoPaymentFailed 把取消或删除的订单恢复为 CREATED 并重新计入库存。
// 重新计入不做容量检查：付款已经成功，超卖由商家处理。
func (s *OrderApplicationService) UndoPaymentFailed(ctx context.Context, orderID string) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "app.UndoPaymentFailed")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	order, err := s.inWebshopQueue(ctx, orderID, func(ctx context.Context, ws *domain.Webshop, order *domain.Order) (*domain.Order, error) {
		if err := order.UndoFailedPayment(s.now()); err != nil {
			return nil, err
		}
		return s.reconcile(ctx, ws, order, nil)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to undo payment failure")
		return nil, err
	}
	return order, nil
}

// SetStatus 由商家直接修改订单状态。改为 CANCELED/DELETED 会释放库存，
// 从 CANCELED/DELETED 改回其它状态会重新计入库存，和 UndoPaymentFailed 一样不做容量检查。
func (s *OrderApplicationService) SetStatus(ctx context.Context, orderID string, status domain.Status) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "app.SetStatus")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID), attribute.String("order.status", string(status)))

	if !status.Known() {
		return nil, domain.ErrUnknownStatus
	}
	order, err := s.inWebshopQueue(ctx, orderID, func(ctx context.Context, ws *domain.Webshop, order *domain.Order) (*domain.Order, error) {
		if order.Status == status {
			return order, nil
		}
		if err := order.SetStatus(status, s.now()); err != nil {
			return nil, err
		}
		return s.reconcile(ctx, ws, order, nil)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to set order status")
		return nil, err
	}
	logger.Ctx(ctx).Info().Str("order", order.ID).Str("status", string(order.Status)).Msg("order status changed")
	return order, nil
}

// MarkPaid 处理一次付款确认。调用方保证每次真实付款只调用一次。
func (s *OrderApplicationService) MarkPaid(ctx context.Context, orderID string) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "app.MarkPaid")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	pc := &saga.PaymentContext{
		Ctx:       ctx,
		Order:     order,
		Tracer:    s.tracer,
		Lifecycle: s,
	}
	if err := saga.NewMarkPaidChain().Handle(pc); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("order", orderID).Msg("mark paid chain failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "Mark paid failed")
		return nil, err
	}
	return pc.Order, nil
}

// MarkValid 确认订单：分配订单号，转账订单生成付款说明，然后发送确认邮件。
// 已确认的订单只记录警告，不做任何修改。tickets 是本次付款刚签发的门票，会决定邮件模板。
func (s *OrderApplicationService) MarkValid(ctx context.Context, orderID string, tickets []domain.Ticket) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "app.MarkValid")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	validated := false
	var webshop *domain.Webshop
	order, err := s.inWebshopQueue(ctx, orderID, func(ctx context.Context, ws *domain.Webshop, order *domain.Order) (*domain.Order, error) {
		if order.IsValid() {
			logger.Ctx(ctx).Warn().Str("order", order.ID).Msg("order was already validated")
			return order, nil
		}
		transfer := order.Data.PaymentMethod == domain.PaymentMethodTransfer
		if transfer {
			// 先检查配置，避免消耗一个订单号
			if err := ws.Meta.Transfer.Check(); err != nil {
				return nil, err
			}
		}

		number, err := s.numbers.Assign(ctx, ws)
		if err != nil {
			return nil, err
		}
		if err := order.Validate(s.now(), number); err != nil {
			return nil, err
		}
		if transfer {
			if order.Data.TransferDescription, err = domain.TransferDescription(ws.Meta.Transfer, number); err != nil {
				return nil, err
			}
		}
		if err := s.orders.Save(ctx, order); err != nil {
			return nil, errors.Wrap(err, "save validated order")
		}
		validated = true
		webshop = ws
		return order, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Order validation failed")
		return nil, err
	}

	if validated {
		span.SetAttributes(attribute.Int64("order.number", *order.Number))
		logger.Ctx(ctx).Info().Str("order", order.ID).Int64("number", *order.Number).Msg("order validated")
		s.notify(ctx, webshop, order, confirmationTemplate(webshop, order, tickets), len(tickets))
	}
	return order, nil
}

// IssueTickets 重新加载订单并合并门票。不需要 webshop 队列：只涉及本订单的门票。
// 已取消或删除的订单不签发也不修改门票，已有的门票在检票时被拒绝。
func (s *OrderApplicationService) IssueTickets(ctx context.Context, orderID string) (*domain.Order, domain.TicketPlan, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, domain.TicketPlan{}, err
	}
	if !order.IncludesStock() {
		logger.Ctx(ctx).Warn().Str("order", order.ID).Str("status", string(order.Status)).Msg("order does not count toward stock, skipping tickets")
		return order, domain.TicketPlan{}, nil
	}
	ws, err := s.webshops.FindByID(ctx, order.WebshopID)
	if errors.Is(err, domain.ErrWebshopNotFound) {
		logger.Ctx(ctx).Warn().Str("order", order.ID).Str("webshop", order.WebshopID).Msg("missing webshop, skipping tickets")
		return order, domain.TicketPlan{}, nil
	}
	if err != nil {
		return nil, domain.TicketPlan{}, err
	}

	existing, err := s.tickets.FindByOrder(ctx, order.ID)
	if err != nil {
		return nil, domain.TicketPlan{}, err
	}
	plan, err := s.issuer.Issue(ws, order, existing)
	if err != nil {
		return nil, domain.TicketPlan{}, errors.Wrapf(err, "issue tickets for order %s", order.ID)
	}
	if plan.Empty() {
		return order, plan, nil
	}
	if err := s.tickets.ApplyPlan(ctx, plan); err != nil {
		return nil, domain.TicketPlan{}, errors.Wrapf(err, "save tickets for order %s", order.ID)
	}
	metrics.TicketsChanged.WithLabelValues("create").Add(float64(len(plan.Create)))
	metrics.TicketsChanged.WithLabelValues("update").Add(float64(len(plan.Update)))
	metrics.TicketsChanged.WithLabelValues("delete").Add(float64(len(plan.Delete)))
	logger.Ctx(ctx).Info().Str("order", order.ID).
		Int("created", len(plan.Create)).Int("updated", len(plan.Update)).Int("deleted", len(plan.Delete)).
		Msg("tickets updated")
	return order, plan, nil
}

// NotifyPaid 通知已确认订单的付款：刚生成了门票时发送门票，否则只确认收款
func (s *OrderApplicationService) NotifyPaid(ctx context.Context, order *domain.Order, createdTickets bool) {
	ws, err := s.webshops.FindByID(ctx, order.WebshopID)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("order", order.ID).Msg("missing webshop, skipping payment notification")
		return
	}
	template := domain.TemplatePaymentReceived
	if createdTickets {
		template = domain.TemplateTicketsAvailable
	}
	s.notify(ctx, ws, order, template, 0)
}

// HandlePaymentEvent 把支付回调的状态变化映射到生命周期操作
func (s *OrderApplicationService) HandlePaymentEvent(ctx context.Context, event *domain.PaymentStatusChanged) error {
	ctx, span := s.tracer.Start(ctx, "app.HandlePaymentEvent", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.id", event.PaymentID),
		attribute.String("payment.status", string(event.Status)),
	)

	orderID := event.OrderID
	if orderID == "" {
		order, err := s.orders.FindByPaymentID(ctx, event.PaymentID)
		if err != nil {
			span.RecordError(err)
			return err
		}
		orderID = order.ID
	}

	var err error
	switch event.Status {
	case domain.PaymentStatusSucceeded:
		_, err = s.MarkPaid(ctx, orderID)
	case domain.PaymentStatusFailed:
		_, err = s.OnPaymentFailed(ctx, orderID)
	case domain.PaymentStatusReversed:
		_, err = s.UndoPaymentFailed(ctx, orderID)
	default:
		logger.Ctx(ctx).Debug().Str("order", orderID).Str("status", string(event.Status)).Msg("ignoring payment status")
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Payment event handling failed")
	}
	return err
}

// ScanTicket 记录第一次检票。重复检票返回 ErrTicketAlreadyScanned 和原始的检票记录。
func (s *OrderApplicationService) ScanTicket(ctx context.Context, secret, scannedBy string) (*domain.Ticket, error) {
	ctx, span := s.tracer.Start(ctx, "app.ScanTicket")
	defer span.End()

	ticket, err := s.tickets.FindBySecret(ctx, secret)
	if err != nil {
		return nil, err
	}
	order, err := s.orders.FindByID(ctx, ticket.OrderID)
	if err != nil {
		return nil, err
	}
	if !order.IncludesStock() {
		span.SetAttributes(attribute.String("order.status", string(order.Status)))
		return ticket, domain.ErrOrderCanceled
	}
	if err := ticket.Scan(scannedBy, s.now()); err != nil {
		return ticket, err
	}
	if err := s.tickets.Save(ctx, ticket); err != nil {
		span.RecordError(err)
		return nil, errors.Wrap(err, "save scanned ticket")
	}
	return ticket, nil
}

// RenumberOrders 按确认时间把顺序编号重排为 1..n，随机编号的订单保持不变
func (s *OrderApplicationService) RenumberOrders(ctx context.Context, webshopID string) (int, error) {
	ctx, span := s.tracer.Start(ctx, "app.RenumberOrders")
	defer span.End()

	return serialqueue.Schedule(ctx, s.queue, domain.QueueKey(webshopID), func(ctx context.Context) (int, error) {
		orders, err := s.orders.ListValid(ctx, webshopID)
		if err != nil {
			return 0, err
		}
		next := int64(1)
		changed := 0
		for _, order := range orders {
			if order.Number != nil && *order.Number >= numbering.UpperBound {
				continue
			}
			if order.Number == nil || *order.Number != next {
				n := next
				order.Number = &n
				order.UpdatedAt = s.now()
				if err := s.orders.Save(ctx, order); err != nil {
					return changed, errors.Wrapf(err, "renumber order %s", order.ID)
				}
				changed++
			}
			next++
		}
		if err := s.numbers.Reset(ctx, webshopID); err != nil {
			return changed, err
		}
		logger.Ctx(ctx).Info().Str("webshop", webshopID).Int("changed", changed).Msg("orders renumbered")
		return changed, nil
	})
}

// Wait 等待所有已调度的通知发送完成，关闭服务前调用
func (s *OrderApplicationService) Wait() {
	s.pending.Wait()
}

// inWebshopQueue 在订单所属 webshop 的队列中重新加载订单和 webshop，再执行 fn
func (s *OrderApplicationService) inWebshopQueue(
	ctx context.Context,
	orderID string,
	fn func(ctx context.Context, ws *domain.Webshop, order *domain.Order) (*domain.Order, error),
) (*domain.Order, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return serialqueue.Schedule(ctx, s.queue, domain.QueueKey(order.WebshopID), func(ctx context.Context) (*domain.Order, error) {
		order, err := s.orders.FindByID(ctx, orderID)
		if err != nil {
			return nil, err
		}
		ws, err := s.webshops.FindByID(ctx, order.WebshopID)
		if err != nil {
			return nil, err
		}
		return fn(ctx, ws, order)
	})
}

// reconcile 运行库存账本并持久化结果：先原子地应用增量，再保存带新预留标记的订单。
// 订单保存失败时回滚增量，避免计数器和标记不一致。
func (s *OrderApplicationService) reconcile(ctx context.Context, ws *domain.Webshop, order *domain.Order, previous *domain.OrderData) (*domain.Order, error) {
	result := domain.ApplyStock(ws, order, previous)
	for _, w := range result.Warnings {
		logger.Ctx(ctx).Warn().Str("order", order.ID).Str("webshop", ws.ID).Msg(w)
		if strings.HasPrefix(w, "clamped ") {
			kind := domain.DeltaProduct
			if strings.Contains(w, "time slot") {
				kind = domain.DeltaTimeSlot
			}
			metrics.ClampedCounters.WithLabelValues(string(kind)).Inc()
		}
	}

	if len(result.Deltas) > 0 {
		if err := s.webshops.ApplyStockDeltas(ctx, ws.ID, result.Deltas); err != nil {
			return nil, errors.Wrapf(err, "apply stock deltas for order %s", order.ID)
		}
	}
	if err := s.orders.Save(ctx, result.Order); err != nil {
		if len(result.Deltas) > 0 {
			if rbErr := s.webshops.ApplyStockDeltas(ctx, ws.ID, invertDeltas(result.Deltas)); rbErr != nil {
				logger.Ctx(ctx).Error().Err(rbErr).Str("order", order.ID).Msg("CRITICAL: failed to roll back stock deltas")
			}
		}
		return nil, errors.Wrapf(err, "save order %s", order.ID)
	}

	for _, d := range result.Deltas {
		metrics.StockDeltas.WithLabelValues(string(d.Kind)).Inc()
	}
	if s.feed != nil && len(result.Deltas) > 0 {
		s.feed.Publish(ctx, ws.ID, result.Deltas)
	}
	return result.Order, nil
}

func invertDeltas(deltas []domain.StockDelta) []domain.StockDelta {
	inverted := make([]domain.StockDelta, len(deltas))
	for i, d := range deltas {
		inverted[i] = domain.StockDelta{
			Kind:        d.Kind,
			ProductID:   d.ProductID,
			TimeSlotID:  d.TimeSlotID,
			UsedStock:   -d.UsedStock,
			UsedOrders:  -d.UsedOrders,
			UsedPersons: -d.UsedPersons,
			AddSeats:    d.RemoveSeats,
			RemoveSeats: d.AddSeats,
		}
	}
	return inverted
}

func hasActive(tickets []domain.Ticket) bool {
	for i := range tickets {
		if !tickets[i].Deleted() {
			return true
		}
	}
	return false
}

// notify 异步发送通知。投递失败只记录日志，不影响订单状态。
func (s *OrderApplicationService) notify(ctx context.Context, ws *domain.Webshop, order *domain.Order, template domain.NotificationTemplate, ticketCount int) {
	if order.Data.Customer.Email == "" {
		return
	}
	n := buildNotification(ws, order, template, ticketCount)

	// 保留链路信息，但不继承调用方的超时
	notifyCtx := trace.ContextWithRemoteSpanContext(context.Background(), trace.SpanContextFromContext(ctx))
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := s.notifier.Send(notifyCtx, n); err != nil {
			logger.Ctx(notifyCtx).Error().Err(err).Str("order", order.ID).Str("template", string(template)).Msg("failed to send notification")
		}
	}()
}
