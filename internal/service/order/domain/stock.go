// internal/service/order/domain/stock.go
package domain

import (
	"fmt"
	"slices"
)

type DeltaKind string

const (
	DeltaProduct  DeltaKind = "product"
	DeltaTimeSlot DeltaKind = "time_slot"
)

// StockDelta 是对一个商品或时段计数器的增量修改。
// 仓储层按增量原子地应用，而不是覆盖整个 webshop。
type StockDelta struct {
	Kind        DeltaKind `json:"kind"`
	ProductID   string    `json:"productId,omitempty"`
	TimeSlotID  string    `json:"timeSlotId,omitempty"`
	UsedStock   int       `json:"usedStock,omitempty"`
	UsedOrders  int       `json:"usedOrders,omitempty"`
	UsedPersons int       `json:"usedPersons,omitempty"`
	AddSeats    []Seat    `json:"addSeats,omitempty"`
	RemoveSeats []Seat    `json:"removeSeats,omitempty"`
}

// StockResult 是一次账本计算的结果，输入不会被修改
type StockResult struct {
	Changed bool
	// Webshop 是应用增量之后的新快照
	Webshop *Webshop
	// Order 带有更新后的预留标记
	Order *Order
	// Previous 是预留已经释放的旧快照；没有旧快照时为 nil。
	// 用它（而不是原来的旧快照）重复调用 ApplyStock 不会产生任何变化。
	Previous *OrderData
	Deltas   []StockDelta
	// Warnings 记录被跳过的引用漂移和被截断为 0 的计数器，由调用方写日志
	Warnings []string
}

// ApplyStock 把订单的购物车对账到 webshop 的库存、时段和座位上。
// previous 不为 nil 表示这是一次购物车修改：先撤销旧快照的预留，再计入当前购物车。
// 必须在 QueueKey(webshop.ID) 的串行队列中调用。
//
// 找不到商品或时段时只记录警告并跳过，不会返回错误。
func ApplyStock(webshop *Webshop, order *Order, previous *OrderData) StockResult {
	l := &ledger{ws: webshop.Clone(), order: order.Clone()}
	if previous != nil {
		prev := previous.Clone()
		l.prev = &prev
		l.undo()
	}

	include := l.order.IncludesStock()
	l.applyItems(include)
	l.applyTimeSlot(include)

	deltas := diffWebshops(webshop, l.ws)
	changed := len(deltas) > 0 || markersChanged(order.Data, l.order.Data)
	if previous != nil && markersChanged(*previous, *l.prev) {
		changed = true
	}

	return StockResult{
		Changed:  changed,
		Webshop:  l.ws,
		Order:    l.order,
		Previous: l.prev,
		Deltas:   deltas,
		Warnings: l.warnings,
	}
}

type ledger struct {
	ws       *Webshop
	order    *Order
	prev     *OrderData
	warnings []string
}

func (l *ledger) warn(format string, args ...any) {
	l.warnings = append(l.warnings, fmt.Sprintf(format, args...))
}

// add 把 d 加到计数器上，下溢时截断为 0
func (l *ledger) add(counter *int, d int, what string) {
	*counter += d
	if *counter < 0 {
		l.warn("clamped %s from %d to 0", what, *counter)
		*counter = 0
	}
}

func (l *ledger) undo() {
	for i := range l.prev.Cart.Items {
		item := &l.prev.Cart.Items[i]
		if item.ReservedAmount == 0 && len(item.ReservedSeats) == 0 {
			continue
		}
		p := l.ws.Product(item.ProductID)
		if p == nil {
			l.warn("missing product %s while releasing previous cart of order %s", item.ProductID, l.order.ID)
			continue
		}
		l.add(&p.UsedStock, -item.ReservedAmount, "usedStock of product "+p.ID)
		p.ReservedSeats = removeSeats(p.ReservedSeats, item.ReservedSeats)
		item.ReservedAmount = 0
		item.ReservedSeats = nil
	}

	if l.prev.TimeSlotID == l.order.Data.TimeSlotID {
		// 同一时段：预留直接转移到当前快照
		l.order.Data.ReservedOrder = l.order.Data.ReservedOrder || l.prev.ReservedOrder
		l.order.Data.ReservedPersons += l.prev.ReservedPersons
	} else if l.prev.ReservedOrder || l.prev.ReservedPersons != 0 {
		if slot := l.ws.TimeSlot(l.prev.TimeSlotID); slot != nil {
			if l.prev.ReservedOrder {
				l.add(&slot.UsedOrders, -1, "usedOrders of time slot "+slot.ID)
			}
			l.add(&slot.UsedPersons, -l.prev.ReservedPersons, "usedPersons of time slot "+slot.ID)
		} else {
			l.warn("missing time slot %s while releasing previous reservation of order %s", l.prev.TimeSlotID, l.order.ID)
		}
	}
	l.prev.ReservedOrder = false
	l.prev.ReservedPersons = 0
}

func (l *ledger) applyItems(include bool) {
	items := l.order.Data.Cart.Items
	for i := range items {
		item := &items[i]
		p := l.ws.Product(item.ProductID)
		if p == nil {
			if item.Amount != 0 || item.ReservedAmount != 0 {
				l.warn("missing product %s for order %s", item.ProductID, l.order.ID)
			}
			continue
		}

		difference := -item.ReservedAmount
		if include {
			difference = item.Amount - item.ReservedAmount
		}
		if difference != 0 {
			l.add(&p.UsedStock, difference, "usedStock of product "+p.ID)
			item.ReservedAmount += difference
		}

		p.ReservedSeats = removeSeats(p.ReservedSeats, item.ReservedSeats)
		if include && len(item.Seats) > 0 {
			p.ReservedSeats = addSeats(p.ReservedSeats, item.Seats)
			item.ReservedSeats = append([]Seat(nil), item.Seats...)
		} else {
			item.ReservedSeats = nil
		}
	}
}

func (l *ledger) applyTimeSlot(include bool) {
	data := &l.order.Data
	if data.TimeSlotID == "" {
		return
	}
	slot := l.ws.TimeSlot(data.TimeSlotID)
	if slot == nil {
		l.warn("missing time slot %s for order %s", data.TimeSlotID, l.order.ID)
		return
	}

	if include != data.ReservedOrder {
		d := 1
		if !include {
			d = -1
		}
		l.add(&slot.UsedOrders, d, "usedOrders of time slot "+slot.ID)
		data.ReservedOrder = include
	}

	requested := 0
	if include {
		requested = data.Cart.Persons()
	}
	if d := requested - data.ReservedPersons; d != 0 {
		l.add(&slot.UsedPersons, d, "usedPersons of time slot "+slot.ID)
		data.ReservedPersons = requested
	}
}

// ApplyDeltas 把增量应用到 webshop 上（内存仓储和测试使用），计数器同样截断为 0
func ApplyDeltas(w *Webshop, deltas []StockDelta) {
	for _, d := range deltas {
		switch d.Kind {
		case DeltaProduct:
			p := w.Product(d.ProductID)
			if p == nil {
				continue
			}
			p.UsedStock = max(0, p.UsedStock+d.UsedStock)
			p.ReservedSeats = addSeats(removeSeats(p.ReservedSeats, d.RemoveSeats), d.AddSeats)
		case DeltaTimeSlot:
			t := w.TimeSlot(d.TimeSlotID)
			if t == nil {
				continue
			}
			t.UsedOrders = max(0, t.UsedOrders+d.UsedOrders)
			t.UsedPersons = max(0, t.UsedPersons+d.UsedPersons)
		}
	}
}

func diffWebshops(before, after *Webshop) []StockDelta {
	var deltas []StockDelta
	for i := range after.Products {
		a := &after.Products[i]
		b := before.Product(a.ID)
		if b == nil {
			continue
		}
		d := StockDelta{
			Kind:        DeltaProduct,
			ProductID:   a.ID,
			UsedStock:   a.UsedStock - b.UsedStock,
			AddSeats:    seatDifference(a.ReservedSeats, b.ReservedSeats),
			RemoveSeats: seatDifference(b.ReservedSeats, a.ReservedSeats),
		}
		if d.UsedStock != 0 || len(d.AddSeats) > 0 || len(d.RemoveSeats) > 0 {
			deltas = append(deltas, d)
		}
	}
	for i := range after.TimeSlots {
		a := &after.TimeSlots[i]
		b := before.TimeSlot(a.ID)
		if b == nil {
			continue
		}
		d := StockDelta{
			Kind:        DeltaTimeSlot,
			TimeSlotID:  a.ID,
			UsedOrders:  a.UsedOrders - b.UsedOrders,
			UsedPersons: a.UsedPersons - b.UsedPersons,
		}
		if d.UsedOrders != 0 || d.UsedPersons != 0 {
			deltas = append(deltas, d)
		}
	}
	return deltas
}

func markersChanged(a, b OrderData) bool {
	if a.ReservedOrder != b.ReservedOrder || a.ReservedPersons != b.ReservedPersons {
		return true
	}
	if len(a.Cart.Items) != len(b.Cart.Items) {
		return true
	}
	for i := range a.Cart.Items {
		x, y := a.Cart.Items[i], b.Cart.Items[i]
		if x.ReservedAmount != y.ReservedAmount || !slices.Equal(x.ReservedSeats, y.ReservedSeats) {
			return true
		}
	}
	return false
}

func removeSeats(set, remove []Seat) []Seat {
	if len(remove) == 0 {
		return set
	}
	out := set[:0:0]
	for _, s := range set {
		if !slices.Contains(remove, s) {
			out = append(out, s)
		}
	}
	return out
}

// addSeats 追加不在集合中的座位，保证集合里没有重复项
func addSeats(set, add []Seat) []Seat {
	for _, s := range add {
		if !slices.Contains(set, s) {
			set = append(set, s)
		}
	}
	return set
}

// seatDifference 返回在 a 中但不在 b 中的座位
func seatDifference(a, b []Seat) []Seat {
	var out []Seat
	for _, s := range a {
		if !slices.Contains(b, s) {
			out = append(out, s)
		}
	}
	return out
}
