package domain

import (
	"fmt"
	"slices"
)

// CheckAvailability 是下单/改单前由调用方执行的容量检查。
// 账本本身只记数不拒绝；这里根据当前快照判断新增的部分是否放得下。
// previous 是改单前的快照，它已经占用的库存、座位和时段名额视为本订单自己的。
func CheckAvailability(w *Webshop, data OrderData, previous *OrderData) error {
	if len(data.Cart.Items) == 0 {
		return ErrEmptyCart
	}

	held := map[string]int{}
	var heldSeats []Seat
	collect := func(d *OrderData) {
		for _, item := range d.Cart.Items {
			held[item.ProductID] += item.ReservedAmount
			heldSeats = append(heldSeats, item.ReservedSeats...)
		}
	}
	collect(&data)
	if previous != nil {
		collect(previous)
	}

	requested := map[string]int{}
	for _, item := range data.Cart.Items {
		if item.Amount <= 0 {
			return fmt.Errorf("invalid amount %d for product %s", item.Amount, item.ProductID)
		}
		p := w.Product(item.ProductID)
		if p == nil {
			return fmt.Errorf("%w: %s", ErrProductNotFound, item.ProductID)
		}
		requested[item.ProductID] += item.Amount

		for _, seat := range item.Seats {
			if p.HasSeat(seat) && !slices.Contains(heldSeats, seat) {
				return fmt.Errorf("%w: %s of %s", ErrSeatTaken, seat, p.Name)
			}
		}
	}

	for productID, amount := range requested {
		p := w.Product(productID)
		remaining, limited := p.RemainingStock()
		if limited && amount-held[productID] > remaining {
			return fmt.Errorf("%w: %s (%d left)", ErrProductSoldOut, p.Name, remaining)
		}
	}

	if data.TimeSlotID == "" {
		return nil
	}
	slot := w.TimeSlot(data.TimeSlotID)
	if slot == nil {
		return fmt.Errorf("%w: %s", ErrTimeSlotNotFound, data.TimeSlotID)
	}

	heldOrder, heldPersons := data.ReservedOrder, data.ReservedPersons
	if previous != nil && previous.TimeSlotID == data.TimeSlotID {
		heldOrder = heldOrder || previous.ReservedOrder
		heldPersons += previous.ReservedPersons
	}
	if remaining, limited := slot.RemainingOrders(); limited && !heldOrder && remaining == 0 {
		return fmt.Errorf("%w: no orders left", ErrTimeSlotFull)
	}
	if remaining, limited := slot.RemainingPersons(); limited && data.Cart.Persons()-heldPersons > remaining {
		return fmt.Errorf("%w: %d persons left", ErrTimeSlotFull, remaining)
	}
	return nil
}
