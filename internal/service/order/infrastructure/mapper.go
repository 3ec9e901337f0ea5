package infrastructure

import (
	"gorm.io/gorm"

	"shopline/internal/service/order/domain"
)

// ToDomainWebshop 将数据库模型转换为领域模型
func ToDomainWebshop(model *WebshopModel) *domain.Webshop {
	if model == nil {
		return nil
	}
	w := &domain.Webshop{
		ID:             model.ID,
		OrganizationID: model.OrganizationID,
		Meta:           model.Meta,
		UpdatedAt:      model.UpdatedAt,
	}
	for _, p := range model.Products {
		w.Products = append(w.Products, domain.Product{
			ID:            p.ID,
			Name:          p.Name,
			Type:          p.Type,
			Price:         p.Price,
			Stock:         p.Stock,
			UsedStock:     p.UsedStock,
			ReservedSeats: p.ReservedSeats,
		})
	}
	for _, t := range model.TimeSlots {
		w.TimeSlots = append(w.TimeSlots, domain.TimeSlot{
			ID:          t.ID,
			Date:        t.Date,
			StartTime:   t.StartTime,
			EndTime:     t.EndTime,
			MaxOrders:   t.MaxOrders,
			MaxPersons:  t.MaxPersons,
			UsedOrders:  t.UsedOrders,
			UsedPersons: t.UsedPersons,
		})
	}
	return w
}

// FromDomainWebshop 将领域模型转换为数据库模型 (用于整体保存)
func FromDomainWebshop(w *domain.Webshop) *WebshopModel {
	model := &WebshopModel{
		ID:             w.ID,
		OrganizationID: w.OrganizationID,
		Meta:           w.Meta,
	}
	for i, p := range w.Products {
		model.Products = append(model.Products, ProductModel{
			WebshopID:     w.ID,
			ID:            p.ID,
			Position:      i,
			Name:          p.Name,
			Type:          p.Type,
			Price:         p.Price,
			Stock:         p.Stock,
			UsedStock:     p.UsedStock,
			ReservedSeats: p.ReservedSeats,
		})
	}
	for i, t := range w.TimeSlots {
		model.TimeSlots = append(model.TimeSlots, TimeSlotModel{
			WebshopID:   w.ID,
			ID:          t.ID,
			Position:    i,
			Date:        t.Date,
			StartTime:   t.StartTime,
			EndTime:     t.EndTime,
			MaxOrders:   t.MaxOrders,
			MaxPersons:  t.MaxPersons,
			UsedOrders:  t.UsedOrders,
			UsedPersons: t.UsedPersons,
		})
	}
	return model
}

func ToDomainOrder(model *OrderModel) *domain.Order {
	if model == nil {
		return nil
	}
	return &domain.Order{
		ID:        model.ID,
		WebshopID: model.WebshopID,
		PaymentID: model.PaymentID,
		Status:    model.Status,
		ValidAt:   model.ValidAt,
		Number:    model.Number,
		Data:      model.Data,
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
	}
}

func FromDomainOrder(o *domain.Order) *OrderModel {
	return &OrderModel{
		ID:        o.ID,
		WebshopID: o.WebshopID,
		PaymentID: o.PaymentID,
		Status:    o.Status,
		ValidAt:   o.ValidAt,
		Number:    o.Number,
		Data:      o.Data,
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
}

func ToDomainTicket(model *TicketModel) domain.Ticket {
	t := domain.Ticket{
		ID:        model.ID,
		OrderID:   model.OrderID,
		WebshopID: model.WebshopID,
		ItemID:    model.ItemID,
		Index:     model.Index,
		Total:     model.Total,
		Seat:      model.Seat,
		Secret:    model.Secret,
		ScannedAt: model.ScannedAt,
		ScannedBy: model.ScannedBy,
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
	}
	if model.DeletedAt.Valid {
		deletedAt := model.DeletedAt.Time
		t.DeletedAt = &deletedAt
	}
	return t
}

func FromDomainTicket(t *domain.Ticket) *TicketModel {
	model := &TicketModel{
		ID:        t.ID,
		OrderID:   t.OrderID,
		WebshopID: t.WebshopID,
		ItemID:    t.ItemID,
		Index:     t.Index,
		Total:     t.Total,
		Seat:      t.Seat,
		Secret:    t.Secret,
		ScannedAt: t.ScannedAt,
		ScannedBy: t.ScannedBy,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
	if t.DeletedAt != nil {
		model.DeletedAt = gorm.DeletedAt{Time: *t.DeletedAt, Valid: true}
	}
	return model
}
