// internal/service/order/application/dto.go
package application

import (
	"strconv"

	"shopline/internal/service/order/domain"
)

// PlaceOrderRequest 是下单用例的输入数据
type PlaceOrderRequest struct {
	WebshopID string           `json:"webshopId"`
	PaymentID string           `json:"paymentId,omitempty"`
	Data      domain.OrderData `json:"data"`
}

// SetStatusRequest 是商家修改订单状态的输入数据
type SetStatusRequest struct {
	Status domain.Status `json:"status"`
}

// ScanTicketRequest 是检票用例的输入数据
type ScanTicketRequest struct {
	Secret    string `json:"secret"`
	ScannedBy string `json:"scannedBy"`
}

// DomainCheckResult 是域名校验的结果。Valid 为 false 时仍然返回 nil error，属于部分成功。
type DomainCheckResult struct {
	Domain string `json:"domain"`
	Target string `json:"target"`
	CNAME  string `json:"cname,omitempty"`
	Valid  bool   `json:"valid"`
	Error  string `json:"error,omitempty"`
}

// confirmationTemplate 根据门票模式和付款方式选择确认邮件
func confirmationTemplate(ws *domain.Webshop, order *domain.Order, tickets []domain.Ticket) domain.NotificationTemplate {
	transfer := order.Data.PaymentMethod == domain.PaymentMethodTransfer
	switch {
	case len(tickets) > 0:
		return domain.TemplateTicketsConfirmation
	case ws.Meta.TicketMode == domain.TicketModeNone || ws.Meta.TicketMode == "":
		if transfer {
			return domain.TemplateOrderConfirmationTransfer
		}
		return domain.TemplateOrderConfirmation
	case transfer:
		return domain.TemplateTicketsPendingTransfer
	}
	return domain.TemplateOrderConfirmation
}

func buildNotification(ws *domain.Webshop, order *domain.Order, template domain.NotificationTemplate, ticketCount int) domain.Notification {
	customer := order.Data.Customer
	vars := map[string]string{
		"webshopName": ws.Meta.Name,
		"firstName":   customer.FirstName,
		"orderPrice":  strconv.FormatInt(order.Data.Cart.Price(), 10),
	}
	if order.Number != nil {
		vars["orderNumber"] = strconv.FormatInt(*order.Number, 10)
	}
	if ticketCount > 0 {
		vars["ticketCount"] = strconv.Itoa(ticketCount)
	}
	if order.Data.PaymentMethod == domain.PaymentMethodTransfer {
		vars["transferDescription"] = order.Data.TransferDescription
		vars["iban"] = ws.Meta.Transfer.IBAN
		vars["creditor"] = ws.Meta.Transfer.Creditor
	}
	return domain.Notification{
		Template:  template,
		OrderID:   order.ID,
		WebshopID: order.WebshopID,
		Recipient: domain.Recipient{Name: customer.Name(), Email: customer.Email},
		Variables: vars,
	}
}
