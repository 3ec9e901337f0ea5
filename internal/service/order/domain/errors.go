package domain

import (
	"errors"
	"fmt"
)

var (
	ErrOrderNotFound        = errors.New("order not found")
	ErrWebshopNotFound      = errors.New("webshop not found")
	ErrTicketNotFound       = errors.New("ticket not found")
	ErrProductNotFound      = errors.New("product not found")
	ErrTimeSlotNotFound     = errors.New("time slot not found")
	ErrProductSoldOut       = errors.New("product is sold out")
	ErrTimeSlotFull         = errors.New("time slot is full")
	ErrSeatTaken            = errors.New("seat is already reserved")
	ErrInvalidTransition    = errors.New("invalid order status transition")
	ErrAlreadyValid         = errors.New("order is already validated")
	ErrTicketAlreadyScanned = errors.New("ticket was already scanned")
	ErrDuplicateTicket      = errors.New("duplicate ticket")
	ErrEmptyCart            = errors.New("cart is empty")
	ErrUnknownStatus        = errors.New("unknown order status")
	// 门票所属的订单已取消或删除，门票保留但不能检票
	ErrOrderCanceled        = errors.New("order of this ticket was canceled")
)

// ConfigurationError 表示 webshop 配置缺失导致某个状态流转无法完成，
// 例如银行转账却没有配置 IBAN。调用方用 errors.As 识别。
type ConfigurationError struct {
	Code    string
	Message string
	Field   string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration error %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("configuration error %s (%s): %s", e.Code, e.Field, e.Message)
}
