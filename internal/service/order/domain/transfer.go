package domain

import (
	"fmt"
	"strings"
)

// Check 在分配订单号之前确认转账设置可用，没有配置 IBAN 时返回 *ConfigurationError
func (settings TransferSettings) Check() error {
	if strings.TrimSpace(settings.IBAN) == "" {
		return &ConfigurationError{
			Code:    "missing_iban",
			Message: "bank transfer is enabled but no IBAN is configured",
			Field:   "transfer.iban",
		}
	}
	return nil
}

// TransferDescription 根据 webshop 的转账设置和订单号生成转账附言。
// 没有配置 IBAN 时返回 *ConfigurationError。
func TransferDescription(settings TransferSettings, number int64) (string, error) {
	if err := settings.Check(); err != nil {
		return "", err
	}

	switch settings.Type {
	case TransferStructured:
		return StructuredCommunication(number), nil
	case TransferFixed:
		if settings.Fixed != "" {
			return settings.Fixed, nil
		}
	}
	prefix := strings.TrimSpace(settings.Prefix)
	if prefix == "" {
		prefix = "Order"
	}
	return fmt.Sprintf("%s %d", prefix, number), nil
}

// StructuredCommunication 生成比利时结构化附言 +++ddd/dddd/ddddd+++：
// 前 10 位是订单号，后 2 位是 mod 97 校验码（余数为 0 时用 97）。
func StructuredCommunication(number int64) string {
	base := number % 10_000_000_000
	if base < 0 {
		base = -base
	}
	check := base % 97
	if check == 0 {
		check = 97
	}
	digits := fmt.Sprintf("%010d%02d", base, check)
	return fmt.Sprintf("+++%s/%s/%s+++", digits[0:3], digits[3:7], digits[7:12])
}
