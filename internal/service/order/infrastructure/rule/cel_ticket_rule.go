// internal/service/order/infrastructure/rule/cel_ticket_rule.go
package rule

import (
	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"

	"shopline/internal/service/order/domain"
)

// DefaultTicketRule 是默认的门票资格规则
const DefaultTicketRule = `item.productType in ["ticket", "voucher"]`

// CELTicketRule 是 domain.TicketRule 的 CEL 实现。
// 表达式在创建时编译一次，之后每个购物车行只做求值。
//
// 表达式里可用的变量是 item，字段有 id、productId、productName、productType、amount、unitPrice、seats。
type CELTicketRule struct {
	expr    string
	program cel.Program
}

// NewCELTicketRule 编译表达式；expr 为空时使用 DefaultTicketRule
func NewCELTicketRule(expr string) (*CELTicketRule, error) {
	if expr == "" {
		expr = DefaultTicketRule
	}
	env, err := cel.NewEnv(
		cel.Variable("item", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create cel environment")
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, errors.Wrapf(iss.Err(), "compile ticket rule %q", expr)
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, errors.Errorf("ticket rule %q must return a bool, got %s", expr, out)
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, errors.Wrapf(err, "build ticket rule %q", expr)
	}
	return &CELTicketRule{expr: expr, program: program}, nil
}

// Eligible 实现了 domain.TicketRule 接口。
func (r *CELTicketRule) Eligible(item domain.CartItem) (bool, error) {
	seats := make([]string, len(item.Seats))
	for i, s := range item.Seats {
		seats[i] = s.String()
	}
	out, _, err := r.program.Eval(map[string]any{
		"item": map[string]any{
			"id":          item.ID,
			"productId":   item.ProductID,
			"productName": item.ProductName,
			"productType": string(item.ProductType),
			"amount":      int64(item.Amount),
			"unitPrice":   item.UnitPrice,
			"seats":       seats,
		},
	})
	if err != nil {
		return false, errors.Wrapf(err, "evaluate ticket rule %q", r.expr)
	}
	eligible, ok := out.Value().(bool)
	if !ok {
		return false, errors.Errorf("ticket rule %q returned %T instead of bool", r.expr, out.Value())
	}
	return eligible, nil
}

func (r *CELTicketRule) String() string {
	return r.expr
}
