package application

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"orderflow/internal/service/order/domain"
)

// AdmissionPolicy 在订单落库前执行一组 CEL 规则，任一规则为 false 即拒绝。
// 规则里可以引用 order.user_id / product_id / quantity / total_amount / payment_method。
type AdmissionPolicy struct {
	rules []admissionRule
}

type admissionRule struct {
	expr    string
	program cel.Program
}

// NewAdmissionPolicy 在启动时编译全部规则，任何语法或类型错误都会返回
func NewAdmissionPolicy(exprs []string) (*AdmissionPolicy, error) {
	p := &AdmissionPolicy{}
	if len(exprs) == 0 {
		return p, nil
	}
	env, err := cel.NewEnv(cel.Variable("order", cel.MapType(cel.StringType, cel.DynType)))
	if err != nil {
		return nil, fmt.Errorf("create cel env: %w", err)
	}
	for _, expr := range exprs {
		ast, iss := env.Compile(expr)
		if iss.Err() != nil {
			return nil, fmt.Errorf("compile admission rule %q: %w", expr, iss.Err())
		}
		if ast.OutputType() != cel.BoolType {
			return nil, fmt.Errorf("admission rule %q must evaluate to bool, got %v", expr, ast.OutputType())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("build admission rule %q: %w", expr, err)
		}
		p.rules = append(p.rules, admissionRule{expr: expr, program: prg})
	}
	return p, nil
}

// Admit 返回 nil 表示通过；规则不满足时返回 *domain.ValidationError
func (p *AdmissionPolicy) Admit(params domain.NewOrderParams) error {
	if p == nil || len(p.rules) == 0 {
		return nil
	}
	vars := map[string]interface{}{
		"order": map[string]interface{}{
			"user_id":        params.UserID,
			"product_id":     params.ProductID,
			"quantity":       int64(params.Quantity),
			"total_amount":   params.TotalAmount,
			"payment_method": params.PaymentMethod,
		},
	}
	for _, rule := range p.rules {
		out, _, err := rule.program.Eval(vars)
		if err != nil {
			return &domain.ValidationError{Field: "order", Reason: fmt.Sprintf("rule %q failed to evaluate: %v", rule.expr, err)}
		}
		if ok, _ := out.Value().(bool); !ok {
			return &domain.ValidationError{Field: "order", Reason: fmt.Sprintf("rejected by rule %q", rule.expr)}
		}
	}
	return nil
}
