package application

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"

	"shopline/internal/pkg/logger"
	"shopline/internal/pkg/retry"
	"shopline/internal/service/order/domain"
)

// CheckDomain 校验 webshop 自定义域名的 CNAME 是否指向平台。
// DNS 传播可能有延迟，失败时等待一次再重试；仍然失败则返回 Valid=false 的部分结果。
func (s *OrderApplicationService) CheckDomain(ctx context.Context, webshopID string) (*DomainCheckResult, error) {
	ctx, span := s.tracer.Start(ctx, "app.CheckDomain")
	defer span.End()

	ws, err := s.webshops.FindByID(ctx, webshopID)
	if err != nil {
		return nil, err
	}
	if ws.Meta.Domain == "" {
		return nil, &domain.ConfigurationError{Code: "missing_domain", Message: "webshop has no custom domain", Field: "meta.domain"}
	}
	if s.resolver == nil {
		return nil, errors.New("no domain resolver configured")
	}

	result := &DomainCheckResult{Domain: ws.Meta.Domain, Target: s.domainTarget}
	cname, err := retry.Once(ctx, s.domainCheckDelay, func(ctx context.Context) (string, error) {
		cname, err := s.resolver.LookupCNAME(ctx, ws.Meta.Domain)
		if err != nil {
			return "", err
		}
		if !sameHost(cname, s.domainTarget) {
			return cname, errors.Errorf("%s points to %s instead of %s", ws.Meta.Domain, cname, s.domainTarget)
		}
		return cname, nil
	})
	result.CNAME = cname
	result.Valid = err == nil
	if err != nil {
		result.Error = err.Error()
		logger.Ctx(ctx).Warn().Err(err).Str("webshop", webshopID).Msg("domain check failed")
	}
	span.SetAttributes(attribute.Bool("domain.valid", result.Valid))
	return result, nil
}

func sameHost(a, b string) bool {
	return strings.EqualFold(strings.TrimSuffix(a, "."), strings.TrimSuffix(b, "."))
}
