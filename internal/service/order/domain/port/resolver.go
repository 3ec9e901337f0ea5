package port

import "context"

// DomainResolver 解析自定义域名的 CNAME 记录。
type DomainResolver interface {
	LookupCNAME(ctx context.Context, host string) (string, error)
}
