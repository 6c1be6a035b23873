// Package auth extracts the tenant identity attached by the authenticating
// gateway. Verification happens upstream; this package only refuses requests
// that arrive without an identity.
package auth

import (
	"context"
	"strings"
	"unicode"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/solatis/flowkeeper/internal/types"
)

// TenantMetadataKey is the incoming metadata key carrying the tenant id.
const TenantMetadataKey = "x-tenant-id"

// maxTenantIDLength bounds tenant ids accepted from metadata.
const maxTenantIDLength = 128

// contextKey is a typed key for context values to avoid collisions.
type contextKey string

// tenantIDKey is the context key for storing the tenant ID.
const tenantIDKey = contextKey("tenant_id")

// publicMethodPrefixes lists services reachable without a tenant.
var publicMethodPrefixes = []string{
	"/grpc.health.v1.Health/",
}

// ParseTenantID validates a raw tenant id from metadata.
func ParseTenantID(raw string) (types.TenantID, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", ErrMissingTenant
	}
	if len(id) > maxTenantIDLength {
		return "", ErrInvalidTenant
	}
	for _, r := range id {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return "", ErrInvalidTenant
		}
	}
	return types.TenantID(id), nil
}

// TenantFromMetadata reads the tenant id from incoming gRPC metadata.
func TenantFromMetadata(ctx context.Context) (types.TenantID, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", ErrMissingTenant
	}
	values := md.Get(TenantMetadataKey)
	if len(values) == 0 {
		return "", ErrMissingTenant
	}
	return ParseTenantID(values[0])
}

// WithTenant returns a context carrying tenantID.
func WithTenant(ctx context.Context, tenantID types.TenantID) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

// TenantFromContext extracts the tenant ID placed by UnaryInterceptor.
// Returns empty string if not found.
func TenantFromContext(ctx context.Context) types.TenantID {
	if tenantID, ok := ctx.Value(tenantIDKey).(types.TenantID); ok {
		return tenantID
	}
	return ""
}

// UnaryInterceptor returns a gRPC interceptor that requires a tenant identity
// and injects it into the handler context.
func UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		for _, prefix := range publicMethodPrefixes {
			if strings.HasPrefix(info.FullMethod, prefix) {
				return handler(ctx, req)
			}
		}

		tenantID, err := TenantFromMetadata(ctx)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		return handler(WithTenant(ctx, tenantID), req)
	}
}
