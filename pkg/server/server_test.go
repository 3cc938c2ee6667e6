package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"hippo/pkg/acl"
	"hippo/pkg/meta"
	"hippo/pkg/metadata"
	"hippo/pkg/metrics"
	"hippo/pkg/product"
	"hippo/pkg/upload"
	"hippo/pkg/versioning"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcmd "google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func TestToStatus(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{meta.ErrProductNotFound, codes.NotFound},
		{fmt.Errorf("lookup: %w", meta.ErrCollectionNotFound), codes.NotFound},
		{acl.ErrForbidden, codes.PermissionDenied},
		{versioning.ErrVersioning, codes.FailedPrecondition},
		{fmt.Errorf("%w: a.fits missing", upload.ErrUploadIncomplete), codes.FailedPrecondition},
		{metadata.ErrInvalidSlug, codes.InvalidArgument},
		{upload.ErrFileExists, codes.AlreadyExists},
		{meta.ErrConcurrentUpdate, codes.Aborted},
		{product.ErrNoChanges, codes.FailedPrecondition},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{errors.New("boom"), codes.Internal},
		{status.Error(codes.Unavailable, "down"), codes.Unavailable},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, status.Code(ToStatus(tt.err)))
		})
	}
	assert.NoError(t, ToStatus(nil))
}

var info = &grpc.UnaryServerInfo{FullMethod: "/hippo.v1.Products/Read"}

func TestRecoveryInterceptor(t *testing.T) {
	var buf bytes.Buffer
	intercept := UnaryRecoveryInterceptor(zerolog.New(&buf))

	_, err := intercept(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
		panic("source count mismatch")
	})
	assert.Equal(t, codes.Internal, status.Code(err))
	assert.Contains(t, buf.String(), "panic recovered")
	assert.Contains(t, buf.String(), "source count mismatch")
}

func TestLoggingInterceptor_RecordsMetrics(t *testing.T) {
	var buf bytes.Buffer
	m := metrics.New(nil)
	intercept := UnaryLoggingInterceptor(zerolog.New(&buf), m)

	_, err := intercept(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
		return nil, status.Error(codes.NotFound, "nope")
	})
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues(info.FullMethod, "NotFound")))
	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), info.FullMethod)
}

func TestErrorInterceptor(t *testing.T) {
	intercept := UnaryErrorInterceptor()
	_, err := intercept(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
		return nil, fmt.Errorf("read: %w", meta.ErrProductNotFound)
	})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestTokenRoundTrip(t *testing.T) {
	ts := NewTokenService([]byte("secret"), "hippo", time.Hour)
	raw, err := ts.Issue(acl.Caller{Name: "alice", Groups: []string{"act"}, Scopes: []string{acl.AdminScope}})
	require.NoError(t, err)

	caller, err := ts.CallerFromToken(raw)
	require.NoError(t, err)
	assert.Equal(t, "alice", caller.Name)
	assert.ElementsMatch(t, []string{"act", "alice"}, caller.Groups)
	assert.Equal(t, []string{acl.AdminScope}, caller.Scopes)
}

func TestCallerFromToken_Rejects(t *testing.T) {
	ts := NewTokenService([]byte("secret"), "hippo", time.Hour)

	other, err := NewTokenService([]byte("other"), "hippo", time.Hour).Issue(acl.Caller{Name: "eve"})
	require.NoError(t, err)
	_, err = ts.CallerFromToken(other)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := NewTokenService([]byte("secret"), "hippo", -time.Minute).Issue(acl.Caller{Name: "bob"})
	require.NoError(t, err)
	_, err = ts.CallerFromToken(expired)
	assert.ErrorIs(t, err, ErrTokenExpired)

	wrongIssuer, err := NewTokenService([]byte("secret"), "someone-else", time.Hour).Issue(acl.Caller{Name: "bob"})
	require.NoError(t, err)
	_, err = ts.CallerFromToken(wrongIssuer)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = ts.CallerFromToken("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthInterceptor(t *testing.T) {
	ts := NewTokenService([]byte("secret"), "hippo", time.Hour)
	intercept := UnaryAuthInterceptor(ts)

	var seen acl.Caller
	handler := func(ctx context.Context, req any) (any, error) {
		seen = CallerFromContext(ctx)
		return nil, nil
	}

	// 1. 匿名
	_, err := intercept(context.Background(), nil, info, handler)
	require.NoError(t, err)
	assert.Empty(t, seen.Name)

	// 2. 有效令牌
	raw, err := ts.Issue(acl.Caller{Name: "alice"})
	require.NoError(t, err)
	ctx := grpcmd.NewIncomingContext(context.Background(), grpcmd.Pairs("authorization", "Bearer "+raw))
	_, err = intercept(ctx, nil, info, handler)
	require.NoError(t, err)
	assert.Equal(t, "alice", seen.Name)

	// 3. 无效令牌
	ctx = grpcmd.NewIncomingContext(context.Background(), grpcmd.Pairs("authorization", "Bearer junk"))
	_, err = intercept(ctx, nil, info, handler)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	ctx = grpcmd.NewIncomingContext(context.Background(), grpcmd.Pairs("authorization", "Basic abc"))
	_, err = intercept(ctx, nil, info, handler)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}
