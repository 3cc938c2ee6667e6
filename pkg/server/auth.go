package server

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"hippo/pkg/acl"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrInvalidToken    = errors.New("invalid token")
	ErrTokenExpired    = errors.New("token expired")
)

// Claims 令牌里携带的身份
type Claims struct {
	jwt.RegisteredClaims
	Groups []string `json:"groups,omitempty"`
	Scopes []string `json:"scopes,omitempty"`
}

// TokenService 签发和校验 HS256 令牌
type TokenService struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

func NewTokenService(secret []byte, issuer string, ttl time.Duration) *TokenService {
	return &TokenService{secret: secret, issuer: issuer, ttl: ttl}
}

// Issue 为 caller 签发一个令牌；用户名同时作为个人 group
func (s *TokenService) Issue(caller acl.Caller) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   caller.Name,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		Groups: caller.Groups,
		Scopes: caller.Scopes,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// CallerFromToken 校验令牌并还原调用方
func (s *TokenService) CallerFromToken(raw string) (acl.Caller, error) {
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return acl.Caller{}, ErrTokenExpired
		}
		return acl.Caller{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return acl.Caller{}, ErrInvalidToken
	}

	groups := claims.Groups
	if claims.Subject != "" && !slices.Contains(groups, claims.Subject) {
		groups = append(groups, claims.Subject)
	}
	return acl.Caller{Name: claims.Subject, Groups: groups, Scopes: claims.Scopes}, nil
}

type callerKey struct{}

func ContextWithCaller(ctx context.Context, c acl.Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFromContext 没有令牌的请求得到匿名调用方 (没有任何 group)
func CallerFromContext(ctx context.Context) acl.Caller {
	c, _ := ctx.Value(callerKey{}).(acl.Caller)
	return c
}

// authenticate 从 metadata 的 authorization: Bearer <token> 中取出调用方
// 没有令牌时按匿名处理；令牌无效时拒绝
func (s *TokenService) authenticate(ctx context.Context) (context.Context, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	values := md.Get("authorization")
	if len(values) == 0 {
		return ctx, nil
	}

	raw, ok := strings.CutPrefix(values[0], "Bearer ")
	if !ok {
		return nil, ToStatus(ErrUnauthenticated)
	}
	caller, err := s.CallerFromToken(strings.TrimSpace(raw))
	if err != nil {
		return nil, ToStatus(errors.Join(ErrUnauthenticated, err))
	}
	return ContextWithCaller(ctx, caller), nil
}

func UnaryAuthInterceptor(s *TokenService) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := s.authenticate(ctx)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

func StreamAuthInterceptor(s *TokenService) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := s.authenticate(ss.Context())
		if err != nil {
			return err
		}
		return handler(srv, &callerStream{ServerStream: ss, ctx: ctx})
	}
}

type callerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *callerStream) Context() context.Context { return s.ctx }
