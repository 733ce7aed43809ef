// Package auth guards gRPC services with bearer tokens.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// RoleReader may query catalogs.
const RoleReader = "reader"

const (
	headerKey    = "authorization"
	bearerPrefix = "Bearer "
)

// ErrInvalidToken is returned by verifiers that reject a token.
var ErrInvalidToken = errors.New("auth: invalid token")

// User is the identity a token resolves to.
type User struct {
	Username string
	Roles    []string
}

// HasRole reports whether u holds role.
func (u User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Verifier resolves a bearer token to a user.
type Verifier interface {
	Verify(ctx context.Context, token string) (User, error)
}

// StaticToken accepts a single shared token and grants it the reader role.
type StaticToken string

// Verify compares token against s in constant time.
func (s StaticToken) Verify(_ context.Context, token string) (User, error) {
	if s == "" || subtle.ConstantTimeCompare([]byte(s), []byte(token)) != 1 {
		return User{}, ErrInvalidToken
	}
	return User{Username: "token", Roles: []string{RoleReader}}, nil
}

// Config enables token checks. With Enabled set and no Verifier, Token is
// used as a StaticToken.
type Config struct {
	Enabled  bool
	Token    string
	Verifier Verifier
	// Role, when set, must be held by the verified user.
	Role string
}

func (c Config) verifier() Verifier {
	if c.Verifier != nil {
		return c.Verifier
	}
	return StaticToken(c.Token)
}

type userKey struct{}

// UserFromContext returns the user attached by the interceptors.
func UserFromContext(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(userKey{}).(User)
	return u, ok
}

// Authorize checks the bearer token in the incoming metadata of ctx and
// returns ctx carrying the verified user. Failures are gRPC status errors.
func (c Config) Authorize(ctx context.Context) (context.Context, error) {
	if !c.Enabled {
		return ctx, nil
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing metadata")
	}
	values := md.Get(headerKey)
	if len(values) == 0 {
		return nil, status.Error(codes.Unauthenticated, "missing authorization header")
	}
	token, ok := strings.CutPrefix(values[0], bearerPrefix)
	if !ok || token == "" {
		return nil, status.Error(codes.Unauthenticated, "authorization header is not a bearer token")
	}

	user, err := c.verifier().Verify(ctx, token)
	if err != nil {
		return nil, status.Errorf(codes.Unauthenticated, "token rejected: %v", err)
	}
	if c.Role != "" && !user.HasRole(c.Role) {
		return nil, status.Errorf(codes.PermissionDenied, "user %q lacks role %q", user.Username, c.Role)
	}
	return context.WithValue(ctx, userKey{}, user), nil
}

// UnaryInterceptor authorizes unary calls.
func (c Config) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		ctx, err := c.Authorize(ctx)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamInterceptor authorizes streaming calls.
func (c Config) StreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, _ *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := c.Authorize(ss.Context())
		if err != nil {
			return err
		}
		return handler(srv, &authedStream{ServerStream: ss, ctx: ctx})
	}
}

type authedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authedStream) Context() context.Context { return s.ctx }

// WithToken attaches token to outgoing client metadata.
func WithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, headerKey, bearerPrefix+token)
}
