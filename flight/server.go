package flight

import (
	"fmt"

	"github.com/TFMV/starcat/auth"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"google.golang.org/grpc"
)

// NewServer binds a Flight server to addr serving svc. Token checks from
// authCfg run on every call. Call Serve on the result to start it.
func NewServer(addr string, svc flight.FlightServer, authCfg auth.Config) (flight.Server, error) {
	srv := flight.NewServerWithMiddleware(nil,
		grpc.ChainUnaryInterceptor(authCfg.UnaryInterceptor()),
		grpc.ChainStreamInterceptor(authCfg.StreamInterceptor()),
	)
	if err := srv.Init(addr); err != nil {
		return nil, fmt.Errorf("failed to listen on %q: %w", addr, err)
	}
	srv.RegisterFlightService(svc)
	return srv, nil
}
