// Package flight serves a loaded catalog over Apache Arrow Flight.
package flight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/TFMV/starcat/catalog"
	"github.com/TFMV/starcat/query"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// CatalogService answers Flight requests against one catalog table.
type CatalogService struct {
	flight.BaseFlightServer
	table     *catalog.Table
	planner   *query.Planner
	batchSize int64
	mem       memory.Allocator
	logger    *zap.Logger
}

// ServiceOption configures a CatalogService.
type ServiceOption func(*CatalogService)

// WithBatchSize sets the maximum rows per streamed record batch.
func WithBatchSize(n int64) ServiceOption {
	return func(s *CatalogService) { s.batchSize = n }
}

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *CatalogService) { s.logger = l }
}

// NewCatalogService serves t, planning queries with p.
func NewCatalogService(t *catalog.Table, p *query.Planner, opts ...ServiceOption) *CatalogService {
	s := &CatalogService{
		table:     t,
		planner:   p,
		batchSize: query.DefaultBatchSize,
		mem:       catalog.Pool,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetSchema returns the schema of the served table.
func (s *CatalogService) GetSchema(_ context.Context, _ *flight.FlightDescriptor) (*flight.SchemaResult, error) {
	return &flight.SchemaResult{Schema: flight.SerializeSchema(s.table.Schema(), s.mem)}, nil
}

// GetFlightInfo describes the result of the query carried in the
// descriptor command, which uses the ticket encoding.
func (s *CatalogService) GetFlightInfo(ctx context.Context, desc *flight.FlightDescriptor) (*flight.FlightInfo, error) {
	q, err := DecodeTicket(desc.GetCmd())
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid command: %v", err)
	}
	plan, err := s.planner.Plan(q)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "plan failed: %v", err)
	}
	schema := s.table.Schema()
	if len(plan.Columns) > 0 {
		sel, err := s.table.Select(plan.Columns...)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "plan failed: %v", err)
		}
		schema = sel.Schema()
		sel.Release()
	}
	return &flight.FlightInfo{
		Schema:           flight.SerializeSchema(schema, s.mem),
		FlightDescriptor: desc,
		Endpoint:         []*flight.FlightEndpoint{{Ticket: &flight.Ticket{Ticket: desc.GetCmd()}}},
		TotalRecords:     -1,
		TotalBytes:       -1,
	}, nil
}

// DoGet runs the query encoded in the ticket and streams the matching rows.
func (s *CatalogService) DoGet(ticket *flight.Ticket, stream flight.FlightService_DoGetServer) error {
	ctx := stream.Context()
	q, err := DecodeTicket(ticket.GetTicket())
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid ticket: %v", err)
	}

	result, err := s.planner.Run(ctx, s.table, q)
	if err != nil {
		if errors.Is(err, query.ErrInvalidQuery) || errors.Is(err, catalog.ErrColumnNotFound) {
			return status.Errorf(codes.InvalidArgument, "query failed: %v", err)
		}
		return status.Errorf(codes.Internal, "query failed: %v", err)
	}
	defer result.Release()

	writer := flight.NewRecordWriter(stream, ipc.WithSchema(result.Schema()), ipc.WithAllocator(s.mem))
	defer writer.Close()

	var batches int
	err = query.Batches(result.Record(), s.batchSize, func(rec arrow.Record) error {
		batches++
		return writer.Write(rec)
	})
	if err != nil {
		return status.Errorf(codes.Internal, "failed to write record: %v", err)
	}

	s.logger.Debug("Streamed query result",
		zap.Int64("rows", result.NumRows()),
		zap.Int("batches", batches))
	return nil
}

// EncodeTicket serializes q into a Flight ticket.
func EncodeTicket(q *query.Query) (*flight.Ticket, error) {
	if q == nil {
		q = &query.Query{}
	}
	data, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("failed to encode ticket: %w", err)
	}
	return &flight.Ticket{Ticket: data}, nil
}

// DecodeTicket parses a JSON ticket. An empty ticket selects every row.
func DecodeTicket(data []byte) (*query.Query, error) {
	q := &query.Query{}
	if len(data) == 0 {
		return q, nil
	}
	if err := json.Unmarshal(data, q); err != nil {
		return nil, fmt.Errorf("failed to decode ticket: %w", err)
	}
	return q, nil
}
