package flight

import (
	"context"
	"fmt"

	"github.com/TFMV/starcat/auth"
	"github.com/TFMV/starcat/query"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ---------------------------------------------------------------------
// Flight Client
// ---------------------------------------------------------------------

// Client queries a catalog Flight service.
type Client struct {
	client flight.Client
	token  string
	mem    memory.Allocator
}

// NewClient connects to addr. A non-empty token is sent as a bearer token
// with every call.
func NewClient(addr, token string) (*Client, error) {
	client, err := flight.NewClientWithMiddleware(addr, nil, nil,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create flight client: %w", err)
	}
	return &Client{client: client, token: token, mem: memory.NewGoAllocator()}, nil
}

// Schema fetches the schema of the served table.
func (c *Client) Schema(ctx context.Context) (*arrow.Schema, error) {
	res, err := c.client.GetSchema(auth.WithToken(ctx, c.token), &flight.FlightDescriptor{Type: flight.DescriptorCMD})
	if err != nil {
		return nil, fmt.Errorf("GetSchema failed: %w", err)
	}
	schema, err := flight.DeserializeSchema(res.GetSchema(), c.mem)
	if err != nil {
		return nil, fmt.Errorf("failed to decode schema: %w", err)
	}
	return schema, nil
}

// Query runs q on the server and returns the streamed batches. The caller
// must release every record.
func (c *Client) Query(ctx context.Context, q *query.Query) ([]arrow.Record, error) {
	ticket, err := EncodeTicket(q)
	if err != nil {
		return nil, err
	}
	return c.Fetch(ctx, ticket)
}

// Describe asks the server for the result schema of q and the ticket that
// retrieves it.
func (c *Client) Describe(ctx context.Context, q *query.Query) (*arrow.Schema, *flight.Ticket, error) {
	cmd, err := EncodeTicket(q)
	if err != nil {
		return nil, nil, err
	}
	desc := &flight.FlightDescriptor{Type: flight.DescriptorCMD, Cmd: cmd.GetTicket()}
	info, err := c.client.GetFlightInfo(auth.WithToken(ctx, c.token), desc)
	if err != nil {
		return nil, nil, fmt.Errorf("GetFlightInfo failed: %w", err)
	}
	schema, err := flight.DeserializeSchema(info.GetSchema(), c.mem)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode schema: %w", err)
	}
	if len(info.GetEndpoint()) == 0 {
		return nil, nil, fmt.Errorf("flight info for %q has no endpoint", cmd.GetTicket())
	}
	return schema, info.GetEndpoint()[0].GetTicket(), nil
}

// Fetch streams the batches for ticket. The caller must release every
// record.
func (c *Client) Fetch(ctx context.Context, ticket *flight.Ticket) ([]arrow.Record, error) {
	stream, err := c.client.DoGet(auth.WithToken(ctx, c.token), ticket)
	if err != nil {
		return nil, fmt.Errorf("DoGet failed: %w", err)
	}

	reader, err := flight.NewRecordReader(stream, ipc.WithAllocator(c.mem))
	if err != nil {
		return nil, fmt.Errorf("failed to create reader: %w", err)
	}
	defer reader.Release()

	var records []arrow.Record
	for reader.Next() {
		rec := reader.Record()
		// The reader reuses its record on Next.
		rec.Retain()
		records = append(records, rec)
	}
	if err := reader.Err(); err != nil {
		for _, rec := range records {
			rec.Release()
		}
		return nil, fmt.Errorf("error reading from flight stream: %w", err)
	}
	return records, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.client.Close()
}
