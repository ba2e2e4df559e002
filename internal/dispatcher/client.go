package dispatcher

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client is a Dispatcher that forwards StartAction to a remote Server over
// gRPC, for engine processes that hand execution off to an out-of-process
// fleet of executors instead of running a WorkerPool in-process.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to a dispatcher Server at addr. The connection carries no
// transport credentials: it is meant for a private network between the
// engine and its executor fleet, matching the teacher's internal-service
// gRPC wiring rather than its externally exposed APIs.
func Dial(ctx context.Context, addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dispatcher: dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// StartAction implements Dispatcher by invoking the remote StartAction RPC.
func (c *Client) StartAction(ctx context.Context, actionID string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req := &StartActionRequest{ActionID: actionID}
	resp := new(StartActionResponse)
	if err := c.conn.Invoke(ctx, "/"+serviceName+"/StartAction", req, resp, grpc.CallContentSubtype(jsonCodec{}.Name())); err != nil {
		return fmt.Errorf("dispatcher: StartAction: %w", err)
	}
	return nil
}
