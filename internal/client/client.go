// Package client connects page engines and operator tools to a popwatch
// authority server.
package client

import (
	"context"
	"fmt"
	"io"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/popwatch/internal/authority"
	"github.com/ppiankov/popwatch/internal/protocol"
)

// callTimeout bounds operator calls.
const callTimeout = 5 * time.Second

// Client connects to a popwatch gRPC authority server.
type Client struct {
	conn   *grpc.ClientConn
	client *protocol.AuthorityClient
}

// New creates a gRPC client connected to the given address.
// The connection is lazy: an unreachable server surfaces on the first call.
func New(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to authority: %w", err)
	}
	return &Client{
		conn:   conn,
		client: protocol.NewAuthorityClient(conn),
	}, nil
}

// Exception announces the page and returns the authority's reply.
func (c *Client) Exception(ctx context.Context, req protocol.ExceptionRequest) (protocol.ExceptionReply, error) {
	in, err := req.ToStruct()
	if err != nil {
		return protocol.ExceptionReply{}, err
	}
	out, err := c.client.Call(ctx, protocol.MethodException, in)
	if err != nil {
		return protocol.ExceptionReply{}, err
	}
	return protocol.ExceptionReplyFrom(out), nil
}

// PopupRequest notifies the authority of a blocked popup.
func (c *Client) PopupRequest(ctx context.Context, req protocol.PopupRequest) error {
	in, err := req.ToStruct()
	if err != nil {
		return err
	}
	_, err = c.client.Call(ctx, protocol.MethodPopupRequest, in)
	return err
}

// Accept approves a pending popup; the page replays it.
func (c *Client) Accept(id string) (authority.Resolution, error) {
	return c.resolve(protocol.MethodAccept, id)
}

// Deny rejects a pending popup.
func (c *Client) Deny(id string) (authority.Resolution, error) {
	return c.resolve(protocol.MethodDeny, id)
}

func (c *Client) resolve(method, id string) (authority.Resolution, error) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	in, err := protocol.Encode(protocol.IDRequest{ID: id})
	if err != nil {
		return authority.Resolution{}, err
	}
	out, err := c.client.Call(ctx, method, in)
	if err != nil {
		return authority.Resolution{}, err
	}
	var res authority.Resolution
	if err := protocol.Decode(out, &res); err != nil {
		return authority.Resolution{}, err
	}
	return res, nil
}

// UseShadow switches a listening page to shadow mode.
func (c *Client) UseShadow(page string) error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	in, err := protocol.Encode(protocol.PageRequest{Page: page})
	if err != nil {
		return err
	}
	_, err = c.client.Call(ctx, protocol.MethodUseShadow, in)
	return err
}

// Ack confirms that page handled cmd.
func (c *Client) Ack(ctx context.Context, page, cmd string) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	in, err := protocol.Encode(protocol.AckRequest{Page: page, Cmd: cmd})
	if err != nil {
		return err
	}
	_, err = c.client.Call(ctx, protocol.MethodAck, in)
	return err
}

// ListPending returns all unresolved popups from the remote server.
func (c *Client) ListPending() ([]authority.Popup, error) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	out, err := c.client.Call(ctx, protocol.MethodListPending, &structpb.Struct{})
	if err != nil {
		return nil, err
	}
	var resp struct {
		Popups []authority.Popup `json:"popups"`
	}
	if err := protocol.Decode(out, &resp); err != nil {
		return nil, err
	}
	return resp.Popups, nil
}

// Subscription is an open authority-to-page message stream.
type Subscription struct {
	stream grpc.ServerStreamingClient[structpb.Struct]
	cancel context.CancelFunc
}

// Subscribe opens the message stream for page. It returns once the server
// has registered the subscription, so verdicts issued afterwards are delivered.
func (c *Client) Subscribe(ctx context.Context, page string) (*Subscription, error) {
	in, err := protocol.Encode(protocol.PageRequest{Page: page})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	stream, err := c.client.Subscribe(ctx, in)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %q: %w", page, err)
	}
	if _, err := stream.Header(); err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %q: %w", page, err)
	}
	return &Subscription{stream: stream, cancel: cancel}, nil
}

// Recv blocks for the next message. It returns io.EOF when the server ends the stream.
func (s *Subscription) Recv() (protocol.Message, error) {
	out, err := s.stream.Recv()
	if err != nil {
		return protocol.Message{}, err
	}
	return protocol.MessageFrom(out)
}

// Close ends the subscription.
func (s *Subscription) Close() {
	s.cancel()
}

// Listen subscribes page and passes every message to handle until ctx is
// cancelled or the stream ends. When handle returns true the message is
// acknowledged to the authority. Undecodable messages are skipped.
func (c *Client) Listen(ctx context.Context, page string, handle func(protocol.Message) bool) error {
	sub, err := c.Subscribe(ctx, page)
	if err != nil {
		return err
	}
	defer sub.Close()

	for {
		out, err := sub.stream.Recv()
		if err != nil {
			if err == io.EOF || ctx.Err() != nil {
				return nil
			}
			return err
		}
		msg, err := protocol.MessageFrom(out)
		if err != nil {
			continue
		}
		if handle(msg) {
			if err := c.Ack(ctx, page, msg.Cmd); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("ack %s: %w", msg.Cmd, err)
			}
		}
	}
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
