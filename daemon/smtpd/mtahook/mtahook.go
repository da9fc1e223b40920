// Package mtahook is a gRPC client for an MTA-hook filter consultation
// service, structurally identical to package milter but kept as a separate
// client type since the two collaborators are dialed independently over
// separate connections; both are consulted at the "rcpt" stage (§4.E step 4).
package mtahook

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/golang/protobuf/proto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/relaydog/mtasession/daemon/smtpd/collab"
)

type runRequest struct {
	Stage  string   `protobuf:"bytes,1,opt,name=stage,proto3" json:"stage,omitempty"`
	Keys   []string `protobuf:"bytes,2,rep,name=keys,proto3" json:"keys,omitempty"`
	Values []string `protobuf:"bytes,3,rep,name=values,proto3" json:"values,omitempty"`
}

func (m *runRequest) Reset()         { *m = runRequest{} }
func (m *runRequest) String() string { return proto.CompactTextString(m) }
func (m *runRequest) ProtoMessage()  {}

type runResponse struct {
	Rejected bool   `protobuf:"varint,1,opt,name=rejected,proto3" json:"rejected,omitempty"`
	Message  string `protobuf:"bytes,2,opt,name=message,proto3" json:"message,omitempty"`
}

func (m *runResponse) Reset()         { *m = runResponse{} }
func (m *runResponse) String() string { return proto.CompactTextString(m) }
func (m *runResponse) ProtoMessage()  {}

const method = "/mtasession.mtahook.Hook/Run"

// Client consults a remote MTA hook over gRPC.
type Client struct {
	conn    *grpc.ClientConn
	Timeout time.Duration
}

// Dial connects to an MTA-hook service.
func Dial(ctx context.Context, address string, useTLS bool, timeout time.Duration) (*Client, error) {
	var creds credentials.TransportCredentials
	if useTLS {
		creds = credentials.NewTLS(&tls.Config{})
	} else {
		creds = insecure.NewCredentials()
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	conn, err := grpc.DialContext(dialCtx, address, grpc.WithTransportCredentials(creds), grpc.WithBlock())
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, Timeout: timeout}, nil
}

// Run implements collab.MTAHookClient.
func (c *Client) Run(ctx context.Context, stage string, params map[string]string) (collab.FilterVerdict, error) {
	req := &runRequest{Stage: stage}
	for k, v := range params {
		req.Keys = append(req.Keys, k)
		req.Values = append(req.Values, v)
	}
	callCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()
	resp := &runResponse{}
	if err := c.conn.Invoke(callCtx, method, req, resp); err != nil {
		return collab.FilterVerdict{}, err
	}
	return collab.FilterVerdict{Rejected: resp.Rejected, Message: resp.Message}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

var _ collab.MTAHookClient = (*Client)(nil)
