package admin

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// The admin service has no generated stubs: messages are plain structs
// carried by a JSON codec selected through the content subtype.

const codecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                               { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type ExecRequest struct {
	Command string `json:"command"`
}

type ExecReply struct {
	Output string `json:"output"`
	JSON   bool   `json:"json"`
}

type AdminServer interface {
	Exec(context.Context, *ExecRequest) (*ExecReply, error)
}

// grpcAdmin adapts Commander to AdminServer.
type grpcAdmin struct {
	c *Commander
}

func (g grpcAdmin) Exec(ctx context.Context, in *ExecRequest) (*ExecReply, error) {
	res := g.c.Exec(ctx, in.Command)
	return &ExecReply{Output: res.Output, JSON: res.JSON}, nil
}

func _Admin_Exec_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ExecRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServer).Exec(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/agent.Admin/Exec",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AdminServer).Exec(ctx, req.(*ExecRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var adminServiceDesc = grpc.ServiceDesc{
	ServiceName: "agent.Admin",
	HandlerType: (*AdminServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Exec",
			Handler:    _Admin_Exec_Handler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "admin",
}

// RegisterCommander serves c as agent.Admin on s.
func RegisterCommander(s *grpc.Server, c *Commander) {
	s.RegisterService(&adminServiceDesc, grpcAdmin{c: c})
}

type AdminClient struct {
	cc *grpc.ClientConn
}

func NewAdminClient(cc *grpc.ClientConn) *AdminClient {
	return &AdminClient{cc: cc}
}

func (c *AdminClient) Exec(ctx context.Context, in *ExecRequest, opts ...grpc.CallOption) (*ExecReply, error) {
	out := new(ExecReply)
	opts = append(opts, grpc.CallContentSubtype(codecName))
	if err := c.cc.Invoke(ctx, "/agent.Admin/Exec", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
