package controlrpc

import (
	"context"

	"google.golang.org/grpc"
)

// ParamsServiceName is the gRPC service of the parameter store
const ParamsServiceName = "mechos.control.v1.Params"

// ParamServer is implemented by the parameter store service
type ParamServer interface {
	UseParameterDatabase(ctx context.Context, req *UseDatabaseRequest) (*BoolReply, error)
	SetParam(ctx context.Context, req *SetParamRequest) (*BoolReply, error)
	GetParam(ctx context.Context, req *GetParamRequest) (*GetParamReply, error)
}

// RegisterParamServer attaches srv to a gRPC registrar
func RegisterParamServer(s grpc.ServiceRegistrar, srv ParamServer) {
	s.RegisterService(&paramServiceDesc, srv)
}

var paramServiceDesc = grpc.ServiceDesc{
	ServiceName: ParamsServiceName,
	HandlerType: (*ParamServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "UseParameterDatabase",
			Handler: unary(ParamsServiceName, "UseParameterDatabase", func(srv any, ctx context.Context, req *UseDatabaseRequest) (*BoolReply, error) {
				return srv.(ParamServer).UseParameterDatabase(ctx, req)
			}),
		},
		{
			MethodName: "SetParam",
			Handler: unary(ParamsServiceName, "SetParam", func(srv any, ctx context.Context, req *SetParamRequest) (*BoolReply, error) {
				return srv.(ParamServer).SetParam(ctx, req)
			}),
		},
		{
			MethodName: "GetParam",
			Handler: unary(ParamsServiceName, "GetParam", func(srv any, ctx context.Context, req *GetParamRequest) (*GetParamReply, error) {
				return srv.(ParamServer).GetParam(ctx, req)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mechos/control/v1/params",
}

// ParamClient reads and writes the parameter store hosted by the broker
type ParamClient struct {
	*conn
}

// DialParams creates a parameter store client for the broker at target
func DialParams(target string, config Config) (*ParamClient, error) {
	c, err := dial(target, config)
	if err != nil {
		return nil, err
	}
	return &ParamClient{conn: c}, nil
}

// UseDatabase points the store at a document file
func (c *ParamClient) UseDatabase(ctx context.Context, path string) error {
	return c.invoke(ctx, fullMethod(ParamsServiceName, "UseParameterDatabase"), &UseDatabaseRequest{Path: path}, new(BoolReply))
}

// Set stores value at path
func (c *ParamClient) Set(ctx context.Context, path, value string) error {
	return c.invoke(ctx, fullMethod(ParamsServiceName, "SetParam"), &SetParamRequest{Path: path, Value: value}, new(BoolReply))
}

// Get returns the value at path; found is false when any level is missing
func (c *ParamClient) Get(ctx context.Context, path string) (value string, found bool, err error) {
	out := new(GetParamReply)
	if err := c.invoke(ctx, fullMethod(ParamsServiceName, "GetParam"), &GetParamRequest{Path: path}, out); err != nil {
		return "", false, err
	}
	return out.Value, out.Found, nil
}
