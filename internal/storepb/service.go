package storepb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "ledgersync.Store"

const (
	MethodSignIn    = "/ledgersync.Store/SignIn"
	MethodRegister  = "/ledgersync.Store/Register"
	MethodRefresh   = "/ledgersync.Store/Refresh"
	MethodPing      = "/ledgersync.Store/Ping"
	MethodInsert    = "/ledgersync.Store/Insert"
	MethodUpdate    = "/ledgersync.Store/Update"
	MethodSelectAll = "/ledgersync.Store/SelectAll"
)

// StoreServer is implemented by the remote store.
type StoreServer interface {
	SignIn(ctx context.Context, in SignInRequest) (TokenResponse, error)
	Register(ctx context.Context, in RegisterRequest) (TokenResponse, error)
	Refresh(ctx context.Context, in RefreshRequest) (TokenResponse, error)
	Ping(ctx context.Context, in PingRequest) (PingResponse, error)
	Insert(ctx context.Context, in InsertRequest) (Row, error)
	Update(ctx context.Context, in UpdateRequest) (Row, error)
	SelectAll(ctx context.Context, in SelectRequest) (RowsResponse, error)
}

// StoreClient is the client side of StoreServer.
type StoreClient interface {
	SignIn(ctx context.Context, in SignInRequest, opts ...grpc.CallOption) (TokenResponse, error)
	Register(ctx context.Context, in RegisterRequest, opts ...grpc.CallOption) (TokenResponse, error)
	Refresh(ctx context.Context, in RefreshRequest, opts ...grpc.CallOption) (TokenResponse, error)
	Ping(ctx context.Context, in PingRequest, opts ...grpc.CallOption) (PingResponse, error)
	Insert(ctx context.Context, in InsertRequest, opts ...grpc.CallOption) (Row, error)
	Update(ctx context.Context, in UpdateRequest, opts ...grpc.CallOption) (Row, error)
	SelectAll(ctx context.Context, in SelectRequest, opts ...grpc.CallOption) (RowsResponse, error)
}

// RegisterStoreServer attaches srv to s.
func RegisterStoreServer(s grpc.ServiceRegistrar, srv StoreServer) {
	s.RegisterService(&StoreServiceDesc, srv)
}

var StoreServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*StoreServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SignIn", Handler: unaryHandler(MethodSignIn, StoreServer.SignIn)},
		{MethodName: "Register", Handler: unaryHandler(MethodRegister, StoreServer.Register)},
		{MethodName: "Refresh", Handler: unaryHandler(MethodRefresh, StoreServer.Refresh)},
		{MethodName: "Ping", Handler: unaryHandler(MethodPing, StoreServer.Ping)},
		{MethodName: "Insert", Handler: unaryHandler(MethodInsert, StoreServer.Insert)},
		{MethodName: "Update", Handler: unaryHandler(MethodUpdate, StoreServer.Update)},
		{MethodName: "SelectAll", Handler: unaryHandler(MethodSelectAll, StoreServer.SelectAll)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ledgersync/store",
}

func unaryHandler[Req, Resp any](fullMethod string, call func(StoreServer, context.Context, Req) (Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		raw := new(structpb.Struct)
		if err := dec(raw); err != nil {
			return nil, err
		}
		var in Req
		if err := Decode(raw, &in); err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}

		handler := func(ctx context.Context, req any) (any, error) {
			out, err := call(srv.(StoreServer), ctx, req.(Req))
			if err != nil {
				return nil, err
			}
			s, err := Encode(out)
			if err != nil {
				return nil, status.Error(codes.Internal, err.Error())
			}
			return s, nil
		}

		if interceptor == nil {
			return handler(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, handler)
	}
}

type storeClient struct {
	cc grpc.ClientConnInterface
}

func NewStoreClient(cc grpc.ClientConnInterface) StoreClient {
	return &storeClient{cc: cc}
}

func invoke[Req, Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in Req, opts ...grpc.CallOption) (Resp, error) {
	var out Resp
	req, err := Encode(in)
	if err != nil {
		return out, err
	}
	reply := new(structpb.Struct)
	if err := cc.Invoke(ctx, method, req, reply, opts...); err != nil {
		return out, err
	}
	if err := Decode(reply, &out); err != nil {
		return out, err
	}
	return out, nil
}

func (c *storeClient) SignIn(ctx context.Context, in SignInRequest, opts ...grpc.CallOption) (TokenResponse, error) {
	return invoke[SignInRequest, TokenResponse](ctx, c.cc, MethodSignIn, in, opts...)
}

func (c *storeClient) Register(ctx context.Context, in RegisterRequest, opts ...grpc.CallOption) (TokenResponse, error) {
	return invoke[RegisterRequest, TokenResponse](ctx, c.cc, MethodRegister, in, opts...)
}

func (c *storeClient) Refresh(ctx context.Context, in RefreshRequest, opts ...grpc.CallOption) (TokenResponse, error) {
	return invoke[RefreshRequest, TokenResponse](ctx, c.cc, MethodRefresh, in, opts...)
}

func (c *storeClient) Ping(ctx context.Context, in PingRequest, opts ...grpc.CallOption) (PingResponse, error) {
	return invoke[PingRequest, PingResponse](ctx, c.cc, MethodPing, in, opts...)
}

func (c *storeClient) Insert(ctx context.Context, in InsertRequest, opts ...grpc.CallOption) (Row, error) {
	return invoke[InsertRequest, Row](ctx, c.cc, MethodInsert, in, opts...)
}

func (c *storeClient) Update(ctx context.Context, in UpdateRequest, opts ...grpc.CallOption) (Row, error) {
	return invoke[UpdateRequest, Row](ctx, c.cc, MethodUpdate, in, opts...)
}

func (c *storeClient) SelectAll(ctx context.Context, in SelectRequest, opts ...grpc.CallOption) (RowsResponse, error) {
	return invoke[SelectRequest, RowsResponse](ctx, c.cc, MethodSelectAll, in, opts...)
}

// ConflictError builds an Aborted status carrying the stored row, which the
// client uses to resolve the conflict.
func ConflictError(msg string, current Row) error {
	st := status.New(codes.Aborted, msg)
	detail, err := Encode(current)
	if err != nil {
		return st.Err()
	}
	withRow, err := st.WithDetails(detail)
	if err != nil {
		return st.Err()
	}
	return withRow.Err()
}

// RowFromStatus extracts the row attached by ConflictError.
func RowFromStatus(err error) (Row, bool) {
	st, ok := status.FromError(err)
	if !ok {
		return Row{}, false
	}
	for _, d := range st.Details() {
		s, ok := d.(*structpb.Struct)
		if !ok {
			continue
		}
		var row Row
		if Decode(s, &row) == nil && row.ID != "" {
			return row, true
		}
	}
	return Row{}, false
}
