package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/rocketshoes-cart/internal/core/domain"
	"github.com/rl1809/rocketshoes-cart/internal/core/service"
	"github.com/rl1809/rocketshoes-cart/internal/logger"
)

// CodecName is the content subtype clients select with
// grpc.CallContentSubtype.
const CodecName = "json"

const cartServiceName = "cart.v1.CartService"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return CodecName }

type GetCartRequest struct{}

type AddProductRequest struct {
	ProductID int `json:"product_id"`
}

type RemoveProductRequest struct {
	ProductID int `json:"product_id"`
}

type UpdateProductAmountRequest struct {
	ProductID int `json:"product_id"`
	Amount    int `json:"amount"`
}

type WatchCartRequest struct{}

type CartResponse struct {
	Success    bool        `json:"success"`
	Message    string      `json:"message,omitempty"`
	Items      domain.Cart `json:"items"`
	TotalItems int         `json:"total_items"`
	Subtotal   float64     `json:"subtotal"`
}

// CartServiceServer is the server API for cart.v1.CartService.
type CartServiceServer interface {
	GetCart(context.Context, *GetCartRequest) (*CartResponse, error)
	AddProduct(context.Context, *AddProductRequest) (*CartResponse, error)
	RemoveProduct(context.Context, *RemoveProductRequest) (*CartResponse, error)
	UpdateProductAmount(context.Context, *UpdateProductAmountRequest) (*CartResponse, error)
	WatchCart(*WatchCartRequest, grpc.ServerStreamingServer[CartResponse]) error
}

func RegisterCartServiceServer(s grpc.ServiceRegistrar, srv CartServiceServer) {
	s.RegisterService(&cartServiceDesc, srv)
}

var cartServiceDesc = grpc.ServiceDesc{
	ServiceName: cartServiceName,
	HandlerType: (*CartServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetCart",
			Handler: unaryHandler("GetCart", func(srv CartServiceServer, ctx context.Context, req *GetCartRequest) (*CartResponse, error) {
				return srv.GetCart(ctx, req)
			}),
		},
		{
			MethodName: "AddProduct",
			Handler: unaryHandler("AddProduct", func(srv CartServiceServer, ctx context.Context, req *AddProductRequest) (*CartResponse, error) {
				return srv.AddProduct(ctx, req)
			}),
		},
		{
			MethodName: "RemoveProduct",
			Handler: unaryHandler("RemoveProduct", func(srv CartServiceServer, ctx context.Context, req *RemoveProductRequest) (*CartResponse, error) {
				return srv.RemoveProduct(ctx, req)
			}),
		},
		{
			MethodName: "UpdateProductAmount",
			Handler: unaryHandler("UpdateProductAmount", func(srv CartServiceServer, ctx context.Context, req *UpdateProductAmountRequest) (*CartResponse, error) {
				return srv.UpdateProductAmount(ctx, req)
			}),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchCart",
			Handler:       watchCartHandler,
			ServerStreams: true,
		},
	},
}

func unaryHandler[Req any](method string, call func(CartServiceServer, context.Context, *Req) (*CartResponse, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(CartServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + cartServiceName + "/" + method,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(CartServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func watchCartHandler(srv any, stream grpc.ServerStream) error {
	in := new(WatchCartRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(CartServiceServer).WatchCart(in, &grpc.GenericServerStream[WatchCartRequest, CartResponse]{ServerStream: stream})
}

type GRPCHandler struct {
	cartService *service.CartService
	logger      *slog.Logger
}

func NewGRPCHandler(cartService *service.CartService, logger *slog.Logger) *GRPCHandler {
	return &GRPCHandler{cartService: cartService, logger: logger}
}

func (h *GRPCHandler) GetCart(ctx context.Context, req *GetCartRequest) (*CartResponse, error) {
	return cartResponse(h.cartService.Cart(), ""), nil
}

func (h *GRPCHandler) AddProduct(ctx context.Context, req *AddProductRequest) (*CartResponse, error) {
	if req.ProductID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "product_id must be a positive integer")
	}
	if err := h.cartService.AddProduct(ctx, req.ProductID); err != nil {
		return nil, h.statusError(ctx, err)
	}
	return cartResponse(h.cartService.Cart(), "product added"), nil
}

func (h *GRPCHandler) RemoveProduct(ctx context.Context, req *RemoveProductRequest) (*CartResponse, error) {
	if err := h.cartService.RemoveProduct(ctx, req.ProductID); err != nil {
		return nil, h.statusError(ctx, err)
	}
	return cartResponse(h.cartService.Cart(), "product removed"), nil
}

func (h *GRPCHandler) UpdateProductAmount(ctx context.Context, req *UpdateProductAmountRequest) (*CartResponse, error) {
	err := h.cartService.UpdateProductAmount(ctx, service.UpdateProductAmount{
		ProductID: req.ProductID,
		Amount:    req.Amount,
	})
	if err != nil {
		return nil, h.statusError(ctx, err)
	}
	return cartResponse(h.cartService.Cart(), "amount updated"), nil
}

// WatchCart streams the cart after every committed change until the client
// goes away or the store is closed.
func (h *GRPCHandler) WatchCart(req *WatchCartRequest, stream grpc.ServerStreamingServer[CartResponse]) error {
	updates, unsubscribe := h.cartService.Subscribe()
	defer unsubscribe()

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case cart, ok := <-updates:
			if !ok {
				return nil
			}
			if err := stream.Send(cartResponse(cart, "")); err != nil {
				return err
			}
		}
	}
}

func (h *GRPCHandler) statusError(ctx context.Context, err error) error {
	message := service.NotificationMessage(err)
	if message == "" {
		message = "internal error"
	}

	switch {
	case errors.Is(err, service.ErrInvalidAmount):
		return status.Error(codes.InvalidArgument, message)
	case errors.Is(err, service.ErrProductNotInCart):
		return status.Error(codes.NotFound, message)
	case errors.Is(err, service.ErrOutOfStock):
		return status.Error(codes.FailedPrecondition, message)
	case errors.Is(err, service.ErrUnknownProduct):
		return status.Error(codes.NotFound, message)
	case errors.Is(err, service.ErrCatalogUnavailable):
		return status.Error(codes.Unavailable, message)
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, message)
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, message)
	default:
		logger.WithContext(ctx, h.logger).ErrorContext(ctx, "cart operation failed",
			slog.String("error", err.Error()))
		return status.Error(codes.Internal, message)
	}
}

// RequestIDInterceptor takes x-request-id from the incoming metadata, or
// generates one, and stores it as the correlation id.
func RequestIDInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	var id string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get("x-request-id"); len(values) > 0 {
			id = values[0]
		}
	}
	if id == "" {
		id = uuid.NewString()
	}
	return handler(logger.WithCorrelationID(ctx, id), req)
}

func cartResponse(cart domain.Cart, message string) *CartResponse {
	return &CartResponse{
		Success:    true,
		Message:    message,
		Items:      cart,
		TotalItems: cart.TotalItems(),
		Subtotal:   cart.Subtotal(),
	}
}
