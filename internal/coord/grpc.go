package coord

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"
)

const (
	serviceName = "gomidaco.coord.Broadcast"
	joinMethod  = "/" + serviceName + "/Join"
	codecName   = "json"
)

// jsonCodec lets the broadcast service run without generated protobuf code.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type joinRequest struct {
	Rank int `json:"rank"`
	Size int `json:"size"`
}

type ack struct {
	Seq uint64 `json:"seq"`
}

// JoinHandler is implemented by the coordinator's broadcast service.
type JoinHandler interface {
	HandleJoin(stream grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*JoinHandler)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Join",
			Handler:       joinStreamHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "coord/grpc.go",
}

func joinStreamHandler(srv any, stream grpc.ServerStream) error {
	return srv.(JoinHandler).HandleJoin(stream)
}

// GRPCRoot is the coordinator side of a multi-process group. Workers connect
// with Join; the first Broadcast waits until all of them have joined.
type GRPCRoot struct {
	size   int
	seq    uint64
	server *grpc.Server
	lis    net.Listener

	mu      sync.Mutex
	workers map[int]grpc.ServerStream
	broken  error
	joined  chan struct{}
	done    chan struct{}
	once    sync.Once
}

// Listen starts the coordinator's broadcast service on a TCP addr for a
// group of size workers.
func Listen(addr string, size int) (*GRPCRoot, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return Serve(lis, size), nil
}

// Serve starts the broadcast service on an existing listener.
func Serve(lis net.Listener, size int, opts ...grpc.ServerOption) *GRPCRoot {
	r := &GRPCRoot{
		size:    size,
		lis:     lis,
		workers: make(map[int]grpc.ServerStream),
		joined:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	if size <= 1 {
		close(r.joined)
	}

	r.server = grpc.NewServer(opts...)
	r.server.RegisterService(&serviceDesc, r)

	go func() {
		if err := r.server.Serve(lis); err != nil {
			slog.Error("Broadcast service stopped", "addr", lis.Addr().String(), "error", err)
		}
	}()

	slog.Info("Broadcast service listening", "addr", lis.Addr().String(), "size", size)
	return r
}

// Addr returns the address the service listens on.
func (r *GRPCRoot) Addr() string { return r.lis.Addr().String() }

// HandleJoin registers a worker stream and holds it open until the group closes.
func (r *GRPCRoot) HandleJoin(stream grpc.ServerStream) error {
	var req joinRequest
	if err := stream.RecvMsg(&req); err != nil {
		return err
	}
	if req.Size != r.size {
		return status.Errorf(codes.InvalidArgument, "group size mismatch: coordinator has %d, worker has %d", r.size, req.Size)
	}
	if req.Rank <= Root || req.Rank >= r.size {
		return status.Errorf(codes.InvalidArgument, "rank %d outside [1,%d)", req.Rank, r.size)
	}

	r.mu.Lock()
	if _, dup := r.workers[req.Rank]; dup {
		r.mu.Unlock()
		return status.Errorf(codes.AlreadyExists, "rank %d already joined", req.Rank)
	}
	r.workers[req.Rank] = stream
	if len(r.workers) == r.size-1 {
		close(r.joined)
	}
	r.mu.Unlock()

	slog.Info("Worker joined", "rank", req.Rank, "size", r.size)

	select {
	case <-r.done:
	case <-stream.Context().Done():
	}
	return nil
}

func (r *GRPCRoot) Rank() int { return Root }

func (r *GRPCRoot) Size() int { return r.size }

// Broadcast sends v to every worker and waits for each acknowledgement.
// When ctx ends first the exchange is abandoned; the group is out of step
// after that and every later Broadcast fails.
func (r *GRPCRoot) Broadcast(ctx context.Context, v any) error {
	select {
	case <-r.joined:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.broken != nil {
		return r.broken
	}

	r.seq++
	f, err := encodeFrame(r.seq, v)
	if err != nil {
		return err
	}

	errs := make(chan error, r.size-1)
	for rank := 1; rank < r.size; rank++ {
		go func(rank int, stream grpc.ServerStream) {
			errs <- exchange(stream, rank, &f)
		}(rank, r.workers[rank])
	}
	for pending := r.size - 1; pending > 0; pending-- {
		select {
		case err := <-errs:
			if err != nil {
				r.broken = err
				return err
			}
		case <-ctx.Done():
			r.broken = fmt.Errorf("broadcast %d abandoned: %w", r.seq, ctx.Err())
			return ctx.Err()
		}
	}
	return nil
}

// exchange sends f to one worker and reads its acknowledgement.
func exchange(stream grpc.ServerStream, rank int, f *frame) error {
	if err := stream.SendMsg(f); err != nil {
		return fmt.Errorf("broadcast to rank %d: %w", rank, err)
	}
	var a ack
	if err := stream.RecvMsg(&a); err != nil {
		return fmt.Errorf("ack from rank %d: %w", rank, err)
	}
	if a.Seq != f.Seq {
		return fmt.Errorf("%w: rank %d acknowledged %d, expected %d", ErrSequence, rank, a.Seq, f.Seq)
	}
	return nil
}

// Close releases all worker streams and stops the service.
func (r *GRPCRoot) Close() error {
	r.once.Do(func() {
		close(r.done)
		r.server.GracefulStop()
	})
	return nil
}

// GRPCWorker is a non-coordinator member of a multi-process group.
type GRPCWorker struct {
	rank   int
	size   int
	seq    uint64
	conn   *grpc.ClientConn
	stream grpc.ClientStream
	cancel context.CancelFunc
}

// Join connects to the coordinator at addr as the given rank. It waits for
// the coordinator to come up until ctx is done.
func Join(ctx context.Context, addr string, rank, size int, opts ...grpc.DialOption) (*GRPCWorker, error) {
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName), grpc.WaitForReady(true)),
	}, opts...)

	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("dial coordinator %s: %w", addr, err)
	}

	// The stream lives as long as the worker, not as long as ctx.
	streamCtx, cancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, cancel)
	fail := func(op string, err error) (*GRPCWorker, error) {
		stop()
		cancel()
		conn.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	stream, err := conn.NewStream(streamCtx, &serviceDesc.Streams[0], joinMethod)
	if err != nil {
		return fail("open broadcast stream", err)
	}
	if err := stream.SendMsg(&joinRequest{Rank: rank, Size: size}); err != nil {
		return fail(fmt.Sprintf("join as rank %d", rank), err)
	}
	if !stop() {
		return fail("join", ctx.Err())
	}

	slog.Info("Joined coordinator", "addr", addr, "rank", rank, "size", size)
	return &GRPCWorker{rank: rank, size: size, conn: conn, stream: stream, cancel: cancel}, nil
}

func (w *GRPCWorker) Rank() int { return w.rank }

func (w *GRPCWorker) Size() int { return w.size }

// Broadcast receives the coordinator's next value into v and acknowledges it.
// Cancelling ctx tears down the stream; the worker cannot be used afterwards.
func (w *GRPCWorker) Broadcast(ctx context.Context, v any) error {
	stop := context.AfterFunc(ctx, w.cancel)
	defer stop()

	w.seq++
	var f frame
	if err := w.stream.RecvMsg(&f); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("receive broadcast: %w", err)
	}
	if err := decodeFrame(f, w.seq, v); err != nil {
		return err
	}
	if err := w.stream.SendMsg(&ack{Seq: w.seq}); err != nil {
		return fmt.Errorf("acknowledge broadcast: %w", err)
	}
	return nil
}

// Close leaves the group.
func (w *GRPCWorker) Close() error {
	_ = w.stream.CloseSend()
	w.cancel()
	return w.conn.Close()
}
