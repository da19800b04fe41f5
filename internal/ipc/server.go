package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"
	"time"

	"pitchpipe/internal/daemon"
	"pitchpipe/internal/logging"
	"pitchpipe/internal/logs"
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
// requestExit is invoked when a client asks the daemon process to exit.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger, requestExit func()) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logger, ctx: ctx, requestExit: requestExit}
	if err := rpcServer.RegisterName("Pitchpipe", srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String(logging.FieldErrorHint, "Check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ipc_socket_cleanup_failed"),
			logging.String(logging.FieldErrorHint, "Remove the socket file manually or rerun pitchpipe stop"))
	}
}

type service struct {
	daemon      *daemon.Daemon
	logger      *slog.Logger
	ctx         context.Context
	requestExit func()
}

func (s *service) log() *slog.Logger {
	return logging.NewComponentLogger(s.logger, "ipc")
}

func (s *service) Submit(req SubmitRequest, resp *SubmitResponse) error {
	s.log().Debug("submit requested",
		logging.String("path", req.Path),
		logging.Bool("normalize", req.Normalize))
	item, err := s.daemon.Submit(s.ctx, req.Path, req.Normalize)
	if err != nil {
		return err
	}
	resp.RequestID = item.RequestID
	resp.Key = item.Key
	resp.DisplayName = item.DisplayName
	resp.ExpectedOutputPath = item.ExpectedOutputPath
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status(s.ctx)
	resp.Running = status.Running
	resp.PID = status.PID
	resp.WorkerState = status.Workflow.DaemonState
	resp.WorkerPID = status.Workflow.DaemonPID
	resp.PendingCount = status.Workflow.PendingCount
	resp.Flags = append(resp.Flags, status.Workflow.Flags...)
	resp.LockPath = status.LockFilePath
	resp.HistoryDBPath = status.HistoryDBPath
	resp.MemoryRSS = status.Stats.MemoryRSS
	resp.CPUPercent = status.Stats.CPUPercent
	resp.History = HistoryCounts{
		Complete: status.History.Complete,
		Failed:   status.History.Failed,
		Expired:  status.History.Expired,
	}
	for _, dep := range status.Dependencies {
		resp.Dependencies = append(resp.Dependencies, DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Detail:      dep.Detail,
		})
	}
	return nil
}

func (s *service) Pending(_ PendingRequest, resp *PendingResponse) error {
	now := time.Now()
	for _, req := range s.daemon.Pending() {
		resp.Items = append(resp.Items, PendingItem{
			RequestID:          req.RequestID,
			Key:                req.Key,
			DisplayName:        req.DisplayName,
			ExpectedOutputPath: req.ExpectedOutputPath,
			SubmittedAt:        req.SubmittedAt.Format(time.RFC3339),
			AgeSeconds:         int64(req.Age(now).Seconds()),
		})
	}
	return nil
}

func (s *service) SetParams(req SetParamsRequest, resp *SetParamsResponse) error {
	s.log().Debug("parameter change requested", logging.Int("pairs", len(req.KeyValues)/2))
	flags, err := s.daemon.SetParameters(s.ctx, req.KeyValues)
	if err != nil {
		return err
	}
	resp.Flags = flags
	s.log().Info("parameters applied via IPC",
		logging.String(logging.FieldEventType, "parameters_applied"),
		logging.Any("flags", flags))
	return nil
}

func (s *service) History(req HistoryRequest, resp *HistoryResponse) error {
	entries, err := s.daemon.History(s.ctx, req.Limit)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		resp.Items = append(resp.Items, HistoryItem{
			RequestID:   entry.RequestID,
			DisplayName: entry.DisplayName,
			InputPath:   entry.InputPath,
			OutputPath:  entry.OutputPath,
			Outcome:     string(entry.Outcome),
			ByteCount:   entry.ByteCount,
			Diagnostic:  entry.Diagnostic,
			ElapsedMS:   entry.Elapsed.Milliseconds(),
			CreatedAt:   entry.CreatedAt.Format(time.RFC3339),
		})
	}
	return nil
}

func (s *service) HistoryClear(_ HistoryClearRequest, resp *HistoryClearResponse) error {
	if err := s.daemon.ClearHistory(s.ctx); err != nil {
		return err
	}
	resp.Cleared = true
	s.log().Info("history cleared",
		logging.String(logging.FieldEventType, "history_clear"))
	return nil
}

func (s *service) Shutdown(_ ShutdownRequest, resp *ShutdownResponse) error {
	s.log().Info("shutdown requested via IPC",
		logging.String(logging.FieldEventType, "daemon_shutdown"))
	resp.Stopping = true
	if s.requestExit != nil {
		go s.requestExit()
	}
	return nil
}

func (s *service) LogTail(req LogTailRequest, resp *LogTailResponse) error {
	logPath := s.daemon.LogPath()
	if logPath == "" {
		resp.Offset = 0
		return nil
	}
	wait := time.Duration(req.WaitMillis) * time.Millisecond
	if wait <= 0 && req.Follow {
		wait = time.Second
	}
	ctx := s.ctx
	if req.Follow && wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, wait+500*time.Millisecond)
		defer cancel()
	}
	result, err := logs.Tail(ctx, logPath, logs.TailOptions{
		Offset: req.Offset,
		Limit:  req.Limit,
		Follow: req.Follow,
		Wait:   wait,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			resp.Offset = result.Offset
			return nil
		}
		return err
	}
	resp.Lines = result.Lines
	resp.Offset = result.Offset
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, message, err := s.daemon.TestNotification(s.ctx)
	resp.Sent = sent
	resp.Message = message
	return err
}
