// Package gateway is the TCP ingestion endpoint for monitoring devices.
// A device identifies with its serial number, then streams newline
// delimited JSON readings which are published to Kafka keyed by station.
package gateway

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smukkama/vrisa/internal/apperr"
	"github.com/smukkama/vrisa/internal/connection"
	"github.com/smukkama/vrisa/internal/database"
	"github.com/smukkama/vrisa/internal/metrics"
	"github.com/smukkama/vrisa/internal/protocol"
	"github.com/smukkama/vrisa/internal/timer"
	"github.com/smukkama/vrisa/pkg/config"
)

// DeviceResolver maps a serial number to its registered device.
// *database.DB satisfies it.
type DeviceResolver interface {
	GetDeviceBySerial(ctx context.Context, serial string) (*database.Device, error)
}

// ReadingPublisher forwards accepted readings. *queue.ReadingPublisher
// satisfies it.
type ReadingPublisher interface {
	PublishReading(ctx context.Context, msg *protocol.ReadingMessage) error
}

const maxLineBytes = 64 * 1024

var errLineTooLong = errors.New("line exceeds maximum length")

type Server struct {
	cfg       config.GatewayConfig
	devices   DeviceResolver
	publisher ReadingPublisher
	conns     *connection.Manager
	deadlines *timer.Scheduler
	logger    *slog.Logger

	listener net.Listener
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewServer(cfg config.GatewayConfig, devices DeviceResolver, publisher ReadingPublisher, logger *slog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:       cfg,
		devices:   devices,
		publisher: publisher,
		conns:     connection.NewManager(cfg.MaxConnections),
		deadlines: timer.NewScheduler(),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start listens on the configured port.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start gateway: %w", err)
	}
	s.Serve(listener)
	return nil
}

// Serve accepts devices on l until Stop is called.
func (s *Server) Serve(l net.Listener) {
	s.listener = l
	s.logger.Info("gateway listening", "addr", l.Addr().String())

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.deadlines.Run(s.ctx)
	}()
	go s.acceptConnections()
}

func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *Server) Connections() *connection.Manager {
	return s.conns
}

// Stop closes the listener and every device connection, then waits for
// the handlers to return.
func (s *Server) Stop() {
	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}
	for _, c := range s.conns.Clients() {
		c.Conn.Close()
	}
	s.wg.Wait()
	s.logger.Info("gateway stopped")
}

func (s *Server) acceptConnections() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.logger.Warn("failed to accept connection", "error", err)
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	connectionID := uuid.NewString()
	logger := s.logger.With("connection_id", connectionID, "remote", conn.RemoteAddr().String())
	logger.Debug("device connected")

	reader := bufio.NewReaderSize(conn, 4096)

	conn.SetReadDeadline(time.Now().Add(s.cfg.IdentifyTimeout))
	client, err := s.identify(conn, reader, connectionID)
	if err != nil {
		logger.Info("identification failed", "error", err)
		s.send(conn, protocol.NewErrorAck(err))
		return
	}

	replaced, err := s.conns.Register(client)
	if err != nil {
		logger.Warn("failed to register device", "serial", client.SerialNumber, "error", err)
		s.send(conn, protocol.NewErrorAck(err))
		return
	}
	if replaced != nil {
		logger.Info("device reconnected, dropping previous connection", "serial", client.SerialNumber, "previous", replaced.ConnectionID)
		s.deadlines.Cancel(replaced.ConnectionID)
		replaced.Conn.Close()
	}
	metrics.GatewayConnections.Inc()
	defer func() {
		s.deadlines.Cancel(connectionID)
		s.conns.Unregister(connectionID)
		metrics.GatewayConnections.Dec()
	}()

	logger = logger.With("serial", client.SerialNumber, "station_id", client.StationID)
	logger.Info("device identified")

	if err := s.send(conn, protocol.NewAckMessage(protocol.AckStatusIdentified)); err != nil {
		logger.Warn("failed to send ack", "error", err)
		return
	}

	// Inactivity is enforced by the deadline scheduler closing the socket.
	conn.SetReadDeadline(time.Time{})
	s.scheduleInactivity(client)

	for {
		line, err := readLine(reader)
		if err != nil {
			if s.ctx.Err() == nil {
				logger.Info("device disconnected", "error", err)
			}
			return
		}

		ack := s.handleLine(client, line, logger)
		if err := s.send(conn, ack); err != nil {
			logger.Warn("failed to send ack", "error", err)
			return
		}

		client.Touch()
		s.scheduleInactivity(client)
	}
}

// identify reads the first line and resolves the device it names.
func (s *Server) identify(conn net.Conn, reader *bufio.Reader, connectionID string) (*connection.Client, error) {
	line, err := readLine(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read identify message: %w", err)
	}
	msg, err := protocol.ParseMessage(line)
	if err != nil {
		return nil, err
	}
	identify, ok := msg.(*protocol.IdentifyMessage)
	if !ok {
		return nil, fmt.Errorf("expected identify message")
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.IdentifyTimeout)
	defer cancel()
	device, err := s.devices.GetDeviceBySerial(ctx, identify.SerialNumber)
	if apperr.Is(err, apperr.NotFound) {
		return nil, fmt.Errorf("unknown device %q", identify.SerialNumber)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve device: %w", err)
	}

	return &connection.Client{
		ConnectionID: connectionID,
		DeviceID:     device.ID,
		SerialNumber: device.SerialNumber,
		StationID:    device.StationID,
		Conn:         conn,
	}, nil
}

func (s *Server) handleLine(client *connection.Client, line []byte, logger *slog.Logger) *protocol.AckMessage {
	msg, err := protocol.ParseMessage(line)
	if err != nil {
		metrics.GatewayReadings.WithLabelValues("rejected").Inc()
		logger.Debug("rejected message", "error", err)
		return protocol.NewErrorAck(err)
	}

	switch m := msg.(type) {
	case *protocol.ReadingsMessage:
		reading := &protocol.ReadingMessage{
			ConnectionID: client.ConnectionID,
			DeviceID:     client.DeviceID,
			SerialNumber: client.SerialNumber,
			StationID:    client.StationID,
			Timestamp:    m.ParsedTime(),
			ReceivedAt:   time.Now().UTC(),
			Levels:       m.Levels,
		}
		if err := s.publisher.PublishReading(s.ctx, reading); err != nil {
			metrics.GatewayReadings.WithLabelValues("failed").Inc()
			logger.Error("failed to publish reading", "error", err)
			return protocol.NewErrorAck(fmt.Errorf("reading not accepted, retry later"))
		}
		metrics.GatewayReadings.WithLabelValues("published").Inc()
		return protocol.NewAckMessage(protocol.AckStatusAccepted)

	case *protocol.KeepaliveMessage:
		return protocol.NewAckMessage(protocol.AckStatusAlive)

	case *protocol.IdentifyMessage:
		return protocol.NewErrorAck(fmt.Errorf("already identified"))

	default:
		return protocol.NewErrorAck(fmt.Errorf("unexpected message type %T", msg))
	}
}

func (s *Server) scheduleInactivity(client *connection.Client) {
	s.deadlines.Schedule(client.ConnectionID, time.Now().Add(s.cfg.InactivityTimeout), func() {
		s.logger.Info("inactivity timeout", "connection_id", client.ConnectionID, "serial", client.SerialNumber)
		client.Conn.Close()
	})
}

func (s *Server) send(conn net.Conn, ack *protocol.AckMessage) error {
	data, err := protocol.EncodeMessage(ack)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, err = conn.Write(append(data, '\n'))
	return err
}

// readLine reads one newline-terminated line without its terminator,
// refusing lines longer than maxLineBytes.
func readLine(r *bufio.Reader) ([]byte, error) {
	var line []byte
	for {
		chunk, isPrefix, err := r.ReadLine()
		if err != nil {
			return nil, err
		}
		line = append(line, chunk...)
		if len(line) > maxLineBytes {
			return nil, errLineTooLong
		}
		if !isPrefix {
			return line, nil
		}
	}
}
