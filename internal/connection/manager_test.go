package connection

import (
	"errors"
	"net"
	"testing"
	"time"
)

type mockAddr struct{}

func (m *mockAddr) Network() string { return "tcp" }
func (m *mockAddr) String() string  { return "127.0.0.1:0" }

type mockConn struct{}

func (m *mockConn) Read(b []byte) (n int, err error)   { return 0, nil }
func (m *mockConn) Write(b []byte) (n int, err error)  { return len(b), nil }
func (m *mockConn) Close() error                       { return nil }
func (m *mockConn) LocalAddr() net.Addr                { return &mockAddr{} }
func (m *mockConn) RemoteAddr() net.Addr               { return &mockAddr{} }
func (m *mockConn) SetDeadline(t time.Time) error      { return nil }
func (m *mockConn) SetReadDeadline(t time.Time) error  { return nil }
func (m *mockConn) SetWriteDeadline(t time.Time) error { return nil }

func client(connID, serial string, station int64) *Client {
	return &Client{ConnectionID: connID, SerialNumber: serial, StationID: station, Conn: &mockConn{}}
}

func TestManager_Register(t *testing.T) {
	m := NewManager(10)

	replaced, err := m.Register(client("conn1", "SN-001", 7))
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if replaced != nil {
		t.Errorf("Expected no replaced client, got %s", replaced.ConnectionID)
	}
	if m.Count() != 1 {
		t.Errorf("Expected 1 connection, got %d", m.Count())
	}

	c, ok := m.GetBySerial("SN-001")
	if !ok {
		t.Fatal("Client not found by serial")
	}
	if c.StationID != 7 {
		t.Errorf("Expected station 7, got %d", c.StationID)
	}
	if c.ConnectedAt.IsZero() || c.LastHeard().IsZero() {
		t.Error("Expected timestamps to be set")
	}

	if _, err := m.Register(client("conn1", "SN-002", 7)); !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("Expected ErrAlreadyRegistered, got %v", err)
	}
}

func TestManager_RegisterMaxConnections(t *testing.T) {
	m := NewManager(2)

	m.Register(client("conn1", "SN-001", 7))
	m.Register(client("conn2", "SN-002", 7))

	if _, err := m.Register(client("conn3", "SN-003", 8)); !errors.Is(err, ErrMaxConnectionsReached) {
		t.Errorf("Expected ErrMaxConnectionsReached, got %v", err)
	}

	// A reconnecting device takes over its own slot even when full.
	replaced, err := m.Register(client("conn4", "SN-001", 7))
	if err != nil {
		t.Fatalf("Expected reconnect to succeed, got %v", err)
	}
	if replaced == nil || replaced.ConnectionID != "conn1" {
		t.Errorf("Expected conn1 to be replaced, got %v", replaced)
	}
}

func TestManager_ReplacedConnectionUnregister(t *testing.T) {
	m := NewManager(10)

	m.Register(client("conn1", "SN-001", 7))
	m.Register(client("conn2", "SN-001", 7))

	// The old handler's deferred cleanup must not evict the new connection.
	if err := m.Unregister("conn1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for replaced connection, got %v", err)
	}
	c, ok := m.GetBySerial("SN-001")
	if !ok || c.ConnectionID != "conn2" {
		t.Errorf("Expected SN-001 to map to conn2, got %v", c)
	}

	if err := m.Unregister("conn2"); err != nil {
		t.Fatalf("Unregister failed: %v", err)
	}
	if _, ok := m.GetBySerial("SN-001"); ok {
		t.Error("Expected serial index to be cleared")
	}
	if m.Count() != 0 {
		t.Errorf("Expected 0 connections, got %d", m.Count())
	}
}

func TestManager_UpdateActivity(t *testing.T) {
	m := NewManager(10)
	m.Register(client("conn1", "SN-001", 7))

	c, _ := m.Get("conn1")
	before := c.LastHeard()
	time.Sleep(10 * time.Millisecond)

	if err := m.UpdateActivity("conn1"); err != nil {
		t.Fatalf("UpdateActivity failed: %v", err)
	}
	if !c.LastHeard().After(before) {
		t.Error("LastHeard was not updated")
	}
	if err := m.UpdateActivity("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestManager_Inactive(t *testing.T) {
	m := NewManager(10)
	m.Register(client("conn1", "SN-001", 7))
	m.Register(client("conn2", "SN-002", 7))

	time.Sleep(50 * time.Millisecond)
	m.UpdateActivity("conn2")

	inactive := m.Inactive(30 * time.Millisecond)
	if len(inactive) != 1 || inactive[0] != "conn1" {
		t.Errorf("Expected only conn1 inactive, got %v", inactive)
	}
}

func TestManager_Stats(t *testing.T) {
	m := NewManager(100)
	m.Register(client("conn1", "SN-001", 7))
	m.Register(client("conn2", "SN-002", 7))
	m.Register(client("conn3", "SN-003", 8))

	stats := m.Stats()
	if stats.TotalConnections != 3 {
		t.Errorf("Expected 3 connections, got %d", stats.TotalConnections)
	}
	if stats.Stations != 2 {
		t.Errorf("Expected 2 stations, got %d", stats.Stations)
	}
	if stats.MaxConnections != 100 {
		t.Errorf("Expected max 100, got %d", stats.MaxConnections)
	}
	if got := m.CountByStation()[7]; got != 2 {
		t.Errorf("Expected 2 devices at station 7, got %d", got)
	}
}

func TestManager_Clients(t *testing.T) {
	m := NewManager(10)
	m.Register(client("conn1", "SN-001", 7))
	m.Register(client("conn2", "SN-002", 8))

	if got := len(m.Clients()); got != 2 {
		t.Errorf("Expected 2 clients, got %d", got)
	}
}
