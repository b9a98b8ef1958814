// Package connection tracks the devices currently connected to the
// ingestion gateway.
package connection

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

var (
	ErrMaxConnectionsReached = errors.New("maximum connections reached")
	ErrAlreadyRegistered     = errors.New("connection already registered")
	ErrNotFound              = errors.New("connection not found")
)

// Client is one identified device connection.
type Client struct {
	ConnectionID string
	DeviceID     int64
	SerialNumber string
	StationID    int64
	ConnectedAt  time.Time
	Conn         net.Conn

	mu        sync.RWMutex
	lastHeard time.Time
}

func (c *Client) Touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastHeard = time.Now()
}

func (c *Client) LastHeard() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastHeard
}

// Manager indexes live clients by connection id and by device serial
// number. A device holds at most one live connection.
type Manager struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	bySerial map[string]string
	maxConns int
}

func NewManager(maxConnections int) *Manager {
	return &Manager{
		clients:  make(map[string]*Client),
		bySerial: make(map[string]string),
		maxConns: maxConnections,
	}
}

// Register adds c. If the device already had a live connection, that
// client is detached and returned so the caller can close it.
func (m *Manager) Register(c *Client) (*Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.clients[c.ConnectionID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRegistered, c.ConnectionID)
	}

	var replaced *Client
	if previousID, ok := m.bySerial[c.SerialNumber]; ok {
		replaced = m.clients[previousID]
		delete(m.clients, previousID)
	}
	if replaced == nil && len(m.clients) >= m.maxConns {
		return nil, ErrMaxConnectionsReached
	}

	now := time.Now()
	c.ConnectedAt = now
	c.lastHeard = now
	m.clients[c.ConnectionID] = c
	m.bySerial[c.SerialNumber] = c.ConnectionID
	return replaced, nil
}

// Unregister removes the connection. The serial index is only cleared if
// it still points at this connection.
func (m *Manager) Unregister(connectionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, exists := m.clients[connectionID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, connectionID)
	}
	delete(m.clients, connectionID)
	if m.bySerial[c.SerialNumber] == connectionID {
		delete(m.bySerial, c.SerialNumber)
	}
	return nil
}

func (m *Manager) Get(connectionID string) (*Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[connectionID]
	return c, ok
}

func (m *Manager) GetBySerial(serial string) (*Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.bySerial[serial]
	if !ok {
		return nil, false
	}
	c, ok := m.clients[id]
	return c, ok
}

// Clients returns a snapshot of the live clients.
func (m *Manager) Clients() []*Client {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		out = append(out, c)
	}
	return out
}

func (m *Manager) UpdateActivity(connectionID string) error {
	m.mu.RLock()
	c, exists := m.clients[connectionID]
	m.mu.RUnlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, connectionID)
	}
	c.Touch()
	return nil
}

// Inactive returns the connections not heard from within timeout.
func (m *Manager) Inactive(timeout time.Duration) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	var inactive []string
	for id, c := range m.clients {
		if now.Sub(c.LastHeard()) > timeout {
			inactive = append(inactive, id)
		}
	}
	return inactive
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// CountByStation returns the number of connected devices per station.
func (m *Manager) CountByStation() map[int64]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[int64]int)
	for _, c := range m.clients {
		result[c.StationID]++
	}
	return result
}

type ManagerStats struct {
	TotalConnections int
	Stations         int
	MaxConnections   int
}

func (m *Manager) Stats() ManagerStats {
	stations := len(m.CountByStation())
	m.mu.RLock()
	defer m.mu.RUnlock()
	return ManagerStats{
		TotalConnections: len(m.clients),
		Stations:         stations,
		MaxConnections:   m.maxConns,
	}
}
