package network

import (
	"sync"
)

// ConnectionManager tracks open push connections
type ConnectionManager struct {
	connections     map[string]*Connection
	connectionsLock sync.RWMutex
}

// NewConnectionManager creates a new ConnectionManager
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]*Connection),
	}
}

// Add registers a connection under its ID
func (cm *ConnectionManager) Add(conn *Connection) {
	cm.connectionsLock.Lock()
	defer cm.connectionsLock.Unlock()
	cm.connections[conn.ID] = conn
}

// Remove unregisters a connection. Unknown IDs are ignored.
func (cm *ConnectionManager) Remove(id string) {
	cm.connectionsLock.Lock()
	defer cm.connectionsLock.Unlock()
	delete(cm.connections, id)
}

// Get returns a connection by its ID
func (cm *ConnectionManager) Get(id string) (*Connection, bool) {
	cm.connectionsLock.RLock()
	defer cm.connectionsLock.RUnlock()
	conn, ok := cm.connections[id]
	return conn, ok
}

// GetConnections returns a slice with all open connections
func (cm *ConnectionManager) GetConnections() []*Connection {
	cm.connectionsLock.RLock()
	defer cm.connectionsLock.RUnlock()
	connections := make([]*Connection, 0, len(cm.connections))
	for _, conn := range cm.connections {
		connections = append(connections, conn)
	}
	return connections
}

func (cm *ConnectionManager) Count() int {
	cm.connectionsLock.RLock()
	defer cm.connectionsLock.RUnlock()
	return len(cm.connections)
}

// Broadcast queues a frame on every connection. Connections that cannot
// take it are closed and removed, since a client that misses a frame has
// no way to catch up without reconnecting. It returns how many were closed.
func (cm *ConnectionManager) Broadcast(frame []byte) int {
	dropped := 0
	for _, conn := range cm.GetConnections() {
		if !conn.Send(frame) {
			conn.Close()
			cm.Remove(conn.ID)
			dropped++
		}
	}
	return dropped
}

// CloseAll closes every open connection
func (cm *ConnectionManager) CloseAll() {
	for _, conn := range cm.GetConnections() {
		conn.Close()
	}
}
