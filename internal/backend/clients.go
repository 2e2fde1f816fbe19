package backend

import (
	"context"
	"sync"

	"github.com/orderlink/orderlink/internal/envelope"
)

// ClientDirectory resolves client records and their blacklist status. The
// blacklist is store state, not a package-level map, so it can be swapped for
// a durable implementation.
type ClientDirectory interface {
	GetClient(ctx context.Context, clientID string) (Client, bool)
	SetBlacklisted(ctx context.Context, clientID string, blacklisted bool) error
}

// Client is a registered customer of the legacy system.
type Client struct {
	ClientID    string `json:"clientId"`
	Name        string `json:"name"`
	Blacklisted bool   `json:"blacklisted"`
}

// Clients implements the client-management operations.
type Clients struct {
	directory ClientDirectory
}

// NewClients builds a Clients service over the supplied directory.
func NewClients(directory ClientDirectory) *Clients {
	return &Clients{directory: directory}
}

// Verify checks that the client exists and is not blacklisted. Unknown
// clients pass: the legacy system accepts walk-in registrations.
func (c *Clients) Verify(ctx context.Context, clientID string) (Client, error) {
	if clientID == "" {
		return Client{ClientID: "anonymous"}, nil
	}
	client, ok := c.directory.GetClient(ctx, clientID)
	if !ok {
		return Client{ClientID: clientID}, nil
	}
	if client.Blacklisted {
		return Client{}, envelope.NewFault(envelope.FaultCodeBlacklisted, "client %s is blacklisted", clientID)
	}
	return client, nil
}

// MemoryClients is the in-memory ClientDirectory.
type MemoryClients struct {
	mu      sync.RWMutex
	clients map[string]Client
}

// NewMemoryClients seeds the directory with the supplied clients.
func NewMemoryClients(clients ...Client) *MemoryClients {
	m := &MemoryClients{clients: make(map[string]Client, len(clients))}
	for _, c := range clients {
		m.clients[c.ClientID] = c
	}
	return m
}

func (m *MemoryClients) GetClient(ctx context.Context, clientID string) (Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[clientID]
	return c, ok
}

func (m *MemoryClients) SetBlacklisted(ctx context.Context, clientID string, blacklisted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[clientID]
	if !ok {
		c = Client{ClientID: clientID}
	}
	c.Blacklisted = blacklisted
	m.clients[clientID] = c
	return nil
}
