package client

import "context"

// ClientStore persists clients. GetClient returns ErrClientNotFound for
// unknown ids, UpdateClient returns it when the client is gone and
// DeleteClient cascades to everything issued to the client.
type ClientStore interface {
	CreateClient(ctx context.Context, client *Client) error
	GetClient(ctx context.Context, clientID string) (*Client, error)
	ListClients(ctx context.Context, filter ClientFilter) ([]*Client, error)
	UpdateClient(ctx context.Context, client *Client) error
	DeleteClient(ctx context.Context, clientID string) error
}
