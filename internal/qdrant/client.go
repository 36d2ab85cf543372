package qdrant

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"github.com/finresearch/research-assistant/internal/config"
)

const (
	// DefaultHost is the default Qdrant host.
	DefaultHost = "localhost"

	// DefaultPort is the default Qdrant gRPC port.
	DefaultPort = 6334

	// DefaultTimeout is the default operation timeout.
	DefaultTimeout = 10 * time.Second

	// DefaultDenseVector is the named dense vector in the collection.
	DefaultDenseVector = "dense"

	// DefaultSparseVector is the named sparse vector in the collection.
	DefaultSparseVector = "keywords"
)

// ClientConfig holds configuration for the Qdrant client.
type ClientConfig struct {
	// Host is the Qdrant server host.
	Host string

	// Port is the Qdrant gRPC port.
	Port int

	// APIKey for authentication (optional).
	APIKey string

	// UseTLS enables TLS connection.
	UseTLS bool

	// Timeout for operations.
	Timeout time.Duration

	// Collection holds the passages.
	Collection string

	// DenseVector and SparseVector name the vectors used for semantic and
	// keyword queries.
	DenseVector  string
	SparseVector string
}

// DefaultClientConfig returns sensible defaults for local development.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Host:         DefaultHost,
		Port:         DefaultPort,
		Timeout:      DefaultTimeout,
		DenseVector:  DefaultDenseVector,
		SparseVector: DefaultSparseVector,
	}
}

// ConfigFromSettings builds a client configuration from the application config.
// The URL scheme selects TLS (https) and the port defaults to 6334.
func ConfigFromSettings(cfg config.QdrantConfig) (ClientConfig, error) {
	cc := DefaultClientConfig()
	cc.APIKey = cfg.APIKey
	cc.Collection = cfg.Collection
	if cfg.DenseVector != "" {
		cc.DenseVector = cfg.DenseVector
	}
	if cfg.SparseVector != "" {
		cc.SparseVector = cfg.SparseVector
	}
	if cfg.TimeoutSeconds > 0 {
		cc.Timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	if cfg.URL == "" {
		return cc, nil
	}

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return cc, fmt.Errorf("invalid qdrant url: %w", err)
	}
	switch u.Scheme {
	case "http", "grpc":
	case "https", "grpcs":
		cc.UseTLS = true
	default:
		return cc, fmt.Errorf("invalid qdrant url scheme %q", u.Scheme)
	}

	host, port, err := net.SplitHostPort(u.Host)
	if err != nil {
		// No port in the URL.
		host = u.Host
		port = ""
	}
	if host != "" {
		cc.Host = host
	}
	if port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return cc, fmt.Errorf("invalid qdrant port %q", port)
		}
		cc.Port = p
	}

	return cc, nil
}

// Client wraps the Qdrant Go client for passage retrieval.
type Client struct {
	client *qdrant.Client
	config ClientConfig
	mu     sync.RWMutex
	closed bool
}

// NewClient creates a new Qdrant client wrapper.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.DenseVector == "" {
		cfg.DenseVector = DefaultDenseVector
	}
	if cfg.SparseVector == "" {
		cfg.SparseVector = DefaultSparseVector
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("collection name is required")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	return &Client{
		client: client,
		config: cfg,
	}, nil
}

// Collection returns the passage collection name.
func (c *Client) Collection() string {
	return c.config.Collection
}

// Close closes the client connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	return c.client.Close()
}

// HealthCheck verifies the Qdrant server is reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return fmt.Errorf("client is closed")
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	reply, err := c.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	if reply.GetTitle() == "" {
		return fmt.Errorf("unexpected health check response")
	}

	return nil
}

// GetVersion returns the Qdrant server version.
func (c *Client) GetVersion(ctx context.Context) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return "", fmt.Errorf("client is closed")
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	reply, err := c.client.HealthCheck(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get version: %w", err)
	}

	return reply.GetVersion(), nil
}

// CollectionInfo returns statistics for the passage collection.
func (c *Client) CollectionInfo(ctx context.Context) (*CollectionInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, fmt.Errorf("client is closed")
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	info, err := c.client.GetCollectionInfo(ctx, c.config.Collection)
	if err != nil {
		return nil, fmt.Errorf("failed to get collection info for %s: %w", c.config.Collection, err)
	}

	var pointsCount uint64
	if info.PointsCount != nil {
		pointsCount = *info.PointsCount
	}

	return &CollectionInfo{
		Name:        c.config.Collection,
		PointsCount: pointsCount,
		Status:      collectionStatus(info.Status),
	}, nil
}

func collectionStatus(s qdrant.CollectionStatus) string {
	switch s {
	case qdrant.CollectionStatus_Green:
		return "green"
	case qdrant.CollectionStatus_Yellow:
		return "yellow"
	case qdrant.CollectionStatus_Red:
		return "red"
	default:
		return "unknown"
	}
}
