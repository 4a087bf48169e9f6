// SPDX-FileCopyrightText: 2014-2022 SAP SE
//
// SPDX-License-Identifier: Apache-2.0

// Package driver is the public surface of a retryable-write, capability-set
// dispatching document-database driver core. It wraps
// github.com/nimbusdb/nimbus-go-driver/driver/internal/protocol — which
// carries the session/binding/channel/context/executor/cursor machinery —
// the way github.com/SAP/go-hdb/driver wraps its own internal/protocol
// package.
package driver

import (
	"context"
	"runtime"
	"time"

	driverrors "github.com/nimbusdb/nimbus-go-driver/driver/internal/errors"
	p "github.com/nimbusdb/nimbus-go-driver/driver/internal/protocol"
)

// DriverName and DriverVersion populate the greeting's client metadata.
const (
	DriverName    = "nimbus-go-driver"
	DriverVersion = "1.0.0"
)

// ChannelSourceFactory leases a p.ChannelSource for a read or write
// operation. Real server discovery, monitoring, and pooling are external
// collaborators (out of scope for this subsystem); a Cluster only holds the
// seam.
type ChannelSourceFactory func(ctx context.Context, forWrite bool) (p.ChannelSource, error)

// Cluster is this subsystem's stand-in for a connected topology: it
// implements p.ReadWriteBinding and owns a session plus the settings and
// collaborators (connAttrs, authAttrs, metrics) that configure every
// operation run against it. The GetReadChannelSource / GetWriteChannelSource
// split mirrors a real driver's distinct read- and write-concern routing
// without this subsystem implementing discovery mechanics itself.
type Cluster struct {
	key     ClusterKey
	attrs   *connAttrs
	auth    *authAttrs
	metrics *metrics
	session *p.Session

	newChannelSource ChannelSourceFactory
	conv             conversations
}

// ClusterOption configures a Cluster at construction time.
type ClusterOption func(*Cluster)

// WithEndpoints sets the seed list of server addresses.
func WithEndpoints(endpoints ...string) ClusterOption {
	return func(c *Cluster) { c.attrs.setEndpoints(endpoints) }
}

// WithReplicaSetName sets the expected replica set name.
func WithReplicaSetName(name string) ClusterOption {
	return func(c *Cluster) { c.attrs.setReplicaSetName(name) }
}

// WithDirectConnection forces single-server connection mode.
func WithDirectConnection(direct bool) ClusterOption {
	return func(c *Cluster) { c.attrs.setDirectConnection(direct) }
}

// WithLoadBalanced marks the topology as load-balanced: InitializeConnection
// then requests load-balanced mode in the greeting, and the flag is part of
// the ClusterKey.
func WithLoadBalanced(lb bool) ClusterOption {
	return func(c *Cluster) { c.attrs.setLoadBalanced(lb) }
}

// WithAppName sets the application name reported in the connection greeting.
func WithAppName(name string) ClusterOption {
	return func(c *Cluster) { c.attrs.setAppName(name) }
}

// WithBasicAuth configures SCRAM username/password credentials.
func WithBasicAuth(username, password string) ClusterOption {
	return func(c *Cluster) {
		c.auth.SetUsername(username)
		c.auth.SetPassword(password)
	}
}

// WithX509Auth configures MONGODB-X509 client-certificate authentication.
func WithX509Auth(subjectName string, cert []byte) ClusterOption {
	return func(c *Cluster) { c.auth.SetClientCertificate(subjectName, cert) }
}

// WithJWTAuth configures bearer-token authentication, validated locally
// against the given expected issuer before being handed to the
// authenticator's wire conversation.
func WithJWTAuth(token, issuer string) ClusterOption {
	return func(c *Cluster) {
		c.auth.SetToken(token)
		c.auth.SetJWTIssuer(issuer)
	}
}

// WithChannelSourceFactory installs the collaborator that actually leases
// channel sources. Required: a Cluster with no factory fails every
// operation with a ConfigurationError.
func WithChannelSourceFactory(f ChannelSourceFactory) ClusterOption {
	return func(c *Cluster) { c.newChannelSource = f }
}

// NewCluster constructs a standalone Cluster, not registered in any
// ClusterRegistry. Use ClusterRegistry.GetOrCreate to share one keyed by
// connection identity instead.
func NewCluster(opts ...ClusterOption) *Cluster {
	c := &Cluster{
		attrs:   newConnAttrs(),
		auth:    &authAttrs{},
		metrics: newMetrics(),
		session: p.NewSession(),
		conv:    defaultConversations(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.key = newClusterKey(c.attrs)
	return c
}

// Key returns the ClusterKey this cluster would be registered under.
func (c *Cluster) Key() ClusterKey { return c.key }

// ConnAttrs returns a snapshot of this cluster's connection settings.
func (c *Cluster) ConnAttrs() *ConnAttrs { return c.attrs.public() }

// Session implements p.ReadBinding and p.WriteBinding.
func (c *Cluster) Session() *p.Session { return c.session }

var errNoChannelSourceFactory error = &driverrors.ConfigurationError{Reason: "cluster has no channel source factory configured"}

// GetReadChannelSource implements p.ReadBinding.
func (c *Cluster) GetReadChannelSource(ctx context.Context) (p.ChannelSource, error) {
	if c.newChannelSource == nil {
		return nil, errNoChannelSourceFactory
	}
	src, err := c.newChannelSource(ctx, false)
	if err != nil {
		return nil, err
	}
	c.metrics.addOpenChannelSources(1)
	return &meteredChannelSource{ChannelSource: src, metrics: c.metrics}, nil
}

// GetWriteChannelSource implements p.WriteBinding.
func (c *Cluster) GetWriteChannelSource(ctx context.Context) (p.ChannelSource, error) {
	if c.newChannelSource == nil {
		return nil, errNoChannelSourceFactory
	}
	src, err := c.newChannelSource(ctx, true)
	if err != nil {
		return nil, err
	}
	c.metrics.addOpenChannelSources(1)
	return &meteredChannelSource{ChannelSource: src, metrics: c.metrics}, nil
}

// Stats returns a snapshot of this cluster's executor/channel/cursor
// statistics.
func (c *Cluster) Stats() Stats { return c.metrics.stats() }

// InitializeConnection runs the connection-initializer handshake (C3) over
// an already-dialed transport: it builds the greeting from this cluster's
// connAttrs, assembles the authenticator chain this cluster was configured
// with via WithBasicAuth/WithX509Auth/WithJWTAuth, and authenticates. Actual
// dialing/TLS is the caller's responsibility (external collaborator, spec.md
// §1); transport only needs to satisfy p.WireTransport.
func (c *Cluster) InitializeConnection(ctx context.Context, localConnID int64, transport p.WireTransport) (p.ConnectionDescription, error) {
	opts := p.GreetingOptions{
		Client: p.ClientMetadata{
			AppName:       c.attrs.appName(),
			DriverName:    DriverName,
			DriverVersion: DriverVersion,
			OS:            runtime.GOOS,
			Platform:      runtime.Version(),
		},
		Compressors:  c.attrs.compressors(),
		LoadBalanced: c.attrs.loadBalanced(),
	}
	if v := c.attrs.serverAPIVersion(); v != "" {
		opts.ServerAPI = &p.ServerAPI{
			Version:           v,
			Strict:            c.attrs.serverAPIStrict(),
			DeprecationErrors: c.attrs.serverAPIDeprecationErrors(),
		}
	}

	authenticators := c.auth.authenticators(c.conv)
	return p.RunConnectionInitializer(ctx, localConnID, transport, opts, authenticators, nil)
}

// Close disposes of cluster-owned resources. The channel source factory's
// own teardown (connection pools, monitors) is the caller's responsibility,
// mirroring this subsystem's scope (topology monitoring is out of scope).
func (c *Cluster) Close() error { return nil }

// NewRetryableWriteContext acquires a write context bound to this cluster.
func (c *Cluster) NewRetryableWriteContext(ctx context.Context, retryRequested bool) (*p.RetryableWriteContext, error) {
	return p.NewRetryableWriteContext(ctx, c, retryRequested)
}

// NewRetryableReadContext acquires a read context bound to this cluster.
func (c *Cluster) NewRetryableReadContext(ctx context.Context, retryRequested bool) (*p.RetryableReadContext, error) {
	return p.NewRetryableReadContext(ctx, c, retryRequested)
}

// Find runs a find command straight-through and returns the raw reply
// document; use MaterializeCursor on the result to iterate it.
func (c *Cluster) Find(ctx context.Context, collectionName string, opts p.FindOptions) (p.Document, error) {
	rc, err := c.NewRetryableReadContext(ctx, false)
	if err != nil {
		return nil, err
	}
	defer rc.Dispose()

	start := time.Now()
	reply, err := p.ExecuteFind(ctx, rc, collectionName, opts)
	c.metrics.addTime(StatsTimeAttempt1, int64(time.Since(start)))
	c.metrics.addAttempt()
	return reply, err
}

// BulkWrite runs an ordered or unordered bulk write through the retryable
// write executor, batch by batch.
func (c *Cluster) BulkWrite(ctx context.Context, collectionName string, kind p.WriteRequestKind, requests []p.WriteRequest, opts p.BulkWriteOptions) (*p.BulkResult, error) {
	wc, err := c.NewRetryableWriteContext(ctx, true)
	if err != nil {
		return nil, err
	}
	defer wc.Dispose()

	before := wc.ChannelSource()
	result, err := p.ExecuteBulkWrite(ctx, wc, collectionName, kind, requests, opts, c.session)
	c.metrics.addAttempt()
	if wc.ChannelSource() != before {
		c.metrics.addRetry()
		c.metrics.addChannelReplacement()
	}
	return result, err
}

// FindAndModify runs a findOneAndUpdate/Replace/Delete through the
// retryable write executor.
func (c *Cluster) FindAndModify(ctx context.Context, collectionName string, kind p.FindAndModifyKind, opts p.FindAndModifyOptions) (p.Document, error) {
	wc, err := c.NewRetryableWriteContext(ctx, true)
	if err != nil {
		return nil, err
	}
	defer wc.Dispose()

	op := p.NewFindAndModifyOperation(collectionName, kind, opts, c.session)
	before := wc.ChannelSource()
	reply, err := p.ExecuteRetryableWrite[p.Document](ctx, wc, op)
	c.metrics.addAttempt()
	if wc.ChannelSource() != before {
		c.metrics.addRetry()
		c.metrics.addChannelReplacement()
	}
	return reply, err
}

// meteredChannelSource decorates a p.ChannelSource so the OpenChannelSources
// gauge stays in sync with however it is eventually released — whether by
// RetryableWriteContext/RetryableReadContext.Dispose, ReplaceChannelSource
// during the executor's retry Reselect step, or a direct Close — instead of
// only ever being incremented at acquisition time.
type meteredChannelSource struct {
	p.ChannelSource
	metrics *metrics
	closed  bool
}

func (s *meteredChannelSource) Close() error {
	err := s.ChannelSource.Close()
	if !s.closed {
		s.closed = true
		s.metrics.addOpenChannelSources(-1)
	}
	return err
}

// GetChannel wraps the leased channel the same way, so OpenChannels mirrors
// actual lease/release pairs rather than never being recorded.
func (s *meteredChannelSource) GetChannel(ctx context.Context) (p.Channel, error) {
	ch, err := s.ChannelSource.GetChannel(ctx)
	if err != nil {
		return nil, err
	}
	s.metrics.addOpenChannels(1)
	return &meteredChannel{Channel: ch, metrics: s.metrics}, nil
}

type meteredChannel struct {
	p.Channel
	metrics *metrics
	closed  bool
}

func (c *meteredChannel) Close() error {
	err := c.Channel.Close()
	if !c.closed {
		c.closed = true
		c.metrics.addOpenChannels(-1)
	}
	return err
}
