// SPDX-FileCopyrightText: 2014-2022 SAP SE
//
// SPDX-License-Identifier: Apache-2.0

package driver

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/nimbusdb/nimbus-go-driver/driver/dial"
)

// conn attributes default values.
const (
	defaultConnectTimeout         = 30 * time.Second
	defaultSocketTimeout          = 0 // no timeout
	defaultServerSelectionTimeout = 30 * time.Second
	defaultHeartbeatInterval      = 10 * time.Second
	defaultWaitQueueTimeout       = 0
	defaultMaxPoolSize            = 100
	defaultMinPoolSize            = 0
	defaultMaxConnecting          = 2
)

// minimal / maximal values.
const (
	minServerSelectionTimeout = 1 * time.Millisecond
	minPoolSize               = 0
)

// connAttrs holds connection relevant attributes, following go-hdb's
// mutex-guarded-struct-with-private-field idiom field for field.
type connAttrs struct {
	mu                         sync.RWMutex
	_endpoints                 []string
	_replicaSetName            string
	_directConnection          bool
	_loadBalanced              bool
	_minPoolSize               int
	_maxPoolSize               int
	_maxConnecting             int
	_waitQueueTimeout          time.Duration
	_connectTimeout            time.Duration
	_socketTimeout             time.Duration
	_serverSelectionTimeout    time.Duration
	_heartbeatInterval         time.Duration
	_tlsConfig                 *tls.Config
	_tlsInsecureSkipVerify     bool
	_tlsCertificateKeyFile     string
	_compressors               []string
	_appName                   string
	_serverAPIVersion          string
	_serverAPIStrict           bool
	_serverAPIDeprecationErrors bool
	_dialer                    dial.Dialer
}

func newConnAttrs() *connAttrs {
	return &connAttrs{
		_minPoolSize:            defaultMinPoolSize,
		_maxPoolSize:            defaultMaxPoolSize,
		_maxConnecting:          defaultMaxConnecting,
		_waitQueueTimeout:       defaultWaitQueueTimeout,
		_connectTimeout:         defaultConnectTimeout,
		_socketTimeout:          defaultSocketTimeout,
		_serverSelectionTimeout: defaultServerSelectionTimeout,
		_heartbeatInterval:      defaultHeartbeatInterval,
		_dialer:                 dial.DefaultDialer,
	}
}

func (a *connAttrs) clone() *connAttrs {
	a.mu.RLock()
	defer a.mu.RUnlock()
	c := *a
	c.mu = sync.RWMutex{}
	c._endpoints = append([]string(nil), a._endpoints...)
	c._compressors = append([]string(nil), a._compressors...)
	return &c
}

func (a *connAttrs) endpoints() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]string(nil), a._endpoints...)
}
func (a *connAttrs) setEndpoints(endpoints []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a._endpoints = append([]string(nil), endpoints...)
}

func (a *connAttrs) replicaSetName() string { a.mu.RLock(); defer a.mu.RUnlock(); return a._replicaSetName }
func (a *connAttrs) setReplicaSetName(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a._replicaSetName = name
}

func (a *connAttrs) directConnection() bool { a.mu.RLock(); defer a.mu.RUnlock(); return a._directConnection }
func (a *connAttrs) setDirectConnection(b bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a._directConnection = b
}

func (a *connAttrs) loadBalanced() bool { a.mu.RLock(); defer a.mu.RUnlock(); return a._loadBalanced }
func (a *connAttrs) setLoadBalanced(b bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a._loadBalanced = b
}

func (a *connAttrs) minPoolSize() int { a.mu.RLock(); defer a.mu.RUnlock(); return a._minPoolSize }
func (a *connAttrs) setMinPoolSize(n int) {
	if n < minPoolSize {
		n = minPoolSize
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a._minPoolSize = n
}

func (a *connAttrs) maxPoolSize() int { a.mu.RLock(); defer a.mu.RUnlock(); return a._maxPoolSize }
func (a *connAttrs) setMaxPoolSize(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a._maxPoolSize = n
}

func (a *connAttrs) maxConnecting() int { a.mu.RLock(); defer a.mu.RUnlock(); return a._maxConnecting }
func (a *connAttrs) setMaxConnecting(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a._maxConnecting = n
}

func (a *connAttrs) waitQueueTimeout() time.Duration {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a._waitQueueTimeout
}
func (a *connAttrs) setWaitQueueTimeout(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a._waitQueueTimeout = d
}

func (a *connAttrs) connectTimeout() time.Duration {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a._connectTimeout
}
func (a *connAttrs) setConnectTimeout(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a._connectTimeout = d
}

func (a *connAttrs) socketTimeout() time.Duration {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a._socketTimeout
}
func (a *connAttrs) setSocketTimeout(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a._socketTimeout = d
}

func (a *connAttrs) serverSelectionTimeout() time.Duration {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a._serverSelectionTimeout
}
func (a *connAttrs) _setServerSelectionTimeout(d time.Duration) {
	if d < minServerSelectionTimeout {
		d = minServerSelectionTimeout
	}
	a._serverSelectionTimeout = d
}
func (a *connAttrs) setServerSelectionTimeout(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a._setServerSelectionTimeout(d)
}

func (a *connAttrs) heartbeatInterval() time.Duration {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a._heartbeatInterval
}
func (a *connAttrs) setHeartbeatInterval(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a._heartbeatInterval = d
}

func (a *connAttrs) tlsConfig() *tls.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a._tlsConfig == nil {
		return nil
	}
	return a._tlsConfig.Clone()
}
func (a *connAttrs) setTLSConfig(cfg *tls.Config) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a._tlsConfig = cfg.Clone()
}

func (a *connAttrs) tlsInsecureSkipVerify() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a._tlsInsecureSkipVerify
}
func (a *connAttrs) setTLSInsecureSkipVerify(b bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a._tlsInsecureSkipVerify = b
}

// _setTLS builds a *tls.Config from a server name and a set of root CA
// files, mirroring go-hdb's connAttrs._setTLS.
func (a *connAttrs) _setTLS(serverName string, insecureSkipVerify bool, rootCAFiles []string) error {
	cfg := &tls.Config{ServerName: serverName, InsecureSkipVerify: insecureSkipVerify}
	var pool *x509.CertPool
	for _, fn := range rootCAFiles {
		pem, err := os.ReadFile(fn)
		if err != nil {
			return err
		}
		if pool == nil {
			pool = x509.NewCertPool()
		}
		if ok := pool.AppendCertsFromPEM(pem); !ok {
			return fmt.Errorf("failed to parse root certificate - filename: %s", fn)
		}
	}
	if pool != nil {
		cfg.RootCAs = pool
	}
	a._tlsConfig = cfg
	return nil
}
func (a *connAttrs) setTLS(serverName string, insecureSkipVerify bool, rootCAFiles []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a._setTLS(serverName, insecureSkipVerify, rootCAFiles)
}

func (a *connAttrs) tlsCertificateKeyFile() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a._tlsCertificateKeyFile
}
func (a *connAttrs) setTLSCertificateKeyFile(fn string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a._tlsCertificateKeyFile = fn
}

func (a *connAttrs) compressors() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]string(nil), a._compressors...)
}
func (a *connAttrs) setCompressors(c []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a._compressors = append([]string(nil), c...)
}

func (a *connAttrs) appName() string { a.mu.RLock(); defer a.mu.RUnlock(); return a._appName }
func (a *connAttrs) setAppName(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a._appName = name
}

func (a *connAttrs) serverAPIVersion() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a._serverAPIVersion
}
func (a *connAttrs) setServerAPIVersion(v string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a._serverAPIVersion = v
}

func (a *connAttrs) serverAPIStrict() bool { a.mu.RLock(); defer a.mu.RUnlock(); return a._serverAPIStrict }
func (a *connAttrs) setServerAPIStrict(b bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a._serverAPIStrict = b
}

func (a *connAttrs) serverAPIDeprecationErrors() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a._serverAPIDeprecationErrors
}
func (a *connAttrs) setServerAPIDeprecationErrors(b bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a._serverAPIDeprecationErrors = b
}

func (a *connAttrs) dialer() dial.Dialer { a.mu.RLock(); defer a.mu.RUnlock(); return a._dialer }
func (a *connAttrs) setDialer(d dial.Dialer) {
	if d == nil {
		d = dial.DefaultDialer
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a._dialer = d
}

// ConnAttrs is the public, immutable-by-copy view of connection settings
// returned to callers building a Cluster, e.g. for logging or diagnostics.
type ConnAttrs struct {
	Endpoints              []string
	ReplicaSetName         string
	DirectConnection       bool
	LoadBalanced           bool
	MinPoolSize            int
	MaxPoolSize            int
	MaxConnecting          int
	WaitQueueTimeout       time.Duration
	ConnectTimeout         time.Duration
	SocketTimeout          time.Duration
	ServerSelectionTimeout time.Duration
	HeartbeatInterval      time.Duration
	TLSConfig              *tls.Config
	TLSInsecureSkipVerify  bool
	TLSCertificateKeyFile  string
	Compressors            []string
	AppName                string
	ServerAPIVersion       string
	ServerAPIStrict        bool
	ServerAPIDeprecationErrors bool
	Dialer                 dial.Dialer
}

// NewConnAttrs returns default connection attributes, analogous to go-hdb's
// NewConnector default construction path.
func NewConnAttrs() *ConnAttrs {
	a := newConnAttrs()
	return a.public()
}

func (a *connAttrs) public() *ConnAttrs {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return &ConnAttrs{
		Endpoints:                  append([]string(nil), a._endpoints...),
		ReplicaSetName:             a._replicaSetName,
		DirectConnection:           a._directConnection,
		LoadBalanced:               a._loadBalanced,
		MinPoolSize:                a._minPoolSize,
		MaxPoolSize:                a._maxPoolSize,
		MaxConnecting:              a._maxConnecting,
		WaitQueueTimeout:           a._waitQueueTimeout,
		ConnectTimeout:             a._connectTimeout,
		SocketTimeout:              a._socketTimeout,
		ServerSelectionTimeout:     a._serverSelectionTimeout,
		HeartbeatInterval:          a._heartbeatInterval,
		TLSConfig:                 a._tlsConfig,
		TLSInsecureSkipVerify:      a._tlsInsecureSkipVerify,
		TLSCertificateKeyFile:      a._tlsCertificateKeyFile,
		Compressors:                append([]string(nil), a._compressors...),
		AppName:                    a._appName,
		ServerAPIVersion:           a._serverAPIVersion,
		ServerAPIStrict:            a._serverAPIStrict,
		ServerAPIDeprecationErrors: a._serverAPIDeprecationErrors,
		Dialer:                     a._dialer,
	}
}
