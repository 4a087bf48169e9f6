// SPDX-FileCopyrightText: 2014-2022 SAP SE
//
// SPDX-License-Identifier: Apache-2.0

package driver

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ClusterKey is a value-equality key over the connection parameters that
// identify a cluster, so two Clusters configured identically share one
// entry in a ClusterRegistry.
type ClusterKey string

// newClusterKey derives a ClusterKey from the attributes that determine
// cluster identity: the sorted endpoint set, replica set name, and whether
// the topology is addressed directly or load-balanced.
func newClusterKey(a *connAttrs) ClusterKey {
	endpoints := a.endpoints()
	sorted := append([]string(nil), endpoints...)
	sort.Strings(sorted)
	return ClusterKey(fmt.Sprintf("%s|%s|%v|%v", strings.Join(sorted, ","), a.replicaSetName(), a.directConnection(), a.loadBalanced()))
}

// ClusterRegistry is process-wide state mapping a ClusterKey to a live
// Cluster — an explicit value with its own mutex, never a hidden unexported
// package-level pointer.
type ClusterRegistry struct {
	mu       sync.Mutex
	clusters map[ClusterKey]*Cluster
}

// NewClusterRegistry returns an empty registry.
func NewClusterRegistry() *ClusterRegistry {
	return &ClusterRegistry{clusters: make(map[ClusterKey]*Cluster)}
}

// DefaultClusterRegistry is the package-level convenience instance most
// callers share, analogous to database/sql's driver registry but realised
// as an ordinary value rather than an unexported global.
var DefaultClusterRegistry = NewClusterRegistry()

// GetOrCreate returns the Cluster registered under key, creating and
// registering one via newFn if none exists yet. Lookup and registration are
// atomic under the registry's lock.
func (r *ClusterRegistry) GetOrCreate(key ClusterKey, newFn func() *Cluster) *Cluster {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clusters[key]; ok {
		return c
	}
	c := newFn()
	r.clusters[key] = c
	return c
}

// Lookup returns the Cluster registered under key, if any.
func (r *ClusterRegistry) Lookup(key ClusterKey) (*Cluster, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clusters[key]
	return c, ok
}

// Remove disposes of and unregisters the Cluster at key, if present.
// Unregistration and disposal happen atomically under the registry's lock.
func (r *ClusterRegistry) Remove(key ClusterKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clusters[key]
	if !ok {
		return nil
	}
	delete(r.clusters, key)
	return c.Close()
}

// Len reports how many clusters are currently registered.
func (r *ClusterRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clusters)
}
