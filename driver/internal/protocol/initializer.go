// SPDX-FileCopyrightText: 2014-2022 SAP SE
//
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"context"
	"fmt"
	"time"

	driverrors "github.com/nimbusdb/nimbus-go-driver/driver/internal/errors"
)

// ClientMetadata is the client-identifying sub-document sent in the
// greeting, per spec.md §6.
type ClientMetadata struct {
	AppName       string
	DriverName    string
	DriverVersion string
	OS            string
	Platform      string
}

// ServerAPI is the optional server-API declaration sent in the greeting.
type ServerAPI struct {
	Version           string
	Strict            bool
	DeprecationErrors bool
}

// GreetingOptions configures the greeting command built by the initializer.
type GreetingOptions struct {
	Client       ClientMetadata
	Compressors  []string
	LoadBalanced bool
	ServerAPI    *ServerAPI
}

// WireTransport is the boundary to the external transport collaborator:
// sending a command document and receiving a reply document. Real wire
// encoding/decoding is out of scope for this subsystem (spec.md §1); an
// implementation plugs in the actual codec here.
type WireTransport interface {
	RoundTrip(ctx context.Context, cmd Document) (Document, error)
}

// Authenticator performs one mechanism's conversation with the server. It
// consumes the negotiated HelloResult for mechanism selection.
type Authenticator struct {
	Mechanism string
	Run       func(ctx context.Context, t WireTransport, hello HelloResult) error
}

// NewBasicAuthenticator builds a SCRAM-shaped username/password
// authenticator. The SCRAM conversation math itself is an external
// collaborator (spec.md §1); Run only drives the round trips.
func NewBasicAuthenticator(username, password string, conversation func(ctx context.Context, t WireTransport, username, password string) error) Authenticator {
	return Authenticator{
		Mechanism: "SCRAM-SHA-256",
		Run: func(ctx context.Context, t WireTransport, hello HelloResult) error {
			if err := conversation(ctx, t, username, password); err != nil {
				return &driverrors.AuthenticationError{Mechanism: "SCRAM-SHA-256", Wrapped: err}
			}
			return nil
		},
	}
}

// NewX509Authenticator builds a client-certificate-identity authenticator.
// Certificate verification itself happens in the TLS layer; this only
// asserts the negotiated identity to the server.
func NewX509Authenticator(subjectName string, conversation func(ctx context.Context, t WireTransport, subjectName string) error) Authenticator {
	return Authenticator{
		Mechanism: "MONGODB-X509",
		Run: func(ctx context.Context, t WireTransport, hello HelloResult) error {
			if err := conversation(ctx, t, subjectName); err != nil {
				return &driverrors.AuthenticationError{Mechanism: "MONGODB-X509", Wrapped: err}
			}
			return nil
		},
	}
}

// TokenClaimsValidator validates a bearer token's claims locally, offline,
// before the token is handed to the server (unlike a SCRAM conversation,
// this step has no server round trip and is appropriate to do in-process).
type TokenClaimsValidator func(token string) error

// NewJWTAuthenticator builds a JWT bearer-token authenticator. validate is
// expected to be backed by github.com/golang-jwt/jwt/v5's parser, checking
// issuer and expiry before the token is placed on the wire.
func NewJWTAuthenticator(token string, validate TokenClaimsValidator, conversation func(ctx context.Context, t WireTransport, token string) error) Authenticator {
	return Authenticator{
		Mechanism: "MONGODB-OIDC",
		Run: func(ctx context.Context, t WireTransport, hello HelloResult) error {
			if validate != nil {
				if err := validate(token); err != nil {
					return &driverrors.AuthenticationError{Mechanism: "MONGODB-OIDC", Wrapped: fmt.Errorf("invalid bearer token: %w", err)}
				}
			}
			if err := conversation(ctx, t, token); err != nil {
				return &driverrors.AuthenticationError{Mechanism: "MONGODB-OIDC", Wrapped: err}
			}
			return nil
		},
	}
}

// buildGreeting assembles the hello/isMaster command document (spec.md §6).
func buildGreeting(localConnID int64, opts GreetingOptions, authenticators []Authenticator) Document {
	cmd := NewDocument()
	cmd = cmd.Append("hello", int32(1))
	client := NewDocument()
	client = client.Append("application", Document{{Key: "name", Value: opts.Client.AppName}})
	client = client.Append("driver", Document{{Key: "name", Value: opts.Client.DriverName}, {Key: "version", Value: opts.Client.DriverVersion}})
	client = client.Append("os", Document{{Key: "type", Value: opts.Client.OS}})
	client = client.Append("platform", opts.Client.Platform)
	cmd = cmd.Append("client", client)
	cmd = cmd.Append("compression", stringsToAny(opts.Compressors))
	if len(authenticators) > 0 {
		mechs := make([]any, len(authenticators))
		for i, a := range authenticators {
			mechs[i] = a.Mechanism
		}
		cmd = cmd.Append("saslSupportedMechs", mechs)
	}
	if opts.LoadBalanced {
		cmd = cmd.Append("loadBalanced", true)
	}
	if opts.ServerAPI != nil {
		sa := NewDocument()
		sa = sa.Append("version", opts.ServerAPI.Version)
		if opts.ServerAPI.Strict {
			sa = sa.Append("strict", true)
		}
		if opts.ServerAPI.DeprecationErrors {
			sa = sa.Append("deprecationErrors", true)
		}
		cmd = cmd.Append("serverApi", sa)
	}
	return cmd
}

func stringsToAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// parseHelloReply is the external collaborator boundary for turning a wire
// reply document into a HelloResult. Left as a function variable so tests
// can substitute a fake transport's parsing without a real BSON decoder.
var parseHelloReply = func(reply Document) (HelloResult, error) {
	var hr HelloResult
	hr.ServerType = ServerTypeStandalone
	for _, e := range reply {
		switch e.Key {
		case "msg":
			if s, ok := e.Value.(string); ok && s == "isdbgrid" {
				hr.ServerType = ServerTypeShardRouter
			}
		case "setName":
			hr.ServerType = ServerTypeReplicaSetPrimary
		case "secondary":
			if b, ok := e.Value.(bool); ok && b {
				hr.ServerType = ServerTypeReplicaSetSecondary
			}
		case "maxWireVersion":
			if v, ok := e.Value.(int32); ok {
				hr.MaxWireVersion = v
			}
		case "logicalSessionTimeoutMinutes":
			if v, ok := toDuration(e.Value); ok {
				hr.LogicalSessionTimeout = &v
			}
		case "serviceId":
			if s, ok := e.Value.(string); ok {
				hr.ServiceID = s
			}
		case "connectionId":
			if v, ok := toInt64(e.Value); ok {
				hr.ConnectionIDServerValue = v
				hr.HasConnectionIDServerValue = true
			}
		}
	}
	return hr, nil
}

// RunConnectionInitializer executes the state machine of spec.md §4.2 over
// localConnID/transport, returning the final ConnectionDescription. Step 2
// and 3 failures are fatal (the connection must be discarded); step 4's
// best-effort fallback swallows its own failure.
func RunConnectionInitializer(ctx context.Context, localConnID int64, t WireTransport, opts GreetingOptions, authenticators []Authenticator, legacyGetLastError func(ctx context.Context, t WireTransport) (int64, bool)) (ConnectionDescription, error) {
	greeting := buildGreeting(localConnID, opts, authenticators)

	reply, err := t.RoundTrip(ctx, greeting)
	if err != nil {
		return ConnectionDescription{}, &driverrors.ConnectionError{Op: "greeting", Wrapped: err}
	}
	hello, err := parseHelloReply(reply)
	if err != nil {
		return ConnectionDescription{}, &driverrors.ConnectionError{Op: "greeting", Wrapped: err}
	}
	if opts.LoadBalanced && hello.ServiceID == "" {
		return ConnectionDescription{}, &driverrors.ConfigurationError{Reason: "load-balanced mode requested but server hello did not return a serviceId"}
	}
	if opts.LoadBalanced {
		hello.ServerType = ServerTypeLoadBalanced
	}

	for _, a := range authenticators {
		if err := a.Run(ctx, t, hello); err != nil {
			return ConnectionDescription{}, err
		}
	}

	connID := ConnectionID{Local: localConnID}
	if hello.HasConnectionIDServerValue {
		connID.ServerValue = hello.ConnectionIDServerValue
		connID.HasServerValue = true
	} else if legacyGetLastError != nil {
		// best-effort only: failure here is swallowed per spec.md §4.2 step 4.
		if v, ok := legacyGetLastError(ctx, t); ok {
			connID.ServerValue = v
			connID.HasServerValue = true
		}
	}

	return ConnectionDescription{ConnectionID: connID, Hello: hello}, nil
}

func toDuration(v any) (time.Duration, bool) {
	switch n := v.(type) {
	case int32:
		return time.Duration(n) * time.Minute, true
	case int64:
		return time.Duration(n) * time.Minute, true
	case float64:
		return time.Duration(n * float64(time.Minute)), true
	default:
		return 0, false
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
