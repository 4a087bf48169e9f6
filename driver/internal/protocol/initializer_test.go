// SPDX-FileCopyrightText: 2014-2022 SAP SE
//
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	driverrors "github.com/nimbusdb/nimbus-go-driver/driver/internal/errors"
)

// scriptedTransport is a WireTransport double that returns scripted replies
// keyed by the command's first field name ("hello", "getLastError", ...).
type scriptedTransport struct {
	replies map[string]Document
	errs    map[string]error
	calls   []string
}

func (s *scriptedTransport) RoundTrip(ctx context.Context, cmd Document) (Document, error) {
	name := cmd[0].Key
	s.calls = append(s.calls, name)
	if err, ok := s.errs[name]; ok {
		return nil, err
	}
	return s.replies[name], nil
}

func TestRunConnectionInitializer_HappyPath(t *testing.T) {
	transport := &scriptedTransport{
		replies: map[string]Document{
			"hello": NewDocument().
				Append("setName", "rs0").
				Append("maxWireVersion", int32(17)).
				Append("logicalSessionTimeoutMinutes", int32(30)).
				Append("connectionId", int32(99)),
		},
	}
	desc, err := RunConnectionInitializer(context.Background(), 1, transport, GreetingOptions{}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, ServerTypeReplicaSetPrimary, desc.Hello.ServerType)
	require.True(t, desc.ConnectionID.HasServerValue)
	require.Equal(t, int64(99), desc.ConnectionID.ServerValue)
	require.NotNil(t, desc.Hello.LogicalSessionTimeout)
	require.True(t, desc.SupportsRetryableWrites())
}

func TestRunConnectionInitializer_GreetingTransportErrorIsConnectionError(t *testing.T) {
	transport := &scriptedTransport{errs: map[string]error{"hello": errors.New("reset")}}
	_, err := RunConnectionInitializer(context.Background(), 1, transport, GreetingOptions{}, nil, nil)
	var connErr *driverrors.ConnectionError
	require.ErrorAs(t, err, &connErr)
}

func TestRunConnectionInitializer_LoadBalancedRequiresServiceID(t *testing.T) {
	transport := &scriptedTransport{replies: map[string]Document{"hello": NewDocument()}}
	_, err := RunConnectionInitializer(context.Background(), 1, transport, GreetingOptions{LoadBalanced: true}, nil, nil)
	var cfgErr *driverrors.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestRunConnectionInitializer_LegacyGetLastErrorFallback(t *testing.T) {
	transport := &scriptedTransport{replies: map[string]Document{"hello": NewDocument()}}
	fallbackCalled := false
	legacy := func(ctx context.Context, t WireTransport) (int64, bool) {
		fallbackCalled = true
		return 7, true
	}
	desc, err := RunConnectionInitializer(context.Background(), 1, transport, GreetingOptions{}, nil, legacy)
	require.NoError(t, err)
	require.True(t, fallbackCalled)
	require.True(t, desc.ConnectionID.HasServerValue)
	require.Equal(t, int64(7), desc.ConnectionID.ServerValue)
}

func TestRunConnectionInitializer_RunsAuthenticators(t *testing.T) {
	transport := &scriptedTransport{replies: map[string]Document{"hello": NewDocument()}}
	ran := false
	auth := NewBasicAuthenticator("user", "pw", func(ctx context.Context, _ WireTransport, username, password string) error {
		ran = true
		require.Equal(t, "user", username)
		return nil
	})
	_, err := RunConnectionInitializer(context.Background(), 1, transport, GreetingOptions{}, []Authenticator{auth}, nil)
	require.NoError(t, err)
	require.True(t, ran)
}

func TestBuildGreeting_IncludesClientAndCompressionAndServerAPI(t *testing.T) {
	opts := GreetingOptions{
		Client:      ClientMetadata{AppName: "app", DriverName: DriverNameForTest, DriverVersion: "1.0.0", OS: "linux", Platform: "go"},
		Compressors: []string{"zstd"},
		ServerAPI:   &ServerAPI{Version: "1", Strict: true},
	}
	cmd := buildGreeting(1, opts, nil)
	_, ok := cmd.Lookup("client")
	require.True(t, ok)
	sa, ok := cmd.Lookup("serverApi")
	require.True(t, ok)
	saDoc := sa.(Document)
	strict, _ := saDoc.Lookup("strict")
	require.Equal(t, true, strict)
}

// DriverNameForTest avoids this _test.go file importing the root driver
// package (which would create an import cycle back into protocol).
const DriverNameForTest = "nimbus-go-driver"
