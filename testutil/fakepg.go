// Package testutil holds helpers shared by package tests: a TEST_PG_DSN gate for
// real Postgres and an in-process fake that speaks enough of the wire protocol to
// exercise connect, SELECT 1 and the failure paths in between.
package testutil

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgproto3"

	"github.com/onnwee/demo-app/config"
)

// FakeMode selects how a MockPostgresServer answers.
type FakeMode int

const (
	// FakeReady completes startup and answers every simple query with a single row "1".
	FakeReady FakeMode = iota
	// FakeAuthFailure rejects the startup with SQLSTATE 28P01.
	FakeAuthFailure
	// FakeStallStartup accepts TCP connections and never answers the startup message.
	FakeStallStartup
	// FakeStallQuery completes startup and never answers the query.
	FakeStallQuery
	// FakeQueryError completes startup and answers every query with an error.
	FakeQueryError
)

// MockPostgresServer is a fake Postgres backend listening on 127.0.0.1.
type MockPostgresServer struct {
	Host string
	Port int

	mode     FakeMode
	ln       net.Listener
	queries  atomic.Int32
	accepted atomic.Int32

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewMockPostgresServer starts a fake backend in the given mode. It is closed on test cleanup.
func NewMockPostgresServer(t *testing.T, mode FakeMode) *MockPostgresServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	m := &MockPostgresServer{
		Host:  "127.0.0.1",
		Port:  ln.Addr().(*net.TCPAddr).Port,
		mode:  mode,
		ln:    ln,
		conns: make(map[net.Conn]struct{}),
	}
	m.wg.Add(1)
	go m.acceptLoop()
	t.Cleanup(m.Close)
	return m
}

// Database returns connection parameters pointing at the fake with short timeouts.
func (m *MockPostgresServer) Database() config.Database {
	return config.Database{
		Host:           m.Host,
		Port:           m.Port,
		Name:           "dev_db",
		User:           "dev",
		Password:       "devpass",
		SSLMode:        "disable",
		ConnectTimeout: 2 * time.Second,
		ProbeTimeout:   5 * time.Second,
	}
}

// Queries returns the number of simple queries received.
func (m *MockPostgresServer) Queries() int { return int(m.queries.Load()) }

// Accepted returns the number of TCP connections accepted.
func (m *MockPostgresServer) Accepted() int { return int(m.accepted.Load()) }

// Close stops the listener, drops every open connection and waits for handlers to exit.
func (m *MockPostgresServer) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	_ = m.ln.Close()
	for c := range m.conns {
		_ = c.Close()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *MockPostgresServer) acceptLoop() {
	defer m.wg.Done()
	for {
		c, err := m.ln.Accept()
		if err != nil {
			return
		}
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			_ = c.Close()
			return
		}
		m.conns[c] = struct{}{}
		m.wg.Add(1)
		m.mu.Unlock()
		m.accepted.Add(1)

		go func() {
			defer m.wg.Done()
			defer func() {
				m.mu.Lock()
				delete(m.conns, c)
				m.mu.Unlock()
				_ = c.Close()
			}()
			_ = m.serve(c)
		}()
	}
}

func (m *MockPostgresServer) serve(c net.Conn) error {
	be := pgproto3.NewBackend(c, c)

	if m.mode == FakeStallStartup {
		return drain(c)
	}

	startup, err := receiveStartup(c, be)
	if err != nil {
		return err
	}
	if _, ok := startup.(*pgproto3.StartupMessage); !ok {
		// cancel requests and anything else unexpected
		return nil
	}

	if m.mode == FakeAuthFailure {
		be.Send(&pgproto3.ErrorResponse{Severity: "FATAL", Code: "28P01", Message: `password authentication failed for user "dev"`})
		return be.Flush()
	}

	be.Send(&pgproto3.AuthenticationOk{})
	be.Send(&pgproto3.ParameterStatus{Name: "server_version", Value: "16.0"})
	be.Send(&pgproto3.ParameterStatus{Name: "client_encoding", Value: "UTF8"})
	be.Send(&pgproto3.ParameterStatus{Name: "standard_conforming_strings", Value: "on"})
	be.Send(&pgproto3.ReadyForQuery{TxStatus: 'I'})
	if err := be.Flush(); err != nil {
		return err
	}

	for {
		msg, err := be.Receive()
		if err != nil {
			return err
		}
		switch msg.(type) {
		case *pgproto3.Terminate:
			return nil
		case *pgproto3.Query:
			m.queries.Add(1)
			switch m.mode {
			case FakeStallQuery:
				return drain(c)
			case FakeQueryError:
				be.Send(&pgproto3.ErrorResponse{Severity: "ERROR", Code: "XX000", Message: "internal error"})
			default:
				be.Send(&pgproto3.RowDescription{Fields: []pgproto3.FieldDescription{{
					Name:         []byte("?column?"),
					DataTypeOID:  23, // int4
					DataTypeSize: 4,
					TypeModifier: -1,
					Format:       0,
				}}})
				be.Send(&pgproto3.DataRow{Values: [][]byte{[]byte("1")}})
				be.Send(&pgproto3.CommandComplete{CommandTag: []byte("SELECT 1")})
			}
			be.Send(&pgproto3.ReadyForQuery{TxStatus: 'I'})
			if err := be.Flush(); err != nil {
				return err
			}
		}
	}
}

// receiveStartup reads the startup packet, declining SSL and GSS encryption requests.
func receiveStartup(c net.Conn, be *pgproto3.Backend) (pgproto3.FrontendMessage, error) {
	for {
		msg, err := be.ReceiveStartupMessage()
		if err != nil {
			return nil, err
		}
		switch msg.(type) {
		case *pgproto3.SSLRequest, *pgproto3.GSSEncRequest:
			if _, err := c.Write([]byte{'N'}); err != nil {
				return nil, err
			}
		default:
			return msg, nil
		}
	}
}

// drain discards everything the peer sends until it or Close drops the connection.
func drain(c net.Conn) error {
	if _, err := io.Copy(io.Discard, c); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// ClosedPort returns a local TCP port with nothing listening on it.
func ClosedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	if err := ln.Close(); err != nil {
		t.Fatalf("close listener: %v", err)
	}
	return port
}
