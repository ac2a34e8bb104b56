package siridb

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTCPServerEchoesPing(t *testing.T) {
	srv := &TCPServer{
		Addr:       "127.0.0.1:0",
		MaxClients: 4,
		Handle: func(ctx context.Context, pkg *Pkg) (*Pkg, error) {
			return &Pkg{PID: pkg.PID, Type: ResAck}, nil
		},
	}
	ln, err := net.Listen("tcp", srv.Addr)
	require.NoError(t, err)
	srv.listener = ln
	srv.Addr = ln.Addr().String()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go srv.serveConn(context.Background(), conn)
		}
	}()
	defer srv.Close()

	conn, err := net.Dial("tcp", srv.Addr)
	require.NoError(t, err)
	defer conn.Close()

	req, err := NewPkg(7, ReqPing, nil)
	require.NoError(t, err)
	require.NoError(t, req.Encode(conn))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, err := ReadPkg(conn, MaxClientPkgSize)
	require.NoError(t, err)
	assert.Equal(t, uint16(7), resp.PID)
	assert.Equal(t, ResAck, resp.Type)
}

func TestTCPServerHandlerErrorReturnsGenericErr(t *testing.T) {
	srv := &TCPServer{
		Handle: func(ctx context.Context, pkg *Pkg) (*Pkg, error) {
			return nil, assertErr
		},
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv.listener = ln

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		srv.serveConn(context.Background(), conn)
	}()
	defer srv.Close()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	req, err := NewPkg(3, ReqPing, nil)
	require.NoError(t, err)
	require.NoError(t, req.Encode(conn))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, err := ReadPkg(conn, MaxClientPkgSize)
	require.NoError(t, err)
	assert.Equal(t, PktErrGeneric, resp.Type)
}

var assertErr = errAssertGeneric{}

type errAssertGeneric struct{}

func (errAssertGeneric) Error() string { return "handler failed" }
