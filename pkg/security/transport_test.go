package security

import (
	"crypto/tls"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestServerClientTLSConfigHandshake(t *testing.T) {
	ca := newTestCA(t)

	serverCert, err := ca.IssueControlCertificate([]string{"localhost"}, []net.IP{net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	clientCert, err := ca.IssueNodeCertificate("node-1", nil, nil)
	require.NoError(t, err)

	serverCfg := ca.ServerTLSConfig(serverCert)
	clientCfg := ca.ClientTLSConfig(clientCert)
	clientCfg.ServerName = "localhost"

	listener, err := tls.Listen("tcp", "127.0.0.1:0", serverCfg)
	require.NoError(t, err)
	defer listener.Close()

	accepted := make(chan error, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			accepted <- err
			return
		}
		defer conn.Close()
		accepted <- conn.(*tls.Conn).Handshake()
	}()

	conn, err := tls.Dial("tcp", listener.Addr().String(), clientCfg)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.Handshake())
	require.NoError(t, <-accepted)
}

func TestServerTLSConfigRejectsClientFromForeignCA(t *testing.T) {
	ca := newTestCA(t)
	foreign := newTestCA(t)

	serverCert, err := ca.IssueControlCertificate([]string{"localhost"}, []net.IP{net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	foreignClientCert, err := foreign.IssueNodeCertificate("node-1", nil, nil)
	require.NoError(t, err)

	serverCfg := ca.ServerTLSConfig(serverCert)
	clientCfg := ca.ClientTLSConfig(foreignClientCert)
	clientCfg.ServerName = "localhost"
	clientCfg.RootCAs = ca.RootCertPool()

	listener, err := tls.Listen("tcp", "127.0.0.1:0", serverCfg)
	require.NoError(t, err)
	defer listener.Close()

	go func() {
		conn, err := listener.Accept()
		if err == nil {
			conn.(*tls.Conn).Handshake()
			conn.Close()
		}
	}()

	conn, err := tls.Dial("tcp", listener.Addr().String(), clientCfg)
	if err == nil {
		err = conn.Handshake()
		conn.Close()
	}
	require.Error(t, err)
}
