package agent

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flocker-cluster/flocker/pkg/blockdevice"
	"github.com/flocker-cluster/flocker/pkg/clusterstate"
	"github.com/flocker-cluster/flocker/pkg/codec"
	"github.com/flocker-cluster/flocker/pkg/configstore"
	"github.com/flocker-cluster/flocker/pkg/control"
	"github.com/flocker-cluster/flocker/pkg/model"
	"github.com/flocker-cluster/flocker/pkg/security"
	"github.com/flocker-cluster/flocker/pkg/wire"
)

// startTestControlService boots a real control.Service behind a real TLS
// listener, mirroring pkg/control/service_test.go's startTestService so
// the agent is exercised against the genuine wire protocol rather than a
// mock transport.
func startTestControlService(t *testing.T) (addr string, ca *security.CertAuthority, cfgStore *configstore.Store) {
	t.Helper()

	var err error
	cfgStore, err = configstore.Open(t.TempDir() + "/config.db")
	require.NoError(t, err)
	t.Cleanup(func() { cfgStore.Close() })

	clusterStore := clusterstate.New(time.Minute)

	caStore, err := security.OpenBoltCAStore(t.TempDir() + "/ca.db")
	require.NoError(t, err)
	t.Cleanup(func() { caStore.Close() })
	ca, err = security.NewCertAuthority(caStore, "test-cluster")
	require.NoError(t, err)
	require.NoError(t, ca.Initialize())

	svc := control.NewService(cfgStore, clusterStore)

	serverCert, err := ca.IssueControlCertificate([]string{"localhost"}, []net.IP{net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	listener, err := tls.Listen("tcp", "127.0.0.1:0", ca.ServerTLSConfig(serverCert))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go svc.Run(ctx)
	go svc.Serve(ctx, listener)

	return listener.Addr().String(), ca, cfgStore
}

func TestAgentConvergesStartContainerAfterConfigurationPush(t *testing.T) {
	addr, ca, cfgStore := startTestControlService(t)

	nodeUUID := "node-1"
	clientCert, err := ca.IssueNodeCertificate(nodeUUID, nil, nil)
	require.NoError(t, err)

	driver, err := blockdevice.NewLoopbackDriver(t.TempDir(), "test-cluster")
	require.NoError(t, err)
	instanceID, err := driver.ComputeInstanceID(context.Background())
	require.NoError(t, err)

	eng := &fakeEngine{}
	snaps := &fakeSnapshotStore{}

	dialer := wire.NewDialer(addr, ca.ClientTLSConfig(clientCert))
	ag := New(nodeUUID, dialer, eng, driver, snaps, instanceID)
	ag.SetTickInterval(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ag.Run(ctx)

	deployment := model.NewDeployment()
	deployment.Version = 2
	deployment.Nodes[nodeUUID] = model.NodeConfig{
		NodeUUID:     nodeUUID,
		Applications: []model.Application{{Name: "web", Image: "nginx:1.27"}},
	}
	require.NoError(t, cfgStore.Save(deployment))

	assert.Eventually(t, func() bool {
		eng.mu.Lock()
		defer eng.mu.Unlock()
		for _, name := range eng.started {
			if name == "web" {
				return true
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond)

	gotDeployment, _ := ag.Target()
	assert.Equal(t, 2, gotDeployment.Version)
}

func TestAgentReportsObservedContainerBackToControlService(t *testing.T) {
	addr, ca, cfgStore := startTestControlService(t)

	nodeUUID := "node-1"
	clientCert, err := ca.IssueNodeCertificate(nodeUUID, nil, nil)
	require.NoError(t, err)

	driver, err := blockdevice.NewLoopbackDriver(t.TempDir(), "test-cluster")
	require.NoError(t, err)
	instanceID, err := driver.ComputeInstanceID(context.Background())
	require.NoError(t, err)

	eng := &fakeEngine{}
	snaps := &fakeSnapshotStore{}

	dialer := wire.NewDialer(addr, ca.ClientTLSConfig(clientCert))
	ag := New(nodeUUID, dialer, eng, driver, snaps, instanceID)
	ag.SetTickInterval(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ag.Run(ctx)

	deployment := model.NewDeployment()
	deployment.Version = 2
	deployment.Nodes[nodeUUID] = model.NodeConfig{
		NodeUUID:     nodeUUID,
		Applications: []model.Application{{Name: "web", Image: "nginx:1.27"}},
	}
	require.NoError(t, cfgStore.Save(deployment))

	// A second observer dials in and waits for the cluster state broadcast
	// to reflect node-1's reported NodeState, proving the agent's
	// reportNodeState round trip actually reaches the control service.
	observerCert, err := ca.IssueNodeCertificate("observer", nil, nil)
	require.NoError(t, err)
	conn, err := tls.Dial("tcp", addr, ca.ClientTLSConfig(observerCert))
	require.NoError(t, err)
	defer conn.Close()

	versionReply, err := json.Marshal(wire.VersionReply{Major: ProtocolMajorVersion})
	require.NoError(t, err)
	require.NoError(t, wire.WriteFrame(conn, wire.Frame{Command: wire.CommandVersion, Payload: versionReply}))
	reader := bufio.NewReader(conn)

	assert.Eventually(t, func() bool {
		conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		f, err := wire.ReadFrame(reader)
		if err != nil {
			return false
		}
		if f.Command != wire.CommandClusterStatus {
			return false
		}
		var args wire.ClusterStatusArgs
		if err := json.Unmarshal(f.Payload, &args); err != nil {
			return false
		}
		state, err := codec.DecodeDeploymentState(args.StateJSON)
		if err != nil {
			return false
		}
		node, ok := state.Nodes[nodeUUID]
		if !ok {
			return false
		}
		for _, c := range node.Containers {
			if c.Name == "web" && c.State == model.ContainerRunning {
				return true
			}
		}
		return false
	}, 3*time.Second, 50*time.Millisecond)
}
