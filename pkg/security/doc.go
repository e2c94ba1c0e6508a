/*
Package security provides the cluster certificate authority and mutual
TLS plumbing that authenticates every connection between Flocker's
control service, convergence agents and operator clients.

# Architecture

	┌───────────────────────────────────────────────────────────┐
	│                   Security Architecture                   │
	└─────┬─────────────────────────┬───────────────────────────┘
	      │                         │
	      ▼                         ▼
	┌─────────────┐         ┌───────────────┐
	│ CertAuthority│        │ keyEncryptor  │
	│ (root + sub) │        │ (AES-256-GCM) │
	└──────┬───────┘         └───────┬───────┘
	       │                         │
	       ▼                         ▼
	RSA 4096-bit root          protects the root
	10-year validity           private key at rest

# Cluster encryption key

The root CA's private key is encrypted before it is handed to a
CAStore for durable storage. The encryption key is derived from the
cluster ID rather than distributed out of band:

	key = SHA-256(clusterID)  // 32 bytes, AES-256

Every control-service process that knows the cluster ID can derive the
same key, so a freshly started process can load and decrypt an
existing root CA without a separate secret exchange.

# Certificate authority

The root CA is self-signed and long-lived:

	Root CA
	├── 10-year validity
	├── RSA 4096-bit key
	├── KeyUsage: CertSign, CRLSign
	└── Subject: CN=Flocker Root CA, O=Flocker Cluster

Three kinds of leaf certificate are issued from it:

	Node certificate (IssueNodeCertificate)
	├── 90-day validity, RSA 2048-bit
	├── ExtKeyUsage: ServerAuth, ClientAuth
	└── Subject CN = the node's raw node_uuid

	Control certificate (IssueControlCertificate)
	├── 90-day validity, RSA 2048-bit
	├── ExtKeyUsage: ServerAuth
	└── Subject CN = "flocker-control"

	Operator certificate (IssueOperatorCertificate)
	├── 90-day validity, RSA 2048-bit
	├── ExtKeyUsage: ClientAuth
	└── Subject CN = "operator-" + operator id

A node certificate carries both ServerAuth and ClientAuth. Agents use
it as a client certificate when they dial in to the control service;
the control service pushes configuration back over that same
connection and never dials an agent.

# Trust model

VerifyCertificate checks a peer certificate against RootCertPool,
which contains only this cluster's own root — certificates from any
other cluster's CA, even one built with this same code, are rejected.
There is no cross-cluster or public-CA trust; pkg/wire and pkg/restapi
both build their *tls.Config from RootCertPool via transport.go.

# Certificate persistence

certs.go provides file-based storage for a node's working certificate
and the pinned CA certificate (node.crt, node.key, ca.crt under a
per-node certificate directory), independent of how the CA itself
persists its root material through a CAStore. A node loads these once
at startup. CertNeedsRotation reports whether a certificate is close to
expiry; flocker-agent does not call it, and there is no replacement
request to the control service.
*/
package security
