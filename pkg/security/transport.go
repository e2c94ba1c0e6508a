package security

import "crypto/tls"

// ServerTLSConfig builds the *tls.Config used by a listener that
// terminates mutually authenticated connections: the control service's
// pkg/wire listener and the pkg/restapi HTTPS listener both use this.
// The cluster's own root CA is the sole trust root for client
// certificates, and every client must present one.
func (ca *CertAuthority) ServerTLSConfig(cert *tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{*cert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    ca.RootCertPool(),
		MinVersion:   tls.VersionTLS12,
	}
}

// ClientTLSConfig builds the *tls.Config used by a dialer: an agent
// connecting to the control service's pkg/wire listener, or an
// operator client connecting to pkg/restapi. The server certificate is
// verified against the cluster's own root CA only — a certificate
// issued by any other cluster's CA is rejected even if it is otherwise
// well-formed.
func (ca *CertAuthority) ClientTLSConfig(cert *tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{*cert},
		RootCAs:      ca.RootCertPool(),
		MinVersion:   tls.VersionTLS12,
	}
}
