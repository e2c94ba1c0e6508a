// Package security is the Authenticated Transport capability: a single
// self-signed cluster CA that issues the control-service, per-node
// agent, and operator certificates every mutual-TLS connection in the
// cluster is verified against.
package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"fmt"
	"math/big"
	"net"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

// CAStore persists the root CA's encrypted material, split out into its
// own minimal interface so CertAuthority does not need a whole
// multi-bucket store to use one.
type CAStore interface {
	GetCA() ([]byte, error)
	SaveCA(data []byte) error
}

var bucketCA = []byte("ca")

// BoltCAStore is the default CAStore, a single-bucket bbolt file.
type BoltCAStore struct {
	db *bolt.DB
}

// OpenBoltCAStore creates or reopens a CA store at path.
func OpenBoltCAStore(path string) (*BoltCAStore, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("security: open CA store %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCA)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("security: create CA bucket: %w", err)
	}
	return &BoltCAStore{db: db}, nil
}

func (s *BoltCAStore) Close() error { return s.db.Close() }

func (s *BoltCAStore) GetCA() ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		stored := tx.Bucket(bucketCA).Get([]byte("ca"))
		if stored == nil {
			return fmt.Errorf("security: CA not found")
		}
		data = append([]byte(nil), stored...)
		return nil
	})
	return data, err
}

func (s *BoltCAStore) SaveCA(data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCA).Put([]byte("ca"), data)
	})
}

// CertAuthority manages the cluster's self-signed certificate authority.
type CertAuthority struct {
	rootCert  *x509.Certificate
	rootKey   *rsa.PrivateKey
	store     CAStore
	encryptor *keyEncryptor
	certCache map[string]*CachedCert
	mu        sync.RWMutex
}

// CachedCert is a previously issued certificate kept in memory for
// reuse without a fresh signing operation.
type CachedCert struct {
	Cert      *x509.Certificate
	Key       *rsa.PrivateKey
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// caData is the serialized form persisted via CAStore.
type caData struct {
	RootCertDER []byte
	RootKeyDER  []byte
}

const (
	rootCAValidity   = 10 * 365 * 24 * time.Hour
	nodeCertValidity = 90 * 24 * time.Hour
	rootKeySize      = 4096
	nodeKeySize      = 2048
)

// NewCertAuthority creates a CertAuthority whose root key, once
// generated or loaded, is encrypted at rest with a key derived from
// clusterID (DeriveKeyFromClusterID) before being handed to store.
func NewCertAuthority(store CAStore, clusterID string) (*CertAuthority, error) {
	encryptor, err := newKeyEncryptor(DeriveKeyFromClusterID(clusterID))
	if err != nil {
		return nil, err
	}
	return &CertAuthority{
		store:     store,
		encryptor: encryptor,
		certCache: make(map[string]*CachedCert),
	}, nil
}

// Initialize generates a brand-new self-signed root CA certificate and
// key, replacing whatever was previously held in memory. Callers must
// call SaveToStore afterward to persist it.
func (ca *CertAuthority) Initialize() error {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	rootKey, err := rsa.GenerateKey(rand.Reader, rootKeySize)
	if err != nil {
		return fmt.Errorf("security: generate root key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return fmt.Errorf("security: generate serial number: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"Flocker Cluster"},
			CommonName:   "Flocker Root CA",
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(rootCAValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		IsCA:                  true,
		BasicConstraintsValid: true,
		MaxPathLen:            1,
		MaxPathLenZero:        false,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &rootKey.PublicKey, rootKey)
	if err != nil {
		return fmt.Errorf("security: create root certificate: %w", err)
	}
	rootCert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return fmt.Errorf("security: parse root certificate: %w", err)
	}

	ca.rootCert = rootCert
	ca.rootKey = rootKey
	return nil
}

// LoadFromStore loads a previously-persisted CA from the backing store.
func (ca *CertAuthority) LoadFromStore() error {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	raw, err := ca.store.GetCA()
	if err != nil {
		return fmt.Errorf("security: get CA from store: %w", err)
	}

	var data caData
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("security: unmarshal CA data: %w", err)
	}

	decryptedKey, err := ca.encryptor.decrypt(data.RootKeyDER)
	if err != nil {
		return fmt.Errorf("security: decrypt root key: %w", err)
	}

	rootCert, err := x509.ParseCertificate(data.RootCertDER)
	if err != nil {
		return fmt.Errorf("security: parse root certificate: %w", err)
	}
	rootKey, err := x509.ParsePKCS1PrivateKey(decryptedKey)
	if err != nil {
		return fmt.Errorf("security: parse root key: %w", err)
	}

	ca.rootCert = rootCert
	ca.rootKey = rootKey
	return nil
}

// SaveToStore persists the in-memory CA, with its root key encrypted.
func (ca *CertAuthority) SaveToStore() error {
	ca.mu.RLock()
	defer ca.mu.RUnlock()

	if ca.rootCert == nil || ca.rootKey == nil {
		return fmt.Errorf("security: CA not initialized")
	}

	rootKeyDER := x509.MarshalPKCS1PrivateKey(ca.rootKey)
	encryptedKey, err := ca.encryptor.encrypt(rootKeyDER)
	if err != nil {
		return fmt.Errorf("security: encrypt root key: %w", err)
	}

	data, err := json.Marshal(caData{RootCertDER: ca.rootCert.Raw, RootKeyDER: encryptedKey})
	if err != nil {
		return fmt.Errorf("security: marshal CA data: %w", err)
	}

	if err := ca.store.SaveCA(data); err != nil {
		return fmt.Errorf("security: save CA to store: %w", err)
	}
	return nil
}

// IssueNodeCertificate issues a client+server certificate for a
// convergence agent: one node certificate per agent, carrying the
// node_uuid directly in Subject.CommonName rather than a "<role>-<id>"
// scheme.
func (ca *CertAuthority) IssueNodeCertificate(nodeUUID string, dnsNames []string, ipAddresses []net.IP) (*tls.Certificate, error) {
	return ca.issueCertificate(nodeUUID, nodeUUID, dnsNames, ipAddresses,
		[]x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth})
}

// IssueControlCertificate issues the control service's own server
// identity certificate.
func (ca *CertAuthority) IssueControlCertificate(dnsNames []string, ipAddresses []net.IP) (*tls.Certificate, error) {
	return ca.issueCertificate("control", "flocker-control", dnsNames, ipAddresses,
		[]x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth})
}

// IssueOperatorCertificate issues a client-only certificate identifying
// a human or automation operator talking to the REST API.
func (ca *CertAuthority) IssueOperatorCertificate(operatorID string) (*tls.Certificate, error) {
	return ca.issueCertificate(operatorID, "operator-"+operatorID, nil, nil,
		[]x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth})
}

func (ca *CertAuthority) issueCertificate(cacheID, commonName string, dnsNames []string, ipAddresses []net.IP, extKeyUsage []x509.ExtKeyUsage) (*tls.Certificate, error) {
	// Lock (not RLock): this also writes to certCache below.
	ca.mu.Lock()
	defer ca.mu.Unlock()

	if ca.rootCert == nil || ca.rootKey == nil {
		return nil, fmt.Errorf("security: CA not initialized")
	}

	key, err := rsa.GenerateKey(rand.Reader, nodeKeySize)
	if err != nil {
		return nil, fmt.Errorf("security: generate key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("security: generate serial number: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"Flocker Cluster"},
			CommonName:   commonName,
		},
		NotBefore:   time.Now(),
		NotAfter:    time.Now().Add(nodeCertValidity),
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: extKeyUsage,
		DNSNames:    dnsNames,
		IPAddresses: ipAddresses,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, ca.rootCert, &key.PublicKey, ca.rootKey)
	if err != nil {
		return nil, fmt.Errorf("security: create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("security: parse certificate: %w", err)
	}

	tlsCert := &tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  key,
		Leaf:        cert,
	}
	ca.cacheCertificate(cacheID, cert, key)
	return tlsCert, nil
}

// VerifyCertificate verifies cert's chain against the cluster root CA,
// with no other trust root accepted.
func (ca *CertAuthority) VerifyCertificate(cert *x509.Certificate) error {
	ca.mu.RLock()
	defer ca.mu.RUnlock()

	if ca.rootCert == nil {
		return fmt.Errorf("security: CA not initialized")
	}

	roots := x509.NewCertPool()
	roots.AddCert(ca.rootCert)

	opts := x509.VerifyOptions{
		Roots:     roots,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
	}
	if _, err := cert.Verify(opts); err != nil {
		return fmt.Errorf("security: certificate verification failed: %w", err)
	}
	return nil
}

// RootCertPool returns a cert pool containing only the cluster root CA,
// the sole trust root both sides of every mutual-TLS connection pin to.
func (ca *CertAuthority) RootCertPool() *x509.CertPool {
	ca.mu.RLock()
	defer ca.mu.RUnlock()

	pool := x509.NewCertPool()
	if ca.rootCert != nil {
		pool.AddCert(ca.rootCert)
	}
	return pool
}

// GetRootCACert returns the root CA certificate in DER format.
func (ca *CertAuthority) GetRootCACert() []byte {
	ca.mu.RLock()
	defer ca.mu.RUnlock()

	if ca.rootCert == nil {
		return nil
	}
	return ca.rootCert.Raw
}

// IsInitialized reports whether the CA has a root certificate and key.
func (ca *CertAuthority) IsInitialized() bool {
	ca.mu.RLock()
	defer ca.mu.RUnlock()
	return ca.rootCert != nil && ca.rootKey != nil
}

func (ca *CertAuthority) cacheCertificate(id string, cert *x509.Certificate, key *rsa.PrivateKey) {
	ca.certCache[id] = &CachedCert{
		Cert:      cert,
		Key:       key,
		IssuedAt:  cert.NotBefore,
		ExpiresAt: cert.NotAfter,
	}
}

// GetCachedCert retrieves a previously issued certificate by its cache
// id (the node UUID or operator ID it was issued for).
func (ca *CertAuthority) GetCachedCert(id string) (*CachedCert, bool) {
	ca.mu.RLock()
	defer ca.mu.RUnlock()

	cert, exists := ca.certCache[id]
	return cert, exists
}
