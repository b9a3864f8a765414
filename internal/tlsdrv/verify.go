// File: internal/tlsdrv/verify.go
// Peer certificate chain verification for a settled session.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package tlsdrv

import (
	"bytes"
	"crypto/x509"
	"errors"

	"github.com/momentics/wsdial/api"
)

var (
	ErrNoPeerCertificate = errors.New("tlsdrv: peer presented no certificate")
	ErrHandshakeNotDone  = errors.New("tlsdrv: handshake not complete")
)

// VerifyPeer checks the peer chain of a Done session against the
// configured roots. With allowSelfSigned the one tolerated failure is
// a single self-signed leaf with no authority behind it; anything else
// fails either way.
//
// Проверяется только цепочка, как в классической модели verify-result:
// привязку имени хоста задаёт вызывающая сторона.
func (s *Session) VerifyPeer(allowSelfSigned bool) error {
	if !s.settled || s.result != nil {
		return ErrHandshakeNotDone
	}
	certs := s.tconn.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return ErrNoPeerCertificate
	}

	leaf := certs[0]
	opts := x509.VerifyOptions{
		Roots:         s.roots,
		Intermediates: x509.NewCertPool(),
	}
	for _, ic := range certs[1:] {
		opts.Intermediates.AddCert(ic)
	}
	_, err := leaf.Verify(opts)
	if err == nil {
		return nil
	}
	if allowSelfSigned && len(certs) == 1 && isSelfSigned(leaf) {
		var ua x509.UnknownAuthorityError
		if errors.As(err, &ua) {
			return nil
		}
	}
	return api.WrapError(api.ErrCodeTLSFatal, err, "peer chain verification failed").
		WithContext("subject", leaf.Subject.String()).
		WithContext("issuer", leaf.Issuer.String())
}

func isSelfSigned(c *x509.Certificate) bool {
	if !bytes.Equal(c.RawSubject, c.RawIssuer) {
		return false
	}
	// raw signature check: a self-signed leaf rarely carries the CA
	// constraints CheckSignatureFrom insists on
	return c.CheckSignature(c.SignatureAlgorithm, c.RawTBSCertificate, c.Signature) == nil
}
