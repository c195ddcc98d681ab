package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Header names carrying a request signature.
const (
	HeaderSignature = "X-Arbexec-Signature"
	HeaderTimestamp = "X-Arbexec-Timestamp"
)

// ErrBadSignature is returned when a signature cannot be decoded or recovered.
var ErrBadSignature = errors.New("crypto: bad signature")

// Signer signs executor API requests with a secp256k1 key. The recovered
// signer address is the caller identity the engine authorizes against.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{privateKey: pk, address: ethcrypto.PubkeyToAddress(pk.PublicKey)}, nil
}

// Address returns the address derived from the signer's key.
func (s *Signer) Address() common.Address {
	return s.address
}

// Headers returns the signature headers for a request sent now.
func (s *Signer) Headers(method, path string, body []byte) (map[string]string, error) {
	return s.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt is like Headers but lets the caller supply the Unix timestamp.
func (s *Signer) HeadersAt(method, path string, body []byte, unixTS int64) (map[string]string, error) {
	sig, err := s.SignRequest(method, path, body, unixTS)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		HeaderSignature: sig,
		HeaderTimestamp: strconv.FormatInt(unixTS, 10),
	}, nil
}

// SignRequest returns the hex-encoded 65-byte EIP-191 signature over the
// request digest.
func (s *Signer) SignRequest(method, path string, body []byte, unixTS int64) (string, error) {
	sig, err := ethcrypto.Sign(RequestDigest(method, path, body, unixTS), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	// go-ethereum returns v in {0,1}; wallets emit {27,28}.
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// RequestDigest hashes the canonical request message as an EIP-191
// personal message:
//
//	"<unix ts>\n<METHOD>\n<path>\n<hex keccak256(body)>"
func RequestDigest(method, path string, body []byte, unixTS int64) []byte {
	msg := strconv.FormatInt(unixTS, 10) + "\n" +
		strings.ToUpper(method) + "\n" +
		path + "\n" +
		hex.EncodeToString(ethcrypto.Keccak256(body))
	return accounts.TextHash([]byte(msg))
}

// RecoverRequest returns the address that produced sigHex over the request.
func RecoverRequest(method, path string, body []byte, unixTS int64, sigHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil || len(sig) != 65 {
		return common.Address{}, ErrBadSignature
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(RequestDigest(method, path, body, unixTS), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}
