package util

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"html"
	"strings"
)

//go:embed version.txt
var embeddedVersion string

type RsaKeyPair struct {
	Private string
	Public  string
}

func GetVersion() string {
	return strings.TrimSpace(embeddedVersion)
}

func GetNameAndVersion() string {
	return fmt.Sprintf("%s / %s", Name, GetVersion())
}

func DateTimeFormat() string {
	return "2006-01-02 15:04:05 CEST"
}

func PrettyPrint(i interface{}) string {
	s, _ := json.MarshalIndent(i, "", " ")
	return string(s)
}

// GeneratePemKeypair creates the federation signing keypair for a local
// account. The private key stays PKCS#1, the public key is PKIX so that
// remote servers can parse the publicKeyPem from our actor document.
func GeneratePemKeypair() *RsaKeyPair {
	bitSize := 2048

	key, err := rsa.GenerateKey(rand.Reader, bitSize)
	if err != nil {
		panic(err)
	}

	keyPEM := pem.EncodeToMemory(
		&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(key),
		},
	)

	pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		panic(err)
	}

	pubPEM := pem.EncodeToMemory(
		&pem.Block{
			Type:  "PUBLIC KEY",
			Bytes: pubBytes,
		},
	)

	return &RsaKeyPair{Private: string(keyPEM[:]), Public: string(pubPEM[:])}
}

// DeriveDID derives the portable identifier for a local account from its
// public key PEM. The same keypair always yields the same DID, regardless
// of which node hosts the account.
func DeriveDID(publicKeyPem string) string {
	h := sha256.Sum256([]byte(strings.TrimSpace(publicKeyPem)))
	return "did:lox:" + hex.EncodeToString(h[:])
}

// EscapeContent prepares note text for embedding in an outbound Note
// object: HTML-escapes &, <, >, " and ' and turns newlines into <br>.
// Applied at serialization time only, stored plaintext is untouched.
func EscapeContent(text string) string {
	escaped := html.EscapeString(text)
	return strings.Replace(escaped, "\n", "<br>", -1)
}
