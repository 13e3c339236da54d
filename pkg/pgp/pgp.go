// Package pgp encrypts streams for OpenPGP recipients. All cryptography is
// done by github.com/ProtonMail/go-crypto/openpgp.
package pgp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
)

var (
	ErrNoEncryptionKey = errors.New("pgp: key ring has no key usable for encryption")
	ErrNoPrivateKey    = errors.New("pgp: key ring has no private key")
)

// ReadKeyRing accepts an ASCII armored or binary key ring.
func ReadKeyRing(r io.Reader) (openpgp.EntityList, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read key ring: %w", err)
	}
	if bytes.Contains(data, []byte("-----BEGIN PGP")) {
		el, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("parse armored key ring: %w", err)
		}
		return el, nil
	}
	el, err := openpgp.ReadKeyRing(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse key ring: %w", err)
	}
	return el, nil
}

// ReadRecipients returns the entities of the key ring that can receive
// encrypted messages.
func ReadRecipients(r io.Reader) (openpgp.EntityList, error) {
	el, err := ReadKeyRing(r)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	var to openpgp.EntityList
	for _, e := range el {
		if _, ok := e.EncryptionKey(now); ok {
			to = append(to, e)
		}
	}
	if len(to) == 0 {
		return nil, ErrNoEncryptionKey
	}
	return to, nil
}

// Encrypt reads all of in and writes it to out encrypted for every usable
// key in publicKey. fileName is stored in the literal data packet. With
// armored the output is ASCII armored, otherwise binary.
func Encrypt(in io.Reader, fileName string, publicKey io.Reader, out io.Writer, armored bool) error {
	to, err := ReadRecipients(publicKey)
	if err != nil {
		return err
	}
	return EncryptTo(in, fileName, to, out, armored)
}

// EncryptString is Encrypt with the key given as an armored string.
func EncryptString(in io.Reader, fileName, publicKey string, out io.Writer, armored bool) error {
	return Encrypt(in, fileName, strings.NewReader(publicKey), out, armored)
}

func EncryptTo(in io.Reader, fileName string, to openpgp.EntityList, out io.Writer, armored bool) (err error) {
	dst := out
	var armorer io.WriteCloser
	if armored {
		armorer, err = armor.Encode(out, "PGP MESSAGE", nil)
		if err != nil {
			return fmt.Errorf("armor: %w", err)
		}
		dst = armorer
	}

	hints := &openpgp.FileHints{IsBinary: true, FileName: fileName, ModTime: time.Now()}
	plain, err := openpgp.Encrypt(dst, to, nil, hints, &packet.Config{DefaultCompressionAlgo: packet.CompressionZLIB})
	if err != nil {
		return fmt.Errorf("start encryption: %w", err)
	}
	if _, err := io.Copy(plain, in); err != nil {
		plain.Close()
		return fmt.Errorf("encrypt %s: %w", fileName, err)
	}
	if err := plain.Close(); err != nil {
		return fmt.Errorf("finish encryption: %w", err)
	}
	if armorer != nil {
		if err := armorer.Close(); err != nil {
			return fmt.Errorf("armor: %w", err)
		}
	}
	return nil
}

// HasPrivateKey reports whether any entity carries its private key.
func HasPrivateKey(el openpgp.EntityList) bool {
	for _, e := range el {
		if e.PrivateKey != nil {
			return true
		}
	}
	return false
}

// ArmorPublicKeys exports the public part of every entity.
func ArmorPublicKeys(el openpgp.EntityList) (string, error) {
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		return "", err
	}
	for _, e := range el {
		if err := e.Serialize(w); err != nil {
			return "", fmt.Errorf("serialize public key: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ArmorPrivateKeys exports the entities that have a private key. Keys are
// written as stored; encrypted private keys stay encrypted.
func ArmorPrivateKeys(el openpgp.EntityList) (string, error) {
	if !HasPrivateKey(el) {
		return "", ErrNoPrivateKey
	}
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PrivateKeyType, nil)
	if err != nil {
		return "", err
	}
	for _, e := range el {
		if e.PrivateKey == nil {
			continue
		}
		if err := e.SerializePrivateWithoutSigning(w, nil); err != nil {
			return "", fmt.Errorf("serialize private key: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
