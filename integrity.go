package ftp

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"hash/crc32"
	"strings"
)

// hashAlgorithm names the draft-bryan-ftp-hash algorithms this client can
// select and verify. There is no third-party implementation of any of
// these in the example corpus specific to FTP's HASH wire format, and
// they are exactly the protocol-mandated set, so this stays on the
// standard library (crypto/md5, crypto/sha1, crypto/sha256, hash/crc32).
type hashAlgorithm string

const (
	hashSHA256 hashAlgorithm = "SHA-256"
	hashSHA1   hashAlgorithm = "SHA-1"
	hashMD5    hashAlgorithm = "MD5"
	hashCRC32  hashAlgorithm = "CRC32"
)

// preferredHashOrder is the selection order when the caller doesn't pin
// an algorithm: strongest available first.
var preferredHashOrder = []hashAlgorithm{hashSHA256, hashSHA1, hashMD5, hashCRC32}

func newHasher(algo hashAlgorithm) (hash.Hash, error) {
	switch algo {
	case hashSHA256:
		return sha256.New(), nil
	case hashSHA1:
		return sha1.New(), nil
	case hashMD5:
		return md5.New(), nil
	case hashCRC32:
		return crc32.NewIEEE(), nil
	default:
		return nil, fmt.Errorf("ftp: unsupported hash algorithm %q", algo)
	}
}

// selectHashAlgorithm picks the strongest algorithm the server advertised
// via OPTS HASH / the HASH feature's parameter list.
func selectHashAlgorithm(available []string) hashAlgorithm {
	supported := make(map[string]bool, len(available))
	for _, a := range available {
		supported[strings.ToUpper(a)] = true
	}
	for _, candidate := range preferredHashOrder {
		if supported[string(candidate)] {
			return candidate
		}
	}
	return hashSHA256
}

// verifyIntegrity computes the local hash of data and compares it against
// want (case-insensitively, as servers vary in hex-case convention).
func verifyIntegrity(algo hashAlgorithm, data []byte, want string) error {
	h, err := newHasher(algo)
	if err != nil {
		return err
	}
	h.Write(data)
	got := hex.EncodeToString(h.Sum(nil))

	if !strings.EqualFold(got, want) {
		return &IntegrityError{Algorithm: string(algo), Want: want, Got: got}
	}
	return nil
}

// HashAlgorithm names a draft-bryan-ftp-hash digest this client can
// request or verify. The zero value lets VerifyHash pick the strongest
// one the server advertised.
type HashAlgorithm string

// The algorithms defined by the HASH/XCRC/XMD5/XSHA1/XSHA256 commands, in
// order of preference.
const (
	HashSHA256 HashAlgorithm = HashAlgorithm(hashSHA256)
	HashSHA1   HashAlgorithm = HashAlgorithm(hashSHA1)
	HashMD5    HashAlgorithm = HashAlgorithm(hashMD5)
	HashCRC32  HashAlgorithm = HashAlgorithm(hashCRC32)
)

// legacyHashCommands maps each algorithm to the single-purpose command
// older servers implement instead of the generic HASH verb.
var legacyHashCommands = map[hashAlgorithm]string{
	hashCRC32:  "XCRC",
	hashMD5:    "XMD5",
	hashSHA1:   "XSHA1",
	hashSHA256: "XSHA256",
}

// VerifyHash verifies that the local bytes in data match path's hash as
// computed by the server, per the draft-bryan-ftp-hash extension
// (generic HASH, or the legacy XCRC/XMD5/XSHA1/XSHA256 commands). preferred
// selects an algorithm if the server advertised it; otherwise the
// strongest available algorithm is used. Returns *CommandNotSupportedError
// if the server advertises none of them, and *IntegrityError on mismatch.
func (c *Client) VerifyHash(path string, data []byte, preferred HashAlgorithm) error {
	// GetFeatures takes the busy-lock itself and is not reentrant, so it
	// must run before c.do below, not inside it.
	feats, err := c.GetFeatures()
	if err != nil {
		return err
	}

	return c.do(func() error {
		algo, useHashCmd, ok := selectAdvertisedHash(feats, hashAlgorithm(preferred))
		if !ok {
			return &CommandNotSupportedError{Command: "HASH", Last: responseInfo(c.lastResponse)}
		}

		var want string
		if useHashCmd {
			resp, err := c.sendCommand("HASH", path)
			if err != nil {
				return err
			}
			if !resp.Is2xx() {
				return &CommandNotSupportedError{Command: "HASH", Last: responseInfo(resp)}
			}
			want, err = parseHashResponse(resp.Text)
			if err != nil {
				return err
			}
		} else {
			resp, err := c.sendCommand(legacyHashCommands[algo], path)
			if err != nil {
				return err
			}
			if !resp.Is2xx() {
				return &CommandNotSupportedError{Command: legacyHashCommands[algo], Last: responseInfo(resp)}
			}
			want = strings.TrimSpace(resp.Text)
		}

		return verifyIntegrity(algo, data, want)
	})
}

// selectAdvertisedHash decides which algorithm to use and whether the
// generic HASH command (true) or a legacy X* command (false) should carry
// it. preferred, if non-empty and advertised, wins; otherwise the
// strongest advertised algorithm is picked.
func selectAdvertisedHash(feats FeatureSet, preferred hashAlgorithm) (algo hashAlgorithm, useHashCmd bool, ok bool) {
	if hashParams, hasHash := feats["HASH"]; hasHash {
		if preferred != "" && containsFold(hashParams, string(preferred)) {
			return preferred, true, true
		}
		return selectHashAlgorithm(hashParams), true, true
	}

	var available []string
	for algo, cmd := range legacyHashCommands {
		if feats.Has(cmd) {
			available = append(available, string(algo))
		}
	}
	if len(available) == 0 {
		return "", false, false
	}
	if preferred != "" && containsFold(available, string(preferred)) {
		return preferred, false, true
	}
	return selectHashAlgorithm(available), false, true
}

func containsFold(ss []string, s string) bool {
	for _, candidate := range ss {
		if strings.EqualFold(candidate, s) {
			return true
		}
	}
	return false
}

// parseHashResponse extracts the hex digest from a HASH command's "213
// <algo> <range> <hash>" response text.
func parseHashResponse(text string) (string, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", fmt.Errorf("ftp: empty HASH response")
	}
	return fields[len(fields)-1], nil
}
