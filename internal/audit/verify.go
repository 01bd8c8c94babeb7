package audit

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// VerifyHash recomputes the canonical hash of envelope and compares it to
// the hash the service supplied. When either input is absent the check is a
// no-op and returns nil. A mismatch returns *IntegrityError; callers treat
// it as fatal rather than a recordable verdict.
func VerifyHash(envelope json.RawMessage, hash string) error {
	if len(envelope) == 0 || hash == "" {
		return nil
	}
	computed, err := hashEnvelope(envelope)
	if err != nil {
		return &IntegrityError{Hash: hash, Envelope: string(envelope)}
	}
	if computed != hash {
		return &IntegrityError{Hash: hash, Envelope: string(envelope)}
	}
	return nil
}

// hashEnvelope returns the hex SHA-256 of the canonical form of a raw
// envelope. Decoding preserves number literals so the hash is independent
// of how the envelope bytes happened to be formatted.
func hashEnvelope(envelope json.RawMessage) (string, error) {
	decoded, err := decodeJSON(envelope)
	if err != nil {
		return "", err
	}
	canon, err := Canon(decoded)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// signedEnvelope is the subset of the envelope relevant to signature
// verification.
type signedEnvelope struct {
	Event     map[string]any `json:"event"`
	Signature string         `json:"signature"`
	PublicKey string         `json:"public_key"`
}

// publicKeyEnvelope is the structured public key format produced by signers
// that attach extra metadata. A bare base64 key string is also accepted.
type publicKeyEnvelope struct {
	Key       string `json:"key"`
	Algorithm string `json:"algorithm"`
}

// VerifySignature checks the ed25519 signature embedded in an envelope
// against its embedded public key. The signed message is the canonical form
// of the envelope's event. Returns VerdictNone when the envelope carries no
// signature; malformed signature material fails the check rather than
// erroring.
func VerifySignature(envelope json.RawMessage) Verdict {
	if len(envelope) == 0 {
		return VerdictNone
	}
	var env signedEnvelope
	if err := json.Unmarshal(envelope, &env); err != nil {
		return VerdictFail
	}
	if env.Signature == "" || env.PublicKey == "" {
		return VerdictNone
	}
	keyMaterial := env.PublicKey
	if strings.HasPrefix(strings.TrimSpace(keyMaterial), "{") {
		var pk publicKeyEnvelope
		if err := json.Unmarshal([]byte(keyMaterial), &pk); err != nil || pk.Key == "" {
			return VerdictFail
		}
		keyMaterial = pk.Key
	}
	key, err := base64.StdEncoding.DecodeString(keyMaterial)
	if err != nil || len(key) != ed25519.PublicKeySize {
		return VerdictFail
	}
	sig, err := base64.StdEncoding.DecodeString(env.Signature)
	if err != nil {
		return VerdictFail
	}
	msg, err := Canon(env.Event)
	if err != nil {
		return VerdictFail
	}
	if ed25519.Verify(ed25519.PublicKey(key), msg, sig) {
		return VerdictPass
	}
	return VerdictFail
}

// proofStep is one sibling hash on a Merkle path, tagged with the side it
// joins from.
type proofStep struct {
	left bool
	hash []byte
}

// decodeProof parses a membership proof of the form "l:<hex>,r:<hex>,...".
func decodeProof(proof string) ([]proofStep, error) {
	var steps []proofStep
	for _, item := range strings.Split(proof, ",") {
		side, hexHash, ok := strings.Cut(item, ":")
		if !ok || (side != "l" && side != "r") {
			return nil, fmt.Errorf("malformed proof item %q", item)
		}
		h, err := hex.DecodeString(hexHash)
		if err != nil {
			return nil, fmt.Errorf("malformed proof hash %q: %w", hexHash, err)
		}
		steps = append(steps, proofStep{left: side == "l", hash: h})
	}
	return steps, nil
}

// consistencyStep is one node of a consistency proof: a subtree hash plus
// the membership path proving that node exists in the new tree.
type consistencyStep struct {
	node []byte
	path []proofStep
}

// decodeConsistencyProof parses proof items of the form
// "x:<hex>,l:<hex>,r:<hex>,...": the x element is the subtree node hash and
// the remainder is its membership path in the new tree.
func decodeConsistencyProof(items []string) ([]consistencyStep, error) {
	var steps []consistencyStep
	for _, item := range items {
		head, rest, _ := strings.Cut(item, ",")
		side, hexHash, ok := strings.Cut(head, ":")
		if !ok || side != "x" {
			return nil, fmt.Errorf("malformed consistency item %q", item)
		}
		node, err := hex.DecodeString(hexHash)
		if err != nil {
			return nil, fmt.Errorf("malformed consistency hash %q: %w", hexHash, err)
		}
		var path []proofStep
		if rest != "" {
			path, err = decodeProof(rest)
			if err != nil {
				return nil, err
			}
		}
		steps = append(steps, consistencyStep{node: node, path: path})
	}
	return steps, nil
}

func hashPair(left, right []byte) []byte {
	h := sha256.New()
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}

// foldProof walks a membership path from a starting hash to the implied
// root hash.
func foldProof(node []byte, path []proofStep) []byte {
	for _, st := range path {
		if st.left {
			node = hashPair(st.hash, node)
		} else {
			node = hashPair(node, st.hash)
		}
	}
	return node
}

// VerifyMembership checks that a record hash is included in the tree
// identified by root, using the record's membership proof. Returns
// VerdictNone when the root, hash or proof is absent.
func VerifyMembership(root *Root, hash, proof string) Verdict {
	if root == nil || root.RootHash == "" || hash == "" || proof == "" {
		return VerdictNone
	}
	want, err := hex.DecodeString(root.RootHash)
	if err != nil {
		return VerdictFail
	}
	node, err := hex.DecodeString(hash)
	if err != nil {
		return VerdictFail
	}
	steps, err := decodeProof(proof)
	if err != nil {
		return VerdictFail
	}
	if bytes.Equal(foldProof(node, steps), want) {
		return VerdictPass
	}
	return VerdictFail
}

// verifyConsistencyAgainstHash checks that newRoot is a valid extension of
// the earlier tree whose root hash is prevRootHash. The subtree node hashes
// of the proof must fold to the previous root hash, and each node must
// prove membership in the new tree.
func verifyConsistencyAgainstHash(newRoot *Root, prevRootHash string) Verdict {
	if newRoot == nil || prevRootHash == "" || len(newRoot.ConsistencyProof) == 0 {
		return VerdictNone
	}
	prev, err := hex.DecodeString(prevRootHash)
	if err != nil {
		return VerdictFail
	}
	steps, err := decodeConsistencyProof(newRoot.ConsistencyProof)
	if err != nil || len(steps) == 0 {
		return VerdictFail
	}
	acc := steps[0].node
	for _, st := range steps[1:] {
		acc = hashPair(st.node, acc)
	}
	if !bytes.Equal(acc, prev) {
		return VerdictFail
	}
	newHash, err := hex.DecodeString(newRoot.RootHash)
	if err != nil {
		return VerdictFail
	}
	for _, st := range steps {
		if !bytes.Equal(foldProof(st.node, st.path), newHash) {
			return VerdictFail
		}
	}
	return VerdictPass
}

// VerifyConsistency checks that newRoot extends prevRoot without rewriting
// history.
func VerifyConsistency(newRoot, prevRoot *Root) Verdict {
	if prevRoot == nil {
		return VerdictNone
	}
	return verifyConsistencyAgainstHash(newRoot, prevRoot.RootHash)
}

// VerifyRecordConsistency checks a record's inclusion across the chain of
// anchored roots: the root the tree had when the record was appended
// (size leaf_index) must be consistent with the root just after
// (size leaf_index+1). Unpublished records and records whose adjacent roots
// could not be resolved are not verifiable.
func VerifyRecordConsistency(roots PublishedRoots, rec *AuditRecord) Verdict {
	if rec == nil || !rec.Published || rec.LeafIndex == nil || *rec.LeafIndex <= 0 {
		return VerdictNone
	}
	idx := *rec.LeafIndex
	prev, okPrev := roots[idx]
	next, okNext := roots[idx+1]
	if !okPrev || !okNext {
		return VerdictNone
	}
	return VerifyConsistency(next, prev)
}
