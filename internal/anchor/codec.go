// Instruction encoding for the elo-chain program: a one-byte opcode tag
// followed by borsh-style fields (u32 little-endian length-prefixed strings,
// u64 little-endian integers, one-byte option tags). This is the single codec
// for every on-ledger write; nothing else concatenates instruction bytes.
package anchor

import (
	"encoding/binary"
)

const (
	opAnchorFile         byte = 0
	opCreateScopeAccount byte = 1
)

// FileMeta is the fixed payload an anchor write records for a file.
type FileMeta struct {
	Fingerprint  string
	Sha256Hash   string
	FileName     string
	Size         int64
	RetrievalURL string
}

// Instruction is the closed set of program operations.
type Instruction interface {
	encode() []byte
}

// AnchorFile records a fingerprint, optionally tied to a scope account.
type AnchorFile struct {
	Meta    FileMeta
	ScopeID string // empty for personal uploads
}

func (in AnchorFile) encode() []byte {
	buf := []byte{opAnchorFile}
	buf = appendString(buf, in.Meta.Fingerprint)
	buf = appendString(buf, in.Meta.Sha256Hash)
	buf = appendString(buf, in.Meta.FileName)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(in.Meta.Size))
	buf = appendString(buf, in.Meta.RetrievalURL)
	buf = appendOptionString(buf, in.ScopeID)
	return buf
}

// CreateScopeAccount initializes the per-scope account that AnchorFile
// writes reference.
type CreateScopeAccount struct {
	ScopeID string
}

func (in CreateScopeAccount) encode() []byte {
	buf := []byte{opCreateScopeAccount}
	buf = appendString(buf, in.ScopeID)
	return buf
}

// encodeBatch serializes instructions back to back with a leading count, so
// ensure-account and anchor ride in one signed message. A half-applied state
// (account created, anchor abandoned) cannot occur across two signatures.
func encodeBatch(ins ...Instruction) []byte {
	buf := binary.LittleEndian.AppendUint32(nil, uint32(len(ins)))
	for _, in := range ins {
		buf = append(buf, in.encode()...)
	}
	return buf
}

func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

func appendOptionString(buf []byte, s string) []byte {
	if s == "" {
		return append(buf, 0)
	}
	buf = append(buf, 1)
	return appendString(buf, s)
}
