package wal

import (
	"encoding/binary"
	"fmt"

	"daemondb/internal/page"
)

// RecordType enumerates the log record payload shapes from SPEC_FULL §6.
type RecordType int32

const (
	Invalid RecordType = iota
	Begin
	Commit
	Abort
	Insert
	MarkDelete
	ApplyDelete
	RollbackDelete
	Update
	NewPage
)

// InvalidLSN marks the absence of a previous log record (a transaction's
// first record, or the sentinel undo stops at).
const InvalidLSN int32 = -1

// HeaderSize is the fixed 20-byte header every record begins with:
// {int32 size, int32 lsn, int32 txn_id, int32 prev_lsn, int32 type}.
const HeaderSize = 20

// Record is one entry in the log. Size is the total on-disk length
// (header + payload) and is filled in by Encode.
type Record struct {
	Size    int32
	LSN     int32
	TxnID   int32
	PrevLSN int32
	Type    RecordType

	RID      page.RID
	Tuple    []byte // Insert / MarkDelete / ApplyDelete / RollbackDelete
	OldTuple []byte // Update
	NewTuple []byte // Update

	PrevPageID int32 // NewPage
	PageID     int32 // NewPage
}

func lenPrefixedSize(b []byte) int32 { return 4 + int32(len(b)) }

func putLenPrefixed(buf []byte, b []byte) int {
	binary.LittleEndian.PutUint32(buf, uint32(len(b)))
	copy(buf[4:], b)
	return 4 + len(b)
}

func getLenPrefixed(buf []byte) ([]byte, int) {
	n := binary.LittleEndian.Uint32(buf)
	return buf[4 : 4+n], 4 + int(n)
}

// payloadSize returns the payload length for a record whose type and
// variable-length fields are already set, excluding HeaderSize.
func (r *Record) payloadSize() int32 {
	switch r.Type {
	case Insert, MarkDelete, ApplyDelete, RollbackDelete:
		return 8 + lenPrefixedSize(r.Tuple)
	case Update:
		return 8 + lenPrefixedSize(r.OldTuple) + lenPrefixedSize(r.NewTuple)
	case NewPage:
		return 8
	case Begin, Commit, Abort:
		return 0
	default:
		return 0
	}
}

// Encode serializes r into buf (which must be at least r.Size bytes,
// computed as HeaderSize+payloadSize) and sets r.Size.
func (r *Record) Encode(buf []byte) int {
	r.Size = HeaderSize + r.payloadSize()

	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.Size))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(r.LSN))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(r.TxnID))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(r.PrevLSN))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(r.Type))

	pos := HeaderSize
	switch r.Type {
	case Insert, MarkDelete, ApplyDelete, RollbackDelete:
		binary.LittleEndian.PutUint64(buf[pos:], r.RID.Encode())
		pos += 8
		pos += putLenPrefixed(buf[pos:], r.Tuple)
	case Update:
		binary.LittleEndian.PutUint64(buf[pos:], r.RID.Encode())
		pos += 8
		pos += putLenPrefixed(buf[pos:], r.OldTuple)
		pos += putLenPrefixed(buf[pos:], r.NewTuple)
	case NewPage:
		binary.LittleEndian.PutUint32(buf[pos:], uint32(r.PrevPageID))
		pos += 4
		binary.LittleEndian.PutUint32(buf[pos:], uint32(r.PageID))
		pos += 4
	}
	return int(r.Size)
}

// DecodeHeader reads just the fixed header, used to decide whether a
// record fully fits inside a log buffer before decoding its payload.
func DecodeHeader(buf []byte) (Record, error) {
	if len(buf) < HeaderSize {
		return Record{}, fmt.Errorf("log buffer shorter than header size")
	}
	return Record{
		Size:    int32(binary.LittleEndian.Uint32(buf[0:4])),
		LSN:     int32(binary.LittleEndian.Uint32(buf[4:8])),
		TxnID:   int32(binary.LittleEndian.Uint32(buf[8:12])),
		PrevLSN: int32(binary.LittleEndian.Uint32(buf[12:16])),
		Type:    RecordType(binary.LittleEndian.Uint32(buf[16:20])),
	}, nil
}

// Decode fully decodes a record (header + payload) from buf. buf must
// contain at least the record's declared Size bytes.
func Decode(buf []byte) (Record, error) {
	r, err := DecodeHeader(buf)
	if err != nil {
		return r, err
	}
	if r.Size <= 0 || int(r.Size) > len(buf) {
		return r, fmt.Errorf("log record size %d exceeds available buffer %d", r.Size, len(buf))
	}
	pos := HeaderSize
	switch r.Type {
	case Insert, MarkDelete, ApplyDelete, RollbackDelete:
		r.RID = page.DecodeRID(binary.LittleEndian.Uint64(buf[pos:]))
		pos += 8
		tuple, n := getLenPrefixed(buf[pos:])
		r.Tuple = append([]byte(nil), tuple...)
		pos += n
	case Update:
		r.RID = page.DecodeRID(binary.LittleEndian.Uint64(buf[pos:]))
		pos += 8
		old, n := getLenPrefixed(buf[pos:])
		r.OldTuple = append([]byte(nil), old...)
		pos += n
		new_, n := getLenPrefixed(buf[pos:])
		r.NewTuple = append([]byte(nil), new_...)
		pos += n
	case NewPage:
		r.PrevPageID = int32(binary.LittleEndian.Uint32(buf[pos:]))
		pos += 4
		r.PageID = int32(binary.LittleEndian.Uint32(buf[pos:]))
		pos += 4
	case Begin, Commit, Abort:
	default:
		return r, fmt.Errorf("unknown log record type %d", r.Type)
	}
	return r, nil
}

// TargetRID returns the RID a tuple-level record applies to, or the zero
// value for record types with no RID (used by recovery's redo/undo passes
// to locate the page to fetch without a type switch at every call site).
func (r *Record) TargetRID() page.RID {
	switch r.Type {
	case Insert, Update, MarkDelete, ApplyDelete, RollbackDelete:
		return r.RID
	default:
		return page.RID{}
	}
}
