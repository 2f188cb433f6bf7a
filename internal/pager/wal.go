package pager

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"
)

// ───────────────────────────────────────────────────────────────────────────
// WAL file format
// ───────────────────────────────────────────────────────────────────────────
//
// The WAL is an append-only file of fixed-shape physical frames — full page
// images, exactly as spec.md §4.2/§6 requires. A frame's checksum covers
// only the page image, not the frame header. Reading stops at the first
// frame whose image fails its checksum.
//
// WAL file header (first 32 bytes):
//   [0:8]   Magic       "GRPHWAL\x00"
//   [8:12]  Version     uint32 LE (currently 1)
//   [12:16] PageSize    uint32 LE
//   [16:24] Reserved    8 bytes
//   [24:28] HeaderCRC   uint32 LE (CRC of bytes 0:24)
//   [28:32] Padding     4 bytes
//
// WAL frame (follows the file header, repeated until EOF or truncation):
//   [0:4]    PageID        uint32 LE
//   [4:8]    FrameNumber   uint32 LE — monotonic, doubles as this frame's LSN
//   [8:12]   Checksum      uint32 LE — CRC32-C of the page image only
//   [12:20]  TxID          uint64 LE
//   [20:24]  Flags         uint32 LE — bit0 BEGIN, bit1 COMMIT, bit2 ABORT,
//                          bit3 CHECKPOINT, bit4 MVCC-extended (adds the
//                          16-byte snapshot/commit timestamp pair below).
//                          No bits set means a plain page-image frame.
//   [24:32]  SnapshotTS    uint64 LE (present only when bit4 is set)
//   [32:40]  CommitTS      uint64 LE (present only when bit4 is set)
//   [..]     PageImage     PageSize bytes (zero-filled for control frames
//                          that carry no page, i.e. BEGIN/COMMIT/ABORT)

const (
	WALMagic       = "GRPHWAL\x00"
	WALVersion     = uint32(1)
	WALFileHdrSize = 32

	// walFrameBaseSize is the frame header before the optional MVCC
	// timestamp extension and before the trailing page image.
	walFrameBaseSize = 24
	// walFrameMVCCExtra is the size of the optional timestamp extension.
	walFrameMVCCExtra = 16
)

// WALFlag is a bitmask describing the kind of a WAL frame.
type WALFlag uint32

const (
	WALFlagBegin        WALFlag = 1 << 0
	WALFlagCommit       WALFlag = 1 << 1
	WALFlagAbort        WALFlag = 1 << 2
	WALFlagCheckpoint   WALFlag = 1 << 3
	WALFlagMVCCExtended WALFlag = 1 << 4
)

// WALRecordType identifies the kind of WAL record at the API level (the
// wire format expresses the same information as WALFlag bits).
type WALRecordType uint8

const (
	WALRecordBegin      WALRecordType = 0x01
	WALRecordPageImage  WALRecordType = 0x02
	WALRecordCommit     WALRecordType = 0x03
	WALRecordAbort      WALRecordType = 0x04
	WALRecordCheckpoint WALRecordType = 0x05
)

func (rt WALRecordType) String() string {
	switch rt {
	case WALRecordBegin:
		return "BEGIN"
	case WALRecordPageImage:
		return "PAGE_IMAGE"
	case WALRecordCommit:
		return "COMMIT"
	case WALRecordAbort:
		return "ABORT"
	case WALRecordCheckpoint:
		return "CHECKPOINT"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", uint8(rt))
	}
}

func (rt WALRecordType) flag() WALFlag {
	switch rt {
	case WALRecordBegin:
		return WALFlagBegin
	case WALRecordCommit:
		return WALFlagCommit
	case WALRecordAbort:
		return WALFlagAbort
	case WALRecordCheckpoint:
		return WALFlagCheckpoint
	default:
		return 0
	}
}

func flagToRecordType(f WALFlag) WALRecordType {
	switch {
	case f&WALFlagBegin != 0:
		return WALRecordBegin
	case f&WALFlagCommit != 0:
		return WALRecordCommit
	case f&WALFlagAbort != 0:
		return WALRecordAbort
	case f&WALFlagCheckpoint != 0:
		return WALRecordCheckpoint
	default:
		return WALRecordPageImage
	}
}

// WALRecord is an in-memory representation of a WAL frame.
type WALRecord struct {
	Type   WALRecordType
	LSN    LSN
	TxID   TxID
	PageID PageID
	Data   []byte // full page image for PAGE_IMAGE, nil otherwise

	// MVCC-extended frames carry a snapshot/commit timestamp pair in the
	// frame header; only tests write them.
	MVCCExtended bool
	SnapshotTS   uint64
	CommitTS     uint64
}

// ───────────────────────────────────────────────────────────────────────────
// WAL writer/reader
// ───────────────────────────────────────────────────────────────────────────

// WALFile manages the append-only WAL file.
type WALFile struct {
	mu       sync.Mutex
	f        *os.File
	path     string
	pageSize int
	nextLSN  LSN
	writePos int64 // current write offset — avoids Seek syscall
}

// OpenWALFile opens or creates a WAL file. If the file exists, it validates
// the header. If it does not exist, it writes a new header.
func OpenWALFile(path string, pageSize int) (*WALFile, error) {
	exists := true
	if _, err := os.Stat(path); os.IsNotExist(err) {
		exists = false
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open WAL: %w", err)
	}

	wf := &WALFile{f: f, path: path, pageSize: pageSize, nextLSN: 1}

	if exists {
		if err := wf.validateHeader(); err != nil {
			f.Close()
			return nil, err
		}
	} else {
		if err := wf.writeHeader(); err != nil {
			f.Close()
			return nil, err
		}
	}

	endPos, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("seek WAL end: %w", err)
	}
	wf.writePos = endPos

	return wf, nil
}

func (wf *WALFile) writeHeader() error {
	var hdr [WALFileHdrSize]byte
	copy(hdr[0:8], WALMagic)
	binary.LittleEndian.PutUint32(hdr[8:12], WALVersion)
	binary.LittleEndian.PutUint32(hdr[12:16], uint32(wf.pageSize))
	c := crc32.Checksum(hdr[:24], crcTable)
	binary.LittleEndian.PutUint32(hdr[24:28], c)
	if _, err := wf.f.WriteAt(hdr[:], 0); err != nil {
		return fmt.Errorf("write WAL header: %w", err)
	}
	return wf.f.Sync()
}

func (wf *WALFile) validateHeader() error {
	var hdr [WALFileHdrSize]byte
	n, err := wf.f.ReadAt(hdr[:], 0)
	if err != nil && err != io.EOF {
		return fmt.Errorf("read WAL header: %w", err)
	}
	if n < WALFileHdrSize {
		return fmt.Errorf("WAL header too short: %d bytes", n)
	}
	if string(hdr[0:8]) != WALMagic {
		return fmt.Errorf("bad WAL magic")
	}
	ver := binary.LittleEndian.Uint32(hdr[8:12])
	if ver != WALVersion {
		return fmt.Errorf("unsupported WAL version %d", ver)
	}
	ps := binary.LittleEndian.Uint32(hdr[12:16])
	if int(ps) != wf.pageSize {
		return fmt.Errorf("WAL page size %d != expected %d", ps, wf.pageSize)
	}
	stored := binary.LittleEndian.Uint32(hdr[24:28])
	computed := crc32.Checksum(hdr[:24], crcTable)
	if stored != computed {
		return fmt.Errorf("WAL header CRC mismatch")
	}
	return nil
}

// AppendRecord writes a WAL frame and assigns it a monotonic LSN.
// Returns the assigned LSN.
func (wf *WALFile) AppendRecord(rec *WALRecord) (LSN, error) {
	wf.mu.Lock()
	defer wf.mu.Unlock()

	lsn := wf.nextLSN
	wf.nextLSN++
	rec.LSN = lsn

	data := marshalWALRecord(rec, wf.pageSize)
	n, err := wf.f.WriteAt(data, wf.writePos)
	if err != nil {
		return 0, fmt.Errorf("WAL append: %w", err)
	}
	wf.writePos += int64(n)
	return lsn, nil
}

// Sync fsyncs the WAL file to guarantee durability.
func (wf *WALFile) Sync() error {
	wf.mu.Lock()
	defer wf.mu.Unlock()
	return wf.f.Sync()
}

// Close closes the WAL file.
func (wf *WALFile) Close() error {
	wf.mu.Lock()
	defer wf.mu.Unlock()
	return wf.f.Close()
}

// Truncate resets the WAL file to just the header (after a checkpoint).
func (wf *WALFile) Truncate() error {
	wf.mu.Lock()
	defer wf.mu.Unlock()
	if err := wf.f.Truncate(WALFileHdrSize); err != nil {
		return err
	}
	wf.writePos = WALFileHdrSize
	return wf.f.Sync()
}

// NextLSN returns the next LSN that will be assigned.
func (wf *WALFile) NextLSN() LSN {
	wf.mu.Lock()
	defer wf.mu.Unlock()
	return wf.nextLSN
}

// SetNextLSN allows recovery to set the LSN counter.
func (wf *WALFile) SetNextLSN(lsn LSN) {
	wf.mu.Lock()
	defer wf.mu.Unlock()
	wf.nextLSN = lsn
}

// ───────────────────────────────────────────────────────────────────────────
// Serialization
// ───────────────────────────────────────────────────────────────────────────

func marshalWALRecord(rec *WALRecord, pageSize int) []byte {
	flags := rec.Type.flag()
	extra := 0
	if rec.MVCCExtended {
		flags |= WALFlagMVCCExtended
		extra = walFrameMVCCExtra
	}

	total := walFrameBaseSize + extra + pageSize
	buf := make([]byte, total)

	binary.LittleEndian.PutUint32(buf[0:4], uint32(rec.PageID))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(rec.LSN))
	binary.LittleEndian.PutUint64(buf[12:20], uint64(rec.TxID))
	binary.LittleEndian.PutUint32(buf[20:24], uint32(flags))

	imgOff := walFrameBaseSize
	if rec.MVCCExtended {
		binary.LittleEndian.PutUint64(buf[24:32], rec.SnapshotTS)
		binary.LittleEndian.PutUint64(buf[32:40], rec.CommitTS)
		imgOff = walFrameBaseSize + walFrameMVCCExtra
	}
	if len(rec.Data) > 0 {
		copy(buf[imgOff:], rec.Data)
	}

	// Checksum covers the page image region only.
	checksum := crc32.Checksum(buf[imgOff:], crcTable)
	binary.LittleEndian.PutUint32(buf[8:12], checksum)

	return buf
}

func unmarshalWALRecord(r io.Reader, pageSize int) (*WALRecord, error) {
	var base [walFrameBaseSize]byte
	if _, err := io.ReadFull(r, base[:]); err != nil {
		return nil, err
	}

	flags := WALFlag(binary.LittleEndian.Uint32(base[20:24]))
	storedChecksum := binary.LittleEndian.Uint32(base[8:12])

	rec := &WALRecord{
		Type:   flagToRecordType(flags),
		PageID: PageID(binary.LittleEndian.Uint32(base[0:4])),
		LSN:    LSN(binary.LittleEndian.Uint32(base[4:8])),
		TxID:   TxID(binary.LittleEndian.Uint64(base[12:20])),
	}

	if flags&WALFlagMVCCExtended != 0 {
		var ext [walFrameMVCCExtra]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return nil, fmt.Errorf("WAL frame MVCC extension: %w", err)
		}
		rec.MVCCExtended = true
		rec.SnapshotTS = binary.LittleEndian.Uint64(ext[0:8])
		rec.CommitTS = binary.LittleEndian.Uint64(ext[8:16])
	}

	img := make([]byte, pageSize)
	if _, err := io.ReadFull(r, img); err != nil {
		return nil, fmt.Errorf("WAL frame page image: %w", err)
	}
	if rec.Type == WALRecordPageImage {
		rec.Data = img
	}

	computed := crc32.Checksum(img, crcTable)
	if computed != storedChecksum {
		return nil, fmt.Errorf("WAL frame checksum mismatch at LSN %d", rec.LSN)
	}

	return rec, nil
}

// ReadAllRecords reads all WAL frames from the file (after the header).
// Partial/corrupt frames at the tail are silently ignored (crash truncation).
func ReadAllRecords(path string) ([]*WALRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var hdr [WALFileHdrSize]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		return nil, fmt.Errorf("read WAL header: %w", err)
	}
	pageSize := int(binary.LittleEndian.Uint32(hdr[12:16]))

	var records []*WALRecord
	for {
		rec, err := unmarshalWALRecord(f, pageSize)
		if err != nil {
			break
		}
		records = append(records, rec)
	}
	return records, nil
}
