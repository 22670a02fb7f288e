// Package tfrecord 实现 TFRecord 帧格式的顺序读写。
//
// 每条记录：
//
//	uint64 length            (小端)
//	uint32 masked_crc(length)
//	byte   data[length]
//	uint32 masked_crc(data)
//
// masked_crc = ((crc >> 15) | (crc << 17)) + 0xa282ead8，crc 为 CRC-32C（Castagnoli）。
package tfrecord

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"pl2tfr/pkg/contract"
)

const maskDelta = 0xa282ead8

// 单条记录上限，防止损坏的长度字段触发超大分配。
const maxRecordLen = 1 << 30

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// MaskedCRC 返回 b 的掩码 CRC-32C。
func MaskedCRC(b []byte) uint32 {
	c := crc32.Checksum(b, castagnoli)
	return ((c >> 15) | (c << 17)) + maskDelta
}

// Write 向 w 写出一条完整记录（帧头、数据、帧尾），不做缓冲。
func Write(w io.Writer, data []byte) error {
	var hdr [12]byte
	binary.LittleEndian.PutUint64(hdr[:8], uint64(len(data)))
	binary.LittleEndian.PutUint32(hdr[8:], MaskedCRC(hdr[:8]))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("tfrecord: write header: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("tfrecord: write data: %w", err)
	}
	var tail [4]byte
	binary.LittleEndian.PutUint32(tail[:], MaskedCRC(data))
	if _, err := w.Write(tail[:]); err != nil {
		return fmt.Errorf("tfrecord: write footer: %w", err)
	}
	return nil
}

// Writer: 带缓冲的记录流，统计已写记录；不负责关闭底层 io.Writer。
type Writer struct {
	w     *bufio.Writer
	count int
	bytes int64
}

func NewWriter(w io.Writer) *Writer { return &Writer{w: bufio.NewWriter(w)} }

// Write 写入一条记录。返回错误后 Writer 不可继续使用。
func (w *Writer) Write(data []byte) error {
	if err := Write(w.w, data); err != nil {
		return err
	}
	w.count++
	w.bytes += int64(len(data)) + 16
	return nil
}

// Flush 刷出缓冲；提交产物前必须调用。
func (w *Writer) Flush() error {
	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("tfrecord: flush: %w", err)
	}
	return nil
}

// Count 返回已写记录数。
func (w *Writer) Count() int { return w.count }

// Bytes 返回已写字节数（含帧头尾）。
func (w *Writer) Bytes() int64 { return w.bytes }

// Reader: 顺序读取并校验记录。
type Reader struct {
	r   *bufio.Reader
	hdr [12]byte
	n   int
}

func NewReader(r io.Reader) *Reader { return &Reader{r: bufio.NewReader(r)} }

// Next 返回下一条记录数据。干净结束返回 io.EOF；
// 校验失败或中途截断返回包装 contract.ErrRecordCorrupt 的错误。
func (r *Reader) Next() ([]byte, error) {
	if _, err := io.ReadFull(r.r, r.hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, r.corrupt("truncated header", err)
	}
	if got, want := binary.LittleEndian.Uint32(r.hdr[8:]), MaskedCRC(r.hdr[:8]); got != want {
		return nil, r.corrupt(fmt.Sprintf("length crc mismatch %08x != %08x", got, want), nil)
	}
	n := binary.LittleEndian.Uint64(r.hdr[:8])
	if n > maxRecordLen {
		return nil, r.corrupt(fmt.Sprintf("length %d too large", n), nil)
	}
	buf := make([]byte, int(n)+4)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return nil, r.corrupt("truncated data", err)
	}
	data, tail := buf[:n], buf[n:]
	if got, want := binary.LittleEndian.Uint32(tail), MaskedCRC(data); got != want {
		return nil, r.corrupt(fmt.Sprintf("data crc mismatch %08x != %08x", got, want), nil)
	}
	r.n++
	return data, nil
}

// Index 返回已成功读取的记录数。
func (r *Reader) Index() int { return r.n }

func (r *Reader) corrupt(msg string, cause error) error {
	if cause != nil {
		return fmt.Errorf("%w: record %d: %s: %v", contract.ErrRecordCorrupt, r.n, msg, cause)
	}
	return fmt.Errorf("%w: record %d: %s", contract.ErrRecordCorrupt, r.n, msg)
}
