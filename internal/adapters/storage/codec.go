package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"math"
	"time"

	"github.com/alejandrodnm/fundarb/internal/domain"
)

// Formato del BLOB de velas, little-endian:
//
//	header (16 bytes): magic "FBAR" | version u16 | barSize u16 | count u32 | crc32c u32
//	bar    (48 bytes): openTime ms i64 | open | high | low | close | volume (f64)
const (
	blobMagic      = "FBAR"
	blobVersion    = 1
	blobHeaderSize = 16
	blobBarSize    = 48
)

var (
	errBlobShort    = errors.New("bar blob too short")
	errBlobMagic    = errors.New("bar blob: bad magic")
	errBlobChecksum = errors.New("bar blob: checksum mismatch")

	crcTable = crc32.MakeTable(crc32.Castagnoli)
)

func encodeBars(bars []domain.Bar) []byte {
	buf := make([]byte, blobHeaderSize+len(bars)*blobBarSize)
	payload := buf[blobHeaderSize:]
	for i, b := range bars {
		dst := payload[i*blobBarSize : (i+1)*blobBarSize]
		binary.LittleEndian.PutUint64(dst[0:8], uint64(b.Time.UnixMilli()))
		binary.LittleEndian.PutUint64(dst[8:16], math.Float64bits(b.Open))
		binary.LittleEndian.PutUint64(dst[16:24], math.Float64bits(b.High))
		binary.LittleEndian.PutUint64(dst[24:32], math.Float64bits(b.Low))
		binary.LittleEndian.PutUint64(dst[32:40], math.Float64bits(b.Close))
		binary.LittleEndian.PutUint64(dst[40:48], math.Float64bits(b.Volume))
	}

	copy(buf[0:4], blobMagic)
	binary.LittleEndian.PutUint16(buf[4:6], blobVersion)
	binary.LittleEndian.PutUint16(buf[6:8], blobBarSize)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(bars)))
	binary.LittleEndian.PutUint32(buf[12:16], crc32.Checksum(payload, crcTable))
	return buf
}

func decodeBars(buf []byte) ([]domain.Bar, error) {
	if len(buf) < blobHeaderSize {
		return nil, errBlobShort
	}
	if string(buf[0:4]) != blobMagic {
		return nil, errBlobMagic
	}
	if v := binary.LittleEndian.Uint16(buf[4:6]); v != blobVersion {
		return nil, fmt.Errorf("bar blob: unsupported version %d", v)
	}
	if sz := binary.LittleEndian.Uint16(buf[6:8]); sz != blobBarSize {
		return nil, fmt.Errorf("bar blob: bar size %d", sz)
	}
	n := int(binary.LittleEndian.Uint32(buf[8:12]))
	payload := buf[blobHeaderSize:]
	if len(payload) != n*blobBarSize {
		return nil, errBlobShort
	}
	if binary.LittleEndian.Uint32(buf[12:16]) != crc32.Checksum(payload, crcTable) {
		return nil, errBlobChecksum
	}

	bars := make([]domain.Bar, n)
	for i := range bars {
		src := payload[i*blobBarSize : (i+1)*blobBarSize]
		bars[i] = domain.Bar{
			Time:   time.UnixMilli(int64(binary.LittleEndian.Uint64(src[0:8]))).UTC(),
			Open:   math.Float64frombits(binary.LittleEndian.Uint64(src[8:16])),
			High:   math.Float64frombits(binary.LittleEndian.Uint64(src[16:24])),
			Low:    math.Float64frombits(binary.LittleEndian.Uint64(src[24:32])),
			Close:  math.Float64frombits(binary.LittleEndian.Uint64(src[32:40])),
			Volume: math.Float64frombits(binary.LittleEndian.Uint64(src[40:48])),
		}
	}
	return bars, nil
}
