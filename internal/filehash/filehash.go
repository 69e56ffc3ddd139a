// Package filehash implements the chunked content hasher used to fingerprint
// large binary fields (e.g. listing images) inside records before they are
// referenced from the DHT, per spec 4.2.
package filehash

import (
	"crypto/sha256"
	"io"

	"github.com/sirupsen/logrus"
)

// Piece describes one fixed-size chunk of a hashed source.
type Piece struct {
	Index  int
	Offset int64
	Length int64
	SHA256 [32]byte
}

// PieceSize chooses the piece size for a source of the given total length,
// per the table in spec 4.2.
func PieceSize(totalLength int64) int64 {
	const (
		kib = 1 << 10
		mib = 1 << 20
	)
	switch {
	case totalLength >= 2*mib:
		return 1 * mib
	case totalLength >= 1*mib:
		return 512 * kib
	case totalLength >= 512*kib:
		return 256 * kib
	case totalLength >= 256*kib:
		return 128 * kib
	case totalLength >= 128*kib:
		return 64 * kib
	case totalLength >= 64*kib:
		return 32 * kib
	default:
		return 16 * kib
	}
}

// HashReader splits r into fixed-size pieces (chosen from size) and returns
// their ordered piece descriptors. size must be the length of the source in
// bytes; callers that don't know it up front should buffer or stat first.
// A read failure returns no pieces and a non-fatal error; pieces hashed
// before the failure are discarded.
func HashReader(r io.Reader, size int64) ([]Piece, error) {
	if size <= 0 {
		return nil, nil
	}
	pieceLen := PieceSize(size)
	buf := make([]byte, pieceLen)
	pieces := make([]Piece, 0, (size/pieceLen)+1)

	var offset int64
	for idx := 0; ; idx++ {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			sum := sha256.Sum256(buf[:n])
			pieces = append(pieces, Piece{
				Index:  idx,
				Offset: offset,
				Length: int64(n),
				SHA256: sum,
			})
			offset += int64(n)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			logrus.WithError(err).Warn("filehash: read failed, discarding partial piece set")
			return nil, err
		}
	}

	if offset != size {
		logrus.WithFields(logrus.Fields{"hashed": offset, "want": size}).
			Warn("filehash: source length did not match declared size")
	}
	return pieces, nil
}

// TotalLength sums the piece lengths, used to verify reassembly covers the
// declared source length exactly (spec 8 "piece hashing idempotence").
func TotalLength(pieces []Piece) int64 {
	var total int64
	for _, p := range pieces {
		total += p.Length
	}
	return total
}
