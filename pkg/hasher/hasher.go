package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrAccessDenied indicates the file could not be read due to permissions.
var ErrAccessDenied = errors.New("access denied")

// ErrIO indicates a filesystem or device error other than permissions.
var ErrIO = errors.New("i/o error")

const chunkSize = 4096

// HashFile streams the file at path in 4 KiB chunks through SHA-256 and
// returns the hex-encoded digest. Errors wrap ErrAccessDenied or ErrIO and
// carry the offending path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", classifyErr(path, err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, chunkSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", classifyErr(path, err)
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashBytes returns the hex-encoded SHA-256 digest of data. Used by tests
// and by callers that already hold content in memory.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func classifyErr(path string, err error) error {
	if os.IsPermission(err) {
		return fmt.Errorf("%w: %s", ErrAccessDenied, path)
	}
	return fmt.Errorf("%w: %s: %v", ErrIO, path, err)
}
