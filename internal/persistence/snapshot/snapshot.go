package snapshot

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"linkgate.ai/internal/sim/objstore"
)

type Header struct {
	Version int             `json:"version"`
	PeerID  objstore.PeerID `json:"peer_id"`
	Pass    uint64          `json:"pass"`
	Objects int             `json:"objects"`
}

// Export is a portable dump of the store: a JSON header line followed by
// one object per line, zstd compressed.
type Export struct {
	Header  Header
	Objects []objstore.Object
}

func WriteExport(path string, ex Export) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	ex.Header.Version = formatVersion
	ex.Header.Objects = len(ex.Objects)
	je := json.NewEncoder(bw)
	if err := je.Encode(ex.Header); err != nil {
		_ = enc.Close()
		return err
	}
	for _, o := range ex.Objects {
		if err := je.Encode(o); err != nil {
			_ = enc.Close()
			return fmt.Errorf("encode %s: %w", o.ID, err)
		}
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func ReadExport(path string) (Export, error) {
	var ex Export
	f, err := os.Open(path)
	if err != nil {
		return ex, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return ex, err
	}
	defer dec.Close()

	jd := json.NewDecoder(bufio.NewReaderSize(dec, 256*1024))
	if err := jd.Decode(&ex.Header); err != nil {
		return ex, fmt.Errorf("header: %w", err)
	}
	if ex.Header.Version != formatVersion {
		return ex, fmt.Errorf("unsupported export version %d", ex.Header.Version)
	}
	ex.Objects = make([]objstore.Object, 0, ex.Header.Objects)
	for jd.More() {
		var o objstore.Object
		if err := jd.Decode(&o); err != nil {
			return ex, fmt.Errorf("object %d: %w", len(ex.Objects), err)
		}
		ex.Objects = append(ex.Objects, o)
	}
	if len(ex.Objects) != ex.Header.Objects {
		return ex, fmt.Errorf("truncated export: %d of %d objects", len(ex.Objects), ex.Header.Objects)
	}
	return ex, nil
}
