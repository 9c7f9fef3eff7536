package storage

import (
	"bufio"
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zstd"
	"github.com/segmentio/encoding/json"
	"github.com/sirupsen/logrus"
)

var ErrFormat = errors.New("storage: unsupported page file format")

type fileHeader struct {
	Format      int       `json:"format"`
	X           int       `json:"x"`
	Z           int       `json:"z"`
	Blocks      int       `json:"blocks"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// DiskStore keeps one zstd compressed file per page: a JSON header line
// followed by the gob encoded PageData.
type DiskStore struct {
	folder string
	ext    string
	log    logrus.FieldLogger
}

func NewDiskStore(folder, ext string, logger logrus.FieldLogger) (*DiskStore, error) {
	if folder == "" {
		return nil, errors.New("storage: folder must be set")
	}
	if ext == "" {
		ext = "bmk"
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return nil, fmt.Errorf("create storage folder: %w", err)
	}
	return &DiskStore{folder: folder, ext: ext, log: logger.WithField("component", "storage")}, nil
}

func (s *DiskStore) Path(x, z int) string {
	return TilePath(s.folder, x, z, s.ext)
}

func (s *DiskStore) Load(x, z int) (*PageData, bool, error) {
	path := s.Path(x, z)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("open page file: %w", err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, false, fmt.Errorf("open page decoder: %w", err)
	}
	defer dec.Close()

	br := bufio.NewReader(dec)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return nil, false, fmt.Errorf("read page header %s: %w", path, err)
	}
	var header fileHeader
	if err := json.Unmarshal(line, &header); err != nil {
		return nil, false, fmt.Errorf("decode page header %s: %w", path, err)
	}
	if header.Format != FormatVersion {
		return nil, false, fmt.Errorf("%w: %s has format %d", ErrFormat, path, header.Format)
	}

	var page PageData
	if err := gob.NewDecoder(br).Decode(&page); err != nil {
		return nil, false, fmt.Errorf("decode page %s: %w", path, err)
	}
	if page.X != x || page.Z != z {
		return nil, false, fmt.Errorf("page file %s holds page %d,%d", path, page.X, page.Z)
	}
	return &page, true, nil
}

// Save writes through a temporary file and renames it into place so readers
// never observe a partial page.
func (s *DiskStore) Save(page *PageData) error {
	if page == nil {
		return errors.New("storage: nil page")
	}
	path := s.Path(page.X, page.Z)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create tile directory: %w", err)
	}

	var buf bytes.Buffer
	if err := encodePage(&buf, page); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".terrainData-*")
	if err != nil {
		return fmt.Errorf("create temp page file: %w", err)
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write page file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close page file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename page file: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"page_x": page.X,
		"page_z": page.Z,
		"size":   humanize.Bytes(uint64(buf.Len())),
	}).Debug("saved page")
	return nil
}

func encodePage(w io.Writer, page *PageData) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("open page encoder: %w", err)
	}
	header, err := json.Marshal(fileHeader{
		Format:      FormatVersion,
		X:           page.X,
		Z:           page.Z,
		Blocks:      len(page.Blocks),
		GeneratedAt: page.GeneratedAt,
	})
	if err != nil {
		enc.Close()
		return fmt.Errorf("encode page header: %w", err)
	}
	if _, err := enc.Write(append(header, '\n')); err != nil {
		enc.Close()
		return fmt.Errorf("write page header: %w", err)
	}
	if err := gob.NewEncoder(enc).Encode(page); err != nil {
		enc.Close()
		return fmt.Errorf("encode page: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("flush page encoder: %w", err)
	}
	return nil
}

func (s *DiskStore) Delete(x, z int) error {
	if err := os.Remove(s.Path(x, z)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete page file: %w", err)
	}
	return nil
}

func (s *DiskStore) Close() error { return nil }
