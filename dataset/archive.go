// Package dataset provides sharded, restartable sample sources for reader processes.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package dataset

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/NVIDIA/wdsloader/cmn/debug"

	"github.com/pierrec/lz4/v4"
)

// supported shard formats (file extensions)
const (
	ExtTar    = ".tar"
	ExtTgz    = ".tgz"
	ExtTarGz  = ".tar.gz"
	ExtTarLz4 = ".tar.lz4"
	ExtZip    = ".zip"
)

var ShardExtensions = []string{ExtTar, ExtTgz, ExtTarGz, ExtTarLz4, ExtZip}

// standard file signatures, to detect shards with non-standard extensions
type detect struct {
	mime   string
	sig    []byte
	offset int
}

var (
	magicTar  = detect{offset: 257, sig: []byte("ustar"), mime: ExtTar}
	magicGzip = detect{sig: []byte{0x1f, 0x8b}, mime: ExtTarGz}
	magicZip  = detect{sig: []byte{0x50, 0x4b}, mime: ExtZip}
	magicLz4  = detect{sig: []byte{0x04, 0x22, 0x4d, 0x18}, mime: ExtTarLz4}

	allMagics = []detect{magicTar, magicGzip, magicZip, magicLz4}
)

const sniffSize = 512

// sequential reader of regular files in a shard
type (
	archReader interface {
		// next returns io.EOF at the end of archive; body is valid until the following call
		next() (name string, body io.Reader, err error)
		Close() error
	}
	tarReader struct {
		tr *tar.Reader
	}
	tgzReader struct {
		tarReader
		gzr *gzip.Reader
	}
	lz4Reader struct {
		tarReader
	}
	zipReader struct {
		zr  *zip.Reader
		cur io.ReadCloser
		idx int
	}
)

// interface guard
var (
	_ archReader = (*tarReader)(nil)
	_ archReader = (*tgzReader)(nil)
	_ archReader = (*lz4Reader)(nil)
	_ archReader = (*zipReader)(nil)
)

func mimeByExt(path string) string {
	for _, ext := range ShardExtensions {
		if strings.HasSuffix(path, ext) {
			return ext
		}
	}
	return ""
}

func IsShard(path string) bool { return mimeByExt(path) != "" }

func sniff(fh *os.File) (string, error) {
	buf := make([]byte, sniffSize)
	n, err := io.ReadFull(fh, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", err
	}
	if _, err := fh.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	buf = buf[:n]
	for _, magic := range allMagics {
		if len(buf) >= magic.offset+len(magic.sig) && bytes.Equal(buf[magic.offset:magic.offset+len(magic.sig)], magic.sig) {
			return magic.mime, nil
		}
	}
	return "", fmt.Errorf("%s: unrecognized shard format", fh.Name())
}

func newArchReader(fh *os.File, size int64) (ar archReader, err error) {
	mime := mimeByExt(fh.Name())
	if mime == "" {
		if mime, err = sniff(fh); err != nil {
			return nil, err
		}
	}
	switch mime {
	case ExtTar:
		ar = &tarReader{tr: tar.NewReader(fh)}
	case ExtTgz, ExtTarGz:
		gzr, err := gzip.NewReader(fh)
		if err != nil {
			return nil, err
		}
		ar = &tgzReader{tarReader: tarReader{tr: tar.NewReader(gzr)}, gzr: gzr}
	case ExtTarLz4:
		ar = &lz4Reader{tarReader: tarReader{tr: tar.NewReader(lz4.NewReader(fh))}}
	case ExtZip:
		zr, err := zip.NewReader(fh, size)
		if err != nil {
			return nil, err
		}
		ar = &zipReader{zr: zr}
	default:
		debug.Assert(false, mime)
	}
	return ar, nil
}

// tarReader

func (tr *tarReader) next() (string, io.Reader, error) {
	for {
		hdr, err := tr.tr.Next()
		if err != nil {
			return "", nil, err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		return hdr.Name, tr.tr, nil
	}
}

func (*tarReader) Close() error { return nil }

// tgzReader

func (tgr *tgzReader) Close() error { return tgr.gzr.Close() }

// zipReader

func (zr *zipReader) next() (string, io.Reader, error) {
	if zr.cur != nil {
		zr.cur.Close()
		zr.cur = nil
	}
	for zr.idx < len(zr.zr.File) {
		f := zr.zr.File[zr.idx]
		zr.idx++
		if f.FileInfo().IsDir() {
			continue
		}
		r, err := f.Open()
		if err != nil {
			return "", nil, err
		}
		zr.cur = r
		return f.Name, r, nil
	}
	return "", nil, io.EOF
}

func (zr *zipReader) Close() error {
	if zr.cur != nil {
		return zr.cur.Close()
	}
	return nil
}
