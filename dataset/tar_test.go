// Package dataset_test contains dataset unit tests.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package dataset_test

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/NVIDIA/wdsloader/dataset"
	"github.com/NVIDIA/wdsloader/wire"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pierrec/lz4/v4"
)

type file struct {
	name string
	data []byte
}

// write a shard in the format implied by the extension (or plain tar)
func writeShard(path string, files []file) {
	Expect(os.MkdirAll(filepath.Dir(path), 0o755)).To(Succeed())
	fh, err := os.Create(path)
	Expect(err).NotTo(HaveOccurred())
	defer fh.Close()

	if strings.HasSuffix(path, dataset.ExtZip) {
		zw := zip.NewWriter(fh)
		for _, f := range files {
			w, err := zw.Create(f.name)
			Expect(err).NotTo(HaveOccurred())
			_, err = w.Write(f.data)
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(zw.Close()).To(Succeed())
		return
	}

	var w io.WriteCloser
	switch {
	case strings.HasSuffix(path, dataset.ExtTgz), strings.HasSuffix(path, dataset.ExtTarGz):
		w = gzip.NewWriter(fh)
	case strings.HasSuffix(path, dataset.ExtTarLz4):
		w = lz4.NewWriter(fh)
	default:
		w = nopCloser{fh}
	}
	tw := tar.NewWriter(w)
	for _, f := range files {
		hdr := &tar.Header{Name: f.name, Mode: 0o644, Size: int64(len(f.data)), Typeflag: tar.TypeReg}
		Expect(tw.WriteHeader(hdr)).To(Succeed())
		_, err := tw.Write(f.data)
		Expect(err).NotTo(HaveOccurred())
	}
	Expect(tw.Close()).To(Succeed())
	Expect(w.Close()).To(Succeed())
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func gz(data []byte) []byte {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	w.Write(data)
	w.Close()
	return buf.Bytes()
}

// n samples: "<prefix>-NNN.{txt,cls}"
func sampleFiles(prefix string, n int) (files []file) {
	for i := range n {
		key := fmt.Sprintf("%s-%03d", prefix, i)
		files = append(files,
			file{key + ".txt", []byte("caption " + key)},
			file{key + ".cls", []byte(fmt.Sprintf("%d\n", i))},
		)
	}
	return files
}

func keys(samples []wire.Sample) (out []string) {
	for _, s := range samples {
		out = append(out, s.Key())
	}
	return out
}

var _ = Describe("Tar", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
	})

	It("should group consecutive files by key", func() {
		path := filepath.Join(dir, "shard-000.tar")
		writeShard(path, []file{
			{"a/000.jpg", []byte{0xff, 0xd8}},
			{"a/000.seg.png", []byte("png")},
			{"a/000.cls", []byte("7")},
			{"a/001.jpg", []byte{0xff, 0xd9}},
			{"a/001.cls", []byte("3")},
		})
		ds, err := dataset.NewTar(&dataset.TarParams{URLs: []string{"file://" + path}})
		Expect(err).NotTo(HaveOccurred())

		samples := collect(ds, dataset.Shard{Index: 0, Count: 1})
		Expect(samples).To(HaveLen(2))
		Expect(samples[0]).To(Equal(wire.Sample{
			"__key__": "a/000",
			"__url__": path,
			"jpg":     []byte{0xff, 0xd8},
			"seg.png": []byte("png"),
			"cls":     []byte("7"),
		}))
		Expect(samples[1].Key()).To(Equal("a/001"))
		Expect(samples[1]).To(HaveKey("jpg"))
	})

	It("should decode fields by extension", func() {
		mp, err := wire.AppendValue(nil, map[string]any{"w": int64(640), "tags": []string{"x"}})
		Expect(err).NotTo(HaveOccurred())
		path := filepath.Join(dir, "decoded.tar")
		writeShard(path, []file{
			{"s1.txt", []byte("hello")},
			{"s1.cls", []byte(" 42\n")},
			{"s1.json", []byte(`{"label": "cat", "score": 0.5}`)},
			{"s1.mp", mp},
			{"s1.txt.gz", gz([]byte("zipped"))},
			{"s1.bin", []byte{1, 2, 3}},
		})
		ds, err := dataset.NewTar(&dataset.TarParams{URLs: []string{path}, Decode: true})
		Expect(err).NotTo(HaveOccurred())

		samples := collect(ds, dataset.Shard{Index: 0, Count: 1})
		Expect(samples).To(HaveLen(1))
		s := samples[0]
		Expect(s["txt"]).To(Equal("hello"))
		Expect(s["cls"]).To(Equal(int64(42)))
		Expect(s["json"]).To(Equal(map[string]any{"label": "cat", "score": 0.5}))
		Expect(s["mp"]).To(Equal(map[string]any{"w": int64(640), "tags": []any{"x"}}))
		Expect(s["txt.gz"]).To(Equal("zipped"))
		Expect(s["bin"]).To(Equal([]byte{1, 2, 3}))
	})

	It("should fail on undecodable fields", func() {
		path := filepath.Join(dir, "bad.tar")
		writeShard(path, []file{{"s1.cls", []byte("not-a-number")}})
		ds, _ := dataset.NewTar(&dataset.TarParams{URLs: []string{path}, Decode: true})
		it, err := ds.Iter(dataset.Shard{Index: 0, Count: 1})
		Expect(err).NotTo(HaveOccurred())
		_, err = it.Next()
		Expect(err).To(MatchError(ContainSubstring("failed to decode s1.cls")))
	})

	It("should skip files that are not sample members", func() {
		path := filepath.Join(dir, "skip.tar")
		writeShard(path, []file{
			{"__meta__.json", []byte("{}")},
			{"README", []byte("no extension")},
			{"k.txt", []byte("v")},
		})
		ds, _ := dataset.NewTar(&dataset.TarParams{URLs: []string{path}})
		samples := collect(ds, dataset.Shard{Index: 0, Count: 1})
		Expect(keys(samples)).To(Equal([]string{"k"}))
	})

	It("should fail on duplicate fields within a sample", func() {
		path := filepath.Join(dir, "dup.tar")
		writeShard(path, []file{{"k.txt", []byte("1")}, {"k.txt", []byte("2")}})
		ds, _ := dataset.NewTar(&dataset.TarParams{URLs: []string{path}})
		it, _ := ds.Iter(dataset.Shard{Index: 0, Count: 1})
		_, err := it.Next()
		Expect(err).To(MatchError(ContainSubstring("duplicate field")))
	})

	DescribeTable("should read all supported formats",
		func(ext string) {
			path := filepath.Join(dir, "shard"+ext)
			writeShard(path, sampleFiles("fmt", 5))
			ds, err := dataset.NewTar(&dataset.TarParams{URLs: []string{path}, Decode: true})
			Expect(err).NotTo(HaveOccurred())
			samples := collect(ds, dataset.Shard{Index: 0, Count: 1})
			Expect(keys(samples)).To(Equal([]string{"fmt-000", "fmt-001", "fmt-002", "fmt-003", "fmt-004"}))
			Expect(samples[4]["cls"]).To(Equal(int64(4)))
			Expect(samples[4]["txt"]).To(Equal("caption fmt-004"))
		},
		Entry("tar", dataset.ExtTar),
		Entry("tgz", dataset.ExtTgz),
		Entry("tar.gz", dataset.ExtTarGz),
		Entry("tar.lz4", dataset.ExtTarLz4),
		Entry("zip", dataset.ExtZip),
	)

	It("should detect the format of shards with non-standard names", func() {
		path := filepath.Join(dir, "plain.tar")
		writeShard(path, sampleFiles("x", 2))
		renamed := filepath.Join(dir, "shard.bin")
		Expect(os.Rename(path, renamed)).To(Succeed())
		ds, _ := dataset.NewTar(&dataset.TarParams{URLs: []string{renamed}})
		Expect(collect(ds, dataset.Shard{Index: 0, Count: 1})).To(HaveLen(2))
	})

	It("should discover shards and split them across workers", func() {
		for i := range 5 {
			sub := "even"
			if i%2 == 1 {
				sub = "odd"
			}
			writeShard(filepath.Join(dir, sub, fmt.Sprintf("shard-%02d.tar", i)), sampleFiles(fmt.Sprintf("s%d", i), 3))
		}
		writeShard(filepath.Join(dir, "ignored.txt"), nil)

		ds, err := dataset.NewTar(&dataset.TarParams{Dir: dir})
		Expect(err).NotTo(HaveOccurred())
		Expect(ds.Shards()).To(HaveLen(5))

		var (
			total int
			seen  = map[string]bool{}
		)
		for w := range 2 {
			for _, s := range collect(ds, dataset.Shard{Index: w, Count: 2}) {
				Expect(seen).NotTo(HaveKey(s.Key()))
				seen[s.Key()] = true
				total++
			}
		}
		Expect(total).To(Equal(15))

		// more workers than shards: some get nothing
		Expect(collect(ds, dataset.Shard{Index: 6, Count: 8})).To(BeEmpty())

		ds, err = dataset.NewTar(&dataset.TarParams{Dir: dir, Pattern: "shard-0[12].tar"})
		Expect(err).NotTo(HaveOccurred())
		Expect(ds.Shards()).To(HaveLen(2))
	})

	It("should report missing shards and bad params", func() {
		ds, err := dataset.NewTar(&dataset.TarParams{URLs: []string{filepath.Join(dir, "missing.tar")}})
		Expect(err).NotTo(HaveOccurred())
		it, err := ds.Iter(dataset.Shard{Index: 0, Count: 1})
		Expect(err).NotTo(HaveOccurred())
		_, err = it.Next()
		Expect(err).To(MatchError(ContainSubstring("failed to open shard")))

		_, err = dataset.NewTar(&dataset.TarParams{})
		Expect(err).To(HaveOccurred())
		_, err = dataset.NewTar(&dataset.TarParams{Dir: dir})
		Expect(err).To(HaveOccurred()) // empty
		_, err = dataset.New(dataset.TarName, []byte(`{"dir": "x", "urls": ["y"]}`))
		Expect(err).To(HaveOccurred())
	})
})
