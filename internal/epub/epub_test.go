package epub

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"
)

func TestSeriesFromMetas(t *testing.T) {
	cases := []struct {
		name      string
		metas     []opfMeta
		wantName  string
		wantIndex string
	}{
		{
			name:      "no series metas",
			metas:     nil,
			wantName:  "",
			wantIndex: "",
		},
		{
			name: "calibre series and index",
			metas: []opfMeta{
				{Name: "calibre:series", Content: "The Chronicles"},
				{Name: "calibre:series_index", Content: "3"},
			},
			wantName:  "The Chronicles",
			wantIndex: "3",
		},
		{
			name: "case-insensitive meta name",
			metas: []opfMeta{
				{Name: "Calibre:Series", Content: "Mixed Case"},
			},
			wantName: "Mixed Case",
		},
		{
			name: "unrelated metas ignored",
			metas: []opfMeta{
				{Name: "cover", Content: "cover-image"},
			},
			wantName:  "",
			wantIndex: "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gotName, gotIndex := seriesFromMetas(tc.metas)
			if gotName != tc.wantName || gotIndex != tc.wantIndex {
				t.Errorf("seriesFromMetas(%v) = (%q, %q), want (%q, %q)", tc.metas, gotName, gotIndex, tc.wantName, tc.wantIndex)
			}
		})
	}
}

func TestParseBook_ExtractsCalibreSeries(t *testing.T) {
	containerXML := `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

	contentOPF := `<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="2.0">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:title>Series Test Book</dc:title>
    <dc:creator>Series Author</dc:creator>
    <dc:language>en</dc:language>
    <meta name="calibre:series" content="Great Saga"/>
    <meta name="calibre:series_index" content="2.5"/>
  </metadata>
</package>`

	dir := t.TempDir()
	path := filepath.Join(dir, "series.epub")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create epub: %v", err)
	}
	w := zip.NewWriter(f)
	for _, entry := range []struct{ name, body string }{
		{"META-INF/container.xml", containerXML},
		{"content.opf", contentOPF},
	} {
		fw, err := w.Create(entry.name)
		if err != nil {
			t.Fatalf("create zip entry %q: %v", entry.name, err)
		}
		if _, err := fw.Write([]byte(entry.body)); err != nil {
			t.Fatalf("write zip entry %q: %v", entry.name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close zip writer: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close epub file: %v", err)
	}

	book, err := ParseBook(path, dir)
	if err != nil {
		t.Fatalf("ParseBook: %v", err)
	}
	if book.Series != "Great Saga" {
		t.Errorf("series: got %q, want %q", book.Series, "Great Saga")
	}
	if book.SeriesIndex != "2.5" {
		t.Errorf("seriesIndex: got %q, want %q", book.SeriesIndex, "2.5")
	}
}

func TestFindFirstImgSrc(t *testing.T) {
	cases := []struct {
		name string
		html string
		want string
	}{
		{
			name: "double-quoted src",
			html: `<html><body><img src="images/cover.jpg" alt="cover"/></body></html>`,
			want: "images/cover.jpg",
		},
		{
			name: "single-quoted src",
			html: `<img src='../Images/cover.png'>`,
			want: "../Images/cover.png",
		},
		{
			name: "unquoted src",
			html: `<img src=cover.jpg>`,
			want: "cover.jpg",
		},
		{
			name: "src with query string stripped",
			html: `<img src="cover.jpg?v=1">`,
			want: "cover.jpg",
		},
		{
			name: "src with fragment stripped",
			html: `<img src="cover.jpg#top">`,
			want: "cover.jpg",
		},
		{
			name: "uppercase IMG tag",
			html: `<IMG SRC="cover.jpg">`,
			want: "cover.jpg",
		},
		{
			name: "no img tag",
			html: `<html><body><p>No image here</p></body></html>`,
			want: "",
		},
		{
			name: "img without src",
			html: `<img alt="cover">`,
			want: "",
		},
		{
			name: "first img wins",
			html: `<img src="first.jpg"><img src="second.jpg">`,
			want: "first.jpg",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := findFirstImgSrc(tc.html)
			if got != tc.want {
				t.Errorf("findFirstImgSrc(%q) = %q, want %q", tc.html, got, tc.want)
			}
		})
	}
}
