package artifact

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/JakeFAU/chapterforge/internal/book"
)

// Page titles and boilerplate that frame the chapters.
const (
	SynopsisTitle   = "Synopsis"
	DisclaimerTitle = "About this Project"
	disclaimerBody  = `<p>This EPUB was generated automatically as a <strong>personal project</strong>.</p>
<p><em>Disclaimer:</em> This book only utilizes data that is publicly available on the internet. ` +
		`All rights belong to the original authors and publishers.</p>`
)

const epubContentType = "application/epub+zip"

// EPUBBuilder writes EPUB 3 packages.
type EPUBBuilder struct {
	Language string
	logger   *zap.Logger
}

// NewEPUBBuilder returns a builder producing English-language books.
func NewEPUBBuilder(logger *zap.Logger) *EPUBBuilder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EPUBBuilder{Language: "en", logger: logger}
}

// Extension implements book.ArtifactBuilder.
func (b *EPUBBuilder) Extension() string { return "epub" }

// ContentType implements book.ArtifactBuilder.
func (b *EPUBBuilder) ContentType() string { return epubContentType }

type epubPage struct {
	ID    string
	File  string
	Title string
	Body  string
}

type epubPackage struct {
	Identifier  string
	Title       string
	Author      string
	Language    string
	Description string
	Modified    string
	HasCover    bool
	Front       []epubPage
	Chapters    []epubPage
}

// Build writes doc as an EPUB archive to w.
func (b *EPUBBuilder) Build(ctx context.Context, doc book.Document, w io.Writer) error {
	start := time.Now()
	pkg := b.assemble(doc)

	zw := zip.NewWriter(w)
	// The mimetype entry must come first and be stored uncompressed.
	mw, err := zw.CreateHeader(&zip.FileHeader{Name: "mimetype", Method: zip.Store})
	if err != nil {
		return fmt.Errorf("write mimetype: %w", err)
	}
	if _, err := io.WriteString(mw, epubContentType); err != nil {
		return fmt.Errorf("write mimetype: %w", err)
	}

	if err := writeTemplate(zw, "META-INF/container.xml", containerTmpl, nil); err != nil {
		return err
	}
	if pkg.HasCover {
		if err := writeEntry(zw, "OEBPS/images/cover.jpg", doc.Cover); err != nil {
			return err
		}
		if err := writeTemplate(zw, "OEBPS/cover.xhtml", coverTmpl, pkg); err != nil {
			return err
		}
	}
	for _, page := range pkg.Front {
		if err := writeTemplate(zw, "OEBPS/"+page.File, pageTmpl, pageData{Language: pkg.Language, Page: page}); err != nil {
			return err
		}
	}
	for _, page := range pkg.Chapters {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("build epub: %w", err)
		}
		if err := writeTemplate(zw, "OEBPS/"+page.File, pageTmpl, pageData{Language: pkg.Language, Page: page}); err != nil {
			return err
		}
	}
	if err := writeTemplate(zw, "OEBPS/nav.xhtml", navTmpl, pkg); err != nil {
		return err
	}
	if err := writeTemplate(zw, "OEBPS/toc.ncx", ncxTmpl, pkg); err != nil {
		return err
	}
	if err := writeTemplate(zw, "OEBPS/content.opf", opfTmpl, pkg); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize epub: %w", err)
	}

	b.logger.Info("EPUB generated",
		zap.String("title", pkg.Title),
		zap.Int("chapters", len(pkg.Chapters)),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

func (b *EPUBBuilder) assemble(doc book.Document) epubPackage {
	title := strings.TrimSpace(doc.Title)
	if title == "" {
		title = "Untitled"
	}
	description := strings.TrimSpace(doc.Description)
	if description == "" {
		description = book.NoDescription
	}
	modified := doc.AssembleAt
	if modified.IsZero() {
		modified = time.Now()
	}
	lang := b.Language
	if lang == "" {
		lang = "en"
	}

	pkg := epubPackage{
		Identifier:  uuid.NewSHA1(uuid.NameSpaceURL, []byte(doc.SourceURL+"#"+title)).String(),
		Title:       title,
		Author:      strings.TrimSpace(doc.Author),
		Language:    lang,
		Description: plainText(description),
		Modified:    modified.UTC().Format("2006-01-02T15:04:05Z"),
		HasCover:    len(doc.Cover) > 0,
		Front: []epubPage{
			{ID: "synopsis", File: "synopsis.xhtml", Title: SynopsisTitle, Body: fragmentOrText(description)},
			{ID: "disclaimer", File: "disclaimer.xhtml", Title: DisclaimerTitle, Body: disclaimerBody},
		},
	}
	for _, unit := range doc.Units {
		n := unit.Index + 1
		body := paragraphs(unit.Body)
		if !unit.Failed {
			body = fragmentOrText(unit.Body)
		}
		pkg.Chapters = append(pkg.Chapters, epubPage{
			ID:    fmt.Sprintf("chap_%d", n),
			File:  fmt.Sprintf("chap_%d.xhtml", n),
			Title: unit.Title,
			Body:  body,
		})
	}
	return pkg
}

// plainText flattens an HTML fragment into its text content for metadata
// fields.
func plainText(s string) string {
	if !strings.Contains(s, "<") {
		return s
	}
	z := html.NewTokenizer(strings.NewReader(s))
	var buf strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.TrimSpace(buf.String())
		case html.TextToken:
			buf.Write(z.Text())
		case html.StartTagToken, html.SelfClosingTagToken:
			if name, _ := z.TagName(); string(name) == "br" || string(name) == "p" {
				buf.WriteByte('\n')
			}
		}
	}
}

type pageData struct {
	Language string
	Page     epubPage
}

func writeEntry(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func writeTemplate(zw *zip.Writer, name string, tmpl *template.Template, data any) error {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}
	return writeEntry(zw, name, buf.Bytes())
}

var funcs = template.FuncMap{
	"esc":   html.EscapeString,
	"order": func(i, offset int) int { return i + offset + 1 },
}

var containerTmpl = template.Must(template.New("container").Parse(`<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>
`))

var pageTmpl = template.Must(template.New("page").Funcs(funcs).Parse(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE html>
<html xmlns="http://www.w3.org/1999/xhtml" xml:lang="{{.Language}}" lang="{{.Language}}">
<head><title>{{esc .Page.Title}}</title></head>
<body>
  <section>
    <h1>{{esc .Page.Title}}</h1>
    <div>{{.Page.Body}}</div>
  </section>
</body>
</html>
`))

var coverTmpl = template.Must(template.New("cover").Funcs(funcs).Parse(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE html>
<html xmlns="http://www.w3.org/1999/xhtml" xml:lang="{{.Language}}" lang="{{.Language}}">
<head><title>{{esc .Title}}</title></head>
<body>
  <div style="text-align:center"><img src="images/cover.jpg" alt="{{esc .Title}}"/></div>
</body>
</html>
`))

var navTmpl = template.Must(template.New("nav").Funcs(funcs).Parse(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE html>
<html xmlns="http://www.w3.org/1999/xhtml" xmlns:epub="http://www.idpf.org/2007/ops" xml:lang="{{.Language}}" lang="{{.Language}}">
<head><title>{{esc .Title}}</title></head>
<body>
  <nav epub:type="toc" id="toc">
    <h1>{{esc .Title}}</h1>
    <ol>
      <li><span>Essential Information</span>
        <ol>
{{- range .Front}}
          <li><a href="{{.File}}">{{esc .Title}}</a></li>
{{- end}}
        </ol>
      </li>
      <li><span>Table of Contents</span>
        <ol>
{{- range .Chapters}}
          <li><a href="{{.File}}">{{esc .Title}}</a></li>
{{- end}}
        </ol>
      </li>
    </ol>
  </nav>
</body>
</html>
`))

var ncxTmpl = template.Must(template.New("ncx").Funcs(funcs).Parse(`<?xml version="1.0" encoding="UTF-8"?>
<ncx xmlns="http://www.daisy.org/z3986/2005/ncx/" version="2005-1">
  <head>
    <meta name="dtb:uid" content="urn:uuid:{{.Identifier}}"/>
    <meta name="dtb:depth" content="1"/>
  </head>
  <docTitle><text>{{esc .Title}}</text></docTitle>
  <navMap>
{{- range $i, $p := .Front}}
    <navPoint id="nav-{{$p.ID}}" playOrder="{{order $i 0}}">
      <navLabel><text>{{esc $p.Title}}</text></navLabel>
      <content src="{{$p.File}}"/>
    </navPoint>
{{- end}}
{{- $offset := len .Front}}
{{- range $i, $p := .Chapters}}
    <navPoint id="nav-{{$p.ID}}" playOrder="{{order $i $offset}}">
      <navLabel><text>{{esc $p.Title}}</text></navLabel>
      <content src="{{$p.File}}"/>
    </navPoint>
{{- end}}
  </navMap>
</ncx>
`))

var opfTmpl = template.Must(template.New("opf").Funcs(funcs).Parse(`<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0" unique-identifier="book-id" xml:lang="{{.Language}}">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:identifier id="book-id">urn:uuid:{{.Identifier}}</dc:identifier>
    <dc:title>{{esc .Title}}</dc:title>
    <dc:language>{{.Language}}</dc:language>
{{- if .Author}}
    <dc:creator>{{esc .Author}}</dc:creator>
{{- end}}
    <dc:description>{{esc .Description}}</dc:description>
    <meta property="dcterms:modified">{{.Modified}}</meta>
{{- if .HasCover}}
    <meta name="cover" content="cover-image"/>
{{- end}}
  </metadata>
  <manifest>
    <item id="nav" href="nav.xhtml" media-type="application/xhtml+xml" properties="nav"/>
    <item id="ncx" href="toc.ncx" media-type="application/x-dtbncx+xml"/>
{{- if .HasCover}}
    <item id="cover-image" href="images/cover.jpg" media-type="image/jpeg" properties="cover-image"/>
    <item id="cover" href="cover.xhtml" media-type="application/xhtml+xml"/>
{{- end}}
{{- range .Front}}
    <item id="{{.ID}}" href="{{.File}}" media-type="application/xhtml+xml"/>
{{- end}}
{{- range .Chapters}}
    <item id="{{.ID}}" href="{{.File}}" media-type="application/xhtml+xml"/>
{{- end}}
  </manifest>
  <spine toc="ncx">
{{- if .HasCover}}
    <itemref idref="cover" linear="no"/>
{{- end}}
    <itemref idref="nav"/>
{{- range .Front}}
    <itemref idref="{{.ID}}"/>
{{- end}}
{{- range .Chapters}}
    <itemref idref="{{.ID}}"/>
{{- end}}
  </spine>
</package>
`))
