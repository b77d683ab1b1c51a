package certificates

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"

	"event-portal/portal-backend/pkg/pdf"
	"event-portal/portal-backend/pkg/storage"
)

// BulkMode selects how stored documents are laid out in a bulk download
type BulkMode string

const (
	BulkSplit             BulkMode = "split"
	BulkMergeAll          BulkMode = "merge_all"
	BulkMergeByContingent BulkMode = "merge_by_contingent"
	BulkMergeEveryN       BulkMode = "merge_every_n"

	DefaultMergeEveryN = 10
)

type BulkDownloadOptions struct {
	Mode BulkMode `json:"merging_type" form:"merging_type"`
	// ContingentFolders places entries in one folder per contingent
	ContingentFolders bool `json:"contingent_folders" form:"contingent_folders"`
	MergeEveryN       int  `json:"merge_every_n" form:"merge_every_n"`
}

func (o BulkDownloadOptions) normalized() (BulkDownloadOptions, error) {
	switch o.Mode {
	case "":
		o.Mode = BulkSplit
	case BulkSplit, BulkMergeAll, BulkMergeByContingent, BulkMergeEveryN:
	default:
		return o, fmt.Errorf("%w: unknown merging type %q", ErrInvalidRequest, o.Mode)
	}
	if o.MergeEveryN <= 0 {
		o.MergeEveryN = DefaultMergeEveryN
	}
	return o, nil
}

// BulkArchive is a zip of a template's generated certificates, prepared but
// not yet written
type BulkArchive struct {
	Filename     string
	Certificates int
	write        func(ctx context.Context, zw *zip.Writer) error
}

// Write streams the archive to w
func (a *BulkArchive) Write(ctx context.Context, w io.Writer) error {
	zw := zip.NewWriter(w)
	if err := a.write(ctx, zw); err != nil {
		_ = zw.Close()
		return err
	}
	return zw.Close()
}

type bulkGroup struct {
	folder string
	name   string
	certs  []Certificate
}

type bulkWriter struct {
	store    storage.DocumentStore
	logger   *zap.Logger
	opts     BulkDownloadOptions
	template string
	certs    []Certificate
}

func (b *bulkWriter) write(ctx context.Context, zw *zip.Writer) error {
	if b.opts.Mode == BulkSplit {
		return b.writeSplit(ctx, zw)
	}
	for _, g := range b.groups() {
		if err := b.writeMerged(ctx, zw, g); err != nil {
			return err
		}
	}
	return nil
}

func (b *bulkWriter) writeSplit(ctx context.Context, zw *zip.Writer) error {
	used := make(map[string]int, len(b.certs))
	for i := range b.certs {
		c := &b.certs[i]
		body, ok, err := b.fetch(ctx, c)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		id := c.ICNumber
		if id == "" {
			id = c.UniqueCode
		}
		name := b.folder(c.InstitutionLabel) + sanitizeFileName(c.RecipientName) + "-" + sanitizeFileName(id)
		if n := used[name]; n > 0 {
			used[name] = n + 1
			name = fmt.Sprintf("%s-%d", name, n+1)
		} else {
			used[name] = 1
		}

		if err := writeEntry(zw, name+".pdf", body); err != nil {
			return err
		}
	}
	return nil
}

func (b *bulkWriter) groups() []bulkGroup {
	switch b.opts.Mode {
	case BulkMergeAll:
		return []bulkGroup{{name: sanitizeFileName(b.template) + "-all-certificates.pdf", certs: b.certs}}

	case BulkMergeByContingent:
		var groups []bulkGroup
		index := map[string]int{}
		for _, c := range b.certs {
			key := c.InstitutionLabel
			if strings.TrimSpace(key) == "" {
				key = "Unknown"
			}
			i, ok := index[key]
			if !ok {
				i = len(groups)
				index[key] = i
				groups = append(groups, bulkGroup{
					folder: b.folder(key),
					name:   sanitizeFileName(key) + "-certificates.pdf",
				})
			}
			groups[i].certs = append(groups[i].certs, c)
		}
		return groups

	default:
		var groups []bulkGroup
		n := b.opts.MergeEveryN
		for start := 0; start < len(b.certs); start += n {
			end := start + n
			if end > len(b.certs) {
				end = len(b.certs)
			}
			chunk := b.certs[start:end]
			groups = append(groups, bulkGroup{
				folder: b.folder(chunk[0].InstitutionLabel),
				name:   fmt.Sprintf("certificates-batch-%d.pdf", len(groups)+1),
				certs:  chunk,
			})
		}
		return groups
	}
}

func (b *bulkWriter) writeMerged(ctx context.Context, zw *zip.Writer, g bulkGroup) error {
	docs := make([][]byte, 0, len(g.certs))
	owners := make([]*Certificate, 0, len(g.certs))
	for i := range g.certs {
		c := &g.certs[i]
		body, ok, err := b.fetch(ctx, c)
		if err != nil {
			return err
		}
		if ok {
			docs = append(docs, body)
			owners = append(owners, c)
		}
	}
	if len(docs) == 0 {
		return nil
	}

	merged, skipped, err := pdf.Merge(docs, pdf.Options{Compress: true})
	for _, i := range skipped {
		b.logger.Warn("Skipping unreadable certificate document",
			zap.String("certificate_id", owners[i].ID.String()),
			zap.String("archive_entry", g.name))
	}
	if err != nil {
		b.logger.Warn("Skipping archive entry", zap.String("archive_entry", g.name), zap.Error(err))
		return nil
	}
	return writeEntry(zw, g.folder+g.name, merged)
}

// fetch reads a stored document. Missing documents are logged and skipped;
// only cancellation aborts the archive.
func (b *bulkWriter) fetch(ctx context.Context, c *Certificate) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	rc, err := b.store.Get(ctx, *c.DocumentRef)
	if err != nil {
		b.logger.Warn("Stored certificate document unavailable",
			zap.String("certificate_id", c.ID.String()),
			zap.Error(err))
		return nil, false, nil
	}
	defer rc.Close()

	body, err := io.ReadAll(rc)
	if err != nil {
		b.logger.Warn("Failed to read stored certificate document",
			zap.String("certificate_id", c.ID.String()),
			zap.Error(err))
		return nil, false, nil
	}
	return body, true, nil
}

func (b *bulkWriter) folder(contingent string) string {
	if !b.opts.ContingentFolders {
		return ""
	}
	if strings.TrimSpace(contingent) == "" {
		contingent = "Unknown"
	}
	return sanitizeFileName(contingent) + "/"
}

func writeEntry(zw *zip.Writer, name string, body []byte) error {
	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	_, err = w.Write(body)
	return err
}

var (
	unsafeFileChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	fileSpaces      = regexp.MustCompile(`\s+`)
)

func sanitizeFileName(name string) string {
	s := strings.TrimSpace(unsafeFileChars.ReplaceAllString(name, ""))
	s = strings.ToLower(fileSpaces.ReplaceAllString(s, "-"))
	if s == "" {
		return "unnamed"
	}
	return s
}
