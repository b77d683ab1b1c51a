package certificates

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func newCertificate(templateID uint, subjectID, code string) *Certificate {
	return &Certificate{
		TemplateID:    templateID,
		SubjectKind:   SubjectContestant,
		SubjectID:     subjectID,
		UniqueCode:    code,
		RecipientName: "Jane Doe",
		Status:        StatusPending,
		Ownership:     datatypes.NewJSONType(Ownership{Year: 2025, ContestantID: 42}),
	}
}

func TestRepositoryTemplates(t *testing.T) {
	db, _ := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	tmpl := &CertTemplate{
		TemplateName:  "Winners",
		BasePdfPath:   "winners.pdf",
		Configuration: datatypes.JSON(janeDoeConfig),
		TargetType:    TargetEventWinner,
		SerialEnabled: true,
		Status:        TemplateActive,
	}
	require.NoError(t, repo.CreateTemplate(ctx, tmpl))
	require.NotZero(t, tmpl.ID)

	got, err := repo.GetTemplate(ctx, tmpl.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Winners", got.TemplateName)
	assert.True(t, got.SerialEnabled)

	desc, err := got.Descriptor()
	require.NoError(t, err)
	assert.Len(t, desc.Elements, 1)
	assert.Equal(t, "winners.pdf", desc.BasePagePath)

	missing, err := repo.GetTemplate(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRepositoryCertificateLookups(t *testing.T) {
	db, _ := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	cert := newCertificate(5, "42", "CERT-1-AAAAAAAA")
	serial := "MT25/GEN/T5/000001"
	cert.SerialNumber = &serial
	require.NoError(t, repo.CreateCertificate(ctx, cert))
	require.NotEqual(t, uuid.Nil, cert.ID)

	byID, err := repo.GetCertificate(ctx, cert.ID)
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, 42, int(byID.Ownership.Data().ContestantID))

	bySubject, err := repo.FindBySubject(ctx, 5, Subject{Kind: SubjectContestant, ID: "42"})
	require.NoError(t, err)
	require.NotNil(t, bySubject)
	assert.Equal(t, cert.ID, bySubject.ID)

	other, err := repo.FindBySubject(ctx, 5, Subject{Kind: SubjectTrainer, ID: "42"})
	require.NoError(t, err)
	assert.Nil(t, other)

	bySerial, err := repo.FindBySerial(ctx, serial)
	require.NoError(t, err)
	require.NotNil(t, bySerial)
	assert.Equal(t, cert.ID, bySerial.ID)

	exists, err := repo.UniqueCodeExists(ctx, "CERT-1-AAAAAAAA")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = repo.UniqueCodeExists(ctx, "CERT-1-BBBBBBBB")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRepositoryRejectsDuplicates(t *testing.T) {
	db, _ := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.CreateCertificate(ctx, newCertificate(5, "42", "CERT-1-AAAAAAAA")))

	err := repo.CreateCertificate(ctx, newCertificate(5, "42", "CERT-1-BBBBBBBB"))
	assert.ErrorIs(t, err, ErrDuplicate)

	err = repo.CreateCertificate(ctx, newCertificate(5, "43", "CERT-1-AAAAAAAA"))
	assert.ErrorIs(t, err, ErrDuplicate)

	// the same subject under another template is a different certificate
	require.NoError(t, repo.CreateCertificate(ctx, newCertificate(6, "42", "CERT-1-CCCCCCCC")))
}

func TestRepositoryUpdateKeepsIdentifiers(t *testing.T) {
	db, _ := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	cert := newCertificate(5, "42", "CERT-1-AAAAAAAA")
	serial := "MT25/GEN/T5/000001"
	cert.SerialNumber = &serial
	cert.ICNumber = "900101-01-1234"
	require.NoError(t, repo.CreateCertificate(ctx, cert))

	changed := *cert
	changed.UniqueCode = "CERT-2-ZZZZZZZZ"
	other := "MT25/GEN/T5/000099"
	changed.SerialNumber = &other
	changed.ICNumber = "000000-00-0000"
	changed.RecipientName = "Jane Q. Doe"
	changed.Status = StatusReady
	ref := "certificates/T5/CERT-1-AAAAAAAA.pdf"
	changed.DocumentRef = &ref
	require.NoError(t, repo.UpdateCertificate(ctx, &changed))

	got, err := repo.GetCertificate(ctx, cert.ID)
	require.NoError(t, err)
	assert.Equal(t, "CERT-1-AAAAAAAA", got.UniqueCode)
	assert.Equal(t, serial, got.Serial())
	assert.Equal(t, "900101-01-1234", got.ICNumber)
	assert.Equal(t, "Jane Q. Doe", got.RecipientName)
	assert.Equal(t, StatusReady, got.Status)
	require.NotNil(t, got.DocumentRef)
	assert.Equal(t, ref, *got.DocumentRef)

	missing := newCertificate(5, "77", "CERT-3-XXXXXXXX")
	missing.ID = uuid.New()
	assert.ErrorIs(t, repo.UpdateCertificate(ctx, missing), ErrNotFound)
}

func TestRepositoryMarkFailedAndListings(t *testing.T) {
	db, _ := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	a := newCertificate(5, "1", "CERT-1-AAAAAAAA")
	b := newCertificate(5, "2", "CERT-1-BBBBBBBB")
	c := newCertificate(6, "3", "CERT-1-CCCCCCCC")
	for _, cert := range []*Certificate{a, b, c} {
		require.NoError(t, repo.CreateCertificate(ctx, cert))
	}

	require.NoError(t, repo.MarkFailed(ctx, b.ID, StepRender, "base document missing"))

	got, err := repo.GetCertificate(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	require.NotNil(t, got.FailureStep)
	assert.Equal(t, "render", *got.FailureStep)
	assert.Equal(t, "base document missing", *got.FailureReason)

	failed, err := repo.ListByStatus(ctx, StatusFailed, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, b.ID, failed[0].ID)

	byTemplate, err := repo.ListByTemplate(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, byTemplate, 2)
}

func TestRepositoryListReady(t *testing.T) {
	db, _ := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	ready := func(subjectID, code, institution, name string) *Certificate {
		c := newCertificate(5, subjectID, code)
		ref := "certificates/T5/" + code + ".pdf"
		c.Status = StatusReady
		c.DocumentRef = &ref
		c.InstitutionLabel = institution
		c.RecipientName = name
		return c
	}

	pending := newCertificate(5, "9", "CERT-1-PENDING0")
	other := ready("8", "CERT-1-OTHERTPL", "A", "Zed")
	other.TemplateID = 6
	for _, cert := range []*Certificate{
		ready("1", "CERT-1-AAAAAAAA", "SMK Beta", "Yusof"),
		ready("2", "CERT-1-BBBBBBBB", "SMK Alpha", "Zainab"),
		ready("3", "CERT-1-CCCCCCCC", "SMK Alpha", "Aminah"),
		pending,
		other,
	} {
		require.NoError(t, repo.CreateCertificate(ctx, cert))
	}

	certs, err := repo.ListReady(ctx, 5)
	require.NoError(t, err)
	var names []string
	for _, c := range certs {
		names = append(names, c.RecipientName)
	}
	assert.Equal(t, []string{"Aminah", "Zainab", "Yusof"}, names)
}
