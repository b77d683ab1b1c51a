package certificates

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type CertificateStatus string

const (
	StatusPending CertificateStatus = "PENDING"
	StatusReady   CertificateStatus = "READY"
	StatusFailed  CertificateStatus = "FAILED"
)

type TemplateStatus string

const (
	TemplateActive   TemplateStatus = "ACTIVE"
	TemplateInactive TemplateStatus = "INACTIVE"
)

// TargetType is the audience a template issues certificates for. It selects
// the serial number type code.
type TargetType string

const (
	TargetGeneral               TargetType = "GENERAL"
	TargetEventParticipant      TargetType = "EVENT_PARTICIPANT"
	TargetEventWinner           TargetType = "EVENT_WINNER"
	TargetNonContestParticipant TargetType = "NON_CONTEST_PARTICIPANT"
	TargetQuizParticipant       TargetType = "QUIZ_PARTICIPANT"
	TargetQuizWinner            TargetType = "QUIZ_WINNER"
)

type SubjectKind string

const (
	SubjectContestant  SubjectKind = "contestant"
	SubjectContingent  SubjectKind = "contingent"
	SubjectTrainer     SubjectKind = "trainer"
	SubjectParticipant SubjectKind = "participant"
)

// Subject identifies who a certificate belongs to within a template
type Subject struct {
	Kind SubjectKind `json:"kind" binding:"required"`
	ID   string      `json:"id" binding:"required"`
}

func (s Subject) Validate() error {
	switch s.Kind {
	case SubjectContestant, SubjectContingent, SubjectTrainer, SubjectParticipant:
	default:
		return fmt.Errorf("%w: unknown subject kind %q", ErrInvalidRequest, s.Kind)
	}
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("%w: subject id is required", ErrInvalidRequest)
	}
	return nil
}

func (s Subject) String() string {
	return string(s.Kind) + ":" + s.ID
}

// CertTemplate is a stored certificate template
type CertTemplate struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	TemplateName  string         `gorm:"type:varchar(255);not null" json:"template_name"`
	BasePdfPath   string         `gorm:"type:varchar(512)" json:"base_pdf_path"`
	Configuration datatypes.JSON `json:"configuration"`
	TargetType    TargetType     `gorm:"type:varchar(40);not null;default:'GENERAL'" json:"target_type"`
	SerialEnabled bool           `gorm:"not null" json:"serial_enabled"`
	Status        TemplateStatus `gorm:"type:varchar(20);not null;default:'ACTIVE'" json:"status"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

func (CertTemplate) TableName() string { return "cert_templates" }

// Descriptor parses the stored configuration
func (t *CertTemplate) Descriptor() (*TemplateDescriptor, error) {
	desc, err := ParseDescriptor(t.ID, []byte(t.Configuration))
	if err != nil {
		return nil, err
	}
	desc.BasePagePath = t.BasePdfPath
	desc.TargetType = t.TargetType
	desc.SerialEnabled = t.SerialEnabled
	return desc, nil
}

// Ownership records which event entities a certificate was issued through
type Ownership struct {
	Year         int  `json:"year"`
	ContingentID uint `json:"contingentId,omitempty"`
	ContestantID uint `json:"contestantId,omitempty"`
	TrainerID    uint `json:"trainerId,omitempty"`
}

// Certificate is one issued certificate. UniqueCode and SerialNumber are
// assigned once and never rewritten.
type Certificate struct {
	ID               uuid.UUID                     `gorm:"type:uuid;primaryKey" json:"id"`
	TemplateID       uint                          `gorm:"not null;uniqueIndex:idx_certificates_subject,priority:1" json:"template_id"`
	SubjectKind      SubjectKind                   `gorm:"type:varchar(20);not null;uniqueIndex:idx_certificates_subject,priority:2" json:"subject_kind"`
	SubjectID        string                        `gorm:"type:varchar(64);not null;uniqueIndex:idx_certificates_subject,priority:3" json:"subject_id"`
	UniqueCode       string                        `gorm:"type:varchar(64);not null;uniqueIndex:idx_certificates_unique_code" json:"unique_code"`
	SerialNumber     *string                       `gorm:"type:varchar(64);uniqueIndex:idx_certificates_serial_number" json:"serial_number,omitempty"`
	RecipientName    string                        `gorm:"type:varchar(255);not null" json:"recipient_name"`
	RecipientEmail   string                        `gorm:"type:varchar(255)" json:"recipient_email,omitempty"`
	RecipientType    string                        `gorm:"type:varchar(40)" json:"recipient_type,omitempty"`
	ICNumber         string                        `gorm:"column:ic_number;type:varchar(32)" json:"ic_number,omitempty"`
	InstitutionLabel string                        `gorm:"type:varchar(255)" json:"institution_label,omitempty"`
	InstitutionName  string                        `gorm:"type:varchar(255)" json:"institution_name,omitempty"`
	TeamName         string                        `gorm:"type:varchar(255)" json:"team_name,omitempty"`
	ContestName      string                        `gorm:"type:varchar(255)" json:"contest_name,omitempty"`
	AwardTitle       *string                       `gorm:"type:varchar(255)" json:"award_title,omitempty"`
	Status           CertificateStatus             `gorm:"type:varchar(20);not null;index" json:"status"`
	DocumentRef      *string                       `gorm:"type:varchar(512)" json:"document_ref,omitempty"`
	FailureStep      *string                       `gorm:"type:varchar(20)" json:"failure_step,omitempty"`
	FailureReason    *string                       `gorm:"type:text" json:"failure_reason,omitempty"`
	Ownership        datatypes.JSONType[Ownership] `json:"ownership"`
	IssuedAt         *time.Time                    `json:"issued_at,omitempty"`
	CreatedAt        time.Time                     `json:"created_at"`
	UpdatedAt        time.Time                     `json:"updated_at"`
}

func (Certificate) TableName() string { return "certificates" }

func (c *Certificate) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

func (c *Certificate) Subject() Subject {
	return Subject{Kind: c.SubjectKind, ID: c.SubjectID}
}

// Serial returns the serial number or "" when the template issues none
func (c *Certificate) Serial() string {
	if c.SerialNumber == nil {
		return ""
	}
	return *c.SerialNumber
}

// CertificateSerial holds the last sequence issued for one serial scope
type CertificateSerial struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	TemplateID   uint       `gorm:"not null;uniqueIndex:idx_serial_scope,priority:1" json:"template_id"`
	TargetType   TargetType `gorm:"type:varchar(40);not null;uniqueIndex:idx_serial_scope,priority:2" json:"target_type"`
	TypeCode     string     `gorm:"type:varchar(10);not null" json:"type_code"`
	Year         int        `gorm:"not null;uniqueIndex:idx_serial_scope,priority:3" json:"year"`
	LastSequence int64      `gorm:"not null" json:"last_sequence"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (CertificateSerial) TableName() string { return "certificate_serials" }

// RecipientData is the value set placeholders resolve against
type RecipientData struct {
	RecipientName   string `json:"recipient_name"`
	RecipientEmail  string `json:"recipient_email,omitempty"`
	AwardTitle      string `json:"award_title,omitempty"`
	ContingentName  string `json:"contingent_name,omitempty"`
	TeamName        string `json:"team_name,omitempty"`
	ICNumber        string `json:"ic_number,omitempty"`
	ContestName     string `json:"contest_name,omitempty"`
	IssueDate       string `json:"issue_date,omitempty"`
	UniqueCode      string `json:"unique_code,omitempty"`
	SerialNumber    string `json:"serial_number,omitempty"`
	InstitutionName string `json:"institution_name,omitempty"`
}

// recipientFromCertificate rebuilds render data from a stored record
func recipientFromCertificate(c *Certificate) RecipientData {
	data := RecipientData{
		RecipientName:   c.RecipientName,
		RecipientEmail:  c.RecipientEmail,
		ContingentName:  c.InstitutionLabel,
		TeamName:        c.TeamName,
		ICNumber:        c.ICNumber,
		ContestName:     c.ContestName,
		UniqueCode:      c.UniqueCode,
		SerialNumber:    c.Serial(),
		InstitutionName: c.InstitutionName,
	}
	if c.AwardTitle != nil {
		data.AwardTitle = *c.AwardTitle
	}
	return data
}

// Migrate creates or updates the certificate tables
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&CertTemplate{}, &Certificate{}, &CertificateSerial{})
}
