package sa

import "time"

// uploadModel mirrors core.Upload for the uploads table.
type uploadModel struct {
	ID               int64 `db:"id"`
	FileName         string
	FileHashSHA256   string
	FileFormat       string
	FileSize         int64
	Status           string
	ProcessingMode   string
	TotalEntries     int
	ProcessedEntries int

	CscaCount  int
	DscCount   int
	DscNcCount int
	MlscCount  int

	ValidCount        int
	ExpiredValidCount int
	InvalidCount      int
	PendingCount      int
	ErrorCount        int

	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CompletedAt  *time.Time
}

// certificateModel mirrors core.Certificate for the certificates table.
// fingerprint_sha256 carries a unique index: this is what "treat
// fingerprint as identity" is actually enforced by.
type certificateModel struct {
	ID                int64 `db:"id"`
	FingerprintSHA256 string
	UploadID          int64
	CertType          string
	CountryCode       string
	SubjectDN         string
	IssuerDN          string
	SerialNumber      string
	NotBefore         time.Time
	NotAfter          time.Time
	DerBytes          []byte
	StoredInLdap      bool
	LdapDN            string
	ValidationStatus  string
	DuplicateCount    int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type crlModel struct {
	ID                int64 `db:"id"`
	FingerprintSHA256 string
	UploadID          int64
	CountryCode       string
	IssuerDN          string
	ThisUpdate        time.Time
	NextUpdate        time.Time
	CrlNumber         string
	DerBytes          []byte
	StoredInLdap      bool
	LdapDN            string
	CreatedAt         time.Time
}

type revokedEntryModel struct {
	ID             int64 `db:"id"`
	CrlID          int64
	Serial         string
	RevocationDate time.Time
	Reason         string
}

type masterListModel struct {
	ID                int64 `db:"id"`
	FingerprintSHA256 string
	CountryCode       string
	SignerDN          string
	CmsBytes          []byte
	CscaCount         int
	LdapDN            string
	CreatedAt         time.Time
}

type deviationListModel struct {
	ID          int64 `db:"id"`
	CountryCode string
	Version     int
	SigningTime time.Time
	SignerDN    string
	Verified    bool
	DerBytes    []byte
	CreatedAt   time.Time
}

type deviationEntryModel struct {
	ID                int64 `db:"id"`
	DlID              int64
	CertIssuerDN      string
	CertSerial        string
	DefectOID         string
	DefectDescription string
}

type validationResultModel struct {
	ID                   int64 `db:"id"`
	CertificateID        int64
	UploadID             int64
	ValidationStatus     string
	TrustChainValid      bool
	TrustChainPath       string // "→"-joined, see core.ValidationResult.ChainPathString
	CscaFound            bool
	CscaSubjectDN        string
	SignatureVerified    bool
	IsExpired            bool
	CrlChecked           bool
	CrlCheckStatus       string
	CrlRevoked           bool
	IcaoComplianceLevel  string
	IcaoViolations       string // comma-joined
	ErrorMessage         string
	ValidationDurationMs int64
	CreatedAt            time.Time
}

type reconciliationSummaryModel struct {
	ID          int64 `db:"id"`
	RunID       string
	TriggeredBy string
	DryRun      bool
	StartedAt   time.Time
	CompletedAt *time.Time
	Status      string

	CscaAdded  int
	DscAdded   int
	DscNcAdded int
	MlscAdded  int
	CrlAdded   int

	CscaDeleted  int
	DscDeleted   int
	DscNcDeleted int
	MlscDeleted  int
	CrlDeleted   int

	SuccessCount int
	FailedCount  int
	DurationMs   int64
}

type reconciliationLogModel struct {
	ID           int64 `db:"id"`
	SummaryID    int64
	Fingerprint  string
	CertType     string
	CountryCode  string
	Operation    string
	Result       string
	ErrorMessage string
	CreatedAt    time.Time
}
