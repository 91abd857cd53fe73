package upload

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/iland112/icao-local-pkd/classify"
	"github.com/iland112/icao-local-pkd/cms"
	"github.com/iland112/icao-local-pkd/core"
	pkderrors "github.com/iland112/icao-local-pkd/errors"
	"github.com/iland112/icao-local-pkd/ldif"
	"github.com/iland112/icao-local-pkd/log"
	"github.com/iland112/icao-local-pkd/metrics"
	"github.com/iland112/icao-local-pkd/policy"
	"github.com/iland112/icao-local-pkd/progress"
	"github.com/iland112/icao-local-pkd/x509meta"
)

// Orchestrator drives the per-upload state machine over a small fixed
// pool of worker goroutines: UPLOADED, PARSING, PENDING, VALIDATING,
// COMPLETED, with FAILED and DELETED as the off-ramps.
type Orchestrator struct {
	Uploads         core.UploadStore
	Certs           core.CertificateStore
	Crls            core.CrlStore
	MasterLists     core.MasterListStore
	DeviationLists  core.DeviationListStore
	Results         core.ValidationResultStore
	Ldap            core.LdapWriter
	Progress        *progress.Manager
	Log             log.Logger
	TrustAnchor     *cms.TrustAnchor
	ComplianceTable *policy.Table
	StageDir        string
	Stats           metrics.Scope

	work chan task

	inflightMu sync.Mutex
	inflight   map[int64]context.CancelFunc

	wg sync.WaitGroup
}

type task struct {
	ctx      context.Context
	uploadID int64
	content  []byte
	format   core.FileFormat
	country  string
}

// NewOrchestrator builds an Orchestrator with workers background
// goroutines draining a bounded work channel.
func NewOrchestrator(
	uploads core.UploadStore,
	certs core.CertificateStore,
	crls core.CrlStore,
	masterLists core.MasterListStore,
	deviationLists core.DeviationListStore,
	results core.ValidationResultStore,
	ldapWriter core.LdapWriter,
	progressMgr *progress.Manager,
	logger log.Logger,
	trustAnchor *cms.TrustAnchor,
	stageDir string,
	workers int,
) *Orchestrator {
	if workers <= 0 {
		workers = 4
	}
	o := &Orchestrator{
		Uploads:         uploads,
		Certs:           certs,
		Crls:            crls,
		MasterLists:     masterLists,
		DeviationLists:  deviationLists,
		Results:         results,
		Ldap:            ldapWriter,
		Progress:        progressMgr,
		Log:             logger,
		TrustAnchor:     trustAnchor,
		ComplianceTable: policy.DefaultTable(),
		StageDir:        stageDir,
		Stats:           metrics.NewNoopScope(),
		work:            make(chan task, 64),
		inflight:        make(map[int64]context.CancelFunc),
	}
	for i := 0; i < workers; i++ {
		o.wg.Add(1)
		go o.workerLoop()
	}
	return o
}

func (o *Orchestrator) workerLoop() {
	defer o.wg.Done()
	for t := range o.work {
		o.runPipeline(t.ctx, t.uploadID, t.content, t.format, t.country)
		o.clearInflight(t.uploadID)
	}
}

// Shutdown stops accepting new work and waits for in-flight tasks to
// drain; callers Cancel the in-flight uploads beforehand if a hard stop
// rather than a drain is wanted.
func (o *Orchestrator) Shutdown() {
	close(o.work)
	o.wg.Wait()
}

func (o *Orchestrator) tryMarkInflight(uploadID int64) (context.Context, context.CancelFunc, bool) {
	o.inflightMu.Lock()
	defer o.inflightMu.Unlock()
	if _, exists := o.inflight[uploadID]; exists {
		return nil, nil, false
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.inflight[uploadID] = cancel
	return ctx, cancel, true
}

func (o *Orchestrator) clearInflight(uploadID int64) {
	o.inflightMu.Lock()
	defer o.inflightMu.Unlock()
	delete(o.inflight, uploadID)
}

// Submit creates the Upload row (short-circuiting on a byte-identical
// duplicate) and dispatches it per ProcessingMode: AUTO runs the full
// pipeline in the background; MANUAL only parses to PENDING and stages
// the artifact, awaiting an explicit Validate call.
func (o *Orchestrator) Submit(ctx context.Context, fileName string, content []byte, format core.FileFormat, mode core.ProcessingMode, countryCode string) (*core.Upload, error) {
	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])

	if existing, err := o.Uploads.FindByHash(ctx, hash); err == nil && existing != nil {
		return existing, pkderrors.NewDuplicateUpload("upload: file hash %s already ingested as upload %d", hash, existing.ID)
	}

	u := &core.Upload{
		FileName:       fileName,
		FileHashSHA256: hash,
		FileFormat:     format,
		FileSize:       int64(len(content)),
		Status:         core.UploadStatusUploaded,
		ProcessingMode: mode,
	}
	id, err := o.Uploads.Create(ctx, u)
	if err != nil {
		return nil, err
	}
	u.ID = id
	o.Progress.Start(id, 0)

	runCtx, _, ok := o.tryMarkInflight(id)
	if !ok {
		return u, pkderrors.InternalServerError("upload: upload %d already in flight", id)
	}

	if mode == core.ModeManual {
		go func() {
			defer o.clearInflight(id)
			o.parseToPending(runCtx, u, content, format, countryCode)
		}()
		return u, nil
	}

	o.work <- task{ctx: runCtx, uploadID: id, content: content, format: format, country: countryCode}
	return u, nil
}

// Cancel stops an in-flight upload's pipeline at its next suspension
// point. It is a no-op if the upload is not currently running.
func (o *Orchestrator) Cancel(uploadID int64) {
	o.inflightMu.Lock()
	cancel, ok := o.inflight[uploadID]
	o.inflightMu.Unlock()
	if ok {
		cancel()
	}
}

// Delete removes a PENDING or FAILED upload: cancels it if in flight,
// deletes any staged temp files, and marks the row DELETED. Deleting an
// already-deleted upload is idempotent.
func (o *Orchestrator) Delete(ctx context.Context, uploadID int64) error {
	o.Cancel(uploadID)
	o.removeStaged(uploadID)
	o.Progress.Forget(uploadID)
	return o.Uploads.Delete(ctx, uploadID)
}

// ValidatePending is MANUAL mode's phase 2: pick the staged artifact
// back up and run validate→persist→LDAP.
func (o *Orchestrator) ValidatePending(ctx context.Context, uploadID int64) error {
	u, err := o.Uploads.Get(ctx, uploadID)
	if err != nil {
		return err
	}
	if u == nil {
		return pkderrors.InternalServerError("upload: upload %d not found", uploadID)
	}
	if u.Status != core.UploadStatusPending {
		return pkderrors.InternalServerError("upload: upload %d is not PENDING (status=%s)", uploadID, u.Status)
	}

	runCtx, _, ok := o.tryMarkInflight(uploadID)
	if !ok {
		return pkderrors.InternalServerError("upload: upload %d already in flight", uploadID)
	}

	content, country, err := o.readStaged(uploadID)
	if err != nil {
		o.clearInflight(uploadID)
		return err
	}

	o.work <- task{ctx: runCtx, uploadID: uploadID, content: content, format: u.FileFormat, country: country}
	return nil
}

// parseToPending implements MANUAL mode phase 1: parse enough to count
// entries and confirm the file is well-formed, stage it to disk, and
// move the row to PENDING without running validation yet.
func (o *Orchestrator) parseToPending(ctx context.Context, u *core.Upload, content []byte, format core.FileFormat, countryCode string) {
	_ = o.Uploads.UpdateStatus(ctx, u.ID, core.UploadStatusParsing, "")
	o.Progress.SetStage(u.ID, progress.StageParsing, "parsing")

	total := 0
	if format == core.FormatLDIF {
		entries, err := ldif.ParseAll(bytes.NewReader(content))
		if err != nil {
			o.failUpload(ctx, u.ID, err)
			return
		}
		total = len(entries)
	} else {
		total = 1
	}

	if err := o.stage(u.ID, content, countryCode); err != nil {
		o.failUpload(ctx, u.ID, err)
		return
	}

	u.TotalEntries = total
	if err := o.Uploads.UpdateCounts(ctx, u); err != nil {
		o.failUpload(ctx, u.ID, err)
		return
	}
	_ = o.Uploads.UpdateStatus(ctx, u.ID, core.UploadStatusPending, "")
	o.Progress.Start(u.ID, total)
	o.Progress.SetStage(u.ID, progress.StageParsing, "staged, awaiting validation")
}

// runPipeline is AUTO mode's (and MANUAL phase 2's) single background
// task: parse → validate → persist → LDAP, driven straight through.
func (o *Orchestrator) runPipeline(ctx context.Context, uploadID int64, content []byte, format core.FileFormat, countryCode string) {
	_ = o.Uploads.UpdateStatus(ctx, uploadID, core.UploadStatusParsing, "")
	o.Progress.SetStage(uploadID, progress.StageParsing, "parsing")

	u, err := o.Uploads.Get(ctx, uploadID)
	if err != nil || u == nil {
		o.failUpload(ctx, uploadID, pkderrors.NewDbError("upload: reload upload %d: %v", uploadID, err))
		return
	}

	o.Progress.SetStage(uploadID, progress.StageValidationInProgress, "validating")
	_ = o.Uploads.UpdateStatus(ctx, uploadID, core.UploadStatusValidating, "")

	var procErr error
	switch format {
	case core.FormatLDIF:
		procErr = o.processLDIF(ctx, uploadID, content, u)
	case core.FormatML:
		o.Progress.Advance(uploadID, 0)
		procErr = o.persistMasterList(ctx, uploadID, content, countryCode)
		u.ProcessedEntries++
	case core.FormatDL:
		procErr = o.persistDeviationList(ctx, countryCode, content)
		u.ProcessedEntries++
	case core.FormatCert:
		procErr = o.processRawCert(ctx, uploadID, content, countryCode, u)
	case core.FormatCRL:
		procErr = o.persistCRL(ctx, uploadID, content, countryCode)
		u.ProcessedEntries++
	default:
		procErr = pkderrors.NewParseError("upload: unsupported format %s", format)
	}

	if ctx.Err() != nil {
		o.cancelUpload(ctx, uploadID)
		return
	}

	_ = o.Uploads.UpdateCounts(ctx, u)

	if procErr != nil {
		o.failUpload(context.Background(), uploadID, procErr)
		return
	}

	o.Progress.SetStage(uploadID, progress.StageDbSaving, "persisted")
	o.Progress.SetStage(uploadID, progress.StageLdapSaving, "replicated to directory")
	_ = o.Uploads.UpdateStatus(ctx, uploadID, core.UploadStatusCompleted, "")
	o.Progress.Finish(uploadID, false, "completed")
	o.removeStaged(uploadID)
}

func (o *Orchestrator) processLDIF(ctx context.Context, uploadID int64, content []byte, u *core.Upload) error {
	for se := range ldif.ParseStream(ctx, bytes.NewReader(content)) {
		if se.Err != nil {
			return se.Err
		}
		if err := o.processEntry(ctx, uploadID, se.Entry, u); err != nil {
			o.Log.Warningf("upload: entry %s failed: %v", se.Entry.DN, err)
			u.ErrorCount++
		}
		u.ProcessedEntries++
		o.Stats.Inc("entries_processed", 1)
		o.Progress.Advance(uploadID, 1)
	}
	return nil
}

func (o *Orchestrator) processEntry(ctx context.Context, uploadID int64, e *ldif.Entry, u *core.Upload) error {
	if certDER := firstOf(e.Get("userCertificate;binary"), e.Get("userCertificate")); certDER != nil {
		cert, err := x509meta.ParsePEMOrDER(certDER)
		if err != nil {
			return err
		}
		nonConformant := bytes.Contains([]byte(e.DN), []byte("nc-data"))
		certType := classify.Classify(cert, e.DN, false)
		cc := x509meta.CountryCode(cert.Subject)
		o.bumpTypeCount(u, certType)
		var status core.ValidationStatus
		if certType == core.CertTypeCSCA || certType == core.CertTypeLink {
			status, err = o.persistCSCA(ctx, uploadID, cert, cc, certType)
		} else {
			status, err = o.validateAndPersist(ctx, uploadID, cert, certType, cc, e.DN, nonConformant)
		}
		if err != nil {
			return err
		}
		o.bumpOutcomeCount(u, status)
		return nil
	}
	if crlDER := firstOf(e.Get("certificateRevocationList;binary"), e.Get("certificateRevocationList")); crlDER != nil {
		cc := countryFromDN(e.DN)
		return o.persistCRL(ctx, uploadID, crlDER, cc)
	}
	if mlDER := firstOf(e.Get("pkdMasterListContent"), e.Get("cACertificateList;binary")); mlDER != nil {
		cc := countryFromDN(e.DN)
		return o.persistMasterList(ctx, uploadID, mlDER, cc)
	}
	return pkderrors.NewParseError("upload: entry %s carries no recognized certificate/CRL/ML attribute", e.DN)
}

func (o *Orchestrator) processRawCert(ctx context.Context, uploadID int64, content []byte, countryCode string, u *core.Upload) error {
	cert, err := x509meta.ParsePEMOrDER(content)
	if err != nil {
		return err
	}
	certType := classify.Classify(cert, "", false)
	cc := countryCode
	if cc == "" {
		cc = x509meta.CountryCode(cert.Subject)
	}
	o.bumpTypeCount(u, certType)
	u.ProcessedEntries++
	o.Progress.Advance(uploadID, 1)
	var status core.ValidationStatus
	if certType == core.CertTypeCSCA || certType == core.CertTypeLink {
		status, err = o.persistCSCA(ctx, uploadID, cert, cc, certType)
	} else {
		status, err = o.validateAndPersist(ctx, uploadID, cert, certType, cc, "", false)
	}
	if err != nil {
		return err
	}
	o.bumpOutcomeCount(u, status)
	return nil
}

func (o *Orchestrator) bumpTypeCount(u *core.Upload, certType core.CertType) {
	switch certType {
	case core.CertTypeCSCA, core.CertTypeLink:
		u.CscaCount++
	case core.CertTypeDSC:
		u.DscCount++
	case core.CertTypeDscNC:
		u.DscNcCount++
	case core.CertTypeMLSC:
		u.MlscCount++
	}
}

func (o *Orchestrator) bumpOutcomeCount(u *core.Upload, status core.ValidationStatus) {
	o.Stats.Inc("outcome."+string(status), 1)
	switch status {
	case core.ValidationValid:
		u.ValidCount++
	case core.ValidationExpiredValid:
		u.ExpiredValidCount++
	case core.ValidationInvalid:
		u.InvalidCount++
	case core.ValidationPending:
		u.PendingCount++
	case core.ValidationError:
		u.ErrorCount++
	}
}

func (o *Orchestrator) failUpload(ctx context.Context, uploadID int64, err error) {
	_ = o.Uploads.UpdateStatus(ctx, uploadID, core.UploadStatusFailed, err.Error())
	o.Progress.Finish(uploadID, true, err.Error())
}

func (o *Orchestrator) cancelUpload(ctx context.Context, uploadID int64) {
	_ = o.Uploads.Delete(ctx, uploadID)
	o.Progress.Finish(uploadID, true, "canceled")
	o.removeStaged(uploadID)
}

func firstOf(sets ...[][]byte) []byte {
	for _, s := range sets {
		if len(s) > 0 {
			return s[0]
		}
	}
	return nil
}

func countryFromDN(dn string) string {
	for _, rdn := range bytes.Split([]byte(dn), []byte(",")) {
		if bytes.HasPrefix(bytes.TrimSpace(rdn), []byte("c=")) {
			return string(bytes.TrimSpace(rdn)[2:])
		}
	}
	return ""
}

// --- MANUAL-mode staging -------------------------------------------------

type stagedPayload struct {
	Country string `json:"country"`
	Content []byte `json:"content"`
}

func (o *Orchestrator) stagePath(uploadID int64) string {
	return filepath.Join(o.StageDir, fmt.Sprintf("%d.staged.json", uploadID))
}

func (o *Orchestrator) stage(uploadID int64, content []byte, countryCode string) error {
	if err := os.MkdirAll(o.StageDir, 0o750); err != nil {
		return pkderrors.InternalServerError("upload: create stage dir: %v", err)
	}
	payload := stagedPayload{Country: countryCode, Content: content}
	buf, err := json.Marshal(payload)
	if err != nil {
		return pkderrors.InternalServerError("upload: marshal staged payload: %v", err)
	}
	if err := os.WriteFile(o.stagePath(uploadID), buf, 0o640); err != nil {
		return pkderrors.InternalServerError("upload: write staged payload: %v", err)
	}
	return nil
}

func (o *Orchestrator) readStaged(uploadID int64) ([]byte, string, error) {
	buf, err := os.ReadFile(o.stagePath(uploadID))
	if err != nil {
		return nil, "", pkderrors.InternalServerError("upload: read staged payload for %d: %v", uploadID, err)
	}
	var payload stagedPayload
	if err := json.Unmarshal(buf, &payload); err != nil {
		return nil, "", pkderrors.InternalServerError("upload: decode staged payload for %d: %v", uploadID, err)
	}
	return payload.Content, payload.Country, nil
}

func (o *Orchestrator) removeStaged(uploadID int64) {
	_ = os.Remove(o.stagePath(uploadID))
}
