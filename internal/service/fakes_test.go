package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/danussh/Faxing/internal/domain/model"
	"github.com/danussh/Faxing/internal/downstream"
	"github.com/danussh/Faxing/internal/objectstore"
	"github.com/danussh/Faxing/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// --- Часы ---

// fakeClock — управляемое время для фейковых хранилищ.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// --- Хранилище факсов в памяти ---

// memFaxRepo — FaxRecordRepository в памяти с той же семантикой условных
// операций, что и SQL-реализация.
type memFaxRepo struct {
	mu      sync.Mutex
	clock   *fakeClock
	vendors map[string]int64 // lower(name) → id
	records map[string]*model.FaxRecord

	// markUploadedErr — ошибка, возвращаемая MarkUploaded
	markUploadedErr error
	registerErr     error
}

func newMemFaxRepo(clock *fakeClock, vendors ...string) *memFaxRepo {
	r := &memFaxRepo{
		clock:   clock,
		vendors: make(map[string]int64),
		records: make(map[string]*model.FaxRecord),
	}
	for i, v := range vendors {
		r.vendors[strings.ToLower(v)] = int64(i + 1)
	}
	return r
}

// put добавляет запись напрямую (для подготовки тестов).
func (r *memFaxRepo) put(f *model.FaxRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *f
	r.records[f.FaxID] = &c
}

// get возвращает копию записи.
func (r *memFaxRepo) get(faxID string) *model.FaxRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.records[faxID]
	if !ok {
		return nil
	}
	c := *f
	return &c
}

func (r *memFaxRepo) Register(_ context.Context, n *model.NewFax) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.registerErr != nil {
		return "", r.registerErr
	}
	vendorID, ok := r.vendors[strings.ToLower(n.VendorName)]
	if !ok {
		return "", repository.ErrVendorNotRegistered
	}
	for _, f := range r.records {
		if f.VendorFaxID == n.VendorFaxID && f.VendorID == vendorID {
			f.RetryCount++
			f.LastModifiedAt = r.clock.Now()
			return f.FaxID, nil
		}
	}

	now := r.clock.Now()
	r.records[n.FaxID] = &model.FaxRecord{
		FaxID:                n.FaxID,
		VendorID:             vendorID,
		VendorName:           n.VendorName,
		VendorFaxID:          n.VendorFaxID,
		Filename:             n.Filename,
		GoodPageCount:        n.GoodPageCount,
		BadPageCount:         n.BadPageCount(),
		FromNumber:           n.FromNumber,
		ToNumber:             n.ToNumber,
		TransmissionStatus:   n.TransmissionStatus,
		TransmissionDuration: n.TransmissionDuration,
		CallerANI:            n.CallerANI,
		RemoteID:             n.RemoteID,
		VendorMetadata:       n.VendorMetadata,
		Partial:              n.Partial,
		CreatedAt:            now,
		LastModifiedAt:       now,
	}
	return n.FaxID, nil
}

func (r *memFaxRepo) MarkUploaded(_ context.Context, faxID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.markUploadedErr != nil {
		return 0, r.markUploadedErr
	}
	f, ok := r.records[faxID]
	if !ok || f.DeletedAt != nil || f.Uploaded {
		return 0, nil
	}
	f.Uploaded = true
	return 1, nil
}

func (r *memFaxRepo) setStatus(match func(*model.FaxRecord) bool, succeeded bool) int64 {
	var n int64
	for _, f := range r.records {
		if !match(f) {
			continue
		}
		v := f.Delivered() || succeeded
		f.ProcessStatus = &v
		n++
	}
	return n
}

func (r *memFaxRepo) SetProcessStatusByVendorFaxID(_ context.Context, vendorFaxID, faxID string, succeeded bool) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Поставщик берётся из записи faxID, без faxID ключ должен быть единственным
	var vendorID int64
	if faxID != "" {
		f, ok := r.records[faxID]
		if !ok {
			return 0, nil
		}
		vendorID = f.VendorID
	} else {
		matches := 0
		for _, f := range r.records {
			if f.VendorFaxID == vendorFaxID {
				matches++
				vendorID = f.VendorID
			}
		}
		if matches != 1 {
			return 0, nil
		}
	}
	return r.setStatus(func(f *model.FaxRecord) bool {
		return f.VendorFaxID == vendorFaxID && f.VendorID == vendorID
	}, succeeded), nil
}

func (r *memFaxRepo) SetProcessStatusByFaxID(_ context.Context, faxID string, succeeded bool) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setStatus(func(f *model.FaxRecord) bool { return f.FaxID == faxID }, succeeded), nil
}

func (r *memFaxRepo) FindReconciliationCandidates(_ context.Context, retryMinutes, maxRetryMinutes int) ([]*model.FaxRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	var result []*model.FaxRecord
	for _, f := range r.records {
		if eligibleForRetry(f, now, time.Duration(retryMinutes)*time.Minute, time.Duration(maxRetryMinutes)*time.Minute) {
			c := *f
			result = append(result, &c)
		}
	}
	return result, nil
}

func (r *memFaxRepo) FetchUploadedAndEligible(_ context.Context, faxID string, retryMinutes int) (*model.FaxRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.records[faxID]
	if !ok || !eligibleForDispatch(f, r.clock.Now(), time.Duration(retryMinutes)*time.Minute) {
		return nil, repository.ErrNotFound
	}
	c := *f
	return &c, nil
}

// eligibleForRetry повторяет условие выборки зависших факсов из SQL:
// не доставлен, не остановлен, не удалён, последняя попытка (или создание)
// старше retry, создан не раньше чем maxRetry назад.
func eligibleForRetry(f *model.FaxRecord, now time.Time, retry, maxRetry time.Duration) bool {
	if !pending(f) {
		return false
	}
	cutoff := now.Add(-retry)
	if f.LastSentAt != nil {
		if !f.LastSentAt.Before(cutoff) {
			return false
		}
	} else if !f.CreatedAt.Before(cutoff) {
		return false
	}
	return f.CreatedAt.After(now.Add(-maxRetry))
}

// eligibleForDispatch — условие FetchUploadedAndEligible: загружен,
// без окна по возрасту.
func eligibleForDispatch(f *model.FaxRecord, now time.Time, retry time.Duration) bool {
	if !f.Uploaded || !pending(f) {
		return false
	}
	return f.LastSentAt == nil || f.LastSentAt.Before(now.Add(-retry))
}

func pending(f *model.FaxRecord) bool {
	return !f.Delivered() && !f.Stopped() && f.DeletedAt == nil
}

func (r *memFaxRepo) TouchLastSent(_ context.Context, faxID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if f, ok := r.records[faxID]; ok {
		now := r.clock.Now()
		f.LastSentAt = &now
	}
	return nil
}

func (r *memFaxRepo) GetByID(_ context.Context, faxID string) (*model.FaxRecord, error) {
	if f := r.get(faxID); f != nil {
		return f, nil
	}
	return nil, repository.ErrNotFound
}

func (r *memFaxRepo) SoftDelete(_ context.Context, faxID, _ string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.records[faxID]
	if !ok || f.DeletedAt != nil {
		return 0, nil
	}
	now := r.clock.Now()
	f.DeletedAt = &now
	return 1, nil
}

func (r *memFaxRepo) StopProcessing(_ context.Context, faxID, _ string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.records[faxID]
	if !ok || f.Stopped() {
		return 0, nil
	}
	stop := true
	f.StopProcessing = &stop
	return 1, nil
}

// --- Блокировки тиков ---

// memLocks — SweepLockRepository в памяти: одна строка на тик.
type memLocks struct {
	mu    sync.Mutex
	ticks map[time.Time]string
}

func newMemLocks() *memLocks {
	return &memLocks{ticks: make(map[time.Time]string)}
}

func (l *memLocks) TryAcquire(_ context.Context, tick time.Time, owner string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.ticks[tick]; ok {
		return false, nil
	}
	l.ticks[tick] = owner
	return true, nil
}

func (l *memLocks) PurgeBefore(_ context.Context, tick time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var n int64
	for t := range l.ticks {
		if t.Before(tick) {
			delete(l.ticks, t)
			n++
		}
	}
	return n, nil
}

// --- Параметры ---

// fakeParams — IntParams и SecretList с заданными значениями.
type fakeParams struct {
	ints  map[string]int
	lists map[string][]string
	err   error
}

func (p *fakeParams) IntOr(_ context.Context, name string, def int) int {
	if v, ok := p.ints[name]; ok {
		return v
	}
	return def
}

func (p *fakeParams) PositiveIntOr(ctx context.Context, name string, def int) int {
	if v := p.IntOr(ctx, name, def); v > 0 {
		return v
	}
	return def
}

func (p *fakeParams) List(_ context.Context, name string) ([]string, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.lists[name], nil
}

// --- Хранилище объектов ---

// fakeObjects — UploadURLIssuer, DownloadURLIssuer, ObjectInspector и ObjectChecker.
type fakeObjects struct {
	mu       sync.Mutex
	objects  map[string]string // key → ETag
	uploads  []uploadCall
	headErr  error
	urlErr   error
	headKeys []string
}

type uploadCall struct {
	key      string
	metadata map[string]string
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: make(map[string]string)}
}

func (o *fakeObjects) putObject(key, etag string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.objects[key] = etag
}

func (o *fakeObjects) UploadURL(_ context.Context, key string, metadata map[string]string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.urlErr != nil {
		return "", o.urlErr
	}
	o.uploads = append(o.uploads, uploadCall{key: key, metadata: metadata})
	return "https://bucket.s3/put/" + key, nil
}

func (o *fakeObjects) DownloadURL(_ context.Context, key string) (string, error) {
	if o.urlErr != nil {
		return "", o.urlErr
	}
	return "https://bucket.s3/get/" + key, nil
}

func (o *fakeObjects) Head(_ context.Context, key string) (*objectstore.ObjectInfo, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.headKeys = append(o.headKeys, key)
	if o.headErr != nil {
		return nil, o.headErr
	}
	etag, ok := o.objects[key]
	if !ok {
		return nil, objectstore.ErrNotFound
	}
	return &objectstore.ObjectInfo{ETag: etag}, nil
}

func (o *fakeObjects) Exists(ctx context.Context, key string) (bool, error) {
	_, err := o.Head(ctx, key)
	if errors.Is(err, objectstore.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// --- downstream ---

// fakeSender — EnvelopeSender, запоминающий отправленные конверты.
type fakeSender struct {
	mu     sync.Mutex
	sent   []*downstream.Envelope
	err    error
	onSend func(env *downstream.Envelope)

	// failFor — ошибки отправки по FAXUNIQUEID
	failFor map[string]error
}

func (s *fakeSender) Send(_ context.Context, env *downstream.Envelope) error {
	s.mu.Lock()
	s.sent = append(s.sent, env)
	onSend, err := s.onSend, s.err
	if e, ok := s.failFor[env.Params.Fax.FaxUniqueID]; ok {
		err = e
	}
	s.mu.Unlock()

	if err != nil {
		return err
	}
	if onSend != nil {
		onSend(env)
	}
	return nil
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func (s *fakeSender) last() *downstream.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		return nil
	}
	return s.sent[len(s.sent)-1]
}

// --- Сборка сервисов ---

const (
	paramSecrets  = "/faxing/vendor-secrets"
	paramRetry    = "/faxing/retry-interval"
	paramMaxRetry = "/faxing/max-retry-interval"
	paramControl  = "/faxing/sweep-control"
	paramDigest   = "/faxing/validate-digest"
)

// pipeline — набор сервисов поверх общих фейков.
type pipeline struct {
	clock      *fakeClock
	faxes      *memFaxRepo
	locks      *memLocks
	objects    *fakeObjects
	sender     *fakeSender
	params     *fakeParams
	intake     *IntakeService
	status     *StatusService
	dispatcher *Dispatcher
	listener   *UploadListener
	reconcile  *ReconcileService
}

func newPipeline() *pipeline {
	p := &pipeline{
		clock:   newFakeClock(),
		locks:   newMemLocks(),
		objects: newFakeObjects(),
		sender:  &fakeSender{},
		params: &fakeParams{
			ints:  map[string]int{},
			lists: map[string][]string{paramSecrets: {"acme:s3cret", "globex:g10bex"}},
		},
	}
	p.faxes = newMemFaxRepo(p.clock, "Acme", "Globex")

	logger := testLogger()
	p.intake = NewIntakeService(p.faxes, p.params, paramSecrets, p.objects, logger)
	p.status = NewStatusService(p.faxes, logger)
	p.dispatcher = NewDispatcher(p.sender, p.objects, p.params, paramDigest, "us-east-1", time.UTC, logger)
	p.listener = NewUploadListener(p.faxes, p.dispatcher, p.params, ListenerConfig{
		RetryParam:   paramRetry,
		DefaultRetry: 10,
	}, logger)
	p.reconcile = p.newReconcile("instance-a")
	return p
}

func (p *pipeline) newReconcile(owner string) *ReconcileService {
	svc := NewReconcileService(p.faxes, p.locks, p.objects, p.dispatcher, p.params, ReconcileConfig{
		Interval:        5 * time.Minute,
		Workers:         3,
		Owner:           owner,
		RetryParam:      paramRetry,
		MaxRetryParam:   paramMaxRetry,
		ControlParam:    paramControl,
		DefaultRetry:    10,
		DefaultMaxRetry: 60,
	}, testLogger())
	svc.now = p.clock.Now
	return svc
}

// validForm возвращает форму со всеми обязательными полями.
func validForm() *IntakeForm {
	return &IntakeForm{
		VendorName:                  "Acme",
		VendorFaxID:                 "acme-001",
		CalledNumber:                "6175550199",
		CallerNumber:                "6175550100",
		FaxPages:                    "3",
		FaxReceivedTimestamp:        "2024-01-15T11:55:00Z",
		TransmissionDurationSeconds: "42",
		TransmissionStatus:          "Completed",
	}
}
